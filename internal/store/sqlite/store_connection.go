package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

// CreateConnection seals c.Password and stores c under a fresh ID.
func (s *Store) CreateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	sealer, err := s.currentSealer()
	if err != nil {
		return domain.Connection{}, err
	}
	c.URL = strings.TrimSpace(c.URL)
	c.Username = strings.TrimSpace(c.Username)
	if c.URL == "" || c.Username == "" || c.Port <= 0 {
		return domain.Connection{}, domain.ErrMalformedCredential
	}
	sealed, err := sealer.Seal(c.Password)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("seal password: %w", err)
	}
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
INSERT INTO connections(id, url, port, username, password_sealed, filter_type, cluster_name, manager_name, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.URL, c.Port, c.Username, sealed, c.FilterType,
		nullableString(c.ClusterName), nullableString(c.ManagerName), c.CreatedAt)
	return c, err
}

// GetConnection returns the connection with the given ID, password opened.
// It returns [domain.ErrCredentialNotFound] when no row exists and
// [domain.ErrMalformedCredential] when the sealed password cannot be opened.
func (s *Store) GetConnection(ctx context.Context, id string) (domain.Connection, error) {
	sealer, err := s.currentSealer()
	if err != nil {
		return domain.Connection{}, err
	}
	var row *sql.Row
	if s.getConnectionStmt != nil {
		row = s.getConnectionStmt.QueryRowContext(ctx, id)
	} else {
		row = s.db.QueryRowContext(ctx, getConnectionQuery, id)
	}
	c, sealed, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Connection{}, domain.ErrCredentialNotFound
	}
	if err != nil {
		return domain.Connection{}, err
	}
	plain, err := sealer.Open(sealed)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}
	c.Password = plain
	return c, nil
}

// ListConnections returns every stored connection without passwords.
func (s *Store) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, url, port, username, password_sealed, filter_type, cluster_name, manager_name, created_at
FROM connections
ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Connection
	for rows.Next() {
		c, _, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConnection removes a stored connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(r rowScanner) (domain.Connection, string, error) {
	var c domain.Connection
	var sealed string
	var clusterName, managerName sql.NullString
	if err := r.Scan(&c.ID, &c.URL, &c.Port, &c.Username, &sealed, &c.FilterType, &clusterName, &managerName, &c.CreatedAt); err != nil {
		return domain.Connection{}, "", err
	}
	c.ClusterName = clusterName.String
	c.ManagerName = managerName.String
	return c, sealed, nil
}
