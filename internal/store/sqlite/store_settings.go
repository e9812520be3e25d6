package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const sealingSecretKey = "sealing_secret"

// GetSealingSecret returns the persisted sealing secret, if any.
func (s *Store) GetSealingSecret(ctx context.Context) (string, bool, error) {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM server_settings WHERE key = ?`, sealingSecretKey).Scan(&current)
	if err == nil {
		return current, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return "", false, err
}

// ResolveSealingSecret returns the persisted sealing secret, persisting
// suggested when none exists yet. A non-empty suggestion that differs from
// the persisted value is rejected, since it could not open stored passwords.
func (s *Store) ResolveSealingSecret(ctx context.Context, suggested string) (string, error) {
	suggested = strings.TrimSpace(suggested)

	current, exists, err := s.GetSealingSecret(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		if suggested != "" && suggested != current {
			return "", errors.New("provided sealing secret does not match database")
		}
		return current, nil
	}
	if suggested == "" {
		return "", errors.New("sealing secret is empty")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO server_settings(key, value) VALUES(?, ?)`, sealingSecretKey, suggested); err != nil {
		return "", err
	}
	return suggested, nil
}
