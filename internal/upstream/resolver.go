package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/netutil"
)

// CredentialSource returns stored connections by ID.
type CredentialSource interface {
	GetConnection(ctx context.Context, id string) (domain.Connection, error)
}

// Resolver turns a connection ID into an [domain.Endpoint].
type Resolver struct {
	store CredentialSource
}

func NewResolver(store CredentialSource) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up id and builds a fresh endpoint. The result is never
// cached so credential edits apply to the next call.
func (r *Resolver) Resolve(ctx context.Context, id string) (domain.Endpoint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Endpoint{}, domain.ErrCredentialNotFound
	}
	conn, err := r.store.GetConnection(ctx, id)
	if err != nil {
		return domain.Endpoint{}, err
	}
	if strings.TrimSpace(conn.URL) == "" || conn.Port <= 0 || strings.TrimSpace(conn.Username) == "" {
		return domain.Endpoint{}, domain.ErrMalformedCredential
	}
	base, err := netutil.BaseURL(conn.URL, conn.Port)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}
	return domain.Endpoint{
		ConnectionID: conn.ID,
		BaseURL:      base,
		Username:     conn.Username,
		Password:     conn.Password,
		VerifyTLS:    false,
		ClusterAware: conn.FilterType == domain.ClusterFilterType,
	}, nil
}
