package gateway

import (
	"context"
	"crypto/subtle"

	"agentmesh/internal/domain"
)

// Authenticator validates inbound gateway credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*domain.Connection, error)
}

// ConnectionAuth authenticates envelopes against registered platform
// connections. The stored credential is re-compared in constant time to
// prevent timing attacks even if the store's lookup is not.
type ConnectionAuth struct {
	store domain.ConnectionStore
}

// NewConnectionAuth builds an authenticator over the connection store.
func NewConnectionAuth(store domain.ConnectionStore) *ConnectionAuth {
	return &ConnectionAuth{store: store}
}

// Authenticate returns the enabled connection matching credential.
// Disabled connections are rejected with ErrConnectionDisabled so
// operators can tell revocation from a bad credential.
func (a *ConnectionAuth) Authenticate(ctx context.Context, credential string) (*domain.Connection, error) {
	if credential == "" {
		return nil, domain.ErrConnectionNotFound
	}

	conn, err := a.store.GetByCredential(ctx, credential)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(conn.Credential)) != 1 {
		return nil, domain.ErrConnectionNotFound
	}
	if !conn.Enabled {
		return nil, domain.ErrConnectionDisabled
	}
	return conn, nil
}
