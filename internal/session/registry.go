// Package session enforces one live connection per account.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tag-server/internal/store"
)

// Kicker terminates a live connection
type Kicker interface {
	Kick(connID string)
}

// Registry binds connections to accounts through the store's session table
type Registry struct {
	store  store.Store
	kicker Kicker
	log    *zap.SugaredLogger

	// serializes lookup+kick+bind so two logins of one account cannot race
	mu sync.Mutex
}

// NewRegistry creates a Registry that evicts through kicker
func NewRegistry(st store.Store, kicker Kicker, log *zap.SugaredLogger) *Registry {
	return &Registry{store: st, kicker: kicker, log: log}
}

// Bind makes connID the account's only live connection, terminating any
// previous one first. attach, if non-nil, runs after the binding is stored
// and before the lock is released, so the next Bind for any account sees
// the connection fully attached. attach must not call back into the
// Registry. An error means the connection must be refused.
func (r *Registry) Bind(ctx context.Context, account, connID string, attach func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.store.LookupSocket(ctx, account)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("lookup session: %w", err)
	case prev != connID:
		r.log.Infow("evicting previous session", "account", account, "old", prev, "new", connID)
		r.kicker.Kick(prev)
	}

	if err := r.store.BindSocket(ctx, account, connID); err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	if attach != nil {
		attach()
	}
	return nil
}

// Logout ends whatever connection the account has and drops its binding
func (r *Registry) Logout(ctx context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, err := r.store.LookupSocket(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	r.kicker.Kick(connID)
	return r.store.ClearSocket(ctx, account, connID)
}

// Release drops the binding if it still names connID. It does not take the
// registry lock, so it is safe to call from an eviction in progress.
func (r *Registry) Release(ctx context.Context, account, connID string) {
	if err := r.store.ClearSocket(ctx, account, connID); err != nil {
		r.log.Warnw("clear session failed", "account", account, "conn", connID, "error", err)
	}
}
