// Package lock scopes work under the TTL run lock kept in the state store.
//
// A Manager owns one process identity. Acquire either returns a Lease or
// ErrBusy; a busy lock means another process is mid-cycle and the caller
// skips its turn. Leases release exactly once, even when the caller's
// context has been cancelled.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/state"
)

// ErrBusy reports that another owner holds a live lock.
var ErrBusy = errors.New("lock held by another run")

// Manager acquires and releases the lock for one config name.
type Manager struct {
	store      state.Store
	configName string
	ttl        time.Duration
	owner      string
	logger     *slog.Logger
	held       atomic.Bool
}

// New builds a Manager with a fresh owner identity.
func New(store state.Store, configName string, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		configName: configName,
		ttl:        ttl,
		owner:      uuid.NewString(),
		logger:     logging.NewComponentLogger(logger, "lock"),
	}
}

// Owner is the identity written into lock records.
func (m *Manager) Owner() string { return m.owner }

// ConfigName is the lock key.
func (m *Manager) ConfigName() string { return m.configName }

// Held reports whether this manager currently holds a lease.
func (m *Manager) Held() bool { return m.held.Load() }

// Lease is a held lock. Release is idempotent.
type Lease struct {
	manager *Manager
	once    sync.Once
	err     error
}

// Acquire takes the lock or returns ErrBusy.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	err := m.store.TryAcquireLock(ctx, m.configName, m.owner, m.ttl)
	switch {
	case errors.Is(err, state.ErrLockBusy):
		return nil, ErrBusy
	case err != nil:
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	m.held.Store(true)
	m.logger.Debug("lock acquired",
		logging.String(logging.FieldConfigName, m.configName),
		logging.String("owner", m.owner),
		logging.Duration("ttl", m.ttl),
	)
	return &Lease{manager: m}, nil
}

// Owner is the identity the lease was taken under.
func (l *Lease) Owner() string { return l.manager.owner }

// Release deletes the lock record. Cancellation of ctx does not prevent the
// delete from being attempted.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		m := l.manager
		l.err = m.store.ReleaseLock(context.WithoutCancel(ctx), m.configName, m.owner)
		m.held.Store(false)
		if l.err != nil {
			logging.WarnWithContext(m.logger, "lock release failed", "lock_release_failed",
				logging.String(logging.FieldConfigName, m.configName),
				logging.Error(l.err),
				logging.String(logging.FieldErrorHint, "check state store availability"),
				logging.String(logging.FieldImpact, "other runs wait until the lock ttl expires"),
			)
			return
		}
		m.logger.Debug("lock released", logging.String(logging.FieldConfigName, m.configName))
	})
	return l.err
}

// Do runs fn while holding the lock. ran is false when the lock was busy, in
// which case err is nil. The lease is released on every exit path, including
// a panic in fn.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, lease *Lease) error) (ran bool, err error) {
	lease, err := m.Acquire(ctx)
	if errors.Is(err, ErrBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return true, fn(ctx, lease)
}
