package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrLockTimeout = errors.New("timed out waiting for the schema history lock")

	errLockBusy = errors.New("schema history lock is held elsewhere")
)

// Locker is a database-level lock primitive. Implementations hold whatever
// session state the primitive needs between TryLock and Unlock.
type Locker interface {
	// TryLock makes one attempt and never waits.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Mutex turns a Locker into a blocking lock with bounded backoff. It is
// re-entrant through the context it hands out: a nested Lock call made with
// that context returns immediately.
type Mutex struct {
	locker  Locker
	name    string
	timeout time.Duration
	logger  *zap.Logger

	// one holder per process; the Locker itself is not safe for concurrent use
	local chan struct{}
}

type heldKey struct {
	m *Mutex
}

func NewMutex(locker Locker, name string, timeout time.Duration, logger *zap.Logger) *Mutex {
	return &Mutex{
		locker:  locker,
		name:    name,
		timeout: timeout,
		logger:  logger,
		local:   make(chan struct{}, 1),
	}
}

// Lock blocks until the lock is held, the timeout passes or ctx is done.
// The returned context marks the lock as held; release must be called exactly once.
func (m *Mutex) Lock(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(heldKey{m}) != nil {
		return ctx, func() {}, nil
	}

	started := time.Now()
	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()

	select {
	case m.local <- struct{}{}:
	case <-deadline.C:
		return nil, nil, m.timeoutError()
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("failed to lock %s: %w", m.name, ctx.Err())
	}

	if err := m.acquire(ctx, m.timeout-time.Since(started)); err != nil {
		<-m.local
		return nil, nil, err
	}

	m.logger.Debug("Acquired schema history lock", zap.String("table", m.name), zap.Duration("waited", time.Since(started)))

	release := func() {
		if err := m.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release schema history lock", zap.String("table", m.name), zap.Error(err))
		}
		<-m.local
	}

	return context.WithValue(ctx, heldKey{m}, true), release, nil
}

func (m *Mutex) acquire(ctx context.Context, budget time.Duration) error {
	if budget <= 0 {
		return m.timeoutError()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = budget

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++

		ok, err := m.locker.TryLock(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to lock %s: %w", m.name, err))
		}

		if !ok {
			if attempt == 1 {
				m.logger.Info("Waiting for schema history lock", zap.String("table", m.name))
			}
			return errLockBusy
		}

		return nil
	}, backoff.WithContext(policy, ctx))

	switch {
	case errors.Is(err, errLockBusy):
		return m.timeoutError()
	case err != nil:
		return err
	}

	return nil
}

func (m *Mutex) timeoutError() error {
	return fmt.Errorf("%w: gave up on %s after %s, another process may be migrating this database",
		ErrLockTimeout, m.name, m.timeout)
}
