package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultIdleTimeout is how long a session may sit untouched before it is
// torn down.
const DefaultIdleTimeout = 30 * time.Minute

// IdleWatchdog expires the session after a period of inactivity. The
// embedding app calls Touch on user activity; Run checks periodically and
// tears the session down once the timeout elapses.
type IdleWatchdog struct {
	manager *Manager
	timeout time.Duration

	// now is swappable in tests.
	now func() time.Time

	mu         sync.Mutex
	lastActive time.Time
}

// NewIdleWatchdog creates a watchdog over the given manager. A non-positive
// timeout falls back to the default.
func NewIdleWatchdog(manager *Manager, timeout time.Duration) *IdleWatchdog {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	w := &IdleWatchdog{
		manager: manager,
		timeout: timeout,
		now:     time.Now,
	}
	w.lastActive = w.now()
	return w
}

// Touch records user activity, pushing the idle deadline out.
func (w *IdleWatchdog) Touch() {
	w.mu.Lock()
	w.lastActive = w.now()
	w.mu.Unlock()
}

// Idle reports whether the timeout has elapsed since the last activity.
func (w *IdleWatchdog) Idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Sub(w.lastActive) >= w.timeout
}

// check expires the session if it is both present and idle. Returns whether
// an expiry happened.
func (w *IdleWatchdog) check() bool {
	if !w.Idle() || !w.manager.HasCredentials() {
		return false
	}
	log.Info().Dur("timeout", w.timeout).Msg("session idle, expiring")
	w.manager.ExpireSession()
	return true
}

// Run polls for idleness until the context is cancelled.
func (w *IdleWatchdog) Run(ctx context.Context) error {
	interval := w.timeout / 10
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping idle watchdog")
			return ctx.Err()
		case <-ticker.C:
			w.check()
		}
	}
}
