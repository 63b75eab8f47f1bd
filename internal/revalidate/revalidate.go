// Package revalidate silently re-validates the session when the app comes
// back into focus. The trigger is rate-limited so a user rapidly alt-tabbing
// does not cause a refresh storm.
package revalidate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCooldown is the minimum interval between revalidation attempts.
const DefaultCooldown = 10 * time.Second

// Validator is the slice of the session manager the trigger needs.
type Validator interface {
	EnsureAuthenticated(ctx context.Context, silent bool) bool
}

// Trigger debounces focus/visibility signals into silent session
// revalidations.
type Trigger struct {
	session  Validator
	cooldown time.Duration

	// now is swappable in tests.
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New creates a Trigger. A non-positive cooldown falls back to the default.
func New(session Validator, cooldown time.Duration) *Trigger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Trigger{
		session:  session,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Notify reports a focus/visibility event. It revalidates the session unless
// a revalidation ran within the cooldown window, and returns whether one ran.
func (t *Trigger) Notify(ctx context.Context) bool {
	t.mu.Lock()
	now := t.now()
	if now.Sub(t.last) < t.cooldown {
		t.mu.Unlock()
		return false
	}
	t.last = now
	t.mu.Unlock()

	ok := t.session.EnsureAuthenticated(ctx, true)
	log.Debug().Bool("authenticated", ok).Msg("focus revalidation")
	return true
}

// Run consumes signals until the context is cancelled or the channel closes.
// Each signal goes through the same cooldown gate as Notify.
func (t *Trigger) Run(ctx context.Context, signals <-chan struct{}) {
	log.Info().Dur("cooldown", t.cooldown).Msg("starting revalidation trigger")
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			t.Notify(ctx)
		}
	}
}
