package revalidate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingValidator struct {
	calls atomic.Int64
}

func (v *countingValidator) EnsureAuthenticated(ctx context.Context, silent bool) bool {
	v.calls.Add(1)
	return true
}

func TestNotify_CooldownSuppressesBursts(t *testing.T) {
	validator := &countingValidator{}
	trigger := New(validator, 10*time.Second)

	now := time.Unix(1_700_000_000, 0)
	trigger.now = func() time.Time { return now }

	assert.True(t, trigger.Notify(context.Background()))
	// Rapid alt-tabbing: all within the cooldown window.
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		assert.False(t, trigger.Notify(context.Background()))
	}
	assert.EqualValues(t, 1, validator.calls.Load())

	// Past the cooldown the next signal goes through.
	now = now.Add(10 * time.Second)
	assert.True(t, trigger.Notify(context.Background()))
	assert.EqualValues(t, 2, validator.calls.Load())
}

func TestRun_ConsumesSignalsUntilCancelled(t *testing.T) {
	validator := &countingValidator{}
	trigger := New(validator, time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan struct{}, 3)
	done := make(chan struct{})
	go func() {
		trigger.Run(ctx, signals)
		close(done)
	}()

	signals <- struct{}{}
	assert.Eventually(t, func() bool { return validator.calls.Load() == 1 },
		time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRun_StopsWhenSignalChannelCloses(t *testing.T) {
	trigger := New(&countingValidator{}, time.Second)

	signals := make(chan struct{})
	done := make(chan struct{})
	go func() {
		trigger.Run(context.Background(), signals)
		close(done)
	}()

	close(signals)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on channel close")
	}
}
