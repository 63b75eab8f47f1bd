package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleWatchdog_ExpiresIdleSession(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: &LoginResult{User: *testUser(), Tokens: TokenPair{AccessToken: liveToken(), RefreshToken: liveToken()}},
	}
	m, _ := newTestManager(t, api)
	_, err := m.Login(context.Background(), LoginRequest{Identifier: "x", Password: "y"})
	require.NoError(t, err)

	w := NewIdleWatchdog(m, 30*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }
	w.Touch()

	// Activity keeps the session alive.
	now = now.Add(29 * time.Minute)
	assert.False(t, w.check())
	assert.True(t, m.IsAuthenticated())

	w.Touch()
	now = now.Add(31 * time.Minute)
	assert.True(t, w.check())
	assert.False(t, m.IsAuthenticated())

	// Nothing left to expire on the next tick.
	assert.False(t, w.check())
}

func TestIdleWatchdog_NoSessionNoExpiry(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthAPI{})

	w := NewIdleWatchdog(m, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }

	now = now.Add(time.Hour)
	assert.False(t, w.check())
}

func TestIdleWatchdog_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthAPI{})
	w := NewIdleWatchdog(m, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
