package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkoskela/storefront-session/internal/session"
)

func TestAuthService_MalformedBaseURLReturnsError(t *testing.T) {
	// The request never leaves the client here; every method must come
	// back with an error, not a panic.
	s := NewAuthService("://not-a-url")
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"login", func() error {
			_, err := s.Login(ctx, session.LoginRequest{Identifier: "x", Password: "y"})
			return err
		}},
		{"refresh", func() error {
			_, err := s.Refresh(ctx, "tok", true)
			return err
		}},
		{"me", func() error {
			_, err := s.Me(ctx, "tok", true)
			return err
		}},
		{"logout", func() error {
			return s.Logout(ctx, "tok")
		}},
		{"step-up", func() error {
			_, err := s.StepUp(ctx, "tok", true)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 0, apiErr.Status)
			assert.NotNil(t, apiErr.Cause)
		})
	}
}
