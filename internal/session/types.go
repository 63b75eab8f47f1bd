package session

import "context"

// TokenPair is the access/refresh credential set returned by the auth
// endpoints. Both tokens are JWTs carrying a numeric exp claim.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// UserProfile is the server-confirmed identity of the logged-in user.
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// LoginRequest carries the credentials for a login attempt.
type LoginRequest struct {
	Identifier   string `json:"identifier"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token,omitempty"`
	Remember     bool   `json:"remember,omitempty"`
}

// LoginResult is the login endpoint's response.
type LoginResult struct {
	User   UserProfile `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}

// AuthAPI is the set of authentication endpoints the manager talks to.
// The transport implementation lives in the api package; tests use fakes.
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)

	// Refresh exchanges refreshToken for a new pair. refreshToken may be
	// empty when the local copy is known to be expired; the server then
	// relies on its own session cookie.
	Refresh(ctx context.Context, refreshToken string, silent bool) (*TokenPair, error)

	// Me fetches the identity behind accessToken.
	Me(ctx context.Context, accessToken string, silent bool) (*UserProfile, error)

	Logout(ctx context.Context, refreshToken string) error

	// StepUp issues a short-lived secondary credential for sensitive
	// operations.
	StepUp(ctx context.Context, accessToken string, silent bool) (string, error)
}

// Snapshot is an immutable view of the session state, delivered to
// subscribers on every mutation.
type Snapshot struct {
	Tokens     *TokenPair
	User       *UserProfile
	StepUp     string
	Persistent bool
}

// Authenticated reports whether the snapshot represents a server-confirmed
// identity.
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}
