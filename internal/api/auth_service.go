package api

import (
	"context"

	"github.com/go-resty/resty/v2"

	"github.com/jkoskela/storefront-session/internal/session"
)

// AuthService talks to the authentication endpoints directly, outside the
// retry coordinator. Routing these calls through Client.Do would let a 401
// on /auth/refresh trigger another refresh, ad infinitum.
type AuthService struct {
	http *resty.Client
}

// NewAuthService creates an AuthService for the given API base URL.
func NewAuthService(baseURL string) *AuthService {
	return &AuthService{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeaders(map[string]string{
				"Accept":     "application/json",
				"User-Agent": "storefront-session/1.0",
			}),
	}
}

func (s *AuthService) req(ctx context.Context, result any, silent bool) *resty.Request {
	r := s.http.NewRequest().SetContext(ctx)
	if result != nil {
		r.SetResult(result)
	}
	if silent {
		r.SetHeader(HeaderSilent, "1")
	}
	return r
}

// Login authenticates with identifier and password. Failures come back as
// *Error carrying the original status and body so the login form can render
// field-level messages.
func (s *AuthService) Login(ctx context.Context, req session.LoginRequest) (*session.LoginResult, error) {
	result := &session.LoginResult{}
	res, err := s.req(ctx, result, false).SetBody(req).Post(PathLogin)
	if err := handleError(res, err); err != nil {
		return nil, err
	}
	return result, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Refresh exchanges refreshToken (may be empty) for a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, silent bool) (*session.TokenPair, error) {
	result := &session.TokenPair{}
	res, err := s.req(ctx, result, silent).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post(PathRefresh)
	if err := handleError(res, err); err != nil {
		return nil, err
	}
	return result, nil
}

// Me fetches the identity behind accessToken.
func (s *AuthService) Me(ctx context.Context, accessToken string, silent bool) (*session.UserProfile, error) {
	result := &session.UserProfile{}
	res, err := s.req(ctx, result, silent).
		SetHeader(HeaderAuthorization, "Bearer "+accessToken).
		Get(PathMe)
	if err := handleError(res, err); err != nil {
		return nil, err
	}
	return result, nil
}

// Logout revokes refreshToken server-side.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	res, err := s.req(ctx, nil, true).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post(PathLogout)
	return handleError(res, err)
}

type stepUpResponse struct {
	StepUpToken string `json:"step_up_token"`
}

// StepUp issues a fresh step-up credential for the current user.
func (s *AuthService) StepUp(ctx context.Context, accessToken string, silent bool) (string, error) {
	result := &stepUpResponse{}
	res, err := s.req(ctx, result, silent).
		SetHeader(HeaderAuthorization, "Bearer "+accessToken).
		Post(PathStepUp)
	if err := handleError(res, err); err != nil {
		return "", err
	}
	return result.StepUpToken, nil
}

// handleError folds transport errors and >399 statuses into a single error
// value. Without this, failing responses would have nil error. res is nil
// when the request never left the client (e.g. an unparsable base URL).
func handleError(res *resty.Response, err error) error {
	if err != nil {
		apiErr := &Error{Cause: err}
		if res != nil && res.Request != nil {
			apiErr.Method = res.Request.Method
			apiErr.URL = res.Request.URL
		}
		return apiErr
	}
	if res.IsError() {
		return newError(res)
	}
	return nil
}
