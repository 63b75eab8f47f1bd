// Package api is the HTTP transport for the storefront client. Every API
// request goes through Client.Do, which attaches credentials and applies the
// per-request recovery procedure: refresh-and-retry on 401, step-up-and-retry
// on a flagged 403, at most one retry per request either way.
package api

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jkoskela/storefront-session/internal/session"
)

// Auth endpoint paths.
const (
	PathLogin            = "/auth/login"
	PathRefresh          = "/auth/refresh"
	PathLogout           = "/auth/logout"
	PathRegister         = "/auth/register"
	PathProviderCallback = "/auth/callback"
	PathMe               = "/auth/me"
	PathStepUp           = "/auth/step-up"
)

// Header names.
const (
	HeaderAuthorization  = "Authorization"
	HeaderStepUp         = "X-Admin-Step-Up"
	HeaderStepUpRetry    = "X-Step-Up-Retry"
	HeaderSilent         = "X-Silent"
	HeaderClientInstance = "X-Client-Instance"
)

const alertBuffer = 16

// TokenSource is what the retry coordinator needs from the session manager.
type TokenSource interface {
	AccessToken() string
	StepUpToken() string
	HasCredentials() bool
	Refresh(ctx context.Context, silent bool) *session.TokenPair
	EnsureStepUp(ctx context.Context, silent bool) string
	ClearStepUp()
	ExpireSession()
}

var _ TokenSource = (*session.Manager)(nil)

// Request describes one outgoing API call.
type Request struct {
	Method string
	Path   string
	Body   any
	Result any
	Query  map[string]string

	// Headers set here always win over the credential headers the client
	// would attach. A caller-supplied Authorization header also disables
	// 401 recovery for the request.
	Headers map[string]string

	// Silent suppresses global error alerts and step-up recovery; used
	// for background and speculative calls.
	Silent bool
}

// Client wraps a resty client with credential attachment and single-retry
// auth recovery.
type Client struct {
	http       *resty.Client
	tokens     TokenSource
	alerts     chan Alert
	instanceID string
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	c := &Client{
		tokens:     tokens,
		alerts:     make(chan Alert, alertBuffer),
		instanceID: uuid.NewString(),
	}
	c.http = resty.New().
		SetBaseURL(baseURL).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "storefront-session/1.0",
		})
	return c
}

// Alerts returns the low-noise global error channel. Only network-unreachable
// and 5xx failures from non-silent requests appear here.
func (c *Client) Alerts() <-chan Alert {
	return c.alerts
}

// Do executes the request with credential headers attached and applies the
// recovery state machine. The returned response is the final one (the retry's
// response when a retry happened).
func (c *Client) Do(ctx context.Context, req Request) (*resty.Response, error) {
	res, err := c.send(ctx, req, nil)
	if err != nil {
		transportErr := &Error{Method: req.Method, URL: req.Path, Cause: err}
		c.alert(0, transportErr, req.Silent)
		return res, transportErr
	}
	if !res.IsError() {
		return res, nil
	}

	switch res.StatusCode() {
	case 401:
		if c.canRecoverAuth(req) {
			return c.recoverAuth(ctx, req, res)
		}
	case 403:
		if c.canRecoverStepUp(req) {
			if code, ok := extractErrorCode(res); ok && code == CodeStepUpRequired {
				return c.recoverStepUp(ctx, req, res)
			}
		}
	}

	return res, c.fail(res, req.Silent)
}

// canRecoverAuth decides whether a 401 is worth a refresh attempt: never for
// requests that pinned their own Authorization header, never for the auth
// endpoints themselves (that way lies an infinite refresh loop), and never
// when no credential state exists to refresh.
func (c *Client) canRecoverAuth(req Request) bool {
	if _, explicit := req.Headers[HeaderAuthorization]; explicit {
		return false
	}
	if isAuthExempt(req.Path) {
		return false
	}
	return c.tokens.HasCredentials()
}

func (c *Client) recoverAuth(ctx context.Context, req Request, res *resty.Response) (*resty.Response, error) {
	pair := c.tokens.Refresh(ctx, true)
	if pair == nil {
		c.tokens.ExpireSession()
		return res, c.fail(res, req.Silent)
	}

	log.Debug().Str("path", req.Path).Msg("retrying request after token refresh")
	retryRes, err := c.send(ctx, req, map[string]string{
		HeaderAuthorization: "Bearer " + pair.AccessToken,
	})
	// No second recovery pass: another 401 on the replay is a real failure.
	return c.settle(retryRes, err, req)
}

// canRecoverStepUp gates the 403 path: not for the step-up endpoint itself,
// not for silent requests, and not for a request already retried once (marked
// by the retry header).
func (c *Client) canRecoverStepUp(req Request) bool {
	if req.Path == PathStepUp || req.Silent {
		return false
	}
	if _, retried := req.Headers[HeaderStepUpRetry]; retried {
		return false
	}
	return true
}

func (c *Client) recoverStepUp(ctx context.Context, req Request, res *resty.Response) (*resty.Response, error) {
	// The held step-up token just got rejected; never reuse it.
	c.tokens.ClearStepUp()

	token := c.tokens.EnsureStepUp(ctx, true)
	if token == "" {
		return res, c.fail(res, req.Silent)
	}

	log.Debug().Str("path", req.Path).Msg("retrying request with fresh step-up credential")
	retryRes, err := c.send(ctx, req, map[string]string{
		HeaderStepUp:      token,
		HeaderStepUpRetry: "1",
	})
	return c.settle(retryRes, err, req)
}

// send performs one HTTP round trip. overrides are retry headers layered on
// top of the caller's; caller headers still win over attached credentials.
func (c *Client) send(ctx context.Context, req Request, overrides map[string]string) (*resty.Response, error) {
	r := c.http.NewRequest().SetContext(ctx)
	r.SetHeader(HeaderClientInstance, c.instanceID)

	if req.Result != nil {
		r.SetResult(req.Result)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Silent {
		r.SetHeader(HeaderSilent, "1")
	}

	headers := make(map[string]string, len(req.Headers)+len(overrides))
	for k, v := range req.Headers {
		headers[k] = v
	}
	for k, v := range overrides {
		headers[k] = v
	}

	if _, ok := headers[HeaderAuthorization]; !ok {
		if accessToken := c.tokens.AccessToken(); accessToken != "" {
			r.SetHeader(HeaderAuthorization, "Bearer "+accessToken)
		}
	}
	if _, ok := headers[HeaderStepUp]; !ok {
		if stepUp := c.tokens.StepUpToken(); stepUp != "" {
			r.SetHeader(HeaderStepUp, stepUp)
		}
	}
	for k, v := range headers {
		r.SetHeader(k, v)
	}

	return r.Execute(req.Method, req.Path)
}

// settle finalizes a replayed request: transport errors and error statuses
// are surfaced as-is with alerting, with no further recovery.
func (c *Client) settle(res *resty.Response, err error, req Request) (*resty.Response, error) {
	if err != nil {
		transportErr := &Error{Method: req.Method, URL: req.Path, Cause: err}
		c.alert(0, transportErr, req.Silent)
		return res, transportErr
	}
	if res.IsError() {
		return res, c.fail(res, req.Silent)
	}
	return res, nil
}

func (c *Client) fail(res *resty.Response, silent bool) error {
	apiErr := newError(res)
	if apiErr.Status >= 500 {
		c.alert(apiErr.Status, apiErr, silent)
	}
	return apiErr
}

// alert pushes to the global error channel, dropping when nobody listens.
func (c *Client) alert(status int, err error, silent bool) {
	if silent {
		return
	}
	select {
	case c.alerts <- Alert{Status: status, Err: err}:
	default:
		log.Debug().Int("status", status).Err(err).Msg("alert channel full, dropping")
	}
}

func isAuthExempt(path string) bool {
	switch path {
	case PathLogin, PathRefresh, PathLogout, PathRegister:
		return true
	}
	return strings.HasPrefix(path, PathProviderCallback)
}
