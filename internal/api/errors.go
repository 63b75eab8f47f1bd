package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CodeStepUpRequired is the error code a 403 carries when the operation
// needs a step-up credential rather than being plainly forbidden.
const CodeStepUpRequired = "step_up_required"

// Error is a failed API response. Status 0 means the request never reached
// the server.
type Error struct {
	Status int
	Code   string
	Method string
	URL    string
	Body   []byte
	Cause  error
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %s %s (network unreachable): %v", e.Method, e.URL, e.Cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("request failed: %s %s (status: %d, code: %s)", e.Method, e.URL, e.Status, e.Code)
	}
	return fmt.Sprintf("request failed: %s %s (status: %d)", e.Method, e.URL, e.Status)
}

// Alert is a transport-level failure pushed to the global error channel.
// Only unreachable-server and 5xx failures from non-silent requests become
// alerts; 4xx is assumed to be handled contextually by the calling page.
type Alert struct {
	Status int
	Err    error
}

func newError(res *resty.Response) *Error {
	e := &Error{
		Status: res.StatusCode(),
		Method: res.Request.Method,
		URL:    res.Request.URL,
		Body:   res.Body(),
	}
	if code, ok := extractErrorCode(res); ok {
		e.Code = code
	}
	return e
}

type errorBody struct {
	Code string `json:"code"`
}

// extractErrorCode pulls the machine-readable error code from a failed
// response. Different failure paths serialize the body differently, so this
// is an explicit fallback chain: response header, JSON object, JSON-encoded
// string, then a JSON object embedded in an otherwise binary body.
func extractErrorCode(res *resty.Response) (string, bool) {
	if code := res.Header().Get("X-Error-Code"); code != "" {
		return code, true
	}

	body := res.Body()
	if len(body) == 0 {
		return "", false
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Code != "" {
		return parsed.Code, true
	}

	// Some paths double-encode: the body is a JSON string whose content is
	// the JSON object.
	var inner string
	if err := json.Unmarshal(body, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &parsed); err == nil && parsed.Code != "" {
			return parsed.Code, true
		}
	}

	// Binary bodies (blob downloads that failed) may still wrap a JSON
	// object; look for one between the outermost braces.
	if start := bytes.IndexByte(body, '{'); start >= 0 {
		if end := bytes.LastIndexByte(body, '}'); end > start {
			if err := json.Unmarshal(body[start:end+1], &parsed); err == nil && parsed.Code != "" {
				return parsed.Code, true
			}
		}
	}

	return "", false
}
