package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-resty/resty/v2"
)

// responseWith performs a real round trip so the resty.Response is built the
// same way production responses are.
func responseWith(t *testing.T, headers map[string]string, body []byte) *resty.Response {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write(body)
	}))
	defer server.Close()

	res, err := resty.New().R().Get(server.URL)
	require.NoError(t, err)
	return res
}

func TestExtractErrorCode_Header(t *testing.T) {
	res := responseWith(t, map[string]string{"X-Error-Code": "step_up_required"}, nil)
	code, ok := extractErrorCode(res)
	assert.True(t, ok)
	assert.Equal(t, "step_up_required", code)
}

func TestExtractErrorCode_JSONObject(t *testing.T) {
	res := responseWith(t, nil, []byte(`{"code":"step_up_required","message":"try again"}`))
	code, ok := extractErrorCode(res)
	assert.True(t, ok)
	assert.Equal(t, "step_up_required", code)
}

func TestExtractErrorCode_DoubleEncodedString(t *testing.T) {
	// The body is a JSON string whose content is the JSON object.
	res := responseWith(t, nil, []byte(`"{\"code\":\"step_up_required\"}"`))
	code, ok := extractErrorCode(res)
	assert.True(t, ok)
	assert.Equal(t, "step_up_required", code)
}

func TestExtractErrorCode_BinaryWrappedJSON(t *testing.T) {
	// A failed blob download: JSON object surrounded by non-JSON bytes.
	body := append([]byte{0x1f, 0x8b, 0x00}, []byte(`{"code":"step_up_required"}`)...)
	body = append(body, 0x00, 0xff)
	res := responseWith(t, nil, body)
	code, ok := extractErrorCode(res)
	assert.True(t, ok)
	assert.Equal(t, "step_up_required", code)
}

func TestExtractErrorCode_NoCode(t *testing.T) {
	for _, body := range [][]byte{nil, []byte(`{}`), []byte(`plain text`), []byte(`{"error":"x"}`)} {
		res := responseWith(t, nil, body)
		_, ok := extractErrorCode(res)
		assert.False(t, ok)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Status: 403, Code: "step_up_required", Method: "DELETE", URL: "/admin/orders/42"}
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "step_up_required")
}
