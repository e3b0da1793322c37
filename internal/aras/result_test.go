package aras

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSuccess(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     interface{}
		nextLink string
	}{
		{name: "no content", status: http.StatusNoContent, want: nil},
		{name: "empty 200", status: http.StatusOK, body: "  ", want: nil},
		{
			name:   "object",
			status: http.StatusOK,
			body:   `{"id":"A","qty":2}`,
			want:   map[string]interface{}{"id": "A", "qty": json.Number("2")},
		},
		{
			name:     "collection",
			status:   http.StatusOK,
			body:     `{"@odata.context":"x","value":[{"id":"A"}],"@odata.nextLink":"next"}`,
			want:     []interface{}{map[string]interface{}{"id": "A"}},
			nextLink: "next",
		},
		{
			name:   "value that is not a collection stays wrapped",
			status: http.StatusOK,
			body:   `{"value":"Nut"}`,
			want:   map[string]interface{}{"value": "Nut"},
		},
		{
			name:   "plain text",
			status: http.StatusOK,
			body:   "done",
			want:   map[string]interface{}{"content": "done"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decodeSuccess(tt.status, []byte(tt.body))
			assert.True(t, res.Success)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.want, res.Payload)
			assert.Equal(t, tt.nextLink, res.NextLink)
			assert.NoError(t, res.Err())
		})
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		wantDetail string
	}{
		{name: "empty", status: http.StatusBadGateway, wantDetail: "Bad Gateway"},
		{name: "plain text", status: http.StatusBadRequest, body: "nope", wantDetail: "nope"},
		{
			name:       "odata v4",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":"SOAP-ENV:Server","message":"Aras.Server.Core.ItemNotFoundException"}}`,
			wantCode:   "SOAP-ENV:Server",
			wantDetail: "Aras.Server.Core.ItemNotFoundException",
		},
		{
			name:       "odata v3",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":"400","message":{"lang":"en-US","value":"Bad filter"}}}`,
			wantCode:   "400",
			wantDetail: "Bad filter",
		},
		{
			name:       "oauth style",
			status:     http.StatusUnauthorized,
			body:       `{"error":"invalid_token","error_description":"expired"}`,
			wantCode:   "invalid_token",
			wantDetail: "expired",
		},
		{
			name:       "oauth without description",
			status:     http.StatusUnauthorized,
			body:       `{"error":"invalid_token"}`,
			wantCode:   "invalid_token",
			wantDetail: "invalid_token",
		},
		{name: "asp.net", status: http.StatusInternalServerError, body: `{"Message":"An error has occurred."}`, wantDetail: "An error has occurred."},
		{name: "problem json", status: http.StatusBadRequest, body: `{"title":"Bad","status":400}`, wantDetail: "Bad"},
		{name: "unknown json", status: http.StatusBadRequest, body: `{"foo":1}`, wantDetail: `{"foo":1}`},
		{name: "json array", status: http.StatusBadRequest, body: `[1,2]`, wantDetail: `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, detail := normalizeError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantDetail, detail)
		})
	}
}

func TestChallengeDetail(t *testing.T) {
	assert.Equal(t, "", challengeDetail(""))
	assert.Equal(t, "", challengeDetail("Bearer"))
	assert.Equal(t, "invalid_token", challengeDetail(`Bearer error="invalid_token"`))
	assert.Equal(t, "The token expired at '01/08/2026 10:00:00', please log in",
		challengeDetail(`Bearer error="invalid_token", error_description="The token expired at '01/08/2026 10:00:00', please log in"`))
	assert.Equal(t, "insufficient_scope (required scope: openid Innovator)",
		challengeDetail(`Bearer error="insufficient_scope", scope="openid Innovator"`))
}

func TestParseWWWAuthenticate(t *testing.T) {
	c, err := parseWWWAuthenticate(`Bearer realm="aras", scope="openid Innovator", error="insufficient_scope"`)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", c.Scheme)
	assert.Equal(t, "insufficient_scope", c.Error)
	assert.Equal(t, []string{"openid", "Innovator"}, c.Scopes)

	_, err = parseWWWAuthenticate("  ")
	assert.Error(t, err)
}

func TestErrorModel(t *testing.T) {
	e := apiError(http.StatusServiceUnavailable, "", "down for maintenance")
	assert.Equal(t, "ApiError (status 503): down for maintenance", e.Error())
	assert.True(t, errors.Is(e, ErrAPI))
	assert.False(t, errors.Is(e, ErrAuth))
	assert.True(t, errors.Is(e, &Error{Kind: KindAPI, StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, errors.Is(e, &Error{Kind: KindAPI, StatusCode: http.StatusNotFound}))

	wrapped := fmt.Errorf("loading part: %w", e)
	assert.True(t, errors.Is(wrapped, ErrAPI))

	v := validationError("identifier is required for %s", KindDelete)
	assert.Equal(t, "ValidationError: identifier is required for delete", v.Error())

	cause := errors.New("dial tcp: refused")
	tr := transportError("could not reach the PLM server", cause)
	assert.True(t, errors.Is(tr, cause))
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{err: transportError("x", nil), want: true},
		{err: apiError(http.StatusTooManyRequests, "", ""), want: true},
		{err: apiError(http.StatusInternalServerError, "", ""), want: true},
		{err: apiError(http.StatusServiceUnavailable, "", ""), want: true},
		{err: apiError(http.StatusBadRequest, "", ""), want: false},
		{err: apiError(http.StatusNotFound, "", ""), want: false},
		{err: authError(http.StatusUnauthorized, "", nil), want: false},
		{err: validationError("x"), want: false},
		{err: configError("x"), want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Retryable(), "%v", tt.err)
	}
}

func TestErrorJSON(t *testing.T) {
	res := failure(apiError(http.StatusNotFound, "NotFound", "Item not found"))
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"status_code": 404,
		"error": {"kind": "ApiError", "status_code": 404, "code": "NotFound", "detail": "Item not found"}
	}`, string(data))
	assert.Error(t, res.Err())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short \n"))
	long := strings.Repeat("é", maxDetailLength+10)
	got := truncate(long)
	assert.Equal(t, maxDetailLength+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
