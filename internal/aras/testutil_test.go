package aras

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordedRequest is an OData request as seen by the mock server.
type recordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Query decodes the recorded query string.
func (r recordedRequest) Query() url.Values {
	q, _ := url.ParseQuery(r.RawQuery)
	return q
}

// mockAras emulates the Aras OAuth server and OData endpoint.
type mockAras struct {
	*httptest.Server
	t *testing.T

	mu             sync.Mutex
	tokenForms     []url.Values
	tokenPaths     []string
	odataRequests  []recordedRequest
	issued         int
	tokenStatus    int
	tokenBody      string
	tokenDelay     time.Duration
	expiresIn      int
	discoveryPaths map[string]string

	odata http.HandlerFunc
}

// newMockAras starts a mock server. The OData handler defaults to 200 {}.
func newMockAras(t *testing.T) *mockAras {
	t.Helper()

	m := &mockAras{
		t:              t,
		expiresIn:      3600,
		discoveryPaths: map[string]string{},
		odata: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{})
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauthserver/connect/token", m.handleToken)
	mux.HandleFunc("/custom-oauth/connect/token", m.handleToken)
	mux.HandleFunc("/Server/Odata/", m.handleOData)
	mux.HandleFunc("/", m.handleDiscovery)

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockAras) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.tokenForms = append(m.tokenForms, r.PostForm)
	m.tokenPaths = append(m.tokenPaths, r.URL.Path)
	status, body, delay, expires := m.tokenStatus, m.tokenBody, m.tokenDelay, m.expiresIn
	m.issued++
	issued := m.issued
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
		return
	}
	if body != "" {
		_, _ = io.WriteString(w, body)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": fmt.Sprintf("token-%d", issued),
		"expires_in":   expires,
		"token_type":   "Bearer",
	})
}

func (m *mockAras) handleOData(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.odataRequests = append(m.odataRequests, recordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	handler := m.odata
	m.mu.Unlock()

	handler(w, r)
}

func (m *mockAras) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	doc, ok := m.discoveryPaths[r.URL.Path]
	m.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}

func (m *mockAras) setOData(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.odata = h
}

func (m *mockAras) tokenRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokenForms)
}

func (m *mockAras) tokenForm(i int) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(m.t, len(m.tokenForms), i, "expected at least %d token requests", i+1)
	return m.tokenForms[i]
}

func (m *mockAras) tokenPath(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(m.t, len(m.tokenPaths), i, "expected at least %d token requests", i+1)
	return m.tokenPaths[i]
}

func (m *mockAras) odataRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.odataRequests)
}

func (m *mockAras) odataRequest(i int) recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(m.t, len(m.odataRequests), i, "expected at least %d OData requests", i+1)
	return m.odataRequests[i]
}

func (m *mockAras) credentials() Credentials {
	return Credentials{
		URL:      m.URL,
		Username: "admin",
		Password: "secret",
		Database: "InnovatorSolutions",
	}
}

// fastRetry keeps tests quick while still exercising backoff.
func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

func newTestClient(t *testing.T, m *mockAras, policy RetryPolicy) (*Client, *TokenManager) {
	t.Helper()

	tm, err := NewTokenManager(m.credentials())
	require.NoError(t, err)

	c, err := NewClient(ClientConfig{
		ServerURL: m.URL,
		Tokens:    tm,
		Retry:     policy,
	})
	require.NoError(t, err)
	return c, tm
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sequence returns a handler that replays statuses in order and repeats
// the last one.
func sequence(statuses ...int) http.HandlerFunc {
	var mu sync.Mutex
	i := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status := statuses[min(i, len(statuses)-1)]
		i++
		mu.Unlock()

		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		if status >= 200 && status < 300 {
			writeJSON(w, status, map[string]interface{}{"id": "ABC"})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, strings.ToLower(http.StatusText(status)))
	}
}

// discoveryTransport counts requests that are not token requests and can fail
// them with a network error.
type discoveryTransport struct {
	base http.RoundTripper

	mu       sync.Mutex
	fail     bool
	requests int
}

func (d *discoveryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.HasSuffix(req.URL.Path, "/connect/token") {
		d.mu.Lock()
		d.requests++
		fail := d.fail
		d.mu.Unlock()
		if fail {
			return nil, fmt.Errorf("dial tcp %s: connection refused", req.URL.Host)
		}
	}
	return d.base.RoundTrip(req)
}

func (d *discoveryTransport) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *discoveryTransport) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}
