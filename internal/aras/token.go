package aras

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-aras/internal/logging"
)

const (
	// DefaultClientID is the public OAuth client Aras registers for IOM.
	DefaultClientID = "IOMApp"

	tokenPath = "/oauthserver/connect/token"

	defaultRefreshMargin = 30 * time.Second
	defaultTokenTimeout  = 30 * time.Second
)

var tokenScopes = []string{"openid", "Innovator", "offline_access"}

// Credentials identify the Aras user and database. They are fixed for the
// life of the process.
type Credentials struct {
	URL      string
	Username string
	Password string
	Database string
	ClientID string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return configError("server URL is required (API_URL)")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return configError("server URL %q must be an absolute http(s) URL", c.URL)
	}
	if strings.TrimSpace(c.Username) == "" {
		return configError("username is required (API_USERNAME)")
	}
	if strings.TrimSpace(c.Database) == "" {
		return configError("database name is required (ARAS_DATABASE)")
	}
	return nil
}

// tokenState is replaced as a whole on every refresh, never mutated.
type tokenState struct {
	accessToken string
	tokenType   string
	expiry      time.Time
}

func (s *tokenState) usable(now time.Time, margin time.Duration) bool {
	return s != nil && now.Add(margin).Before(s.expiry)
}

// TokenManager obtains and caches access tokens with the password grant.
// It is safe for concurrent use: readers of a valid token take no lock, and
// callers that find the token stale share a single in-flight refresh.
type TokenManager struct {
	creds       Credentials
	oauth       oauth2.Config
	tokenClient *http.Client
	timeout     time.Duration
	margin      time.Duration
	discover    bool
	logger      *logging.Logger
	now         func() time.Time

	state      atomic.Pointer[tokenState]
	tokenURL   atomic.Pointer[string]
	discovered atomic.Bool
	flight     singleflight.Group
	calls      atomic.Int64
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenTransport sets the base transport for token requests.
func WithTokenTransport(rt http.RoundTripper) TokenOption {
	return func(m *TokenManager) { m.tokenClient.Transport = rt }
}

// WithTokenTimeout bounds a single token request.
func WithTokenTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *logging.Logger) TokenOption {
	return func(m *TokenManager) { m.logger = l }
}

// WithTokenDiscovery enables token endpoint discovery through the Aras
// OAuth discovery document before the first token request.
func WithTokenDiscovery(enabled bool) TokenOption {
	return func(m *TokenManager) { m.discover = enabled }
}

// WithRefreshMargin changes how long before expiry a token is refreshed.
func WithRefreshMargin(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.margin = d }
}

// NewTokenManager validates the credentials and prepares a manager. No
// network call is made until the first Token call.
func NewTokenManager(creds Credentials, opts ...TokenOption) (*TokenManager, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	creds.URL = strings.TrimRight(creds.URL, "/")
	if creds.ClientID == "" {
		creds.ClientID = DefaultClientID
	}

	m := &TokenManager{
		creds:       creds,
		tokenClient: &http.Client{Transport: http.DefaultTransport},
		timeout:     defaultTokenTimeout,
		margin:      defaultRefreshMargin,
		logger:      logging.Discard(),
		now:         time.Now,
		oauth: oauth2.Config{
			ClientID: creds.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  creds.URL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: tokenScopes,
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.tokenClient.Transport = newDatabaseRoundTripper(creds.Database, m.tokenClient.Transport, m.logger)
	m.setTokenURL(m.oauth.Endpoint.TokenURL)
	return m, nil
}

// TokenURL returns the token endpoint currently in use.
func (m *TokenManager) TokenURL() string {
	return *m.tokenURL.Load()
}

func (m *TokenManager) setTokenURL(u string) {
	m.tokenURL.Store(&u)
}

// Expiry returns the expiry of the cached token, or the zero time.
func (m *TokenManager) Expiry() time.Time {
	if s := m.state.Load(); s != nil {
		return s.expiry
	}
	return time.Time{}
}

// Requests returns how many token requests have been sent.
func (m *TokenManager) Requests() int64 {
	return m.calls.Load()
}

// Token returns a bearer token that is valid for at least the refresh
// margin, fetching a new one when needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if s := m.state.Load(); s.usable(m.now(), m.margin) {
		return s.accessToken, nil
	}

	ch := m.flight.DoChan("token", func() (interface{}, error) {
		// Another flight may have finished between the check above and now.
		if s := m.state.Load(); s.usable(m.now(), m.margin) {
			return s, nil
		}
		s, err := m.fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.state.Store(s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return "", transportError("cancelled while waiting for an access token", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(*tokenState).accessToken, nil
	}
}

// Invalidate drops the cached token if it is still the given one. A caller
// holding a token the server rejected cannot discard a newer token another
// caller already fetched.
func (m *TokenManager) Invalidate(token string) {
	s := m.state.Load()
	if s != nil && s.accessToken == token {
		m.state.CompareAndSwap(s, nil)
	}
}

// fetch performs one token request. It is detached from the caller's
// cancellation because other callers may be waiting on the same flight.
func (m *TokenManager) fetch(ctx context.Context) (*tokenState, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if m.discover && !m.discovered.Load() {
		m.discoverEndpoint(ctx)
	}

	cfg := m.oauth
	cfg.Endpoint.TokenURL = m.TokenURL()

	m.calls.Add(1)
	m.logger.Debug("Requesting access token for %s from %s", m.creds.Username, cfg.Endpoint.TokenURL)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.tokenClient)
	tok, err := cfg.PasswordCredentialsToken(ctx, m.creds.Username, m.creds.Password)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	expiresIn, ok := expiresInSeconds(tok.Extra("expires_in"))
	if !ok {
		return nil, authError(http.StatusOK, "token response missing expires_in", nil)
	}

	s := &tokenState{
		accessToken: tok.AccessToken,
		tokenType:   tok.Type(),
		expiry:      m.now().Add(time.Duration(expiresIn * float64(time.Second))),
	}
	m.logger.Success("Access token acquired (expires %s)", s.expiry.Format(time.RFC3339))
	return s, nil
}

// discoverEndpoint looks up the token endpoint once. A network failure leaves
// discovery pending so the next refresh tries again.
func (m *TokenManager) discoverEndpoint(ctx context.Context) {
	endpoint, err := discoverTokenEndpoint(ctx, m.tokenClient, m.creds.URL, m.logger)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			m.logger.Warning("Token endpoint discovery unreachable, using %s for now: %v", m.TokenURL(), err)
			return
		}
		m.discovered.Store(true)
		m.logger.Warning("Token endpoint discovery failed, using %s: %v", m.TokenURL(), err)
		return
	}
	m.discovered.Store(true)
	m.setTokenURL(endpoint)
	m.logger.Info("Discovered token endpoint: %s", endpoint)
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		detail := string(re.Body)
		if re.ErrorCode != "" {
			detail = re.ErrorCode
			if re.ErrorDescription != "" {
				detail += ": " + re.ErrorDescription
			}
		}
		if strings.TrimSpace(detail) == "" {
			detail = http.StatusText(status)
		}
		return authError(status, detail, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return transportError("token request timed out", err)
		}
		return transportError("token endpoint unreachable", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transportError("token request timed out", err)
	}

	// oauth2 reports a 2xx body without access_token, or one it cannot
	// parse, as a plain error.
	return authError(http.StatusOK, fmt.Sprintf("malformed token response: %v", err), err)
}

func expiresInSeconds(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
