package aras

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-aras/internal/logging"
)

// databaseRoundTripper adds the Aras "database" form field to token
// requests. golang.org/x/oauth2 has no hook for extra password-grant
// parameters, so the field is injected on the wire.
type databaseRoundTripper struct {
	base     http.RoundTripper
	database string
	logger   *logging.Logger
}

func newDatabaseRoundTripper(database string, base http.RoundTripper, logger *logging.Logger) *databaseRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &databaseRoundTripper{base: base, database: database, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *databaseRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isTokenRequest(req) {
		return t.base.RoundTrip(req)
	}

	// Clone the request to avoid modifying the original
	cloned := req.Clone(req.Context())
	if err := t.addDatabase(cloned); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(cloned)
}

// isTokenRequest matches form POSTs to an OAuth token endpoint.
func isTokenRequest(req *http.Request) bool {
	if req.Method != http.MethodPost || req.Body == nil {
		return false
	}
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return false
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(req.URL.Path, "/")), "/token")
}

func (t *databaseRoundTripper) addDatabase(req *http.Request) error {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("failed to read token request body: %w", err)
	}
	_ = req.Body.Close()

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("failed to parse token request form: %w", err)
	}
	values.Set("database", t.database)

	encoded := values.Encode()
	req.Body = io.NopCloser(strings.NewReader(encoded))
	req.ContentLength = int64(len(encoded))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	t.logger.Debug("Added database %q to token request", t.database)
	return nil
}
