package aras

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-aras/internal/logging"
)

const (
	// Maximum size for discovery documents (1MB)
	maxDiscoverySize = 1024 * 1024

	oauthDiscoveryPath = "/Server/OAuthServerDiscovery.aspx"
	oidcWellKnownPath  = ".well-known/openid-configuration"
)

// oauthServerLocations is the document Aras serves at
// Server/OAuthServerDiscovery.aspx.
type oauthServerLocations struct {
	Locations []struct {
		URI string `json:"uri"`
	} `json:"locations"`
}

// openIDConfiguration is the subset of OpenID Connect Discovery metadata
// the client needs.
type openIDConfiguration struct {
	Issuer              string   `json:"issuer"`
	TokenEndpoint       string   `json:"token_endpoint"`
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`
}

// discoverTokenEndpoint finds the token endpoint of the Aras OAuth server.
//
// Lookup order:
//  1. every location listed by {server}/Server/OAuthServerDiscovery.aspx,
//     each with .well-known/openid-configuration appended
//  2. {server}/oauthserver/.well-known/openid-configuration
//
// The first configuration with a valid token_endpoint wins.
func discoverTokenEndpoint(ctx context.Context, client *http.Client, serverURL string, logger *logging.Logger) (string, error) {
	var candidates []string

	var locs oauthServerLocations
	if err := fetchJSON(ctx, client, serverURL+oauthDiscoveryPath, &locs); err != nil {
		logger.WarningVerbose("OAuth server discovery document unavailable: %v", err)
	} else {
		for _, loc := range locs.Locations {
			if loc.URI == "" {
				continue
			}
			candidates = append(candidates, strings.TrimRight(loc.URI, "/")+"/"+oidcWellKnownPath)
		}
	}
	candidates = append(candidates, serverURL+"/oauthserver/"+oidcWellKnownPath)

	var lastErr error
	for i, candidate := range candidates {
		logger.InfoVerbose("Trying OpenID configuration (%d/%d): %s", i+1, len(candidates), candidate)

		var cfg openIDConfiguration
		if err := fetchJSON(ctx, client, candidate, &cfg); err != nil {
			lastErr = err
			continue
		}
		if err := validateTokenEndpoint(cfg.TokenEndpoint); err != nil {
			lastErr = err
			continue
		}
		if !supportsPasswordGrant(cfg.GrantTypesSupported) {
			logger.Warning("OAuth server at %s does not advertise the password grant", candidate)
		}
		return cfg.TokenEndpoint, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("no usable OpenID configuration found (last error: %w)", lastErr)
	}
	return "", fmt.Errorf("no OpenID configuration found")
}

func fetchJSON(ctx context.Context, client *http.Client, target string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoverySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) >= maxDiscoverySize {
		return fmt.Errorf("response exceeds maximum size of %d bytes", maxDiscoverySize)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func validateTokenEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("missing required field: token_endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid token_endpoint URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("token_endpoint must be an absolute http(s) URL: %s", endpoint)
	}
	return nil
}

func supportsPasswordGrant(grants []string) bool {
	if len(grants) == 0 {
		return true
	}
	for _, g := range grants {
		if g == "password" {
			return true
		}
	}
	return false
}
