package aras

import (
	"fmt"
	"strings"
)

// bearerChallenge is a parsed WWW-Authenticate header as sent by the Aras
// OAuth server alongside 401 responses.
type bearerChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer")
	Scheme string

	// Error is the RFC 6750 error code, e.g. "invalid_token"
	Error string

	// ErrorDescription is the human readable reason
	ErrorDescription string

	Scopes []string
}

// parseWWWAuthenticate parses a WWW-Authenticate header value.
//
// Example header:
//
//	WWW-Authenticate: Bearer error="invalid_token",
//	                         error_description="The token expired at '01/08/2026 10:00:00'"
func parseWWWAuthenticate(header string) (*bearerChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &bearerChallenge{Scheme: parts[0]}

	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
		if scope := params["scope"]; scope != "" {
			challenge.Scopes = strings.Fields(scope)
		}
	}

	return challenge, nil
}

// parseAuthParams parses key="value" pairs separated by commas. Commas inside
// quoted values are kept.
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)

	for _, part := range splitPreservingQuotes(params, ',') {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq <= 0 {
			continue
		}

		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		result[key] = value
	}

	return result
}

func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}
