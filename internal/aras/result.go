package aras

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Result is the outcome of one Execute call. Payload holds a JSON object
// (map[string]interface{}) or, for collections, a []interface{} of objects.
type Result struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"status_code,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	NextLink   string      `json:"next_link,omitempty"`
	Error      *Error      `json:"error,omitempty"`
}

// Err returns the failure as an error, or nil on success.
func (r *Result) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

func failure(err *Error) *Result {
	return &Result{Success: false, StatusCode: err.StatusCode, Error: err}
}

// decodeSuccess parses a 2xx body. Empty bodies (204 and friends) give a nil
// payload. OData collections are unwrapped from their "value" envelope.
func decodeSuccess(status int, body []byte) *Result {
	res := &Result{Success: true, StatusCode: status}
	body = bytes.TrimSpace(body)
	if status == http.StatusNoContent || len(body) == 0 {
		return res
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		res.Payload = map[string]interface{}{"content": string(body)}
		return res
	}

	if obj, ok := v.(map[string]interface{}); ok {
		if items, ok := obj["value"].([]interface{}); ok {
			res.Payload = items
			if next, ok := obj["@odata.nextLink"].(string); ok {
				res.NextLink = next
			}
			return res
		}
	}
	res.Payload = v
	return res
}

// normalizeError reduces the different error payloads Aras and its IIS
// front end produce to a (code, detail) pair.
func normalizeError(status int, body []byte) (code, detail string) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", http.StatusText(status)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", string(body)
	}

	switch e := doc["error"].(type) {
	case map[string]interface{}:
		code = stringField(e, "code")
		switch m := e["message"].(type) {
		case string:
			detail = m
		case map[string]interface{}:
			detail = stringField(m, "value")
		}
	case string:
		code = e
		detail = stringField(doc, "error_description")
		if detail == "" {
			detail = e
		}
	}

	if detail == "" {
		for _, key := range []string{"Message", "message", "detail", "title"} {
			if s := stringField(doc, key); s != "" {
				detail = s
				break
			}
		}
	}
	if detail == "" {
		detail = string(body)
	}
	return code, detail
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// challengeDetail extracts a readable reason from a Bearer challenge.
func challengeDetail(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	c, err := parseWWWAuthenticate(header)
	if err != nil {
		return ""
	}
	var detail string
	switch {
	case c.ErrorDescription != "":
		detail = c.ErrorDescription
	case c.Error != "":
		detail = c.Error
	default:
		return ""
	}
	if len(c.Scopes) > 0 {
		detail += " (required scope: " + strings.Join(c.Scopes, " ") + ")"
	}
	return detail
}
