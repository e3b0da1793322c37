package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/giantswarm/mcp-aras/internal/aras"
)

// arguments are the decoded parameters of one tool call.
type arguments map[string]interface{}

func toArguments(raw interface{}) (arguments, error) {
	switch v := raw.(type) {
	case nil:
		return arguments{}, nil
	case map[string]interface{}:
		return arguments(v), nil
	default:
		return nil, invalidArgument("invalid arguments type %T", raw)
	}
}

func invalidArgument(format string, args ...interface{}) error {
	return &aras.Error{Kind: aras.KindValidation, Detail: fmt.Sprintf(format, args...)}
}

func (a arguments) required(key string) (interface{}, error) {
	v, ok := a[key]
	if !ok {
		return nil, invalidArgument("missing required argument %q", key)
	}
	return v, nil
}

func (a arguments) requiredString(key string) (string, error) {
	s, err := a.optionalString(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", invalidArgument("missing required argument %q", key)
	}
	return s, nil
}

func (a arguments) optionalString(key string) (string, error) {
	switch v := a[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", invalidArgument("argument %q must be a string, got %T", key, v)
	}
}

// optionalInt accepts JSON numbers that are whole and numeric strings.
func (a arguments) optionalInt(key string) (int, error) {
	switch v := a[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, invalidArgument("argument %q must be a whole number, got %v", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, invalidArgument("argument %q must be a whole number, got %s", key, v)
		}
		return int(n), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalidArgument("argument %q must be a whole number, got %q", key, v)
		}
		return n, nil
	default:
		return 0, invalidArgument("argument %q must be a number, got %T", key, v)
	}
}

func (a arguments) optionalBool(key string) (bool, error) {
	switch v := a[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalidArgument("argument %q must be a boolean, got %q", key, v)
		}
		return b, nil
	default:
		return false, invalidArgument("argument %q must be a boolean, got %T", key, v)
	}
}

// object reads a JSON object argument. Hosts that send the object as a JSON
// string are accepted as well.
func (a arguments) object(key string, required bool) (map[string]interface{}, error) {
	var obj map[string]interface{}
	switch v := a[key].(type) {
	case nil:
	case map[string]interface{}:
		obj = v
	case string:
		if strings.TrimSpace(v) != "" {
			if err := json.Unmarshal([]byte(v), &obj); err != nil {
				return nil, invalidArgument("argument %q must be a JSON object: %v", key, err)
			}
		}
	default:
		return nil, invalidArgument("argument %q must be an object, got %T", key, v)
	}
	if required && len(obj) == 0 {
		return nil, invalidArgument("argument %q must be a non-empty object", key)
	}
	return obj, nil
}
