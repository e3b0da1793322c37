package repl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/giantswarm/mcp-aras/internal/aras"
)

// line is one tokenised console input.
type line struct {
	command string
	args    []string
	options map[string]string
	body    map[string]interface{}
}

// parseLine splits input into words. Double quotes group words ("Part BOM"),
// key=value words become options when key is one of optionKeys, and a
// trailing JSON object starting with '{' becomes the body.
func parseLine(input string, optionKeys map[string]bool) (line, error) {
	words, rawBody, err := splitWords(input)
	if err != nil {
		return line{}, err
	}
	if len(words) == 0 {
		return line{}, nil
	}

	l := line{command: strings.ToLower(words[0]), options: map[string]string{}}
	for _, w := range words[1:] {
		if k, v, ok := strings.Cut(w, "="); ok && optionKeys[strings.ToLower(k)] {
			l.options[strings.ToLower(k)] = v
			continue
		}
		l.args = append(l.args, w)
	}

	if rawBody != "" {
		if err := json.Unmarshal([]byte(rawBody), &l.body); err != nil {
			return line{}, fmt.Errorf("invalid JSON object: %w", err)
		}
	}
	return l, nil
}

func splitWords(input string) ([]string, string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quoted  bool
	)
	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	for i, c := range input {
		switch {
		case c == '"':
			quoted = !quoted
			inWord = true
		case quoted:
			current.WriteRune(c)
		case c == '{' && !inWord:
			return words, strings.TrimSpace(input[i:]), nil
		case unicode.IsSpace(c):
			flush()
		default:
			current.WriteRune(c)
			inWord = true
		}
	}
	if quoted {
		return nil, "", fmt.Errorf("unterminated quote")
	}
	flush()
	return words, "", nil
}

// opParser converts a parsed line into an Operation.
type opParser struct {
	kind    aras.Kind
	minArgs int
	usage   string
	options []string
	parse   func(l line, op *aras.Operation) error
}

var operationCommands = map[string]opParser{
	"get": {
		kind:    aras.KindGet,
		minArgs: 1,
		usage:   "usage: get <type> [id] [filter=...] [select=...] [expand=...] [orderby=...] [top=N] [skip=N] [pagesize=N]",
		options: []string{"filter", "select", "expand", "orderby", "top", "skip", "pagesize"},
		parse: func(l line, op *aras.Operation) error {
			op.EntityType = l.args[0]
			if len(l.args) > 1 {
				op.Identifier = l.args[1]
			}
			op.Filter = l.options["filter"]
			op.Select = l.options["select"]
			op.Expand = l.options["expand"]
			op.OrderBy = l.options["orderby"]
			var err error
			if op.Top, err = intOption(l, "top"); err != nil {
				return err
			}
			if op.Skip, err = intOption(l, "skip"); err != nil {
				return err
			}
			op.PageSize, err = intOption(l, "pagesize")
			return err
		},
	},
	"create": {
		kind:    aras.KindCreate,
		minArgs: 1,
		usage:   "usage: create <type> {json}",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType = l.args[0]
			op.Properties = l.body
			return nil
		},
	},
	"update": {
		kind:    aras.KindUpdate,
		minArgs: 2,
		usage:   "usage: update <type> <id> [action=edit|update|lock|unlock] {json}",
		options: []string{"action"},
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier = l.args[0], l.args[1]
			op.Action = l.options["action"]
			op.Properties = l.body
			return nil
		},
	},
	"upsert": {
		kind:    aras.KindUpsertMerge,
		minArgs: 2,
		usage:   "usage: upsert <type> <id> {json}",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier = l.args[0], l.args[1]
			op.Properties = l.body
			return nil
		},
	},
	"set": {
		kind:    aras.KindUpdateProperty,
		minArgs: 4,
		usage:   "usage: set <type> <id> <property> <value>",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier, op.PropertyName = l.args[0], l.args[1], l.args[2]
			op.Value = parseValue(strings.Join(l.args[3:], " "))
			return nil
		},
	},
	"delete": {
		kind:    aras.KindDelete,
		minArgs: 2,
		usage:   "usage: delete <type> <id> [purge]",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier = l.args[0], l.args[1]
			if len(l.args) > 2 {
				if !strings.EqualFold(l.args[2], "purge") {
					return fmt.Errorf("unexpected argument %q", l.args[2])
				}
				op.Purge = true
			}
			return nil
		},
	},
	"unlink": {
		kind:    aras.KindDeleteRelationship,
		minArgs: 4,
		usage:   "usage: unlink <type> <id> <relationship> <related-id>",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier = l.args[0], l.args[1]
			op.RelationshipName, op.RelatedIdentifier = l.args[2], l.args[3]
			return nil
		},
	},
	"clear": {
		kind:    aras.KindClearProperty,
		minArgs: 3,
		usage:   "usage: clear <type> <id> <property>",
		parse: func(l line, op *aras.Operation) error {
			op.EntityType, op.Identifier, op.PropertyName = l.args[0], l.args[1], l.args[2]
			return nil
		},
	},
	"call": {
		kind:    aras.KindCallMethod,
		minArgs: 1,
		usage:   "usage: call <method> [{json}]",
		parse: func(l line, op *aras.Operation) error {
			op.MethodName = l.args[0]
			op.Properties = l.body
			return nil
		},
	},
	"list": {
		kind:    aras.KindGetList,
		minArgs: 1,
		usage:   "usage: list <list-id> [expand=...]",
		options: []string{"expand"},
		parse: func(l line, op *aras.Operation) error {
			op.Identifier = l.args[0]
			op.Expand = l.options["expand"]
			return nil
		},
	},
}

// parseOperation turns an operation command into an Operation. Build still
// validates the result; this only checks the command shape.
func parseOperation(input string) (aras.Operation, error) {
	words, _, err := splitWords(input)
	if err != nil {
		return aras.Operation{}, err
	}
	if len(words) == 0 {
		return aras.Operation{}, fmt.Errorf("empty command")
	}
	p, ok := operationCommands[strings.ToLower(words[0])]
	if !ok {
		return aras.Operation{}, fmt.Errorf("unknown command: %s", words[0])
	}

	keys := make(map[string]bool, len(p.options))
	for _, k := range p.options {
		keys[k] = true
	}
	l, err := parseLine(input, keys)
	if err != nil {
		return aras.Operation{}, err
	}
	if len(l.args) < p.minArgs {
		return aras.Operation{}, fmt.Errorf("%s", p.usage)
	}

	op := aras.Operation{Kind: p.kind}
	if err := p.parse(l, &op); err != nil {
		return aras.Operation{}, err
	}
	return op, nil
}

func intOption(l line, key string) (int, error) {
	v, ok := l.options[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a whole number, got %q", key, v)
	}
	return n, nil
}

// parseValue reads a JSON scalar (42, true, null, "text") and falls back to
// the raw text.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if _, isObject := v.(map[string]interface{}); !isObject {
			return v
		}
	}
	return s
}
