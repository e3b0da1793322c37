package aras

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// odataPath is the OData service root below the server URL.
const odataPath = "/Server/Odata"

// methodPrefix addresses server methods through the AML method passthrough.
const methodPrefix = "method."

// arasAction is the annotation Aras reads to choose the write action.
const arasAction = "@aras.action"

// Request is a built, unauthenticated OData request. Path and RawQuery are
// already escaped; Path is relative to the OData service root.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// URL joins the request onto the server base URL.
func (r *Request) URL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/") + odataPath + r.Path
	if r.RawQuery != "" {
		u += "?" + r.RawQuery
	}
	return u
}

// String renders the request line for logs and tests, with the query
// unescaped for readability.
func (r *Request) String() string {
	s := r.Method + " " + r.Path
	if r.RawQuery != "" {
		q, err := url.PathUnescape(r.RawQuery)
		if err != nil {
			q = r.RawQuery
		}
		s += "?" + q
	}
	return s
}

type buildFunc func(op Operation) (*Request, error)

// builders holds one handler per operation kind.
var builders = map[Kind]buildFunc{
	KindGet:                buildGet,
	KindCreate:             buildCreate,
	KindUpdate:             buildUpdate,
	KindUpsertMerge:        buildUpsert,
	KindUpdateProperty:     buildUpdateProperty,
	KindDelete:             buildDelete,
	KindDeleteRelationship: buildDeleteRelationship,
	KindClearProperty:      buildClearProperty,
	KindCallMethod:         buildCallMethod,
	KindGetList:            buildGetList,
}

// Build translates op into an HTTP request without performing any I/O.
// Structurally invalid operations yield a ValidationError.
func Build(op Operation) (*Request, error) {
	build, ok := builders[op.Kind]
	if !ok {
		return nil, validationError("unknown operation kind %q", op.Kind)
	}
	req, err := build(op)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	var prefer []string
	if op.PageSize > 0 {
		prefer = append(prefer, "odata.maxpagesize="+strconv.Itoa(op.PageSize))
	}
	if op.ReturnMinimal {
		prefer = append(prefer, "return=minimal")
	}
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ", "))
	}
	return req, nil
}

func newRequest(method, path string) *Request {
	return &Request{Method: method, Path: path, Header: make(http.Header)}
}

func buildGet(op Operation) (*Request, error) {
	if err := requireName("entityType", op.EntityType); err != nil {
		return nil, err
	}
	if op.Top < 0 || op.Skip < 0 || op.PageSize < 0 {
		return nil, validationError("top, skip and pageSize must not be negative")
	}

	path := "/" + escapeSegment(op.EntityType)
	if op.Identifier != "" {
		path = "/" + keySegment(op.EntityType, op.Identifier)
	}
	req := newRequest(http.MethodGet, path)

	q := &queryBuilder{}
	q.add("$filter", op.Filter)
	q.add("$select", op.Select)
	q.add("$expand", op.Expand)
	q.add("$orderby", op.OrderBy)
	if op.Top > 0 {
		q.add("$top", strconv.Itoa(op.Top))
	}
	if op.Skip > 0 {
		q.add("$skip", strconv.Itoa(op.Skip))
	}
	req.RawQuery = q.String()
	return req, nil
}

func buildCreate(op Operation) (*Request, error) {
	if err := requireName("entityType", op.EntityType); err != nil {
		return nil, err
	}
	if len(op.Properties) == 0 {
		return nil, validationError("create requires at least one property")
	}
	req := newRequest(http.MethodPost, "/"+escapeSegment(op.EntityType))
	return withJSONBody(req, op.Properties)
}

func buildUpdate(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	if len(op.Properties) == 0 {
		return nil, validationError("update requires at least one property")
	}
	body := op.Properties
	if op.Action != "" && op.Action != "edit" {
		body = make(map[string]interface{}, len(op.Properties)+1)
		for k, v := range op.Properties {
			body[k] = v
		}
		body[arasAction] = op.Action
	}
	req := newRequest(http.MethodPatch, "/"+keySegment(op.EntityType, op.Identifier))
	return withJSONBody(req, body)
}

// buildUpsert sends the full property set as a PATCH with If-Match: *, which
// Aras treats as merge: update when the id exists, create it otherwise.
func buildUpsert(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	if len(op.Properties) == 0 {
		return nil, validationError("upsert requires at least one property")
	}
	req := newRequest(http.MethodPatch, "/"+keySegment(op.EntityType, op.Identifier))
	req.Header.Set("If-Match", "*")
	return withJSONBody(req, op.Properties)
}

func buildUpdateProperty(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	if err := requireName("propertyName", op.PropertyName); err != nil {
		return nil, err
	}
	path := "/" + keySegment(op.EntityType, op.Identifier) + "/" + escapeSegment(op.PropertyName)
	req := newRequest(http.MethodPut, path)
	return withJSONBody(req, map[string]interface{}{"value": op.Value})
}

func buildDelete(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	req := newRequest(http.MethodDelete, "/"+keySegment(op.EntityType, op.Identifier))
	if op.Purge {
		return withJSONBody(req, map[string]interface{}{arasAction: "purge"})
	}
	return req, nil
}

func buildDeleteRelationship(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	if err := requireName("relationshipName", op.RelationshipName); err != nil {
		return nil, err
	}
	if op.RelatedIdentifier == "" {
		return nil, validationError("relatedIdentifier is required")
	}
	path := "/" + keySegment(op.EntityType, op.Identifier) +
		"/" + keySegment(op.RelationshipName, op.RelatedIdentifier)
	return newRequest(http.MethodDelete, path), nil
}

func buildClearProperty(op Operation) (*Request, error) {
	if err := requireItem(op); err != nil {
		return nil, err
	}
	if err := requireName("propertyName", op.PropertyName); err != nil {
		return nil, err
	}
	req := newRequest(http.MethodPatch, "/"+keySegment(op.EntityType, op.Identifier))
	return withJSONBody(req, map[string]interface{}{op.PropertyName: nil})
}

func buildCallMethod(op Operation) (*Request, error) {
	if err := requireName("methodName", op.MethodName); err != nil {
		return nil, err
	}
	params := op.Properties
	if params == nil {
		params = map[string]interface{}{}
	}
	req := newRequest(http.MethodPost, "/"+methodPrefix+escapeSegment(op.MethodName))
	return withJSONBody(req, params)
}

func buildGetList(op Operation) (*Request, error) {
	if op.Identifier == "" {
		return nil, validationError("listId is required")
	}
	req := newRequest(http.MethodGet, "/"+keySegment("List", op.Identifier)+"/Value")
	q := &queryBuilder{}
	q.add("$expand", op.Expand)
	req.RawQuery = q.String()
	return req, nil
}

func withJSONBody(req *Request, body map[string]interface{}) (*Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, validationError("properties are not JSON-serialisable: %v", err)
	}
	req.Body = data
	return req, nil
}

func requireItem(op Operation) error {
	if err := requireName("entityType", op.EntityType); err != nil {
		return err
	}
	if op.Identifier == "" {
		return validationError("identifier is required for %s", op.Kind)
	}
	return nil
}

// requireName checks names that end up as bare path segments. Quotes and
// parentheses would change the meaning of the OData path, so they are
// rejected rather than escaped.
func requireName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return validationError("%s is required", field)
	}
	if strings.ContainsAny(v, "/?#'()") {
		return validationError("%s %q contains characters not allowed in a name", field, v)
	}
	return nil
}

// Literal renders v as an OData string literal, doubling embedded single
// quotes. Use it when composing $filter expressions from values.
func Literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// keySegment renders name('key') with the key as an escaped string literal.
func keySegment(name, key string) string {
	return escapeSegment(name) + "(" + escapeSegment(Literal(key)) + ")"
}

// escapeSegment percent-encodes everything that is not an RFC 3986 pchar.
func escapeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPathChar(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isPathChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', ':', '@':
		return true
	}
	return false
}

// queryBuilder keeps OData system options in insertion order with their
// literal "$" names.
type queryBuilder struct {
	parts []string
}

func (q *queryBuilder) add(key, value string) {
	if value == "" {
		return
	}
	q.parts = append(q.parts, key+"="+escapeQueryValue(value))
}

func (q *queryBuilder) String() string {
	return strings.Join(q.parts, "&")
}

// escapeQueryValue escapes a query value with spaces as %20, which every
// OData server accepts, unlike "+".
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
