package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/pgrest/pkg/httputil"
	"go.uber.org/zap"
)

const (
	acceptProfileHeader  = "Accept-Profile"
	contentProfileHeader = "Content-Profile"
	singleObjectMedia    = "application/vnd.pgrst.object+json"
)

// CountKind selects how PostgREST counts rows for Prefer: count=.
type CountKind string

const (
	CountExact     CountKind = "exact"
	CountPlanned   CountKind = "planned"
	CountEstimated CountKind = "estimated"
)

// OrderOpts controls a single Order term. The zero value sorts ascending
// with the database's default null placement.
type OrderOpts struct {
	Descending bool
	NullsFirst bool
	NullsLast  bool
}

type param struct {
	key   string
	value string
}

// prefer collects Prefer header directives (RFC 7240).
type prefer struct {
	ret        string
	count      CountKind
	resolution string
}

func (p prefer) String() string {
	parts := make([]string, 0, 3)
	if p.ret != "" {
		parts = append(parts, "return="+p.ret)
	}
	if p.resolution != "" {
		parts = append(parts, "resolution="+p.resolution)
	}
	if p.count != "" {
		parts = append(parts, "count="+string(p.count))
	}
	return strings.Join(parts, ",")
}

// Builder accumulates one request. Every chained method mutates and returns
// the same Builder; a Builder must not be shared between goroutines.
type Builder struct {
	client  *Client
	path    string
	method  string
	params  []param
	headers http.Header
	prefer  prefer
	body    any
}

func newBuilder(c *Client, path, method string) *Builder {
	return &Builder{
		client:  c,
		path:    path,
		method:  method,
		headers: make(http.Header),
	}
}

// add appends a parameter, keeping earlier ones with the same key.
func (b *Builder) add(key, value string) *Builder {
	b.params = append(b.params, param{key: key, value: value})
	return b
}

// set replaces the first parameter named key or appends it.
func (b *Builder) set(key, value string) *Builder {
	for i := range b.params {
		if b.params[i].key == key {
			b.params[i].value = value
			return b
		}
	}
	return b.add(key, value)
}

func (b *Builder) get(key string) (string, bool) {
	for _, p := range b.params {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// Select restricts the returned columns, eg "id,name" or "*".
func (b *Builder) Select(columns string) *Builder {
	return b.set("select", columns)
}

// Filter appends column=operator.value.
func (b *Builder) Filter(column, operator, value string) *Builder {
	return b.add(column, operator+"."+value)
}

func (b *Builder) Eq(column, value string) *Builder { return b.Filter(column, "eq", value) }
func (b *Builder) Neq(column, value string) *Builder { return b.Filter(column, "neq", value) }
func (b *Builder) Gt(column, value string) *Builder { return b.Filter(column, "gt", value) }
func (b *Builder) Gte(column, value string) *Builder { return b.Filter(column, "gte", value) }
func (b *Builder) Lt(column, value string) *Builder { return b.Filter(column, "lt", value) }
func (b *Builder) Lte(column, value string) *Builder { return b.Filter(column, "lte", value) }
func (b *Builder) Like(column, pattern string) *Builder { return b.Filter(column, "like", pattern) }
func (b *Builder) Ilike(column, pattern string) *Builder { return b.Filter(column, "ilike", pattern) }

// Is filters on null, true, false or unknown.
func (b *Builder) Is(column, value string) *Builder { return b.Filter(column, "is", value) }

// In filters on membership, quoting values that contain reserved characters.
func (b *Builder) In(column string, values []string) *Builder {
	return b.Filter(column, "in", "("+joinValues(values)+")")
}

// Contains filters array, range or jsonb columns that contain every value.
func (b *Builder) Contains(column string, values []string) *Builder {
	return b.Filter(column, "cs", "{"+joinValues(values)+"}")
}

// ContainedBy filters columns whose elements are all in values.
func (b *Builder) ContainedBy(column string, values []string) *Builder {
	return b.Filter(column, "cd", "{"+joinValues(values)+"}")
}

// TextSearchType is the full text search operator.
type TextSearchType string

const (
	TextSearchPlain     TextSearchType = "plfts"
	TextSearchPhrase    TextSearchType = "phfts"
	TextSearchWebsearch TextSearchType = "wfts"
	TextSearchDefault   TextSearchType = "fts"
)

// TextSearch filters a tsvector column. config is an optional text search
// configuration such as "english".
func (b *Builder) TextSearch(column, query string, kind TextSearchType, config string) *Builder {
	op := string(kind)
	if op == "" {
		op = string(TextSearchDefault)
	}
	if config != "" {
		op += "(" + config + ")"
	}
	return b.Filter(column, op, query)
}

// Not negates a filter: column=not.operator.value.
func (b *Builder) Not(column, operator, value string) *Builder {
	return b.add(column, "not."+operator+"."+value)
}

// Or combines PostgREST filter expressions, eg "age.lt.18,status.eq.OFFLINE".
func (b *Builder) Or(filters string) *Builder {
	return b.add("or", "("+filters+")")
}

// Order appends a sort term; repeated calls sort by multiple columns.
func (b *Builder) Order(column string, opts OrderOpts) *Builder {
	term := column + ".asc"
	if opts.Descending {
		term = column + ".desc"
	}
	switch {
	case opts.NullsFirst:
		term += ".nullsfirst"
	case opts.NullsLast:
		term += ".nullslast"
	}
	if existing, ok := b.get("order"); ok {
		return b.set("order", existing+","+term)
	}
	return b.add("order", term)
}

// Limit caps the number of returned rows.
func (b *Builder) Limit(n int) *Builder {
	return b.set("limit", strconv.Itoa(n))
}

// Offset skips rows.
func (b *Builder) Offset(n int) *Builder {
	return b.set("offset", strconv.Itoa(n))
}

// Range returns rows from..to inclusive, zero based. A to below from
// selects no rows.
func (b *Builder) Range(from, to int) *Builder {
	return b.Offset(from).Limit(max(to-from+1, 0))
}

// Single asks for one object instead of an array. PostgREST answers 406 when
// the result does not contain exactly one row.
func (b *Builder) Single() *Builder {
	b.headers.Set("Accept", singleObjectMedia)
	return b
}

// Count asks PostgREST to report the total row count in Content-Range.
func (b *Builder) Count(kind CountKind) *Builder {
	b.prefer.count = kind
	return b
}

// Insert creates rows from body.
func (b *Builder) Insert(body any) *Builder {
	b.method = http.MethodPost
	b.body = body
	b.prefer.ret = "representation"
	return b
}

// Upsert inserts rows or merges them into existing ones on conflict.
func (b *Builder) Upsert(body any) *Builder {
	b.Insert(body)
	b.prefer.resolution = "merge-duplicates"
	return b
}

// OnConflict names the unique columns an upsert resolves on.
func (b *Builder) OnConflict(columns string) *Builder {
	return b.set("on_conflict", columns)
}

// Update modifies the rows matched by the filters.
func (b *Builder) Update(body any) *Builder {
	b.method = http.MethodPatch
	b.body = body
	b.prefer.ret = "representation"
	return b
}

// Delete removes the rows matched by the filters.
func (b *Builder) Delete() *Builder {
	b.method = http.MethodDelete
	b.body = nil
	b.prefer.ret = "representation"
	return b
}

// Header sets a header on this request only.
func (b *Builder) Header(key, value string) *Builder {
	b.headers.Set(key, value)
	return b
}

// Method reports the HTTP method the request will use.
func (b *Builder) Method() string {
	return b.method
}

// URL renders the request URL. Parameters appear in insertion order.
func (b *Builder) URL() string {
	u := b.client.baseURL.String() + b.path
	if q := encodeParams(b.params); q != "" {
		u += "?" + q
	}
	return u
}

// Headers renders the request headers: client defaults, the schema profile
// header for the method, Prefer, then per-request headers.
func (b *Builder) Headers() http.Header {
	h := b.client.headers.Clone()
	if schema := b.client.schema; schema != "" {
		if b.method == http.MethodGet || b.method == http.MethodHead {
			h.Set(acceptProfileHeader, schema)
		} else {
			h.Set(contentProfileHeader, schema)
		}
	}
	if p := b.prefer.String(); p != "" {
		h.Set("Prefer", p)
	}
	for k, v := range b.headers {
		h[k] = append([]string(nil), v...)
	}
	return h
}

// Request builds the *http.Request without sending it.
func (b *Builder) Request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if b.body != nil {
		raw, err := encodeBody(b.body)
		if err != nil {
			return nil, &TransportError{Method: b.method, URL: b.URL(), Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.URL(), body)
	if err != nil {
		return nil, &TransportError{Method: b.method, URL: b.URL(), Err: err}
	}
	req.Header = b.Headers()
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Execute sends the request and returns the response for every HTTP status.
// Only failures that prevent a response are returned as *TransportError.
func (b *Builder) Execute(ctx context.Context) (*Response, error) {
	c := b.client
	cfg := httputil.DefaultRequestConfig(b.method, b.URL())
	cfg.Client = c.httpClient
	cfg.Logger = c.logger
	cfg.Headers = b.Headers()
	if c.retry != nil {
		cfg.RetryEnabled = true
		cfg.MaxRetries = c.retry.MaxRetries
		if c.retry.InitialBackoff > 0 {
			cfg.InitialBackoff = c.retry.InitialBackoff
		}
		if c.retry.MaxBackoff > 0 {
			cfg.MaxBackoff = c.retry.MaxBackoff
		}
	}

	var payload any
	if b.body != nil {
		raw, err := encodeBody(b.body)
		if err != nil {
			return nil, &TransportError{Method: b.method, URL: cfg.URL, Err: err}
		}
		payload = raw
	}

	start := time.Now()
	resp, err := httputil.Request(ctx, cfg, payload)
	latency := time.Since(start)
	if err != nil {
		c.metrics.ObserveTransportError(b.method, c.schema, latency)
		c.logger.Debug("postgrest request failed",
			zap.String("method", b.method),
			zap.String("url", cfg.URL),
			zap.String("schema", c.schema),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, &TransportError{Method: b.method, URL: cfg.URL, Err: err}
	}

	c.metrics.ObserveResponse(b.method, c.schema, resp.StatusCode, latency)
	c.logger.Debug("postgrest request",
		zap.String("method", b.method),
		zap.String("url", cfg.URL),
		zap.String("schema", c.schema),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Headers,
		Body:       resp.Body,
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return raw, nil
}

// PostgREST operator punctuation is legal in a query string; keeping it
// unescaped leaves URLs readable and identical to what PostgREST documents.
var queryUnescaper = strings.NewReplacer(
	"%2C", ",",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
	"%3A", ":",
	"%7B", "{",
	"%7D", "}",
)

func escapeQuery(s string) string {
	return queryUnescaper.Replace(url.QueryEscape(s))
}

func encodeParams(params []param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escapeQuery(p.key))
		sb.WriteByte('=')
		sb.WriteString(escapeQuery(p.value))
	}
	return sb.String()
}

// joinValues joins list values, double-quoting those containing PostgREST
// reserved characters.
func joinValues(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		if strings.ContainsAny(v, `,.:()"{} `) {
			v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	return strings.Join(quoted, ",")
}
