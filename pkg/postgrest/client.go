package postgrest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeflare/pgrest/pkg/metrics"
	"go.uber.org/zap"
)

// RetryConfig controls retries of transport failures. HTTP statuses are never
// retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client is an immutable PostgREST client configuration. Methods that change
// the configuration return a modified copy, so a Client is safe for
// concurrent use.
type Client struct {
	baseURL    *url.URL
	schema     string
	headers    http.Header
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.ClientMetrics
	retry      *RetryConfig
	timeout    time.Duration
}

// Option configures a Client in New.
type Option func(*Client)

// WithHeader adds a default header sent with every request, eg apikey.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithSchema sets the schema addressed by every request.
func WithSchema(schema string) Option {
	return func(c *Client) {
		c.schema = schema
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the request timeout used when no *http.Client is supplied.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger logs every request at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetry enables backoff retries of transport failures.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) {
		c.retry = &rc
	}
}

// New creates a client for the PostgREST API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("parse base url: %q is not an absolute http(s) url", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{
		baseURL: u,
		headers: make(http.Header),
		logger:  zap.NewNop(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

func (c *Client) clone() *Client {
	cp := *c
	cp.headers = c.headers.Clone()
	return &cp
}

// Schema returns a copy of c that addresses the given schema. The name is not
// validated; an unknown schema is reported by the server.
func (c *Client) Schema(schema string) *Client {
	cp := c.clone()
	cp.schema = schema
	return cp
}

// InsertHeader returns a copy of c that sends an extra default header.
func (c *Client) InsertHeader(key, value string) *Client {
	cp := c.clone()
	cp.headers.Set(key, value)
	return cp
}

// Auth returns a copy of c that sends the token as a bearer credential.
func (c *Client) Auth(token string) *Client {
	return c.InsertHeader("Authorization", "Bearer "+token)
}

// SchemaName reports the configured schema, empty for the server default.
func (c *Client) SchemaName() string {
	return c.schema
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// From begins a request against a table or view.
func (c *Client) From(table string) *Builder {
	return newBuilder(c, "/"+url.PathEscape(table), http.MethodGet)
}

// RPC begins a call of a stored function. args is sent as the JSON body; it
// may be any value accepted by json.Marshal, or raw JSON as a string, []byte
// or json.RawMessage. A nil args sends an empty object.
func (c *Client) RPC(function string, args any) *Builder {
	b := newBuilder(c, "/rpc/"+url.PathEscape(function), http.MethodPost)
	b.body = args
	if args == nil {
		b.body = json.RawMessage("{}")
	}
	return b
}
