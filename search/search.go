// Package search queries an Azure AI Search index over its REST API.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bt-bridge/voicerag/credential"
	"github.com/bt-bridge/voicerag/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultAPIVersion = "2024-07-01"
	defaultUserAgent  = "voicerag-middletier"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 512
)

// Query types understood by the search service.
const (
	QueryTypeSimple   = "simple"
	QueryTypeFull     = "full"
	QueryTypeSemantic = "semantic"
)

// VectorQuery asks the service to vectorize Text itself and run a k-NN search
// over Fields.
type VectorQuery struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	K      int    `json:"k"`
	Fields string `json:"fields"`
}

func TextVectorQuery(text string, k int, fields string) VectorQuery {
	return VectorQuery{Kind: "text", Text: text, K: k, Fields: fields}
}

// Query is the body of a docs/search request.
type Query struct {
	Search                string        `json:"search"`
	QueryType             string        `json:"queryType,omitempty"`
	SemanticConfiguration string        `json:"semanticConfiguration,omitempty"`
	Top                   int           `json:"top,omitempty"`
	Select                string        `json:"select,omitempty"`
	SearchFields          string        `json:"searchFields,omitempty"`
	VectorQueries         []VectorQuery `json:"vectorQueries,omitempty"`
}

// Document is one hit, keyed by index field name.
type Document map[string]any

// String returns field as a string, or "" if it is absent or not a string.
func (d Document) String(field string) string {
	if v, ok := d[field].(string); ok {
		return v
	}
	return ""
}

func (d Document) Score() float64 {
	if v, ok := d["@search.score"].(float64); ok {
		return v
	}
	return 0
}

type searchResponse struct {
	Value []Document `json:"value"`
}

// Searcher is what the RAG tools need from a search backend.
type Searcher interface {
	Search(ctx context.Context, q *Query) ([]Document, error)
}

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search returned status %d: %s", e.Code, e.Body)
}

type Client struct {
	logger     shared.LoggerAdapter
	endpoint   string
	index      string
	cred       credential.Credential
	apiVersion string
	userAgent  string
	timeout    time.Duration
	http       *fasthttp.Client
}

var _ Searcher = (*Client)(nil)

type Option func(*Client)

func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient does not validate endpoint or index: a missing value surfaces as
// an error from the first Search.
func NewClient(logger shared.LoggerAdapter, endpoint, index string, cred credential.Credential, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cred == nil {
		return nil, shared.ErrNoCredential
	}
	c := &Client{
		logger:     logger.With(zap.String("component", "search"), zap.String("index", index)),
		endpoint:   strings.TrimRight(endpoint, "/"),
		index:      index,
		cred:       cred,
		apiVersion: DefaultAPIVersion,
		userAgent:  defaultUserAgent,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &fasthttp.Client{
			Name:                c.userAgent,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         c.timeout,
			WriteTimeout:        c.timeout,
		}
	}
	return c, nil
}

// Warmup resolves a token up front when the client uses a delegated identity.
func (c *Client) Warmup(ctx context.Context) error {
	return credential.Warmup(ctx, c.cred, credential.ScopeSearch)
}

func (c *Client) searchURL() (string, error) {
	if c.endpoint == "" {
		return "", shared.ErrNoEndpoint
	}
	if c.index == "" {
		return "", shared.ErrNoIndex
	}
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing search endpoint: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return "", fmt.Errorf("%w: %q", shared.ErrUnsupportedScheme, base.Scheme)
	}
	u := base.JoinPath("indexes", c.index, "docs", "search")
	u.RawQuery = url.Values{"api-version": {c.apiVersion}}.Encode()
	return u.String(), nil
}

func (c *Client) Search(ctx context.Context, q *Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uri, err := c.searchURL()
	if err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}
	authName, authValue, err := c.cred.Authorize(ctx, credential.ScopeSearch)
	if err != nil {
		return nil, fmt.Errorf("authorizing search request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.SetUserAgent(c.userAgent)
	req.Header.Set(authName, authValue)
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("performing search request: %w", err)
	}
	c.logger.Trace(
		"search request done",
		zap.String("query_type", q.QueryType),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("latency", time.Since(start)),
	)
	if resp.StatusCode() != fasthttp.StatusOK {
		b := resp.Body()
		if len(b) > maxErrorBodyBytes {
			b = b[:maxErrorBodyBytes]
		}
		return nil, &StatusError{Code: resp.StatusCode(), Body: string(b)}
	}

	var out searchResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return out.Value, nil
}
