package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bt-bridge/voicerag/credential"
	"github.com/bt-bridge/voicerag/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestClient(t *testing.T, endpoint, index string, cred credential.Credential) *Client {
	t.Helper()
	c, err := NewClient(shared.NewNopLogger(), endpoint, index, cred, WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, "https://x", "idx", credential.NewStaticKey("k"))
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewClient(shared.NewNopLogger(), "https://x", "idx", nil)
	assert.ErrorIs(t, err, shared.ErrNoCredential)
}

func TestSearchSendsQueryAndDecodesDocuments(t *testing.T) {
	var got Query
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/kb/docs/search", r.URL.Path)
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[
			{"@search.score": 2.5, "chunk_id": "doc_1", "title": "One", "chunk": "first"},
			{"@search.score": 1.0, "chunk_id": "doc_2", "title": "Two", "chunk": "second"}
		]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/", "kb", credential.NewStaticKey("secret"))
	docs, err := c.Search(context.Background(), &Query{
		Search:        "what is a widget",
		QueryType:     QueryTypeSemantic,
		Top:           5,
		Select:        "chunk_id,title,chunk",
		VectorQueries: []VectorQuery{TextVectorQuery("what is a widget", 50, "text_vector")},
	})
	require.NoError(t, err)

	assert.Equal(t, "what is a widget", got.Search)
	assert.Equal(t, QueryTypeSemantic, got.QueryType)
	assert.Equal(t, 5, got.Top)
	assert.Equal(t, "chunk_id,title,chunk", got.Select)
	require.Len(t, got.VectorQueries, 1)
	assert.Equal(t, VectorQuery{Kind: "text", Text: "what is a widget", K: 50, Fields: "text_vector"}, got.VectorQueries[0])

	require.Len(t, docs, 2)
	assert.Equal(t, "doc_1", docs[0].String("chunk_id"))
	assert.Equal(t, "first", docs[0].String("chunk"))
	assert.Equal(t, 2.5, docs[0].Score())
	assert.Equal(t, "", docs[1].String("missing"))
}

func TestSearchOmitsEmptyOptionalFields(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "kb", credential.NewStaticKey("secret"))
	docs, err := c.Search(context.Background(), &Query{Search: "a OR b", QueryType: QueryTypeFull, SearchFields: "chunk_id", Top: 2})
	require.NoError(t, err)
	assert.Empty(t, docs)

	assert.Equal(t, "chunk_id", raw["searchFields"])
	assert.NotContains(t, raw, "vectorQueries")
	assert.NotContains(t, raw, "semanticConfiguration")
}

type staticBearer struct{}

func (staticBearer) Kind() credential.Kind { return credential.KindDelegatedIdentity }

func (staticBearer) Authorize(_ context.Context, scope string) (string, string, error) {
	return "Authorization", "Bearer for " + scope, nil
}

func TestSearchUsesBearerForDelegatedIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer for "+credential.ScopeSearch, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "kb", staticBearer{})
	_, err := c.Search(context.Background(), &Query{Search: "x"})
	require.NoError(t, err)
}

func TestSearchClientOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "voicerag/1.2.3", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"value":[{"chunk_id":"doc_1"}]}`))
	}))
	defer server.Close()

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "Default transport", opts: []Option{WithUserAgent("voicerag/1.2.3")}},
		{
			name: "Custom transport",
			opts: []Option{
				WithUserAgent("voicerag/1.2.3"),
				WithHTTPClient(&fasthttp.Client{ReadTimeout: time.Second, WriteTimeout: time.Second}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(shared.NewNopLogger(), server.URL, "kb", credential.NewStaticKey("k"), tt.opts...)
			require.NoError(t, err)

			docs, err := c.Search(context.Background(), &Query{Search: "x"})
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "doc_1", docs[0].String("chunk_id"))
		})
	}
}

func TestSearchNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "kb", credential.NewStaticKey("bad"))
	_, err := c.Search(context.Background(), &Query{Search: "x"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Contains(t, se.Body, "nope")
}

func TestSearchMissingSettingsFailAtFirstUse(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		index    string
		expected error
	}{
		{name: "No endpoint", endpoint: "", index: "kb", expected: shared.ErrNoEndpoint},
		{name: "No index", endpoint: "https://search.example.com", index: "", expected: shared.ErrNoIndex},
		{name: "Bad scheme", endpoint: "ftp://search.example.com", index: "kb", expected: shared.ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.endpoint, tt.index, credential.NewStaticKey("k"))
			_, err := c.Search(context.Background(), &Query{Search: "x"})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestSearchCancelledContext(t *testing.T) {
	c := newTestClient(t, "https://search.example.com", "kb", credential.NewStaticKey("k"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, &Query{Search: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
