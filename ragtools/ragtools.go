// Package ragtools gives the realtime middle tier a knowledge base: a search
// tool whose passages go back to the model and a report_grounding tool whose
// citations go to the browser.
package ragtools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	realtime "github.com/bt-bridge/voicerag"
	"github.com/bt-bridge/voicerag/credential"
	"github.com/bt-bridge/voicerag/search"
	"github.com/bt-bridge/voicerag/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	SearchToolName    = "search"
	GroundingToolName = "report_grounding"

	searchDescription = "Search the knowledge base. The knowledge base is in English, translate to and from English if needed. " +
		"Results are formatted as a source name first in square brackets, followed by the text content, " +
		"and a line with '-----' at the end of each result."
	groundingDescription = "Report use of a source from the knowledge base as part of an answer (effectively citing the source). " +
		"Sources appear in square brackets before each knowledge base passage. " +
		"Always use this tool to cite sources when responding with information from the knowledge base."

	defaultTop             = 5
	defaultNearestNeighbor = 50
	resultSeparator        = "\n-----\n"
)

// sourceKey matches the document keys a citation may refer to. Anything else
// is dropped before it reaches a query.
var sourceKey = regexp.MustCompile(`^[a-zA-Z0-9_=\-]+$`)

// Registrar is the part of the middle tier the tools are attached to.
type Registrar interface {
	RegisterTool(name string, tool realtime.Tool) error
}

// Source is one cited passage as delivered to the browser.
type Source struct {
	ChunkID string `json:"chunk_id"`
	Title   string `json:"title"`
	Chunk   string `json:"chunk"`
}

type GroundingResult struct {
	Sources []Source `json:"sources"`
}

type settings struct {
	semanticConfiguration string
	identifierField       string
	contentField          string
	titleField            string
	embeddingField        string
	useVectorQuery        bool
	top                   int
	nearestNeighbors      int
	searcher              search.Searcher
	clientOpts            []search.Option
}

type Option func(*settings)

func WithSemanticConfiguration(name string) Option {
	return func(s *settings) { s.semanticConfiguration = name }
}

func WithIdentifierField(field string) Option {
	return func(s *settings) { s.identifierField = field }
}

func WithContentField(field string) Option {
	return func(s *settings) { s.contentField = field }
}

func WithTitleField(field string) Option {
	return func(s *settings) { s.titleField = field }
}

func WithEmbeddingField(field string) Option {
	return func(s *settings) { s.embeddingField = field }
}

// WithVectorQuery toggles the vectorized half of the hybrid search.
func WithVectorQuery(enabled bool) Option {
	return func(s *settings) { s.useVectorQuery = enabled }
}

func WithTop(n int) Option {
	return func(s *settings) { s.top = n }
}

func WithNearestNeighbors(k int) Option {
	return func(s *settings) { s.nearestNeighbors = k }
}

// WithSearcher replaces the Azure AI Search client.
func WithSearcher(searcher search.Searcher) Option {
	return func(s *settings) { s.searcher = searcher }
}

func WithClientOptions(opts ...search.Option) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// AttachRAGTools registers the search and report_grounding tools on bridge,
// backed by the given search index.
func AttachRAGTools(ctx context.Context, logger shared.LoggerAdapter, bridge Registrar, endpoint, index string, cred credential.Credential, opts ...Option) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if bridge == nil {
		return shared.ErrNoBridge
	}
	s := &settings{
		identifierField:  "chunk_id",
		contentField:     "chunk",
		titleField:       "title",
		embeddingField:   "text_vector",
		useVectorQuery:   true,
		top:              defaultTop,
		nearestNeighbors: defaultNearestNeighbor,
	}
	for _, opt := range opts {
		opt(s)
	}
	logger = logger.With(zap.String("component", "ragtools"))

	if s.searcher == nil {
		client, err := search.NewClient(logger, endpoint, index, cred, s.clientOpts...)
		if err != nil {
			return fmt.Errorf("creating search client: %w", err)
		}
		if err := client.Warmup(ctx); err != nil {
			logger.Warn("warming up search credential failed", zap.Error(err))
		}
		s.searcher = client
	}

	k := &knowledgeBase{settings: s, logger: logger}
	searchParams, err := parametersOf(&SearchArgs{})
	if err != nil {
		return fmt.Errorf("building %s schema: %w", SearchToolName, err)
	}
	groundingParams, err := parametersOf(&GroundingArgs{})
	if err != nil {
		return fmt.Errorf("building %s schema: %w", GroundingToolName, err)
	}

	if err := bridge.RegisterTool(SearchToolName, realtime.Tool{
		Schema: realtime.NewFunctionSchema(SearchToolName, searchDescription, searchParams),
		Target: k.search,
	}); err != nil {
		return err
	}
	return bridge.RegisterTool(GroundingToolName, realtime.Tool{
		Schema: realtime.NewFunctionSchema(GroundingToolName, groundingDescription, groundingParams),
		Target: k.reportGrounding,
	})
}

type knowledgeBase struct {
	*settings
	logger shared.LoggerAdapter
}

func (k *knowledgeBase) search(ctx context.Context, raw []byte) (*realtime.ToolResult, error) {
	var args SearchArgs
	if err := sonic.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding search arguments: %w", err)
	}
	k.logger.Info("searching the knowledge base", zap.String("query", args.Query))

	q := &search.Query{
		Search:                args.Query,
		QueryType:             search.QueryTypeSemantic,
		SemanticConfiguration: k.semanticConfiguration,
		Top:                   k.top,
		Select:                k.identifierField + "," + k.contentField,
	}
	if k.useVectorQuery {
		q.VectorQueries = []search.VectorQuery{search.TextVectorQuery(args.Query, k.nearestNeighbors, k.embeddingField)}
	}
	docs, err := k.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, doc := range docs {
		fmt.Fprintf(&b, "[%s]: %s%s", doc.String(k.identifierField), doc.String(k.contentField), resultSeparator)
	}
	return &realtime.ToolResult{Value: b.String(), Destination: realtime.ToServer}, nil
}

func (k *knowledgeBase) reportGrounding(ctx context.Context, raw []byte) (*realtime.ToolResult, error) {
	var args GroundingArgs
	if err := sonic.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding grounding arguments: %w", err)
	}
	sources := make([]string, 0, len(args.Sources))
	for _, src := range args.Sources {
		if sourceKey.MatchString(src) {
			sources = append(sources, src)
		}
	}
	result := GroundingResult{Sources: []Source{}}
	if len(sources) == 0 {
		return &realtime.ToolResult{Value: result, Destination: realtime.ToClient}, nil
	}
	list := strings.Join(sources, " OR ")
	k.logger.Info("reporting grounding", zap.String("sources", list))

	docs, err := k.searcher.Search(ctx, &search.Query{
		Search:       list,
		QueryType:    search.QueryTypeFull,
		SearchFields: k.identifierField,
		Select:       strings.Join([]string{k.identifierField, k.titleField, k.contentField}, ","),
		Top:          len(sources),
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		result.Sources = append(result.Sources, Source{
			ChunkID: doc.String(k.identifierField),
			Title:   doc.String(k.titleField),
			Chunk:   doc.String(k.contentField),
		})
	}
	return &realtime.ToolResult{Value: result, Destination: realtime.ToClient}, nil
}
