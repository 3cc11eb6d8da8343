package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/bt-bridge/voicerag/credential"
	"github.com/bt-bridge/voicerag/shared"
	"github.com/bt-bridge/voicerag/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3/packages/param"
	"go.uber.org/zap"
)

const (
	DefaultAPIVersion = "2024-10-01-preview"
	defaultReadLimit  = 32 << 20
	dialTimeout       = 15 * time.Second
	closeGracePeriod  = time.Second
	writeTimeout      = 10 * time.Second
)

// MiddleTier relays realtime sessions between browsers and the upstream
// realtime model. It owns the system message and the tools so that neither is
// ever exposed to or controlled by the browser.
type MiddleTier struct {
	// SystemMessage replaces the instructions of every session. Set it before
	// the first connection is accepted.
	SystemMessage string

	logger       shared.LoggerAdapter
	endpoint     string
	deployment   string
	cred         credential.Credential
	apiVersion   string
	voiceChoice  string
	temperature  param.Opt[float64]
	maxTokens    param.Opt[int64]
	disableAudio bool
	readLimit    int64
	dialer       *websocket.Dialer
	upgrader     websocket.Upgrader

	mu    sync.RWMutex
	tools map[string]Tool

	// closing is cancelled by Close and ends every live session. live counts
	// sessions past the closing check; liveMu orders Add against Close.
	closing       context.Context
	closeSessions context.CancelCauseFunc
	liveMu        sync.Mutex
	live          sync.WaitGroup
}

type Option func(*MiddleTier)

func WithVoiceChoice(voice string) Option {
	return func(m *MiddleTier) { m.voiceChoice = voice }
}

func WithTemperature(t float64) Option {
	return func(m *MiddleTier) { m.temperature = param.NewOpt(t) }
}

func WithMaxTokens(n int64) Option {
	return func(m *MiddleTier) { m.maxTokens = param.NewOpt(n) }
}

func WithDisableAudio(disable bool) Option {
	return func(m *MiddleTier) { m.disableAudio = disable }
}

func WithAPIVersion(v string) Option {
	return func(m *MiddleTier) { m.apiVersion = v }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *MiddleTier) { m.dialer = d }
}

// WithReadLimit caps the size of a single message read from either side.
func WithReadLimit(n int64) Option {
	return func(m *MiddleTier) { m.readLimit = n }
}

// NewMiddleTier does not validate endpoint: a missing endpoint fails when the
// first browser connects.
func NewMiddleTier(logger shared.LoggerAdapter, endpoint, deployment string, cred credential.Credential, opts ...Option) (*MiddleTier, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cred == nil {
		return nil, shared.ErrNoCredential
	}
	m := &MiddleTier{
		logger:     logger.With(zap.String("component", "middletier")),
		endpoint:   endpoint,
		deployment: deployment,
		cred:       cred,
		apiVersion: DefaultAPIVersion,
		readLimit:  defaultReadLimit,
		tools:      make(map[string]Tool),
	}
	m.closing, m.closeSessions = context.WithCancelCause(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		}
	}
	return m, nil
}

// RegisterTool adds a tool under name. Names are unique.
func (m *MiddleTier) RegisterTool(name string, tool Tool) error {
	if err := tool.validate(name); err != nil {
		return err
	}
	if tool.Schema.Name == "" {
		tool.Schema.Name = name
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[name]; ok {
		return fmt.Errorf("%w: %s", shared.ErrToolAlreadyRegistered, name)
	}
	m.tools[name] = tool
	return nil
}

func (m *MiddleTier) Tool(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

// ToolNames returns the registered tool names in sorted order.
func (m *MiddleTier) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *MiddleTier) toolSchemas() []ToolSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(m.tools))
	for _, t := range m.tools {
		schemas = append(schemas, t.Schema)
	}
	slices.SortFunc(schemas, func(a, b ToolSchema) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return schemas
}

func (m *MiddleTier) sessionOverrides() *sessionOverrides {
	return &sessionOverrides{
		Instructions: m.SystemMessage,
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
		DisableAudio: m.disableAudio,
		Voice:        m.voiceChoice,
		Tools:        m.toolSchemas(),
	}
}

// invokeTool runs the named tool. The returned outcome is one of the
// telemetry.Outcome* values.
func (m *MiddleTier) invokeTool(ctx context.Context, name, callID string, args []byte) (result *ToolResult, outcome string, err error) {
	start := time.Now()
	defer func() {
		telemetry.RecordToolCall(name, outcome, time.Since(start))
	}()
	tool, ok := m.Tool(name)
	if !ok {
		return nil, telemetry.OutcomeUnknownTool, fmt.Errorf("%w: %s", shared.ErrUnknownTool, name)
	}
	ctx, span := telemetry.StartToolSpan(ctx, name, callID)
	defer span.End()
	result, err = tool.Target(ctx, args)
	if err != nil {
		span.RecordError(err)
		return nil, telemetry.OutcomeError, err
	}
	if result == nil {
		result = &ToolResult{Value: "", Destination: ToServer}
	}
	return result, telemetry.OutcomeOK, nil
}

// Close ends every live session with a going-away close frame and waits for
// them to finish. Connections accepted afterwards are closed right after the
// upgrade. It is safe to call more than once.
func (m *MiddleTier) Close() {
	m.liveMu.Lock()
	m.closeSessions(shared.ErrShuttingDown)
	m.liveMu.Unlock()
	m.live.Wait()
}

// track registers a session unless Close has been called.
func (m *MiddleTier) track() bool {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	if m.closing.Err() != nil {
		return false
	}
	m.live.Add(1)
	return true
}

// AttachToApp mounts the realtime WebSocket endpoint at path.
func (m *MiddleTier) AttachToApp(routes gin.IRoutes, path string) {
	routes.GET(path, func(c *gin.Context) {
		m.ServeHTTP(c.Writer, c.Request)
	})
}

// upstreamURL builds the realtime endpoint URL of the configured deployment.
func (m *MiddleTier) upstreamURL() (string, error) {
	if m.endpoint == "" {
		return "", shared.ErrNoEndpoint
	}
	u, err := url.Parse(m.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrUnsupportedScheme, u.Scheme)
	}
	u = u.JoinPath("openai", "realtime")
	u.RawQuery = url.Values{
		"api-version": {m.apiVersion},
		"deployment":  {m.deployment},
	}.Encode()
	return u.String(), nil
}

func (m *MiddleTier) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	target, err := m.upstreamURL()
	if err != nil {
		return nil, err
	}
	name, value, err := m.cred.Authorize(ctx, credential.ScopeCognitiveServices)
	if err != nil {
		return nil, fmt.Errorf("authorizing upstream connection: %w", err)
	}
	header := http.Header{}
	header.Set(name, value)
	conn, resp, err := m.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing upstream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing upstream: %w", err)
	}
	return conn, nil
}

// ServeHTTP upgrades the request and relays the session until either side
// disconnects.
func (m *MiddleTier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("upgrading client connection failed", zap.Error(err))
		return
	}
	logger := m.logger.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("remote_addr", r.RemoteAddr),
	)
	client := newWSConn(clientConn, m.readLimit)

	if !m.track() {
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer m.live.Done()

	// The session outlives the handler's request context but keeps its values
	// so tool spans join the request trace.
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(r.Context()))
	defer cancel(nil)
	stop := context.AfterFunc(m.closing, func() {
		cancel(context.Cause(m.closing))
	})
	defer stop()

	upstreamConn, err := m.dialUpstream(ctx)
	if err != nil {
		telemetry.RecordUpstreamDialError()
		logger.Error("connecting to upstream failed", err)
		client.closeWith(websocket.CloseInternalServerErr, "upstream unavailable")
		return
	}
	server := newWSConn(upstreamConn, m.readLimit)

	telemetry.RecordSessionStarted()
	defer telemetry.RecordSessionEnded()
	logger.Info("realtime session started")

	s := newSession(m, logger, client, server)
	cause := s.run(ctx, cancel)
	if cause == nil || errors.Is(cause, errPeerClosed) || errors.Is(cause, shared.ErrShuttingDown) {
		logger.Info("realtime session ended", zap.NamedError("cause", cause))
		return
	}
	logger.Warn("realtime session ended with error", zap.Error(cause))
}

type description struct {
	Endpoint      string       `yaml:"endpoint"`
	Deployment    string       `yaml:"deployment"`
	APIVersion    string       `yaml:"api_version"`
	Credential    string       `yaml:"credential"`
	SystemMessage string       `yaml:"system_message"`
	Voice         string       `yaml:"voice,omitempty"`
	Temperature   *float64     `yaml:"temperature,omitempty"`
	MaxTokens     *int64       `yaml:"max_response_output_tokens,omitempty"`
	DisableAudio  bool         `yaml:"disable_audio"`
	Tools         []ToolSchema `yaml:"tools"`
}

// DescribeYAML renders the effective configuration for startup output.
func (m *MiddleTier) DescribeYAML() ([]byte, error) {
	d := description{
		Endpoint:      m.endpoint,
		Deployment:    m.deployment,
		APIVersion:    m.apiVersion,
		Credential:    m.cred.Kind().String(),
		SystemMessage: m.SystemMessage,
		Voice:         m.voiceChoice,
		DisableAudio:  m.disableAudio,
		Tools:         nonNilTools(m.toolSchemas()),
	}
	if m.temperature.Valid() {
		d.Temperature = &m.temperature.Value
	}
	if m.maxTokens.Valid() {
		d.MaxTokens = &m.maxTokens.Value
	}
	return yaml.Marshal(d)
}
