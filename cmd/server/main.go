package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	realtime "github.com/bt-bridge/voicerag"
	"github.com/bt-bridge/voicerag/config"
	"github.com/bt-bridge/voicerag/credential"
	"github.com/bt-bridge/voicerag/ragtools"
	"github.com/bt-bridge/voicerag/search"
	"github.com/bt-bridge/voicerag/shared"
	"github.com/bt-bridge/voicerag/telemetry"
	"github.com/bt-bridge/voicerag/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server configuration
const (
	serverAddr      string = "localhost:8765"
	serverStaticDir string = "static"
	realtimePath    string = "/realtime"
)

// Log file configuration, used when LOG_FILE is set
const (
	logFileMaxSize    int  = 10 // MB
	logFileMaxBackups int  = 2
	logFileMaxAge     int  = 3 // days
	logFileCompress   bool = false
)

const printerIndentString string = "│  "

var searchUserAgent = "voicerag/" + shared.Version

const systemMessage string = "You are a helpful assistant. The user is listening to answers with audio, so it's *super* important that answers are as short as possible, a single sentence if at all possible. " +
	"Use the following step-by-step instructions to respond with short and concise answers using a knowledge base: " +
	"Step 1 - Always use the 'search' tool to check the knowledge base before answering a question. " +
	"Step 2 - Always use the 'report_grounding' tool to report the source of information from the knowledge base. " +
	"Step 3 - Produce an answer that's as short as possible. If the answer isn't in the knowledge base, say you don't know."

func main() {
	// Loading configuration
	if err := config.LoadDotEnv(); err != nil {
		shared.NewStdLogger("info").Error("loading .env file", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		shared.NewStdLogger("info").Error("loading configuration", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := newLogger(cfg).With(
		zap.String("component", "server"),
		zap.String("version", shared.Version),
	)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Warn("incomplete configuration, failures deferred to first use", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:   cfg.ServiceName,
		Version:       shared.Version,
		EnableTracing: cfg.EnableTracing,
		OTLPEndpoint:  cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Error("setting up telemetry", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("shutting down telemetry", err)
		}
	}()

	// Credentials
	sel, err := credential.Select(cfg.OpenAIKey, cfg.SearchKey, nil)
	if err != nil {
		logger.Error("selecting credentials", err)
		os.Exit(1)
	}
	logger.Info("credentials selected",
		zap.Stringer("llm", sel.LLM.Kind()),
		zap.Stringer("search", sel.Search.Kind()),
	)

	// Middle tier and tools
	bridge, err := newBridge(ctx, logger, cfg, sel)
	if err != nil {
		logger.Error("creating realtime middle tier", err)
		os.Exit(1)
	}

	// Web server
	gin.SetMode(gin.ReleaseMode)
	server, err := web.New(logger, web.Options{
		Addr:            serverAddr,
		StaticDir:       serverStaticDir,
		ServiceName:     cfg.ServiceName,
		MetricsEnabled:  cfg.MetricsEnabled,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		logger.Error("creating web server", err)
		os.Exit(1)
	}
	bridge.AttachToApp(server.Engine(), realtimePath)
	server.OnShutdown(bridge.Close)

	if err := printBanner(bridge, sel); err != nil {
		logger.Warn("printing startup banner", zap.Error(err))
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("running web server", err)
		os.Exit(1)
	}
	logger.Info("graceful shutdown complete")
}

func newLogger(cfg *config.Config) shared.LoggerAdapter {
	if cfg.LogFile == "" {
		return shared.NewStdLogger(cfg.LogLevel)
	}
	return shared.NewFileLogger(
		cfg.LogFile, cfg.LogLevel, logFileMaxSize, logFileMaxBackups, logFileMaxAge, logFileCompress,
	)
}

// newBridge builds the middle tier with its system message and RAG tools.
func newBridge(ctx context.Context, logger shared.LoggerAdapter, cfg *config.Config, sel *credential.Selection) (*realtime.MiddleTier, error) {
	opts := []realtime.Option{realtime.WithDisableAudio(cfg.DisableAudio)}
	if cfg.VoiceChoice != "" {
		opts = append(opts, realtime.WithVoiceChoice(cfg.VoiceChoice))
	}
	if cfg.Temperature != nil {
		opts = append(opts, realtime.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens != nil {
		opts = append(opts, realtime.WithMaxTokens(*cfg.MaxTokens))
	}
	bridge, err := realtime.NewMiddleTier(logger, cfg.OpenAIEndpoint, cfg.RealtimeDeployment, sel.LLM, opts...)
	if err != nil {
		return nil, err
	}
	bridge.SystemMessage = systemMessage

	err = ragtools.AttachRAGTools(ctx, logger, bridge, cfg.SearchEndpoint, cfg.SearchIndex, sel.Search,
		ragtools.WithSemanticConfiguration(cfg.SemanticConfiguration),
		ragtools.WithIdentifierField(cfg.IdentifierField),
		ragtools.WithContentField(cfg.ContentField),
		ragtools.WithTitleField(cfg.TitleField),
		ragtools.WithEmbeddingField(cfg.EmbeddingField),
		ragtools.WithVectorQuery(cfg.UseVectorQuery),
		ragtools.WithTop(cfg.SearchTop),
		ragtools.WithNearestNeighbors(cfg.SearchNearestNeighbors),
		ragtools.WithClientOptions(
			search.WithUserAgent(searchUserAgent),
			search.WithTimeout(cfg.SearchTimeout),
		),
	)
	if err != nil {
		return nil, err
	}
	return bridge, nil
}

func printBanner(bridge *realtime.MiddleTier, sel *credential.Selection) error {
	printer, err := shared.NewPrinter(printerIndentString, os.Stdout)
	if err != nil {
		return err
	}
	description, err := bridge.DescribeYAML()
	if err != nil {
		return err
	}
	if err := printer.Section("voicerag " + shared.Version); err != nil {
		return err
	}
	if err := printer.KeyValues(1,
		[2]string{"listening", "http://" + serverAddr},
		[2]string{"realtime", "ws://" + serverAddr + realtimePath},
		[2]string{"llm credential", sel.LLM.Kind().String()},
		[2]string{"search credential", sel.Search.Kind().String()},
	); err != nil {
		return err
	}
	return printer.Block(string(description), 1)
}
