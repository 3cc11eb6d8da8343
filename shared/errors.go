package shared

import "errors"

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoCredential          = errors.New("no credential provided")
	ErrNoEndpoint            = errors.New("no endpoint provided")
	ErrNoIndex               = errors.New("no search index provided")
	ErrNoBridge              = errors.New("no realtime bridge provided")
	ErrNoToolTarget          = errors.New("tool has no target")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrUnsupportedScheme     = errors.New("unsupported endpoint scheme")
	ErrServerAlreadyRunning  = errors.New("server already running")
	ErrShuttingDown          = errors.New("server shutting down")
)
