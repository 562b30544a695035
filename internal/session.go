package stepinternal

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/royalicing/stepwasm/internal/engineabi"
	"github.com/royalicing/stepwasm/internal/logging"
	"github.com/royalicing/stepwasm/internal/snapshot"
	"github.com/royalicing/stepwasm/internal/wasmruntime"
)

// Session is a loaded engine with its snapshot pipeline.
type Session struct {
	Engine   *engineabi.Engine
	Pipeline *snapshot.Pipeline
}

type SessionOptions struct {
	// ModulePath is a local .wasm file or an https:// URL.
	ModulePath  string
	LoadTimeout time.Duration
	StepCount   int
	Logger      *slog.Logger
}

// OpenSession loads the engine and runs wasm_init. LoadTimeout bounds both;
// cycles run later on the session are not timed out.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	body, err := ReadModulePath(opts.ModulePath, logger)
	if err != nil {
		return nil, err
	}

	loadCtx, cancel := wasmruntime.WithExecutionTimeout(ctx, opts.LoadTimeout)
	defer cancel()

	engine, err := engineabi.Load(loadCtx, body, engineabi.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	pipeline, err := snapshot.New(engine, snapshot.Options{StepCount: opts.StepCount, Logger: logger})
	if err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}
	if err := pipeline.Initialize(loadCtx); err != nil {
		_ = engine.Close(ctx)
		return nil, wasmruntime.HumanizeExecutionError(loadCtx, err)
	}
	return &Session{Engine: engine, Pipeline: pipeline}, nil
}

func (s *Session) Close(ctx context.Context) error {
	return s.Engine.Close(ctx)
}

// ReadModulePath reads engine bytes from disk or over HTTPS.
func ReadModulePath(path string, logger *slog.Logger) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no engine module given")
	}
	var body []byte
	if strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, fmt.Errorf("fetching engine: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching engine: %s", resp.Status)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading engine response: %w", err)
		}
	} else {
		var err error
		body, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading engine: %w", err)
		}
	}
	if logger != nil {
		logger.Debug("engine module read", "path", path, "bytes", len(body), "sha256", fmt.Sprintf("%x", sha256.Sum256(body)))
	}
	return body, nil
}
