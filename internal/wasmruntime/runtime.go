package wasmruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// New returns a wazero runtime that stops a running call when that call's
// context is done, with WASI preview1 host functions instantiated so
// standalone emscripten builds can link.
func New(ctx context.Context) (wazero.Runtime, error) {
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	return r, nil
}

type executionTimeoutKey struct{}

// WithExecutionTimeout returns a context with timeout and attaches the duration
// so user-facing errors can report the configured limit. Only engine loading
// and initialization run under it.
func WithExecutionTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	return context.WithValue(ctx, executionTimeoutKey{}, timeout), cancel
}

// HumanizeExecutionError rewrites low-level runtime cancellation/timeout errors
// into messages about the engine module.
func HumanizeExecutionError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	timeoutText := ""
	if timeout, ok := ctx.Value(executionTimeoutKey{}).(time.Duration); ok && timeout > 0 {
		timeoutText = " (" + timeout.String() + ")"
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded") {
		return fmt.Errorf("engine module exceeded the load time limit%s: %w", timeoutText, err)
	}
	if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled") {
		return fmt.Errorf("engine module load was canceled: %w", err)
	}
	return err
}
