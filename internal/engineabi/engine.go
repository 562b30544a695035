// Package engineabi hosts a step engine compiled to WebAssembly and exposes
// its C API as Go methods.
//
// The engine keeps its state inside one long-lived module instance. The step
// buffer it reports lives in that instance's linear memory and is only valid
// until the next wasm_run_steps call, so ReadStepBuffer hands back a copy.
package engineabi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/royalicing/stepwasm/internal/logging"
	"github.com/royalicing/stepwasm/internal/steprecord"
	"github.com/royalicing/stepwasm/internal/wasmruntime"
)

type Engine struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	mod      api.Module
	mem      api.Memory
	logger   *slog.Logger

	fnInit     api.Function
	fnSetParam api.Function
	fnRunSteps api.Function
	fnStepsLen api.Function
	fnStepsPtr api.Function
	fnReset    api.Function
	fnStepSize api.Function
}

type Options struct {
	Logger *slog.Logger
}

// Load compiles, validates and instantiates an engine module. Long-running
// start functions are bounded by ctx.
func Load(ctx context.Context, wasm []byte, opts Options) (*Engine, error) {
	if len(wasm) == 0 {
		return nil, fmt.Errorf("%w: empty wasm", ErrEngineInternal)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	runtime, err := wasmruntime.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInternal, err)
	}
	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("%w: compile failed: %v", ErrEngineInternal, wasmruntime.HumanizeExecutionError(ctx, err))
	}

	if err := validateCompiledExportsV0(compiled); err != nil {
		_ = compiled.Close(ctx)
		_ = runtime.Close(ctx)
		return nil, err
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, newModuleConfig())
	if err != nil {
		_ = compiled.Close(ctx)
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("%w: instantiate failed: %v", ErrEngineInternal, wasmruntime.HumanizeExecutionError(ctx, err))
	}

	e := &Engine{
		runtime:    runtime,
		compiled:   compiled,
		mod:        mod,
		mem:        mod.ExportedMemory(ExportMemory),
		logger:     logger,
		fnInit:     mod.ExportedFunction(ExportInit),
		fnSetParam: mod.ExportedFunction(ExportSetParam),
		fnRunSteps: mod.ExportedFunction(ExportRunSteps),
		fnStepsLen: mod.ExportedFunction(ExportStepsLen),
		fnStepsPtr: mod.ExportedFunction(ExportStepsPtr),
		fnReset:    mod.ExportedFunction(ExportReset),
		fnStepSize: mod.ExportedFunction(ExportStepSize),
	}
	if e.mem == nil {
		_ = e.Close(ctx)
		return nil, missingExportError(ExportMemory)
	}
	logger.Debug("engine loaded",
		"abi", ABIVersionV0,
		"reset", e.fnReset != nil,
		"step_size", e.fnStepSize != nil,
	)
	return e, nil
}

func newModuleConfig() wazero.ModuleConfig {
	return wazero.NewModuleConfig().WithName("stepwasm-engine").WithStartFunctions(ExportInitialize)
}

func (e *Engine) Close(ctx context.Context) error {
	if e == nil || e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	e.compiled = nil
	e.mod = nil
	e.mem = nil
	return err
}

func (e *Engine) live() error {
	if e == nil || e.runtime == nil || e.mod == nil {
		return ErrEngineClosed
	}
	return nil
}

// Initialize calls wasm_init.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.live(); err != nil {
		return err
	}
	return callVoid(ctx, e.fnInit, ExportInit)
}

// Reset calls wasm_reset when the engine exports it and wasm_init otherwise.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.live(); err != nil {
		return err
	}
	if e.fnReset == nil {
		return callVoid(ctx, e.fnInit, ExportInit)
	}
	return callVoid(ctx, e.fnReset, ExportReset)
}

func (e *Engine) SetParameter(ctx context.Context, key, value int32) error {
	if err := e.live(); err != nil {
		return err
	}
	return callVoid(ctx, e.fnSetParam, ExportSetParam, api.EncodeI32(key), api.EncodeI32(value))
}

// ComputeSteps asks the engine for requested steps and returns the count it
// actually produced.
func (e *Engine) ComputeSteps(ctx context.Context, requested int32) (int32, error) {
	if err := e.live(); err != nil {
		return 0, err
	}
	if requested < 0 {
		return 0, fmt.Errorf("%w: requested=%d", ErrOutOfBounds, requested)
	}
	n, err := callI32(ctx, e.fnRunSteps, ExportRunSteps, api.EncodeI32(requested))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s returned count=%d", ErrEngineInternal, ExportRunSteps, n)
	}
	return n, nil
}

func (e *Engine) StepBufferPointer(ctx context.Context) (uint32, error) {
	if err := e.live(); err != nil {
		return 0, err
	}
	ptr, err := callI32(ctx, e.fnStepsPtr, ExportStepsPtr)
	if err != nil {
		return 0, err
	}
	return uint32(ptr), nil
}

func (e *Engine) StepBufferLength(ctx context.Context) (int32, error) {
	if err := e.live(); err != nil {
		return 0, err
	}
	return callI32(ctx, e.fnStepsLen, ExportStepsLen)
}

// StepRecordSize returns the engine's record size. ok is false when the
// engine does not report one.
func (e *Engine) StepRecordSize(ctx context.Context) (size int32, ok bool, err error) {
	if err := e.live(); err != nil {
		return 0, false, err
	}
	if e.fnStepSize == nil {
		return 0, false, nil
	}
	size, err = callI32(ctx, e.fnStepSize, ExportStepSize)
	if err != nil {
		return 0, false, err
	}
	return size, true, nil
}

// ReadStepBuffer copies the records view names out of linear memory. An empty
// view yields nil.
func (e *Engine) ReadStepBuffer(_ context.Context, view steprecord.BufferView) ([]byte, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	if view.IsEmpty() {
		return nil, nil
	}
	if err := validateStepRegion(memorySizeBytes(e.mem), view); err != nil {
		return nil, err
	}
	byteLen := uint32(view.Count) * steprecord.RecordSize
	data, ok := e.mem.Read(view.Ptr, byteLen)
	if !ok {
		return nil, fmt.Errorf("%w: could not read steps ptr=%d count=%d", ErrOutOfBounds, view.Ptr, view.Count)
	}
	return append([]byte(nil), data...), nil
}

// MemorySize returns the current linear memory size in bytes.
func (e *Engine) MemorySize() uint32 {
	if e.live() != nil {
		return 0
	}
	return memorySizeBytes(e.mem)
}

func memorySizeBytes(mem api.Memory) uint32 {
	size := mem.Size()
	if size != 0 {
		return size
	}

	pages, ok := mem.Grow(0)
	if !ok {
		return 0
	}
	return pages * 65536
}

func callVoid(ctx context.Context, fn api.Function, name string, params ...uint64) error {
	if fn == nil {
		return missingExportError(name)
	}
	if _, err := fn.Call(ctx, params...); err != nil {
		return fmt.Errorf("%w: %s call failed: %v", ErrEngineInternal, name, err)
	}
	return nil
}

func callI32(ctx context.Context, fn api.Function, name string, params ...uint64) (int32, error) {
	if fn == nil {
		return 0, missingExportError(name)
	}
	result, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s call failed: %v", ErrEngineInternal, name, err)
	}
	if len(result) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrEngineInternal, name, len(result))
	}
	return api.DecodeI32(result[0]), nil
}
