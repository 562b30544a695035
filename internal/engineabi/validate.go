package engineabi

import (
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/royalicing/stepwasm/internal/steprecord"
)

const ABIVersionV0 = "step-engine-abi-v0"

const (
	ExportMemory     = "memory"
	ExportInit       = "wasm_init"
	ExportSetParam   = "wasm_set_param"
	ExportRunSteps   = "wasm_run_steps"
	ExportStepsLen   = "wasm_get_steps_len"
	ExportStepsPtr   = "wasm_get_steps_ptr"
	ExportReset      = "wasm_reset"
	ExportStepSize   = "wasm_get_step_size"
	ExportInitialize = "_initialize"
)

var (
	ErrMissingExport  = errors.New("missing export")
	ErrEngineInternal = errors.New("engine internal")
	ErrEngineClosed   = errors.New("engine closed")
	// ErrOutOfBounds is shared with the decoder so callers can match either layer.
	ErrOutOfBounds = steprecord.ErrOutOfBounds
)

var RequiredExportsV0 = []string{
	ExportMemory,
	ExportInit,
	ExportSetParam,
	ExportRunSteps,
	ExportStepsLen,
	ExportStepsPtr,
}

type functionSignature struct {
	params  []api.ValueType
	results []api.ValueType
}

func requiredFunctionSignaturesV0() map[string]functionSignature {
	i32 := api.ValueTypeI32
	return map[string]functionSignature{
		ExportInit:     {params: []api.ValueType{}, results: []api.ValueType{}},
		ExportSetParam: {params: []api.ValueType{i32, i32}, results: []api.ValueType{}},
		ExportRunSteps: {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		ExportStepsLen: {params: []api.ValueType{}, results: []api.ValueType{i32}},
		ExportStepsPtr: {params: []api.ValueType{}, results: []api.ValueType{i32}},
	}
}

func optionalFunctionSignaturesV0() map[string]functionSignature {
	i32 := api.ValueTypeI32
	return map[string]functionSignature{
		ExportReset:    {params: []api.ValueType{}, results: []api.ValueType{}},
		ExportStepSize: {params: []api.ValueType{}, results: []api.ValueType{i32}},
	}
}

func missingExportError(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingExport, name)
}

func validateCompiledExportsV0(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return missingExportError(ExportMemory)
	}

	funcs := compiled.ExportedFunctions()
	for name, sig := range requiredFunctionSignaturesV0() {
		def, ok := funcs[name]
		if !ok {
			return missingExportError(name)
		}
		if err := checkSignature(name, def, sig); err != nil {
			return err
		}
	}
	for name, sig := range optionalFunctionSignaturesV0() {
		def, ok := funcs[name]
		if !ok {
			continue
		}
		if err := checkSignature(name, def, sig); err != nil {
			return err
		}
	}
	return nil
}

func checkSignature(name string, def api.FunctionDefinition, sig functionSignature) error {
	if signatureMatches(def.ParamTypes(), sig.params) && signatureMatches(def.ResultTypes(), sig.results) {
		return nil
	}
	return fmt.Errorf("%w: %s invalid signature want %s got %s", ErrMissingExport, name, formatSignature(sig.params, sig.results), formatSignature(def.ParamTypes(), def.ResultTypes()))
}

func signatureMatches(actual, expected []api.ValueType) bool {
	if len(actual) != len(expected) {
		return false
	}
	for i := range actual {
		if actual[i] != expected[i] {
			return false
		}
	}
	return true
}

func formatSignature(params, results []api.ValueType) string {
	return fmt.Sprintf("(%s)->(%s)", formatTypes(params), formatTypes(results))
}

func formatTypes(types []api.ValueType) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += api.ValueTypeName(t)
	}
	return out
}

// validateStepRegion checks that view's records lie inside linear memory.
func validateStepRegion(memorySize uint32, view steprecord.BufferView) error {
	byteLen, err := view.ByteLen()
	if err != nil {
		return err
	}
	start := uint64(view.Ptr)
	end := start + byteLen
	if end < start {
		return fmt.Errorf("%w: steps ptr=%d count=%d", ErrOutOfBounds, view.Ptr, view.Count)
	}
	if end > uint64(memorySize) {
		return fmt.Errorf("%w: steps ptr=%d count=%d memory_size=%d", ErrOutOfBounds, view.Ptr, view.Count, memorySize)
	}
	return nil
}
