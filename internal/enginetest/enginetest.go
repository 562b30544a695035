// Package enginetest builds small WAT step engines for tests.
package enginetest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/royalicing/stepwasm/internal/steprecord"
)

// DefaultStepsPtr is where fake engines place their records.
const DefaultStepsPtr = 1024

// Options shapes a fake engine. Records are copied into memory at StepsPtr;
// wasm_run_steps returns min(requested, Available). Each wasm_set_param call
// stores value at address key*4.
type Options struct {
	Records   []steprecord.StepRecord
	Available int
	StepsPtr  int
	// StepSize adds wasm_get_step_size when non-zero.
	StepSize int
	// OmitExports drops exports by name.
	OmitExports []string
	// RunStepsSignature overrides the wasm_run_steps signature text.
	RunStepsSignature string
}

// WAT returns the text of a fake engine module.
func WAT(in Options) string {
	ptr := in.StepsPtr
	if ptr == 0 {
		ptr = DefaultStepsPtr
	}
	available := in.Available
	if available == 0 {
		available = len(in.Records)
	}
	omit := make(map[string]bool, len(in.OmitExports))
	for _, name := range in.OmitExports {
		omit[name] = true
	}

	var funcs []string
	add := func(name, body string) {
		if !omit[name] {
			funcs = append(funcs, body)
		}
	}
	add("wasm_init", `(func (export "wasm_init") (global.set $len (i32.const 0)))`)
	add("wasm_reset", `(func (export "wasm_reset") (global.set $len (i32.const 0)))`)
	add("wasm_set_param", `(func (export "wasm_set_param") (param $k i32) (param $v i32)
    (i32.store (i32.mul (local.get $k) (i32.const 4)) (local.get $v)))`)
	if in.RunStepsSignature != "" {
		add("wasm_run_steps", fmt.Sprintf(`(func (export "wasm_run_steps") %s (i32.const 0))`, in.RunStepsSignature))
	} else {
		add("wasm_run_steps", `(func (export "wasm_run_steps") (param $n i32) (result i32)
    (global.set $len
      (select (local.get $n) (global.get $avail) (i32.lt_s (local.get $n) (global.get $avail))))
    (global.get $len))`)
	}
	add("wasm_get_steps_len", `(func (export "wasm_get_steps_len") (result i32) (global.get $len))`)
	add("wasm_get_steps_ptr", fmt.Sprintf(`(func (export "wasm_get_steps_ptr") (result i32)
    (select (i32.const %d) (i32.const 0) (global.get $len)))`, ptr))
	if in.StepSize != 0 {
		add("wasm_get_step_size", fmt.Sprintf(`(func (export "wasm_get_step_size") (result i32) (i32.const %d))`, in.StepSize))
	}

	memory := `(memory (export "memory") 1)`
	if omit["memory"] {
		memory = `(memory 1)`
	}

	data := ""
	if len(in.Records) > 0 {
		data = fmt.Sprintf(`(data (i32.const %d) "%s")`, ptr, BytesLiteral(steprecord.Encode(in.Records)))
	}

	return fmt.Sprintf(`(module
  %s
  (global $len (mut i32) (i32.const 0))
  (global $avail i32 (i32.const %d))
  %s
  %s
)`, memory, available, strings.Join(funcs, "\n  "), data)
}

// Compile turns WAT text into wasm bytes with wat2wasm, skipping the test
// when the tool is not installed.
func Compile(t testing.TB, wat string) []byte {
	t.Helper()

	wat2wasm, err := exec.LookPath("wat2wasm")
	if err != nil {
		t.Skip("wat2wasm not found in PATH")
	}

	dir := t.TempDir()
	watPath := filepath.Join(dir, "engine.wat")
	wasmPath := filepath.Join(dir, "engine.wasm")

	if err := os.WriteFile(watPath, []byte(wat), 0o644); err != nil {
		t.Fatalf("write wat: %v", err)
	}

	cmd := exec.Command(wat2wasm, watPath, "-o", wasmPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("wat2wasm failed: %v\n%s", err, string(out))
	}

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		t.Fatalf("read wasm: %v", err)
	}
	return wasm
}

// BytesLiteral escapes b for a WAT data string.
func BytesLiteral(b []byte) string {
	var sb strings.Builder
	for _, v := range b {
		sb.WriteString(fmt.Sprintf("\\%02x", v))
	}
	return sb.String()
}

// Records returns n records with distinct, position-derived values.
func Records(n int) []steprecord.StepRecord {
	out := make([]steprecord.StepRecord, n)
	for i := range out {
		r := steprecord.StepRecord{
			StepIndex:  uint32(i),
			TickOn:     uint32(i * 24),
			TickOff:    uint32(i*24 + 12),
			CV:         float32(i) / 12,
			Note:       int32(i%7) - 3,
			Octave:     int32(i % 3),
			Velocity:   uint8(64 + i),
			Accent:     uint8(i % 2),
			Slide:      uint8((i + 1) % 2),
			GateRatio:  uint8(50 + i),
			GateOffset: uint8(i),
			PolyCount:  uint8(i % 4),
			MicroCount: uint8(i % 3),
		}
		for j := 0; j < steprecord.InnerCount; j++ {
			r.MicroTicks[j] = uint32(i*100 + j)
			r.MicroCV[j] = float32(i) + float32(j)/8
			r.NoteOffsets[j] = int8(j - i)
		}
		out[i] = r
	}
	return out
}
