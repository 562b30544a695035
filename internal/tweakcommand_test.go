package stepinternal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/royalicing/stepwasm/internal/enginetest"
	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/snapshot"
	"github.com/royalicing/stepwasm/internal/stepexport"
	"github.com/royalicing/stepwasm/internal/steprecord"
)

// memoryEngine keeps parameter writes and serves a packed record buffer.
type memoryEngine struct {
	raw    []byte
	count  int32
	params map[int32]int32
	resets int
}

func newMemoryEngine(n int) *memoryEngine {
	return &memoryEngine{
		raw:    steprecord.Encode(enginetest.Records(n)),
		count:  int32(n),
		params: make(map[int32]int32),
	}
}

func (m *memoryEngine) Initialize(context.Context) error { return nil }

func (m *memoryEngine) Reset(context.Context) error {
	m.resets++
	return nil
}

func (m *memoryEngine) SetParameter(_ context.Context, key, value int32) error {
	m.params[key] = value
	return nil
}

func (m *memoryEngine) ComputeSteps(_ context.Context, requested int32) (int32, error) {
	return min(requested, m.count), nil
}

func (m *memoryEngine) StepBufferPointer(context.Context) (uint32, error) { return 64, nil }

func (m *memoryEngine) StepBufferLength(context.Context) (int32, error) { return m.count, nil }

func (m *memoryEngine) StepRecordSize(context.Context) (int32, bool, error) {
	return steprecord.RecordSize, true, nil
}

func (m *memoryEngine) ReadStepBuffer(_ context.Context, view steprecord.BufferView) ([]byte, error) {
	out := make([]byte, int(view.Count)*steprecord.RecordSize)
	copy(out, m.raw)
	return out, nil
}

func startTweak(t *testing.T, engine *memoryEngine, input string) string {
	t.Helper()
	ctx := context.Background()
	pipeline, err := snapshot.New(engine, snapshot.Options{StepCount: 4})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if err := pipeline.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	enc, err := params.NewEncoder(nil)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	var out bytes.Buffer
	err = runTweakInteractive(ctx, pipeline, engine, enc, tweakIO{
		in:     strings.NewReader(input),
		out:    &out,
		format: stepexport.FormatYAML,
	})
	if err != nil {
		t.Fatalf("tweak: %v", err)
	}
	return out.String()
}

func TestTweakAppliesAssignments(t *testing.T) {
	engine := newMemoryEngine(2)
	out := startTweak(t, engine, "glide=40\npower=12.6\n")

	if got := strings.Count(out, "stepIndex:"); got != 6 {
		t.Fatalf("expected three snapshots of two steps, got %d step entries:\n%s", got, out)
	}
	if engine.params[4] != 40 {
		t.Fatalf("glide key 4=%d, want 40", engine.params[4])
	}
	if engine.params[3] != 13 {
		t.Fatalf("power key 3=%d, want 13", engine.params[3])
	}
	if _, ok := engine.params[params.ReservedKey]; ok {
		t.Fatal("reserved key 6 was written")
	}
}

func TestTweakReportsErrorsAndContinues(t *testing.T) {
	engine := newMemoryEngine(1)
	out := startTweak(t, engine, "trill=2\nalgo=99\nnonsense\nglide=5")

	if got := strings.Count(out, "Error: "); got != 3 {
		t.Fatalf("expected 3 errors, got %d:\n%s", got, out)
	}
	if got := strings.Count(out, "stepIndex:"); got != 2 {
		t.Fatalf("expected initial and final snapshots, got %d:\n%s", got, out)
	}
	if engine.params[0] != 0 {
		t.Fatalf("algo key 0=%d, want the default after a rejected value", engine.params[0])
	}
	if engine.params[4] != 5 {
		t.Fatalf("glide key 4=%d, want 5", engine.params[4])
	}
}

func TestTweakResetAndControls(t *testing.T) {
	engine := newMemoryEngine(1)
	out := startTweak(t, engine, "reset\ncontrols\nquit\nglide=9\n")

	if engine.resets != 1 {
		t.Fatalf("resets=%d, want 1", engine.resets)
	}
	if !strings.Contains(out, "gateOffset=50\n") {
		t.Fatalf("controls listing missing gateOffset:\n%s", out)
	}
	if engine.params[4] == 9 {
		t.Fatal("input after quit was applied")
	}
}
