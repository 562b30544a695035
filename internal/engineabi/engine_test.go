package engineabi

import (
	"context"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/royalicing/stepwasm/internal/enginetest"
	"github.com/royalicing/stepwasm/internal/steprecord"
)

func loadFake(t *testing.T, opts enginetest.Options) *Engine {
	t.Helper()
	wasm := enginetest.Compile(t, enginetest.WAT(opts))
	e, err := Load(context.Background(), wasm, Options{})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return e
}

func TestLoadEmpty(t *testing.T) {
	if _, err := Load(context.Background(), nil, Options{}); !errors.Is(err, ErrEngineInternal) {
		t.Fatalf("expected ErrEngineInternal, got: %v", err)
	}
}

func TestLoadMissingExports(t *testing.T) {
	for _, name := range RequiredExportsV0 {
		t.Run(name, func(t *testing.T) {
			wasm := enginetest.Compile(t, enginetest.WAT(enginetest.Options{OmitExports: []string{name}}))
			_, err := Load(context.Background(), wasm, Options{})
			if !errors.Is(err, ErrMissingExport) {
				t.Fatalf("expected ErrMissingExport, got: %v", err)
			}
		})
	}
}

func TestLoadInvalidSignature(t *testing.T) {
	wasm := enginetest.Compile(t, enginetest.WAT(enginetest.Options{
		RunStepsSignature: "(result i32)",
	}))
	_, err := Load(context.Background(), wasm, Options{})
	if !errors.Is(err, ErrMissingExport) {
		t.Fatalf("expected ErrMissingExport, got: %v", err)
	}
}

func TestComputeAndReadSteps(t *testing.T) {
	records := enginetest.Records(3)
	e := loadFake(t, enginetest.Options{Records: records})
	ctx := context.Background()

	count, err := e.ComputeSteps(ctx, 32)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if count != 3 {
		t.Fatalf("count=%d, want 3", count)
	}

	ptr, err := e.StepBufferPointer(ctx)
	if err != nil {
		t.Fatalf("pointer: %v", err)
	}
	if ptr != enginetest.DefaultStepsPtr {
		t.Fatalf("ptr=%d, want %d", ptr, enginetest.DefaultStepsPtr)
	}
	length, err := e.StepBufferLength(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}

	raw, err := e.ReadStepBuffer(ctx, steprecord.BufferView{Ptr: ptr, Count: length})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := steprecord.Decode(raw, int(length))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Fatalf("records mismatch\n got: %+v\nwant: %+v", got, records)
	}
}

func TestComputeFewerThanRequested(t *testing.T) {
	e := loadFake(t, enginetest.Options{Records: enginetest.Records(4)})
	count, err := e.ComputeSteps(context.Background(), 2)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d, want 2", count)
	}
}

func TestReadStepBufferIsACopy(t *testing.T) {
	e := loadFake(t, enginetest.Options{Records: enginetest.Records(1)})
	ctx := context.Background()
	if _, err := e.ComputeSteps(ctx, 1); err != nil {
		t.Fatalf("compute: %v", err)
	}
	view := steprecord.BufferView{Ptr: enginetest.DefaultStepsPtr, Count: 1}
	first, err := e.ReadStepBuffer(ctx, view)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	first[0] = 0xFF
	second, err := e.ReadStepBuffer(ctx, view)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if second[0] == 0xFF {
		t.Fatal("mutating a returned buffer changed engine memory")
	}
}

func TestSetParameterReachesEngine(t *testing.T) {
	e := loadFake(t, enginetest.Options{})
	ctx := context.Background()
	if err := e.SetParameter(ctx, 4, 3); err != nil {
		t.Fatalf("set parameter: %v", err)
	}
	if err := e.SetParameter(ctx, 8, -7); err != nil {
		t.Fatalf("set parameter: %v", err)
	}

	slot, ok := e.mem.Read(4*4, 4)
	if !ok {
		t.Fatal("read parameter slot failed")
	}
	if got := int32(binary.LittleEndian.Uint32(slot)); got != 3 {
		t.Fatalf("key 4 value=%d, want 3", got)
	}
	slot, _ = e.mem.Read(8*4, 4)
	if got := int32(binary.LittleEndian.Uint32(slot)); got != -7 {
		t.Fatalf("key 8 value=%d, want -7", got)
	}
}

func TestEmptySnapshot(t *testing.T) {
	e := loadFake(t, enginetest.Options{})
	ctx := context.Background()
	count, err := e.ComputeSteps(ctx, 32)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	ptr, err := e.StepBufferPointer(ctx)
	if err != nil {
		t.Fatalf("pointer: %v", err)
	}
	if count != 0 || ptr != 0 {
		t.Fatalf("count=%d ptr=%d, want 0 0", count, ptr)
	}
	raw, err := e.ReadStepBuffer(ctx, steprecord.BufferView{Ptr: ptr, Count: count})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if raw != nil {
		t.Fatalf("raw=%x, want nil", raw)
	}
}

func TestReadStepBufferOutOfBounds(t *testing.T) {
	e := loadFake(t, enginetest.Options{StepsPtr: 65535 - steprecord.RecordSize, Available: 2})
	ctx := context.Background()
	count, err := e.ComputeSteps(ctx, 2)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	ptr, err := e.StepBufferPointer(ctx)
	if err != nil {
		t.Fatalf("pointer: %v", err)
	}
	_, err = e.ReadStepBuffer(ctx, steprecord.BufferView{Ptr: ptr, Count: count})
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got: %v", err)
	}
	if !errors.Is(err, steprecord.ErrOutOfBounds) {
		t.Fatal("engine out-of-bounds error should match the decoder sentinel")
	}
}

func TestStepRecordSize(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		e := loadFake(t, enginetest.Options{})
		_, ok, err := e.StepRecordSize(context.Background())
		if err != nil {
			t.Fatalf("step size: %v", err)
		}
		if ok {
			t.Fatal("expected no reported size")
		}
	})

	t.Run("reported", func(t *testing.T) {
		e := loadFake(t, enginetest.Options{StepSize: 112})
		size, ok, err := e.StepRecordSize(context.Background())
		if err != nil {
			t.Fatalf("step size: %v", err)
		}
		if !ok || size != 112 {
			t.Fatalf("size=%d ok=%v, want 112 true", size, ok)
		}
	})
}

func TestClosedEngine(t *testing.T) {
	e := loadFake(t, enginetest.Options{})
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.ComputeSteps(context.Background(), 1); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got: %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
