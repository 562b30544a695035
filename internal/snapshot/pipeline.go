// Package snapshot runs one write-compute-fetch-decode cycle against a step
// engine at a time.
//
// A cycle moves Idle → ParamsWritten → Computed → Decoded → Idle. Every
// parameter write completes before the compute call, and the step buffer is
// copied and decoded before the cycle returns, so nothing holds an engine
// pointer after Run. A second Run while one is in flight is rejected with
// ErrCycleInFlight rather than queued.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/royalicing/stepwasm/internal/logging"
	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/steprecord"
)

// DefaultStepCount is the number of steps requested per cycle unless
// configured otherwise.
const DefaultStepCount = 32

var (
	ErrCycleInFlight  = errors.New("snapshot cycle already in flight")
	ErrSchemaMismatch = errors.New("step record schema mismatch")
	ErrNotInitialized = errors.New("engine not initialized")
)

// Engine is the capability set a cycle consumes.
type Engine interface {
	Initialize(ctx context.Context) error
	SetParameter(ctx context.Context, key, value int32) error
	ComputeSteps(ctx context.Context, requested int32) (int32, error)
	StepBufferPointer(ctx context.Context) (uint32, error)
	StepBufferLength(ctx context.Context) (int32, error)
	// StepRecordSize reports the engine's compiled record size; ok is false
	// when the engine has no way to say.
	StepRecordSize(ctx context.Context) (size int32, ok bool, err error)
	// ReadStepBuffer returns an owned copy of the bytes view names.
	ReadStepBuffer(ctx context.Context, view steprecord.BufferView) ([]byte, error)
}

type State int32

const (
	Idle State = iota
	ParamsWritten
	Computed
	Decoded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ParamsWritten:
		return "params_written"
	case Computed:
		return "computed"
	case Decoded:
		return "decoded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	// StepCount is the requested step count. Zero means DefaultStepCount.
	StepCount int
	Logger    *slog.Logger
}

// Snapshot is the result of one successful cycle.
type Snapshot struct {
	Requested int
	Count     int
	Writes    []params.ParameterWrite
	Steps     []steprecord.StepRecord
	// Digest is the BLAKE3 hash of the copied record bytes.
	Digest [32]byte
}

type Pipeline struct {
	engine    Engine
	stepCount int
	logger    *slog.Logger

	inFlight    atomic.Bool
	state       atomic.Int32
	initialized atomic.Bool

	mu            sync.Mutex
	current       *Snapshot
	schemaChecked bool
	schemaErr     error
}

func New(engine Engine, opts Options) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("snapshot: nil engine")
	}
	stepCount := opts.StepCount
	if stepCount == 0 {
		stepCount = DefaultStepCount
	}
	if stepCount < 0 || stepCount > int(^uint32(0)>>1) {
		return nil, fmt.Errorf("snapshot: invalid step count %d", opts.StepCount)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		engine:    engine,
		stepCount: stepCount,
		logger:    logger,
	}, nil
}

// Initialize performs the engine's one-time setup.
func (p *Pipeline) Initialize(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	defer p.inFlight.Store(false)

	if err := p.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	p.initialized.Store(true)
	p.logger.Debug("engine initialized")
	return nil
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) StepCount() int {
	return p.stepCount
}

// Current returns the last successful snapshot.
func (p *Pipeline) Current() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return *p.current, true
}

// Run executes one cycle. Once started it is not interrupted by ctx
// cancellation. On error the previous snapshot stays current.
func (p *Pipeline) Run(ctx context.Context, enc *params.Encoder) (Snapshot, error) {
	if enc == nil {
		return Snapshot{}, errors.New("snapshot: nil encoder")
	}
	if !p.initialized.Load() {
		return Snapshot{}, ErrNotInitialized
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return Snapshot{}, ErrCycleInFlight
	}
	defer p.inFlight.Store(false)
	defer p.transition(Idle)

	ctx = context.WithoutCancel(ctx)

	writes, err := enc.Apply(ctx, p.engine)
	if err != nil {
		return Snapshot{}, p.abort("write parameters", err)
	}
	p.transition(ParamsWritten)

	count, err := p.engine.ComputeSteps(ctx, int32(p.stepCount))
	if err != nil {
		return Snapshot{}, p.abort("compute steps", err)
	}
	p.transition(Computed)

	if err := p.checkSchema(ctx); err != nil {
		return Snapshot{}, p.abort("check schema", err)
	}

	ptr, err := p.engine.StepBufferPointer(ctx)
	if err != nil {
		return Snapshot{}, p.abort("step buffer pointer", err)
	}
	length, err := p.engine.StepBufferLength(ctx)
	if err != nil {
		return Snapshot{}, p.abort("step buffer length", err)
	}
	if length != count {
		p.logger.Warn("engine step length differs from computed count",
			"computed", count,
			"length", length,
		)
	}

	view := steprecord.BufferView{Ptr: ptr, Count: length}
	raw, err := p.engine.ReadStepBuffer(ctx, view)
	if err != nil {
		return Snapshot{}, p.abort("read step buffer", err)
	}
	steps, err := decodeView(raw, view)
	if err != nil {
		return Snapshot{}, p.abort("decode steps", err)
	}
	p.transition(Decoded)

	snap := Snapshot{
		Requested: p.stepCount,
		Count:     len(steps),
		Writes:    writes,
		Steps:     steps,
		Digest:    blake3.Sum256(raw),
	}
	p.mu.Lock()
	p.current = &snap
	p.mu.Unlock()

	p.logger.Info("snapshot decoded",
		"requested", snap.Requested,
		"count", snap.Count,
		"digest", fmt.Sprintf("%x", snap.Digest[:8]),
	)
	return snap, nil
}

func decodeView(raw []byte, view steprecord.BufferView) ([]steprecord.StepRecord, error) {
	if view.IsEmpty() {
		return []steprecord.StepRecord{}, nil
	}
	return steprecord.Decode(raw, int(view.Count))
}

// checkSchema asks the engine for its record size on the first cycle. A
// mismatch is remembered and fails every later cycle too.
func (p *Pipeline) checkSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schemaChecked {
		return p.schemaErr
	}

	size, ok, err := p.engine.StepRecordSize(ctx)
	if err != nil {
		return err
	}
	p.schemaChecked = true
	if !ok {
		p.logger.Debug("engine does not report a record size", "assumed", steprecord.RecordSize)
		return nil
	}
	if size != steprecord.RecordSize {
		p.schemaErr = fmt.Errorf("%w: engine=%d decoder=%d", ErrSchemaMismatch, size, steprecord.RecordSize)
	}
	return p.schemaErr
}

func (p *Pipeline) transition(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		p.logger.Debug("cycle state", "from", prev.String(), "to", s.String())
	}
}

func (p *Pipeline) abort(stage string, err error) error {
	p.logger.Error("snapshot cycle aborted", "stage", stage, "state", p.State().String(), "error", err)
	return fmt.Errorf("%s: %w", stage, err)
}
