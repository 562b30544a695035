package steprecord

import (
	"fmt"
	"math"
)

// Decode reads count consecutive records from the start of buf. It fails with
// ErrOutOfBounds before reading anything when buf is shorter than
// count*RecordSize. buf is never written.
func Decode(buf []byte, count int) ([]StepRecord, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: count=%d", ErrOutOfBounds, count)
	}
	if count == 0 {
		return []StepRecord{}, nil
	}
	if count > math.MaxInt/RecordSize {
		return nil, fmt.Errorf("%w: count=%d overflows", ErrOutOfBounds, count)
	}
	need := count * RecordSize
	if need > len(buf) {
		return nil, fmt.Errorf("%w: count=%d need=%d len=%d", ErrOutOfBounds, count, need, len(buf))
	}

	out := make([]StepRecord, count)
	for i := range out {
		base := i * RecordSize
		out[i] = decodeRecord(buf[base : base+RecordSize])
	}
	return out, nil
}

// DecodeAt decodes the records view names inside mem, where mem is the whole
// linear memory the pointer is relative to. A null pointer or zero count
// decodes to an empty sequence.
func DecodeAt(mem []byte, view BufferView) ([]StepRecord, error) {
	if view.Count < 0 {
		return nil, fmt.Errorf("%w: count=%d", ErrOutOfBounds, view.Count)
	}
	if view.IsEmpty() {
		return []StepRecord{}, nil
	}
	byteLen, err := view.ByteLen()
	if err != nil {
		return nil, err
	}
	start := uint64(view.Ptr)
	end := start + byteLen
	if end > uint64(len(mem)) {
		return nil, fmt.Errorf("%w: ptr=%d count=%d memory_size=%d", ErrOutOfBounds, view.Ptr, view.Count, len(mem))
	}
	return Decode(mem[start:end], int(view.Count))
}

func decodeRecord(rec []byte) StepRecord {
	r := StepRecord{
		StepIndex:  FieldStepIndex.u32(rec),
		TickOn:     FieldTickOn.u32(rec),
		TickOff:    FieldTickOff.u32(rec),
		CV:         FieldCV.f32(rec),
		Note:       FieldNote.i32(rec),
		Octave:     FieldOctave.i32(rec),
		Velocity:   FieldVelocity.u8(rec),
		Accent:     FieldAccent.u8(rec),
		Slide:      FieldSlide.u8(rec),
		GateRatio:  FieldGateRatio.u8(rec),
		GateOffset: FieldGateOffset.u8(rec),
		PolyCount:  FieldPolyCount.u8(rec),
		MicroCount: FieldMicroCount.u8(rec),
	}
	for j := 0; j < InnerCount; j++ {
		r.MicroTicks[j] = ArrayMicroTicks.u32At(rec, j)
		r.MicroCV[j] = ArrayMicroCV.f32At(rec, j)
		r.NoteOffsets[j] = ArrayNoteOffsets.i8At(rec, j)
	}
	return r
}
