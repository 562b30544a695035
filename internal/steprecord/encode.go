package steprecord

import "math"

// Encode packs records into the engine layout. The pad byte is zero.
func Encode(records []StepRecord) []byte {
	out := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		out = AppendRecord(out, r)
	}
	return out
}

// AppendRecord appends the packed form of r to dst.
func AppendRecord(dst []byte, r StepRecord) []byte {
	var rec [RecordSize]byte
	b := rec[:]

	FieldStepIndex.putU32(b, r.StepIndex)
	FieldTickOn.putU32(b, r.TickOn)
	FieldTickOff.putU32(b, r.TickOff)
	FieldCV.putU32(b, math.Float32bits(r.CV))
	FieldNote.putU32(b, uint32(r.Note))
	FieldOctave.putU32(b, uint32(r.Octave))
	FieldVelocity.putU8(b, r.Velocity)
	FieldAccent.putU8(b, r.Accent)
	FieldSlide.putU8(b, r.Slide)
	FieldGateRatio.putU8(b, r.GateRatio)
	FieldGateOffset.putU8(b, r.GateOffset)
	FieldPolyCount.putU8(b, r.PolyCount)
	FieldMicroCount.putU8(b, r.MicroCount)
	for j := 0; j < InnerCount; j++ {
		ArrayMicroTicks.putU32At(b, j, r.MicroTicks[j])
		ArrayMicroCV.putU32At(b, j, math.Float32bits(r.MicroCV[j]))
		b[ArrayNoteOffsets.ElementOffset(j)] = byte(r.NoteOffsets[j])
	}
	return append(dst, b...)
}
