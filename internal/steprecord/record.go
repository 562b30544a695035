// Package steprecord describes and decodes the packed step records an engine
// writes into its linear memory.
//
// A record is 104 bytes. Scalars come first, then three fixed arrays of eight
// elements each. The arrays are always full width; microCount and polyCount say
// how many slots are meaningful, the remaining slots are still decoded.
package steprecord

import (
	"errors"
	"fmt"
)

var ErrOutOfBounds = errors.New("out of bounds")

// StepRecord is one decoded step.
type StepRecord struct {
	StepIndex   uint32              `json:"stepIndex" yaml:"stepIndex" cbor:"stepIndex"`
	TickOn      uint32              `json:"tickOn" yaml:"tickOn" cbor:"tickOn"`
	TickOff     uint32              `json:"tickOff" yaml:"tickOff" cbor:"tickOff"`
	CV          float32             `json:"cv" yaml:"cv" cbor:"cv"`
	Note        int32               `json:"note" yaml:"note" cbor:"note"`
	Octave      int32               `json:"octave" yaml:"octave" cbor:"octave"`
	Velocity    uint8               `json:"velocity" yaml:"velocity" cbor:"velocity"`
	Accent      uint8               `json:"accent" yaml:"accent" cbor:"accent"`
	Slide       uint8               `json:"slide" yaml:"slide" cbor:"slide"`
	GateRatio   uint8               `json:"gateRatio" yaml:"gateRatio" cbor:"gateRatio"`
	GateOffset  uint8               `json:"gateOffset" yaml:"gateOffset" cbor:"gateOffset"`
	PolyCount   uint8               `json:"polyCount" yaml:"polyCount" cbor:"polyCount"`
	MicroCount  uint8               `json:"microCount" yaml:"microCount" cbor:"microCount"`
	MicroTicks  [InnerCount]uint32  `json:"microTicks" yaml:"microTicks,flow" cbor:"microTicks"`
	MicroCV     [InnerCount]float32 `json:"microCv" yaml:"microCv,flow" cbor:"microCv"`
	NoteOffsets [InnerCount]int8    `json:"noteOffsets" yaml:"noteOffsets,flow" cbor:"noteOffsets"`
}

// BufferView points at count records in engine memory. A zero Ptr is the
// engine's null pointer. The view does not own the memory it names.
type BufferView struct {
	Ptr   uint32
	Count int32
}

// IsEmpty reports whether the view describes no records.
func (v BufferView) IsEmpty() bool {
	return v.Ptr == 0 || v.Count == 0
}

// ByteLen returns Count*RecordSize, failing for negative counts.
func (v BufferView) ByteLen() (uint64, error) {
	if v.Count < 0 {
		return 0, fmt.Errorf("%w: count=%d", ErrOutOfBounds, v.Count)
	}
	return uint64(v.Count) * RecordSize, nil
}
