package steprecord

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RecordSize is the byte size of one packed step record. A different size
// reported by an engine means its layout is not the one described here.
const RecordSize = 104

// InnerCount is the fixed element count of every inner array.
const InnerCount = 8

// padOffset is the alignment byte between microCount and microTicks.
const padOffset = 31

type Kind uint8

const (
	Uint8 Kind = iota + 1
	Int8
	Uint32
	Int32
	Float32
)

// Width returns the encoded size in bytes.
func (k Kind) Width() int {
	switch k {
	case Uint8, Int8:
		return 1
	case Uint32, Int32, Float32:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Uint8:
		return "u8"
	case Int8:
		return "i8"
	case Uint32:
		return "u32"
	case Int32:
		return "i32"
	case Float32:
		return "f32"
	default:
		return fmt.Sprintf("0x%x", byte(k))
	}
}

// Field describes one scalar at a fixed offset within a record. Multi-byte
// values are little-endian.
type Field struct {
	Name   string
	Offset int
	Kind   Kind
}

// Array describes a fixed-count run of equally sized elements.
type Array struct {
	Field
	Count int
}

// ElementOffset returns the offset of element j relative to the record base.
func (a Array) ElementOffset(j int) int {
	return a.Offset + j*a.Kind.Width()
}

// Size returns the total byte span of the array.
func (a Array) Size() int {
	return a.Count * a.Kind.Width()
}

var (
	FieldStepIndex  = Field{Name: "stepIndex", Offset: 0, Kind: Uint32}
	FieldTickOn     = Field{Name: "tickOn", Offset: 4, Kind: Uint32}
	FieldTickOff    = Field{Name: "tickOff", Offset: 8, Kind: Uint32}
	FieldCV         = Field{Name: "cv", Offset: 12, Kind: Float32}
	FieldNote       = Field{Name: "note", Offset: 16, Kind: Int32}
	FieldOctave     = Field{Name: "octave", Offset: 20, Kind: Int32}
	FieldVelocity   = Field{Name: "velocity", Offset: 24, Kind: Uint8}
	FieldAccent     = Field{Name: "accent", Offset: 25, Kind: Uint8}
	FieldSlide      = Field{Name: "slide", Offset: 26, Kind: Uint8}
	FieldGateRatio  = Field{Name: "gateRatio", Offset: 27, Kind: Uint8}
	FieldGateOffset = Field{Name: "gateOffset", Offset: 28, Kind: Uint8}
	FieldPolyCount  = Field{Name: "polyCount", Offset: 29, Kind: Uint8}
	FieldMicroCount = Field{Name: "microCount", Offset: 30, Kind: Uint8}

	ArrayMicroTicks  = Array{Field: Field{Name: "microTicks", Offset: 32, Kind: Uint32}, Count: InnerCount}
	ArrayMicroCV     = Array{Field: Field{Name: "microCv", Offset: 64, Kind: Float32}, Count: InnerCount}
	ArrayNoteOffsets = Array{Field: Field{Name: "noteOffsets", Offset: 96, Kind: Int8}, Count: InnerCount}
)

// Layout is the ordered description of a packed record.
type Layout struct {
	Size    int
	Scalars []Field
	Arrays  []Array
}

// Schema returns the record layout in byte order.
func Schema() Layout {
	return Layout{
		Size: RecordSize,
		Scalars: []Field{
			FieldStepIndex,
			FieldTickOn,
			FieldTickOff,
			FieldCV,
			FieldNote,
			FieldOctave,
			FieldVelocity,
			FieldAccent,
			FieldSlide,
			FieldGateRatio,
			FieldGateOffset,
			FieldPolyCount,
			FieldMicroCount,
		},
		Arrays: []Array{
			ArrayMicroTicks,
			ArrayMicroCV,
			ArrayNoteOffsets,
		},
	}
}

// Readers take the record slice (starting at the record base).

func (f Field) u8(rec []byte) uint8 { return rec[f.Offset] }

func (f Field) u32(rec []byte) uint32 {
	return binary.LittleEndian.Uint32(rec[f.Offset : f.Offset+4])
}

func (f Field) i32(rec []byte) int32 { return int32(f.u32(rec)) }

func (f Field) f32(rec []byte) float32 { return math.Float32frombits(f.u32(rec)) }

func (a Array) u32At(rec []byte, j int) uint32 {
	off := a.ElementOffset(j)
	return binary.LittleEndian.Uint32(rec[off : off+4])
}

func (a Array) f32At(rec []byte, j int) float32 { return math.Float32frombits(a.u32At(rec, j)) }

func (a Array) i8At(rec []byte, j int) int8 { return int8(rec[a.ElementOffset(j)]) }

// Writers mirror the readers for Encode.

func (f Field) putU8(rec []byte, v uint8) { rec[f.Offset] = v }

func (f Field) putU32(rec []byte, v uint32) {
	binary.LittleEndian.PutUint32(rec[f.Offset:f.Offset+4], v)
}

func (a Array) putU32At(rec []byte, j int, v uint32) {
	off := a.ElementOffset(j)
	binary.LittleEndian.PutUint32(rec[off:off+4], v)
}
