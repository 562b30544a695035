package stepexport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an archive body is stored. The values are
// written to disk and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// archiveHeaderSize is the tag byte plus the little-endian uncompressed length.
const archiveHeaderSize = 5

// maxArchiveBody bounds the uncompressed size a reader will allocate.
const maxArchiveBody = 64 << 20

var ErrCorruptArchive = errors.New("corrupt archive")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("stepexport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("stepexport: zstd decoder initialization failed: " + err.Error())
	}
}

// WriteArchive writes doc as CBOR behind an archive header. When the chosen
// compression does not shrink the body it is stored uncompressed and the
// header says so.
func WriteArchive(w io.Writer, doc Document, compression Compression) (Compression, error) {
	body, err := Marshal(doc)
	if err != nil {
		return 0, err
	}
	if uint64(len(body)) > math.MaxUint32 {
		return 0, fmt.Errorf("archive body too large: %d bytes", len(body))
	}

	stored, used, err := compress(body, compression)
	if err != nil {
		return 0, err
	}

	var header [archiveHeaderSize]byte
	header[0] = byte(used)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(stored); err != nil {
		return 0, err
	}
	return used, nil
}

// ReadArchive reads an archive written by WriteArchive.
func ReadArchive(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}
	if len(data) < archiveHeaderSize {
		return Document{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptArchive, len(data))
	}
	tag := Compression(data[0])
	size := binary.LittleEndian.Uint32(data[1:archiveHeaderSize])
	if size > maxArchiveBody {
		return Document{}, fmt.Errorf("%w: body size %d exceeds limit", ErrCorruptArchive, size)
	}

	body, err := decompress(data[archiveHeaderSize:], tag, int(size))
	if err != nil {
		return Document{}, err
	}
	return Unmarshal(body)
}

func compress(body []byte, compression Compression) ([]byte, Compression, error) {
	switch compression {
	case CompressionNone:
		return body, CompressionNone, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(body)))
		written, err := lz4.CompressBlock(body, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(body) {
			return body, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(body, nil)
		if len(compressed) >= len(body) {
			return body, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("unsupported compression: %s", compression)
	}
}

func decompress(stored []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != size {
			return nil, fmt.Errorf("%w: stored %d bytes, header says %d", ErrCorruptArchive, len(stored), size)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptArchive, err)
		}
		if read != size {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, header says %d", ErrCorruptArchive, read, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptArchive, err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, header says %d", ErrCorruptArchive, len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrCorruptArchive, uint8(tag))
	}
}
