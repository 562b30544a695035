package stepexport

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/royalicing/stepwasm/internal/enginetest"
	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/snapshot"
)

func sampleDocument(n int) Document {
	steps := enginetest.Records(n)
	snap := snapshot.Snapshot{
		Requested: 32,
		Count:     n,
		Writes:    []params.ParameterWrite{{Key: 4, Value: 3}},
		Steps:     steps,
	}
	snap.Digest[0] = 0xAB
	return FromSnapshot(snap, map[string]float64{"glide": 3})
}

func TestWriteYAML(t *testing.T) {
	doc := sampleDocument(2)
	var buf bytes.Buffer
	if err := Write(&buf, doc, FormatYAML); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, key := range []string{"stepIndex:", "microTicks:", "noteOffsets:", "digest: ab00"} {
		if !strings.Contains(out, key) {
			t.Fatalf("yaml output missing %q:\n%s", key, out)
		}
	}

	var back Document
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Steps, doc.Steps) {
		t.Fatal("yaml steps did not survive a read back")
	}
}

func TestWriteJSON(t *testing.T) {
	doc := sampleDocument(1)
	var buf bytes.Buffer
	if err := Write(&buf, doc, FormatJSON); err != nil {
		t.Fatalf("write: %v", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(buf.Bytes(), &tree); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	steps, ok := tree["steps"].([]any)
	if !ok || len(steps) != 1 {
		t.Fatalf("steps=%v, want one entry", tree["steps"])
	}
	step := steps[0].(map[string]any)
	offsets, ok := step["noteOffsets"].([]any)
	if !ok || len(offsets) != 8 {
		t.Fatalf("noteOffsets=%v, want 8 numbers", step["noteOffsets"])
	}
}

func TestEmptyDocumentHasStepsList(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FromSteps(nil), FormatJSON); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), `"steps": []`) {
		t.Fatalf("empty snapshot should encode an empty list:\n%s", buf.String())
	}
}

func TestCBORDeterministic(t *testing.T) {
	doc := sampleDocument(3)
	a, err := Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("equal documents produced different CBOR")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	doc := sampleDocument(32)
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var buf bytes.Buffer
			used, err := WriteArchive(&buf, doc, compression)
			if err != nil {
				t.Fatalf("write archive: %v", err)
			}
			if used != compression {
				t.Fatalf("stored as %s, want %s", used, compression)
			}
			got, err := ReadArchive(&buf)
			if err != nil {
				t.Fatalf("read archive: %v", err)
			}
			if !reflect.DeepEqual(got, doc) {
				t.Fatalf("archive round trip mismatch\n got: %+v\nwant: %+v", got, doc)
			}
		})
	}
}

func TestArchiveFallsBackWhenIncompressible(t *testing.T) {
	var buf bytes.Buffer
	used, err := WriteArchive(&buf, Document{Steps: nil}, CompressionLZ4)
	if err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if used != CompressionNone {
		t.Fatalf("tiny body stored as %s, want none", used)
	}
	if buf.Bytes()[0] != byte(CompressionNone) {
		t.Fatalf("header tag=%d, want 0", buf.Bytes()[0])
	}
}

func TestReadArchiveCorrupt(t *testing.T) {
	cases := map[string][]byte{
		"short":       {0, 1},
		"length":      {0, 9, 0, 0, 0, 0xa0},
		"unknown tag": {9, 1, 0, 0, 0, 0xa0},
		"huge":        {2, 0xff, 0xff, 0xff, 0xff},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadArchive(bytes.NewReader(data)); !errors.Is(err, ErrCorruptArchive) {
				t.Fatalf("expected ErrCorruptArchive, got: %v", err)
			}
		})
	}
}

func TestParseFormatAndCompression(t *testing.T) {
	if f, err := ParseFormat("yml"); err != nil || f != FormatYAML {
		t.Fatalf("ParseFormat(yml)=%q,%v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for xml")
	}
	if c, err := ParseCompression(""); err != nil || c != CompressionNone {
		t.Fatalf("ParseCompression(\"\")=%v,%v", c, err)
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Fatal("expected error for brotli")
	}
}
