// Package stepexport writes decoded snapshots for people and for other
// programs.
//
// Text output is a key/value tree (YAML or JSON). Binary output is CBOR with
// core deterministic encoding, so equal snapshots always produce equal bytes.
// Archives wrap that CBOR in a small header and optional compression.
package stepexport

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/snapshot"
	"github.com/royalicing/stepwasm/internal/steprecord"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatYAML, FormatJSON, FormatCBOR:
		return Format(name), nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %q", name)
	}
}

// Document is the exported form of a snapshot.
type Document struct {
	Requested int                     `json:"requested" yaml:"requested" cbor:"requested"`
	Count     int                     `json:"count" yaml:"count" cbor:"count"`
	Digest    string                  `json:"digest,omitempty" yaml:"digest,omitempty" cbor:"digest,omitempty"`
	Controls  map[string]float64      `json:"controls,omitempty" yaml:"controls,omitempty" cbor:"controls,omitempty"`
	Writes    []params.ParameterWrite `json:"writes,omitempty" yaml:"writes,omitempty" cbor:"writes,omitempty"`
	Steps     []steprecord.StepRecord `json:"steps" yaml:"steps" cbor:"steps"`
}

// FromSnapshot builds a document. controls may be nil.
func FromSnapshot(snap snapshot.Snapshot, controls map[string]float64) Document {
	steps := snap.Steps
	if steps == nil {
		steps = []steprecord.StepRecord{}
	}
	return Document{
		Requested: snap.Requested,
		Count:     snap.Count,
		Digest:    hex.EncodeToString(snap.Digest[:]),
		Controls:  controls,
		Writes:    snap.Writes,
		Steps:     steps,
	}
}

// FromSteps builds a document for records decoded without an engine.
func FromSteps(steps []steprecord.StepRecord) Document {
	if steps == nil {
		steps = []steprecord.StepRecord{}
	}
	return Document{Requested: len(steps), Count: len(steps), Steps: steps}
}

// Write encodes doc to w.
func Write(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatCBOR:
		data, err := Marshal(doc)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format: %q", format)
	}
}
