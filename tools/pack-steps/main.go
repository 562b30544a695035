// Command pack-steps turns a YAML step list into the packed buffer an engine
// would leave in memory, for use with "stepwasm decode" and test fixtures.
//
// Input is either a bare list of steps or a document with a "steps" key, as
// printed by "stepwasm run".
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/royalicing/stepwasm/internal/steprecord"
)

func parseSteps(in []byte) ([]steprecord.StepRecord, error) {
	trimmed := bytes.TrimSpace(in)
	if len(trimmed) == 0 {
		return []steprecord.StepRecord{}, nil
	}
	if trimmed[0] == '-' || trimmed[0] == '[' {
		var steps []steprecord.StepRecord
		if err := yaml.Unmarshal(in, &steps); err != nil {
			return nil, err
		}
		return steps, nil
	}
	var doc struct {
		Steps []steprecord.StepRecord `yaml:"steps"`
	}
	if err := yaml.Unmarshal(in, &doc); err != nil {
		return nil, err
	}
	return doc.Steps, nil
}

func main() {
	filePath := pflag.String("file", "", "input YAML path (default: stdin)")
	outPath := pflag.StringP("out", "o", "", "output path (default: stdout)")
	pflag.Parse()

	var (
		in  []byte
		err error
	)
	if *filePath != "" {
		in, err = os.ReadFile(*filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read file: %v\n", err)
			os.Exit(1)
		}
	} else {
		in, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			os.Exit(1)
		}
	}

	steps, err := parseSteps(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse steps: %v\n", err)
		os.Exit(1)
	}
	out := steprecord.Encode(steps)

	if *outPath != "" {
		if err := os.WriteFile(*outPath, out, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "packed %d steps (%d bytes)\n", len(steps), len(out))
		return
	}
	if _, err := os.Stdout.Write(out); err != nil {
		fmt.Fprintf(os.Stderr, "write stdout: %v\n", err)
		os.Exit(1)
	}
}
