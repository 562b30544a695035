package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	stepinternal "github.com/royalicing/stepwasm/internal"
	"github.com/royalicing/stepwasm/internal/config"
	"github.com/royalicing/stepwasm/internal/logging"
	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/stepexport"
	"github.com/royalicing/stepwasm/internal/steprecord"
)

const usage = `Usage: stepwasm <command> [flags]

Commands:
  run       load an engine, run one cycle and print the decoded steps
  decode    decode a raw packed step buffer without an engine
  inspect   print an archive written by run --compress
  controls  list the engine controls
  tweak     adjust controls interactively and reprint each snapshot`

const (
	usageRun     = "Usage: stepwasm run [--config file] [--engine module.wasm] [--steps n] [--set name=value]... [--format yaml|json|cbor] [--out path] [--compress none|lz4|zstd] [--debug]"
	usageDecode  = "Usage: stepwasm decode --count n [--format yaml|json|cbor] <raw file>"
	usageInspect = "Usage: stepwasm inspect [--format yaml|json] <archive>"
)

func main() {
	if len(os.Args) < 2 {
		gameOver("%s", usage)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = runCommand(args, os.Stdout)
	case "decode":
		err = decodeCommand(args, os.Stdout)
	case "inspect":
		err = inspectCommand(args, os.Stdout)
	case "controls":
		err = printControlTable(os.Stdout)
	case "tweak":
		err = stepinternal.RunTweakCommand(args)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		gameOver("Unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		gameOver("Error: %v", err)
	}
}

type runFlags struct {
	configPath string
	enginePath string
	steps      int
	sets       []string
	format     string
	outPath    string
	compress   string
	debug      bool
}

func parseRunFlags(args []string) (runFlags, error) {
	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.configPath, "config", "", "config file (.yaml or .jsonc)")
	fs.StringVar(&f.enginePath, "engine", "", "engine module file or https URL")
	fs.IntVar(&f.steps, "steps", 0, "steps requested per cycle")
	fs.StringArrayVar(&f.sets, "set", nil, "control assignment name=value (repeatable)")
	fs.StringVar(&f.format, "format", "", "output format")
	fs.StringVarP(&f.outPath, "out", "o", "", "write output to a file instead of stdout")
	fs.StringVar(&f.compress, "compress", "", "write a compressed archive (lz4 or zstd)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return runFlags{}, fmt.Errorf("%s\n%w", usageRun, err)
	}
	if fs.NArg() != 0 {
		return runFlags{}, errors.New(usageRun)
	}
	return f, nil
}

// resolveRunConfig layers flags over the config file over defaults.
func resolveRunConfig(f runFlags) (*config.Config, error) {
	cfg := config.Default()
	if path := config.ResolvePath(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if f.enginePath != "" {
		cfg.Engine.Path = f.enginePath
	}
	if f.steps != 0 {
		cfg.Steps = f.steps
	}
	if f.format != "" {
		cfg.Output.Format = f.format
	}
	if f.compress != "" {
		cfg.Output.Compression = f.compress
	}
	for _, assignment := range f.sets {
		name, value, err := params.ParseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		if cfg.Controls == nil {
			cfg.Controls = make(map[string]float64)
		}
		cfg.Controls[name] = value
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Engine.Path == "" {
		return nil, errors.New("no engine module: pass --engine or set engine.path in the config")
	}
	return cfg, nil
}

func runCommand(args []string, stdout io.Writer) error {
	f, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveRunConfig(f)
	if err != nil {
		return err
	}
	enc, err := params.NewEncoder(cfg.Controls)
	if err != nil {
		return err
	}

	ctx := context.Background()
	session, err := stepinternal.OpenSession(ctx, stepinternal.SessionOptions{
		ModulePath:  cfg.Engine.Path,
		LoadTimeout: cfg.Engine.LoadTimeout.Std(),
		StepCount:   cfg.Steps,
		Logger:      logging.New(f.debug),
	})
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	snap, err := session.Pipeline.Run(ctx, enc)
	if err != nil {
		return err
	}
	doc := stepexport.FromSnapshot(snap, enc.Values())
	return emit(stdout, f.outPath, doc, cfg.Output)
}

// emit writes doc to outPath, or to stdout when outPath is empty. A
// compression other than none produces an archive.
func emit(stdout io.Writer, outPath string, doc stepexport.Document, out config.OutputConfig) error {
	format, err := stepexport.ParseFormat(out.Format)
	if err != nil {
		return err
	}
	compression, err := stepexport.ParseCompression(out.Compression)
	if err != nil {
		return err
	}

	w := stdout
	var file *os.File
	if outPath != "" {
		file, err = os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer file.Close()
		w = file
	}

	if compression != stepexport.CompressionNone {
		_, err = stepexport.WriteArchive(w, doc, compression)
	} else {
		err = stepexport.Write(w, doc, format)
	}
	if err != nil {
		return err
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

func decodeCommand(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	count := fs.Int("count", -1, "number of records in the buffer")
	format := fs.String("format", string(stepexport.FormatYAML), "output format")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s\n%w", usageDecode, err)
	}
	if fs.NArg() != 1 || *count < 0 {
		return errors.New(usageDecode)
	}
	outFormat, err := stepexport.ParseFormat(*format)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading buffer: %w", err)
	}
	steps, err := steprecord.Decode(raw, *count)
	if err != nil {
		return err
	}
	return stepexport.Write(stdout, stepexport.FromSteps(steps), outFormat)
}

func inspectCommand(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	format := fs.String("format", string(stepexport.FormatYAML), "output format")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s\n%w", usageInspect, err)
	}
	if fs.NArg() != 1 {
		return errors.New(usageInspect)
	}
	outFormat, err := stepexport.ParseFormat(*format)
	if err != nil {
		return err
	}

	file, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()
	doc, err := stepexport.ReadArchive(file)
	if err != nil {
		return err
	}
	return stepexport.Write(stdout, doc, outFormat)
}

func printControlTable(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s %3s  %-10s %7s  %s\n", "NAME", "KEY", "KIND", "DEFAULT", "RANGE")
	for _, c := range params.Controls() {
		fmt.Fprintf(&b, "%-11s %3d  %-10s %7g  %g..%g\n", c.Name, c.Key, c.Kind, c.Default, c.Min, c.Max)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func gameOver(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
