// Package stepinternal holds the stepwasm commands that need a live engine.
package stepinternal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/royalicing/stepwasm/internal/config"
	"github.com/royalicing/stepwasm/internal/logging"
	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/snapshot"
	"github.com/royalicing/stepwasm/internal/stepexport"
)

const usageTweak = "Usage: stepwasm tweak [--config file] [--engine module.wasm] [--steps n] [--format yaml|json] [--debug]"

// Resetter restarts engine playback without reloading the module.
type Resetter interface {
	Reset(ctx context.Context) error
}

func RunTweakCommand(args []string) error {
	fs := pflag.NewFlagSet("tweak", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file (.yaml or .jsonc)")
	enginePath := fs.String("engine", "", "engine module file or https URL")
	steps := fs.Int("steps", 0, "steps requested per cycle")
	format := fs.String("format", "", "snapshot output format")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s\n%w", usageTweak, err)
	}
	if fs.NArg() != 0 {
		return errors.New(usageTweak)
	}

	cfg := config.Default()
	if path := config.ResolvePath(*configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *enginePath != "" {
		cfg.Engine.Path = *enginePath
	}
	if *steps != 0 {
		cfg.Steps = *steps
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	outFormat, err := stepexport.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if outFormat == stepexport.FormatCBOR {
		return errors.New("tweak prints text; use --format yaml or json")
	}

	enc, err := params.NewEncoder(cfg.Controls)
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := logging.New(*debug)
	session, err := OpenSession(ctx, SessionOptions{
		ModulePath:  cfg.Engine.Path,
		LoadTimeout: cfg.Engine.LoadTimeout.Std(),
		StepCount:   cfg.Steps,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	prompt := term.IsTerminal(int(os.Stdin.Fd()))
	return runTweakInteractive(ctx, session.Pipeline, session.Engine, enc, tweakIO{
		in:     os.Stdin,
		out:    os.Stdout,
		prompt: prompt,
		format: outFormat,
	})
}

type tweakIO struct {
	in     io.Reader
	out    io.Writer
	prompt bool
	format stepexport.Format
}

// runTweakInteractive prints a snapshot, then reads one command per line:
// name=value re-runs a cycle with the new value, "reset" restarts engine
// playback, "controls" lists current values and "quit" exits. A failed line
// prints an error and leaves the previous snapshot in place.
func runTweakInteractive(ctx context.Context, pipeline *snapshot.Pipeline, resetter Resetter, enc *params.Encoder, tio tweakIO) error {
	reader := bufio.NewReader(tio.in)

	if err := printCycle(ctx, pipeline, enc, tio); err != nil {
		if _, werr := fmt.Fprintf(tio.out, "Error: %s\n", err); werr != nil {
			return werr
		}
	}

	for {
		if tio.prompt {
			if _, err := io.WriteString(tio.out, "> "); err != nil {
				return err
			}
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		if errors.Is(readErr, io.EOF) && len(line) == 0 {
			return nil
		}
		command := strings.TrimSpace(line)

		var err error
		switch command {
		case "":
		case "quit", "exit":
			return nil
		case "controls":
			err = printControls(tio.out, enc)
		case "reset":
			if resetter == nil {
				err = errors.New("engine does not support reset")
			} else if err = resetter.Reset(ctx); err == nil {
				err = printCycle(ctx, pipeline, enc, tio)
			}
		default:
			var name string
			var value float64
			name, value, err = params.ParseAssignment(command)
			if err != nil {
				break
			}
			previous, _ := enc.Value(name)
			if err = enc.Set(name, value); err != nil {
				break
			}
			if err = printCycle(ctx, pipeline, enc, tio); err != nil {
				_ = enc.Set(name, previous)
			}
		}
		if err != nil {
			if _, werr := fmt.Fprintf(tio.out, "Error: %s\n", err); werr != nil {
				return werr
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}

func printCycle(ctx context.Context, pipeline *snapshot.Pipeline, enc *params.Encoder, tio tweakIO) error {
	snap, err := pipeline.Run(ctx, enc)
	if err != nil {
		return err
	}
	return stepexport.Write(tio.out, stepexport.FromSnapshot(snap, enc.Values()), tio.format)
}

func printControls(w io.Writer, enc *params.Encoder) error {
	for _, control := range params.Controls() {
		value, _ := enc.Value(control.Name)
		if _, err := fmt.Fprintf(w, "%s=%g\n", control.Name, value); err != nil {
			return err
		}
	}
	return nil
}
