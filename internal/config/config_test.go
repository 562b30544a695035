package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/royalicing/stepwasm/internal/params"
)

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  path: /opt/engines/tuesday.wasm
  load_timeout: 250ms
steps: 16
controls:
  algo: 3
  glide: 40
output:
  format: json
  compression: zstd
`), ".yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Engine.Path != "/opt/engines/tuesday.wasm" {
		t.Fatalf("engine path=%q", cfg.Engine.Path)
	}
	if cfg.Engine.LoadTimeout.Std() != 250*time.Millisecond {
		t.Fatalf("load timeout=%v, want 250ms", cfg.Engine.LoadTimeout.Std())
	}
	if cfg.Steps != 16 {
		t.Fatalf("steps=%d, want 16", cfg.Steps)
	}
	if cfg.Controls["algo"] != 3 || cfg.Controls["glide"] != 40 {
		t.Fatalf("controls=%v", cfg.Controls)
	}
	if cfg.Output.Format != "json" || cfg.Output.Compression != "zstd" {
		t.Fatalf("output=%+v", cfg.Output)
	}
}

func TestParseJSONC(t *testing.T) {
	cfg, err := Parse([]byte(`{
  // engine build from the web demo
  "engine": {"path": "tuesday.wasm"},
  "controls": {
    "power": 12, /* sparse */
    "gateLength": 75,
  },
}`), ".jsonc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Controls["power"] != 12 || cfg.Controls["gateLength"] != 75 {
		t.Fatalf("controls=%v", cfg.Controls)
	}
	if cfg.Steps != 32 {
		t.Fatalf("steps=%d, want default 32", cfg.Steps)
	}
	if cfg.Engine.LoadTimeout.Std() != 10*time.Second {
		t.Fatalf("load timeout=%v, want default 10s", cfg.Engine.LoadTimeout.Std())
	}
}

func TestParseRejectsUnknownControl(t *testing.T) {
	_, err := Parse([]byte("controls:\n  trill: 2\n"), ".yml")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got: %v", err)
	}
	if !errors.Is(err, params.ErrUnknownControl) {
		t.Fatalf("expected ErrUnknownControl, got: %v", err)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"steps":    "steps: 0\n",
		"format":   "output:\n  format: xml\n",
		"compress": "output:\n  compression: brotli\n",
		"timeout":  "engine:\n  load_timeout: soon\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(text), ".yaml"); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got: %v", err)
			}
		})
	}
}

func TestLoadResolvesRelativeEnginePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stepwasm.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  path: engines/tuesday.wasm\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := filepath.Join(dir, "engines", "tuesday.wasm"); cfg.Engine.Path != want {
		t.Fatalf("engine path=%q, want %q", cfg.Engine.Path, want)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/stepwasm.yaml")
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Fatalf("flag path=%q, want local.yaml", got)
	}
	if got := ResolvePath(""); got != "/etc/stepwasm.yaml" {
		t.Fatalf("env path=%q, want /etc/stepwasm.yaml", got)
	}
}
