// Package config loads stepwasm settings from a single file.
//
// The file is named by the --config flag or the STEPWASM_CONFIG environment
// variable. There is no search path. YAML (.yaml, .yml) and JSON with
// comments (.json, .jsonc) are accepted. Flags given on the command line
// override values from the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/royalicing/stepwasm/internal/params"
	"github.com/royalicing/stepwasm/internal/snapshot"
	"github.com/royalicing/stepwasm/internal/stepexport"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "STEPWASM_CONFIG"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Steps is the step count requested from the engine each cycle.
	Steps int `yaml:"steps" json:"steps"`

	// Controls holds raw control values by name. Unnamed controls use their
	// defaults.
	Controls map[string]float64 `yaml:"controls" json:"controls"`

	Output OutputConfig `yaml:"output" json:"output"`
}

type EngineConfig struct {
	// Path is the engine .wasm file.
	Path string `yaml:"path" json:"path"`

	// LoadTimeout bounds module compilation and wasm_init. Zero means no
	// limit. Snapshot cycles are never timed out.
	LoadTimeout Duration `yaml:"load_timeout" json:"load_timeout"`
}

type OutputConfig struct {
	Format      string `yaml:"format" json:"format"`
	Compression string `yaml:"compression" json:"compression"`
}

// Duration accepts "250ms"-style strings in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidConfig, s)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			LoadTimeout: Duration(10 * time.Second),
		},
		Steps: snapshot.DefaultStepCount,
		Output: OutputConfig{
			Format:      string(stepexport.FormatYAML),
			Compression: "none",
		},
	}
}

// ResolvePath returns the explicit path, falling back to STEPWASM_CONFIG.
// An empty result means no config file.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Engine.Path != "" && !filepath.IsAbs(cfg.Engine.Path) {
		cfg.Engine.Path = filepath.Join(filepath.Dir(path), cfg.Engine.Path)
	}
	return cfg, nil
}

// Parse decodes config text. ext selects the syntax; anything other than
// .json/.jsonc is read as YAML.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later inside a cycle.
func (c *Config) Validate() error {
	if c.Steps <= 0 {
		return fmt.Errorf("%w: steps must be positive, got %d", ErrInvalidConfig, c.Steps)
	}
	if c.Engine.LoadTimeout < 0 {
		return fmt.Errorf("%w: engine.load_timeout must not be negative", ErrInvalidConfig)
	}
	if err := params.ValidateNames(c.Controls); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := stepexport.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := stepexport.ParseCompression(c.Output.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
