// Package config loads the YAML configuration shared by the panotree
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/panotree/explorer"
	"github.com/brensch/panotree/hoo"
	"github.com/brensch/panotree/inference"
	"github.com/brensch/panotree/logging"
	"github.com/brensch/panotree/render"
)

var ErrInvalid = errors.New("config: invalid")

const (
	DefaultNumUpdates     = 300
	DefaultNumDirections  = 21
	DefaultGridDivider    = 5
	DefaultScoreThreshold = 0.3
	DefaultLowerSizeBound = 2.5
	DefaultEndpoint       = "http://localhost:8080/"
)

type Config struct {
	Hoo     HooConfig     `yaml:"hoo"`
	Rollout RolloutConfig `yaml:"rollout"`
	Render  RenderConfig  `yaml:"render"`
	Scorer  ScorerConfig  `yaml:"scorer"`
	Grid    GridConfig    `yaml:"grid"`
	Output  OutputConfig  `yaml:"output"`
	Serve   ServeConfig   `yaml:"serve"`
	Log     LogConfig     `yaml:"log"`
}

type HooConfig struct {
	C      float64 `yaml:"c"`
	V1     float64 `yaml:"v1"`
	Rho    float64 `yaml:"rho"`
	Policy string  `yaml:"policy"`
	Seed   int64   `yaml:"seed"`
}

type RolloutConfig struct {
	NumUpdates         int    `yaml:"num_updates"`
	NumDirections      int    `yaml:"num_directions"`
	NumPositionOffsets int    `yaml:"num_position_offsets"`
	ValueStrategy      string `yaml:"value_strategy"`
}

type RenderConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	TextureSize int           `yaml:"texture_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ScorerConfig struct {
	ModelPath     string        `yaml:"model_path"`
	InputSize     int           `yaml:"input_size"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	Sessions      int           `yaml:"sessions"`
	PositiveClass int           `yaml:"positive_class"`
	UseCUDA       bool          `yaml:"use_cuda"`
}

type GridConfig struct {
	Divider        int     `yaml:"grid_divider"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	LowerSizeBound float64 `yaml:"lower_size_bound"`
}

type OutputConfig struct {
	Dir     string `yaml:"dir"`
	WorldID string `yaml:"world_id"`
}

// ServeConfig holds optional listen addresses. Empty disables the server.
type ServeConfig struct {
	ViewerAddr  string `yaml:"viewer_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives logs while the terminal UI is running.
	File string `yaml:"file"`
}

func Default() *Config {
	hc := hoo.DefaultConfig()
	return &Config{
		Hoo: HooConfig{
			C:      hc.C,
			V1:     hc.V1,
			Rho:    hc.Rho,
			Policy: hc.Policy.String(),
			Seed:   hc.Seed,
		},
		Rollout: RolloutConfig{
			NumUpdates:    DefaultNumUpdates,
			NumDirections: DefaultNumDirections,
			ValueStrategy: explorer.StrategyMax.String(),
		},
		Render: RenderConfig{
			Endpoint:    DefaultEndpoint,
			TextureSize: render.DefaultTextureSize,
			Timeout:     render.DefaultTimeout,
		},
		Scorer: ScorerConfig{
			ModelPath:     "scorer.onnx",
			InputSize:     inference.DefaultInputSize,
			BatchSize:     inference.DefaultBatchSize,
			BatchTimeout:  inference.DefaultBatchTimeout,
			Sessions:      1,
			PositiveClass: inference.DefaultPositiveClass,
		},
		Grid: GridConfig{
			Divider:        DefaultGridDivider,
			ScoreThreshold: DefaultScoreThreshold,
			LowerSizeBound: DefaultLowerSizeBound,
		},
		Output: OutputConfig{
			Dir:     "data",
			WorldID: "world",
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatConsole,
			File:   "logs/panotree.log",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !(c.Hoo.C > 0) {
		bad("hoo.c must be > 0, got %g", c.Hoo.C)
	}
	if !(c.Hoo.V1 > 0) {
		bad("hoo.v1 must be > 0, got %g", c.Hoo.V1)
	}
	if !(c.Hoo.Rho > 0 && c.Hoo.Rho < 1) {
		bad("hoo.rho must be in (0,1), got %g", c.Hoo.Rho)
	}
	if _, err := hoo.ParsePolicy(c.Hoo.Policy); err != nil {
		bad("hoo.policy %q", c.Hoo.Policy)
	}

	if c.Rollout.NumUpdates < 1 {
		bad("rollout.num_updates must be >= 1, got %d", c.Rollout.NumUpdates)
	}
	if c.Rollout.NumDirections < 1 {
		bad("rollout.num_directions must be >= 1, got %d", c.Rollout.NumDirections)
	}
	if c.Rollout.NumPositionOffsets < 0 {
		bad("rollout.num_position_offsets must be >= 0, got %d", c.Rollout.NumPositionOffsets)
	}
	if _, err := explorer.ParseStrategy(c.Rollout.ValueStrategy); err != nil {
		bad("rollout.value_strategy %q", c.Rollout.ValueStrategy)
	}

	if !strings.HasPrefix(c.Render.Endpoint, "http://") && !strings.HasPrefix(c.Render.Endpoint, "https://") {
		bad("render.endpoint must be an http(s) url, got %q", c.Render.Endpoint)
	}
	if c.Render.TextureSize < 1 {
		bad("render.texture_size must be >= 1, got %d", c.Render.TextureSize)
	}
	if c.Render.Timeout < 0 {
		bad("render.timeout must not be negative, got %s", c.Render.Timeout)
	}

	if c.Scorer.BatchSize < 1 {
		bad("scorer.batch_size must be >= 1, got %d", c.Scorer.BatchSize)
	}
	if c.Scorer.InputSize < 1 {
		bad("scorer.input_size must be >= 1, got %d", c.Scorer.InputSize)
	}
	if c.Scorer.Sessions < 1 {
		bad("scorer.sessions must be >= 1, got %d", c.Scorer.Sessions)
	}
	if c.Scorer.PositiveClass < 0 || c.Scorer.PositiveClass > 1 {
		bad("scorer.positive_class must be 0 or 1, got %d", c.Scorer.PositiveClass)
	}

	if c.Grid.Divider < 2 {
		bad("grid.grid_divider must be >= 2, got %d", c.Grid.Divider)
	}
	if c.Grid.LowerSizeBound < 0 {
		bad("grid.lower_size_bound must not be negative, got %g", c.Grid.LowerSizeBound)
	}

	if c.Output.Dir == "" {
		bad("output.dir is required")
	}
	if strings.ContainsAny(c.Output.WorldID, `/\`) || c.Output.WorldID == "" {
		bad("output.world_id %q must be a plain name", c.Output.WorldID)
	}

	if _, err := logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format, Output: nopWriter{}}); err != nil {
		bad("log: %v", err)
	}

	return errors.Join(errs...)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// TreeConfig converts the hoo section.
func (c *Config) TreeConfig() (hoo.Config, error) {
	policy, err := hoo.ParsePolicy(c.Hoo.Policy)
	if err != nil {
		return hoo.Config{}, err
	}
	return hoo.Config{C: c.Hoo.C, V1: c.Hoo.V1, Rho: c.Hoo.Rho, Policy: policy, Seed: c.Hoo.Seed}, nil
}

func (c *Config) ExplorerConfig() (explorer.Config, error) {
	tree, err := c.TreeConfig()
	if err != nil {
		return explorer.Config{}, err
	}
	strategy, err := explorer.ParseStrategy(c.Rollout.ValueStrategy)
	if err != nil {
		return explorer.Config{}, err
	}
	return explorer.Config{
		Tree:               tree,
		NumDirections:      c.Rollout.NumDirections,
		NumPositionOffsets: c.Rollout.NumPositionOffsets,
		Strategy:           strategy,
	}, nil
}

func (c *Config) OnnxConfig() inference.OnnxConfig {
	return inference.OnnxConfig{
		ModelPath:     c.Scorer.ModelPath,
		InputSize:     c.Scorer.InputSize,
		BatchSize:     c.Scorer.BatchSize,
		BatchTimeout:  c.Scorer.BatchTimeout,
		PositiveClass: c.Scorer.PositiveClass,
		UseCUDA:       c.Scorer.UseCUDA,
	}
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format}
}
