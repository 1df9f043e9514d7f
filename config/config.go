// Package config holds the self-play run configuration. Values come from
// Default, are optionally overlaid by a YAML file, and finally by flags in
// the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brensch/chainreaction/executor/mcts"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Rows    int `yaml:"rows"`
	Cols    int `yaml:"cols"`
	Players int `yaml:"players"`

	Search Search `yaml:"search"`
	Oracle Oracle `yaml:"oracle"`
	Run    Run    `yaml:"run"`
}

type Search struct {
	Cpuct       float32          `yaml:"cpuct"`
	Simulations int              `yaml:"simulations"`
	Temperature mcts.Temperature `yaml:"temperature"`
}

// Oracle selects the predictor: "onnx", "mlp" or "uniform".
type Oracle struct {
	Kind     string `yaml:"kind"`
	Model    string `yaml:"model"`
	Sessions int    `yaml:"sessions"`
	Hidden   []int  `yaml:"hidden"`
	Seed     int64  `yaml:"seed"`
}

type Run struct {
	Workers int `yaml:"workers"`
	// Games is the number of episodes to play; 0 plays until interrupted.
	Games       int    `yaml:"games"`
	OutDir      string `yaml:"out_dir"`
	MaxRows     int    `yaml:"max_rows"`
	Seed        int64  `yaml:"seed"`
	EpisodeLog  string `yaml:"episode_log"`
	WatchAddr   string `yaml:"watch_addr"`
	FlushPeriod string `yaml:"flush_period"`
}

// Default mirrors the classic 5x5 two-player setup.
func Default() Config {
	return Config{
		Rows:    5,
		Cols:    5,
		Players: 2,
		Search: Search{
			Cpuct:       1.0,
			Simulations: 100,
			Temperature: mcts.Temperature{Initial: 1, Final: 0.01, Moves: 10},
		},
		Oracle: Oracle{
			Kind:     "mlp",
			Model:    "models/chainreaction_5x5.onnx",
			Sessions: 1,
			Hidden:   []int{64, 32},
			Seed:     1,
		},
		Run: Run{
			Workers:     4,
			OutDir:      "data/generated",
			MaxRows:     20000,
			FlushPeriod: "30s",
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// MCTS returns the search configuration.
func (c Config) MCTS() mcts.Config {
	return mcts.Config{
		Cpuct:       c.Search.Cpuct,
		Simulations: c.Search.Simulations,
		Temperature: c.Search.Temperature,
	}
}

// FlushInterval parses Run.FlushPeriod. An empty period means 30s.
func (c Config) FlushInterval() (time.Duration, error) {
	if c.Run.FlushPeriod == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Run.FlushPeriod)
	if err != nil {
		return 0, fmt.Errorf("flush_period: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("flush_period must be positive, got %s", d)
	}
	return d, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Rows < 2 || c.Cols < 2 {
		errs = append(errs, fmt.Errorf("board must be at least 2x2, got %dx%d", c.Rows, c.Cols))
	}
	if c.Players != 2 {
		errs = append(errs, fmt.Errorf("self-play supports exactly 2 players, got %d", c.Players))
	}
	if err := c.MCTS().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Oracle.Kind {
	case "uniform", "mlp":
	case "onnx":
		if c.Oracle.Model == "" {
			errs = append(errs, errors.New("onnx oracle needs a model path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown oracle %q", c.Oracle.Kind))
	}
	if c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Run.Workers))
	}
	if c.Run.Games < 0 {
		errs = append(errs, fmt.Errorf("games must be non-negative, got %d", c.Run.Games))
	}
	if c.Run.MaxRows < 1 {
		errs = append(errs, fmt.Errorf("max_rows must be positive, got %d", c.Run.MaxRows))
	}
	if _, err := c.FlushInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
