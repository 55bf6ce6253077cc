package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config captures the runtime knobs for a benchmark run.
type Config struct {
	DataDir         string  `yaml:"data_dir"`
	TrainSplit      string  `yaml:"train_split"`
	EvalSplit       string  `yaml:"eval_split"`
	Steps           int     `yaml:"steps"`
	BatchSize       int     `yaml:"batch_size"`
	NumWorkers      int     `yaml:"num_workers"`
	Devices         int     `yaml:"devices"`
	EvalEvery       int     `yaml:"eval_every"`
	EvalNumExamples int     `yaml:"eval_num_examples"`
	LogEvery        int     `yaml:"log_every"`
	Seed            int64   `yaml:"seed"`
	LearningRate    float64 `yaml:"learning_rate"`
	DropoutRate     float64 `yaml:"dropout_rate"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir         string
	Steps           int
	BatchSize       int
	NumWorkers      int
	Devices         int
	EvalEvery       int
	EvalNumExamples int
	LogEvery        int
	Seed            int64
	LearningRate    float64
	DropoutRate     float64
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Devices > 0 {
		c.Devices = o.Devices
	}
	if o.EvalEvery > 0 {
		c.EvalEvery = o.EvalEvery
	}
	if o.EvalNumExamples > 0 {
		c.EvalNumExamples = o.EvalNumExamples
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.DropoutRate > 0 {
		c.DropoutRate = o.DropoutRate
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.TrainSplit == "" {
		c.TrainSplit = "train"
	}
	if c.EvalSplit == "" {
		c.EvalSplit = "validation"
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.Devices <= 0 {
		c.Devices = 1
	}
	if c.EvalEvery > 0 && c.EvalNumExamples <= 0 {
		return fmt.Errorf("eval_num_examples must be > 0 when eval_every is set (got %d)", c.EvalNumExamples)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0, 1) (got %g)", c.DropoutRate)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: missing ':'", lineNo)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")
		var err error
		switch key {
		case "data_dir":
			cfg.DataDir = value
		case "train_split":
			cfg.TrainSplit = value
		case "eval_split":
			cfg.EvalSplit = value
		case "steps":
			cfg.Steps, err = strconv.Atoi(value)
		case "batch_size":
			cfg.BatchSize, err = strconv.Atoi(value)
		case "num_workers":
			cfg.NumWorkers, err = strconv.Atoi(value)
		case "devices":
			cfg.Devices, err = strconv.Atoi(value)
		case "eval_every":
			cfg.EvalEvery, err = strconv.Atoi(value)
		case "eval_num_examples":
			cfg.EvalNumExamples, err = strconv.Atoi(value)
		case "log_every":
			cfg.LogEvery, err = strconv.Atoi(value)
		case "seed":
			cfg.Seed, err = strconv.ParseInt(value, 10, 64)
		case "learning_rate":
			cfg.LearningRate, err = strconv.ParseFloat(value, 64)
		case "dropout_rate":
			cfg.DropoutRate, err = strconv.ParseFloat(value, 64)
		default:
			return nil, fmt.Errorf("line %d: unknown key %s", lineNo, key)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
