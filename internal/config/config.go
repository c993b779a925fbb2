// Package config loads stackvm settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/akhildatla/stackvm/pkg/vm"
)

// Defaults
const (
	DefaultLogLevel    = "warn"
	DefaultCommitDelay = 300 * time.Millisecond
	DefaultMaxSteps    = 10000
)

// Config holds the settings shared by every subcommand. Flags override
// whatever the file sets.
type Config struct {
	StackCapacity int           `yaml:"stack_capacity"`
	LogLevel      string        `yaml:"log_level"`
	MaxSteps      int64         `yaml:"max_steps"`
	OperandLatch  bool          `yaml:"operand_latch"`
	Staged        bool          `yaml:"staged"`
	CommitDelay   time.Duration `yaml:"commit_delay"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StackCapacity: vm.DefaultStackCapacity,
		LogLevel:      DefaultLogLevel,
		MaxSteps:      DefaultMaxSteps,
		CommitDelay:   DefaultCommitDelay,
	}
}

// ValidationError aggregates config validation issues.
type ValidationError struct {
	Path   string
	Issues []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(" is invalid:")
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// Load reads the YAML file at path on top of Default. An empty path
// returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	if err := decode(file, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return cfg, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs ValidationError
	if c.StackCapacity < 1 {
		errs.Issues = append(errs.Issues, fmt.Sprintf("stack_capacity must be at least 1, got %d", c.StackCapacity))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs.Issues = append(errs.Issues, fmt.Sprintf("log_level %q is not a level", c.LogLevel))
	}
	if c.MaxSteps < 0 {
		errs.Issues = append(errs.Issues, fmt.Sprintf("max_steps must not be negative, got %d", c.MaxSteps))
	}
	if c.CommitDelay < 0 {
		errs.Issues = append(errs.Issues, fmt.Sprintf("commit_delay must not be negative, got %s", c.CommitDelay))
	}
	if len(errs.Issues) > 0 {
		return &errs
	}
	return nil
}

// VMOptions translates the config into engine options.
func (c Config) VMOptions(logger *zap.Logger) []vm.Option {
	opts := []vm.Option{
		vm.WithStackCapacity(c.StackCapacity),
		vm.WithMaxSteps(c.MaxSteps),
		vm.WithLogger(logger),
	}
	if c.OperandLatch {
		opts = append(opts, vm.WithOperandLatch())
	}
	return opts
}

// CreateLogger builds the CLI logger writing to stderr. quiet returns a
// no-op logger regardless of level.
func CreateLogger(level string, quiet bool) (*zap.Logger, error) {
	if quiet {
		return zap.NewNop(), nil
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}
