package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fansqz/go-dap-engine/constants"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "dapengine.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
// Validation is left to the caller so that CLI flags can be applied first.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Adapter.Language, "DAPENGINE_LANGUAGE")
	setString(&cfg.Adapter.ID, "DAPENGINE_ADAPTER_ID")
	setString(&cfg.Adapter.Command, "DAPENGINE_ADAPTER")
	setStrings(&cfg.Adapter.Args, "DAPENGINE_ADAPTER_ARGS")
	setString(&cfg.Adapter.Cwd, "DAPENGINE_ADAPTER_CWD")
	setDuration(&cfg.Adapter.RequestTimeout, "DAPENGINE_REQUEST_TIMEOUT")
	setBool(&cfg.Adapter.RunInTerminal, "DAPENGINE_RUN_IN_TERMINAL")
	setString(&cfg.Launch.Program, "DAPENGINE_PROGRAM")
	setString(&cfg.Launch.Cwd, "DAPENGINE_CWD")
	setBool(&cfg.Launch.StopOnEntry, "DAPENGINE_STOP_ON_ENTRY")
	setString(&cfg.Log.Level, "DAPENGINE_LOG_LEVEL")
	setString(&cfg.Log.File, "DAPENGINE_LOG_FILE")
	setString(&cfg.Console.Listen, "DAPENGINE_LISTEN")
	setDuration(&cfg.Console.IdleTimeout, "DAPENGINE_IDLE_TIMEOUT")
}

// ApplyPreset fills the adapter command and id from the language preset when
// they are not configured explicitly.
func (c *Config) ApplyPreset() {
	if c.Adapter.Language == "" {
		return
	}
	preset, ok := constants.LookupAdapterPreset(constants.LanguageType(c.Adapter.Language))
	if !ok {
		return
	}
	if c.Adapter.Command == "" {
		c.Adapter.Command = preset.Command
		if len(c.Adapter.Args) == 0 {
			c.Adapter.Args = preset.Args
		}
	}
	if c.Adapter.ID == "" {
		c.Adapter.ID = preset.AdapterID
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Adapter.Command == "" {
		if c.Adapter.Language != "" {
			return fmt.Errorf("adapter: no preset for language %q, set adapter.command", c.Adapter.Language)
		}
		return errors.New("adapter: command or language is required")
	}
	if c.Adapter.RequestTimeout <= 0 {
		return fmt.Errorf("adapter: request_timeout must be positive, got %s", c.Adapter.RequestTimeout)
	}
	if c.Launch.Program == "" {
		return errors.New("launch: program is required")
	}
	if c.Console.IdleTimeout < 0 {
		return fmt.Errorf("console: idle_timeout must not be negative, got %s", c.Console.IdleTimeout)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	for _, spec := range c.Breakpoints {
		if _, err := ParseBreakpoint(spec); err != nil {
			return err
		}
	}
	return nil
}

// BreakpointSpec is a parsed "file:line [if condition]" location.
type BreakpointSpec struct {
	File      string
	Line      int
	Condition string
}

// ParseBreakpoint parses "file:line" optionally followed by " if <condition>".
func ParseBreakpoint(spec string) (BreakpointSpec, error) {
	location, condition, _ := strings.Cut(strings.TrimSpace(spec), " if ")
	index := strings.LastIndex(location, ":")
	if index <= 0 {
		return BreakpointSpec{}, fmt.Errorf("breakpoint %q: expected file:line", spec)
	}
	line, err := strconv.Atoi(strings.TrimSpace(location[index+1:]))
	if err != nil || line <= 0 {
		return BreakpointSpec{}, fmt.Errorf("breakpoint %q: invalid line", spec)
	}
	return BreakpointSpec{
		File:      strings.TrimSpace(location[:index]),
		Line:      line,
		Condition: strings.TrimSpace(condition),
	}, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings splits a space separated value.
func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Fields(v)
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
