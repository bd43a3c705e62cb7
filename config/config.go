package config

import (
	"time"

	"github.com/fansqz/go-dap-engine/client"
	"github.com/fansqz/go-dap-engine/protocol"
)

// Config is the full configuration of one debugging run.
type Config struct {
	Adapter     AdapterConfig `yaml:"adapter"`
	Launch      LaunchConfig  `yaml:"launch"`
	Log         LogConfig     `yaml:"log"`
	Console     ConsoleConfig `yaml:"console"`
	Breakpoints []string      `yaml:"breakpoints"`
}

// AdapterConfig 调试适配器进程
type AdapterConfig struct {
	Language       string            `yaml:"language"`
	ID             string            `yaml:"id"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Cwd            string            `yaml:"cwd"`
	Env            map[string]string `yaml:"env"`
	InheritEnv     bool              `yaml:"inherit_env"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	RunInTerminal  bool              `yaml:"run_in_terminal"`
}

// LaunchConfig 被调试程序
type LaunchConfig struct {
	Program     string            `yaml:"program"`
	Args        []string          `yaml:"args"`
	Cwd         string            `yaml:"cwd"`
	Env         map[string]string `yaml:"env"`
	StopOnEntry bool              `yaml:"stop_on_entry"`
	NoDebug     bool              `yaml:"no_debug"`
	Extra       map[string]any    `yaml:"extra"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConsoleConfig 控制台. Listen serves the console over TCP instead of stdin when set;
// IdleTimeout ends a console session after this long without a command, 0 disables it.
type ConsoleConfig struct {
	Listen      string        `yaml:"listen"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Adapter: AdapterConfig{
			InheritEnv:     true,
			RequestTimeout: client.DefaultRequestTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LaunchArguments converts the launch section into launch request arguments.
func (c *Config) LaunchArguments() protocol.LaunchArguments {
	return protocol.LaunchArguments{
		NoDebug:     c.Launch.NoDebug,
		Program:     c.Launch.Program,
		Args:        c.Launch.Args,
		Cwd:         c.Launch.Cwd,
		Env:         c.Launch.Env,
		StopOnEntry: c.Launch.StopOnEntry,
		Extra:       c.Launch.Extra,
	}
}
