package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fansqz/go-dap-engine/config"
	"github.com/spf13/cobra"
)

// 定义版本号
const Version = "1.0.1"

type options struct {
	configPath    string
	language      string
	adapter       string
	adapterArgs   []string
	adapterID     string
	program       string
	cwd           string
	breakpoints   []string
	logLevel      string
	logFile       string
	timeout       time.Duration
	stopOnEntry   bool
	runInTerminal bool
	listen        string
	idleTimeout   time.Duration
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "go-dap-engine [flags] [-- program args...]",
		Short:        "Drive a Debug Adapter Protocol adapter from a line console",
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			if err = SetupLogger(cfg.Log.Level, cfg.Log.File); err != nil {
				return err
			}
			defer CloseLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if cfg.Console.Listen != "" {
				return listenAndServe(ctx, cfg, cfg.Console.Listen)
			}
			return runConsole(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFile, "YAML configuration file")
	flags.StringVarP(&opts.language, "language", "l", "", "program language, selects a default adapter")
	flags.StringVar(&opts.adapter, "adapter", "", "debug adapter command")
	flags.StringSliceVar(&opts.adapterArgs, "adapter-arg", nil, "debug adapter argument, repeatable")
	flags.StringVar(&opts.adapterID, "adapter-id", "", "adapterID sent in initialize")
	flags.StringVarP(&opts.program, "program", "p", "", "program to debug")
	flags.StringVar(&opts.cwd, "cwd", "", "working directory of the program")
	flags.StringArrayVarP(&opts.breakpoints, "break", "b", nil, "breakpoint file:line [if condition], repeatable")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level")
	flags.StringVar(&opts.logFile, "log-file", "", "append logs to this file")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per request timeout")
	flags.BoolVar(&opts.stopOnEntry, "stop-on-entry", false, "stop at program entry")
	flags.BoolVar(&opts.runInTerminal, "run-in-terminal", false, "answer runInTerminal requests with a local pty")
	flags.StringVar(&opts.listen, "listen", "", "serve the console over TCP on this address instead of stdin")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "end the session after this long without a command")
	return cmd
}

// loadConfig applies flags over the configuration file and validates the result.
func loadConfig(cmd *cobra.Command, opts *options, args []string) (*config.Config, error) {
	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("language") {
		cfg.Adapter.Language = opts.language
	}
	if flags.Changed("adapter") {
		cfg.Adapter.Command = opts.adapter
		cfg.Adapter.Args = nil
	}
	if flags.Changed("adapter-arg") {
		cfg.Adapter.Args = opts.adapterArgs
	}
	if flags.Changed("adapter-id") {
		cfg.Adapter.ID = opts.adapterID
	}
	if flags.Changed("program") {
		cfg.Launch.Program = opts.program
	}
	if flags.Changed("cwd") {
		cfg.Launch.Cwd = opts.cwd
	}
	if flags.Changed("break") {
		cfg.Breakpoints = append(cfg.Breakpoints, opts.breakpoints...)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("timeout") {
		cfg.Adapter.RequestTimeout = opts.timeout
	}
	if flags.Changed("stop-on-entry") {
		cfg.Launch.StopOnEntry = opts.stopOnEntry
	}
	if flags.Changed("run-in-terminal") {
		cfg.Adapter.RunInTerminal = opts.runInTerminal
	}
	if flags.Changed("listen") {
		cfg.Console.Listen = opts.listen
	}
	if flags.Changed("idle-timeout") {
		cfg.Console.IdleTimeout = opts.idleTimeout
	}
	if len(args) > 0 {
		cfg.Launch.Args = args
	}

	cfg.ApplyPreset()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return cfg, nil
}
