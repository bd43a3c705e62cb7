package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fansqz/go-dap-engine/client"
	"github.com/fansqz/go-dap-engine/config"
	"github.com/fansqz/go-dap-engine/constants"
	"github.com/fansqz/go-dap-engine/debugger"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/fansqz/go-dap-engine/terminal"
	"github.com/fansqz/go-dap-engine/transport"
	"github.com/fansqz/go-dap-engine/utils"
	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/sirupsen/logrus"
)

const closeTimeout = 5 * time.Second

// Console drives one debug session from a line oriented input.
type Console struct {
	session  *debugger.DebugSession
	terminal *terminal.Handler
	launch   protocol.LaunchArguments
	initial  []string
	idle     time.Duration
	log      *logrus.Entry

	outLock sync.Mutex
	out     io.Writer

	printerDone chan struct{}
}

// NewConsole builds the session described by cfg. Nothing is started yet.
func NewConsole(cfg *config.Config, launcher transport.Launcher, out io.Writer) (*Console, error) {
	c := &Console{
		launch:      cfg.LaunchArguments(),
		initial:     cfg.Breakpoints,
		idle:        cfg.Console.IdleTimeout,
		log:         logrus.WithField("layer", "console"),
		out:         out,
		printerDone: make(chan struct{}),
	}

	clientConfig := client.Config{
		Launcher:       &stderrDrain{Launcher: launcher, log: logrus.WithField("layer", "adapter")},
		RequestTimeout: cfg.Adapter.RequestTimeout,
		Logger:         logrus.WithField("layer", "client"),
	}
	if cfg.Adapter.RunInTerminal {
		c.terminal = terminal.NewHandler(func(output string) {
			c.print(output)
		}, logrus.WithField("layer", "terminal"))
		clientConfig.ReverseHandlers = map[string]client.ReverseRequestHandler{
			constants.CommandRunInTerminal: c.terminal,
		}
	}

	session, err := debugger.NewDebugSession(debugger.NewClientFactory(clientConfig),
		debugger.WithAdapterID(cfg.Adapter.ID),
		debugger.WithLogger(logrus.WithField("layer", "session")))
	if err != nil {
		return nil, err
	}
	c.session = session
	return c, nil
}

// processLauncher 根据配置启动调试适配器进程
func processLauncher(cfg *config.Config) transport.Launcher {
	return &transport.ProcessLauncher{
		Command:    cfg.Adapter.Command,
		Args:       cfg.Adapter.Args,
		Dir:        cfg.Adapter.Cwd,
		Env:        cfg.Adapter.Env,
		InheritEnv: cfg.Adapter.InheritEnv,
		Log:        logrus.WithField("layer", "transport"),
	}
}

func runConsole(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	console, err := NewConsole(cfg, processLauncher(cfg), out)
	if err != nil {
		return err
	}
	return console.Run(ctx, in)
}

// listenAndServe 监听端口，每个连接拥有独立的调试会话
func listenAndServe(ctx context.Context, cfg *config.Config, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer listener.Close()
	logrus.Infof("started listening at: %s", listener.Addr())

	gosync.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		_ = listener.Close()
	})
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.Warnf("accept connection failed: %v", err)
			continue
		}
		gosync.Go(ctx, func(ctx context.Context) {
			handleConnection(ctx, cfg, conn)
		})
	}
}

// handleConnection serves the console to one TCP client until it disconnects.
func handleConnection(ctx context.Context, cfg *config.Config, conn net.Conn) {
	defer conn.Close()
	log := logrus.WithField("remote", conn.RemoteAddr().String())
	log.Info("console connected")
	if err := runConsole(ctx, cfg, conn, conn); err != nil {
		log.WithError(err).Warn("console session ended with error")
	}
	log.Info("closing connection")
}

// Run starts the session, applies the initial breakpoints, launches the program
// and then executes commands read from in until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	defer c.close()
	gosync.Go(ctx, func(ctx context.Context) {
		c.printEvents()
	})

	if err := c.start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var idle *utils.TimeoutManager
	if c.idle > 0 {
		idle = utils.NewTimeoutManager(c.idle, func() {
			c.printf("\nno command for %s, ending session\n", c.idle)
			cancel()
		})
		idle.Start(ctx)
		defer idle.Cancel()
	}

	lines := make(chan string)
	gosync.Go(ctx, func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if idle != nil {
				idle.Reset()
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
			c.prompt()
		}
	}
}

func (c *Console) start(ctx context.Context) error {
	for _, spec := range c.initial {
		bp, err := config.ParseBreakpoint(spec)
		if err != nil {
			return err
		}
		var opts []debugger.BreakpointOption
		if bp.Condition != "" {
			opts = append(opts, debugger.WithCondition(bp.Condition))
		}
		if _, err = c.session.AddBreakpoint(ctx, bp.File, bp.Line, opts...); err != nil {
			return err
		}
	}
	if err := c.session.Start(ctx); err != nil {
		return err
	}
	if err := c.session.Initialize(ctx); err != nil {
		return err
	}
	if err := c.session.Launch(ctx, c.launch); err != nil {
		return fmt.Errorf("launch %s: %w", c.launch.Program, err)
	}
	return nil
}

func (c *Console) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.session.Close(ctx); err != nil {
		c.log.WithError(err).Warn("close session")
	}
	if c.terminal != nil {
		c.terminal.Close()
	}
	select {
	case <-c.printerDone:
	case <-ctx.Done():
	}
}

// printEvents 打印会话事件，直到事件流关闭
func (c *Console) printEvents() {
	defer close(c.printerDone)
	for ev := range c.session.Events() {
		switch ev := ev.(type) {
		case *debugger.OutputEvent:
			if ev.Category == constants.OutputTelemetry {
				continue
			}
			c.print(ev.Output)
		case *debugger.StoppedEvent:
			c.printf("stopped: %s, thread %d %s\n", ev.Reason, ev.ThreadID, ev.Description)
		case *debugger.StateChangedEvent:
			c.log.Debugf("state %s -> %s", ev.From, ev.To)
		case *debugger.BreakpointChangedEvent:
			c.printf("breakpoint %s: line %d verified=%v\n", ev.Reason, ev.Breakpoint.Line, ev.Breakpoint.Verified)
		case *debugger.ThreadStartedEvent:
			c.printf("thread %d started\n", ev.ThreadID)
		case *debugger.ThreadExitedEvent:
			c.printf("thread %d exited\n", ev.ThreadID)
		case *debugger.ModuleLoadedEvent:
			c.log.Infof("module %s: %s %s", ev.Reason, ev.Name, ev.Path)
		case *debugger.TerminatedEvent:
			c.printf("program terminated\n")
		case *debugger.ErrorEvent:
			c.printf("error: %s\n", ev.Message)
		}
	}
}

func (c *Console) prompt() {
	c.print("(dap) ")
}

func (c *Console) print(s string) {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.print(fmt.Sprintf(format, args...))
}

// stderrDrain logs everything the adapter writes to stderr so the pipe never fills.
type stderrDrain struct {
	transport.Launcher
	log *logrus.Entry
}

func (s *stderrDrain) Launch(ctx context.Context) (*transport.Adapter, error) {
	adapter, err := s.Launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	if adapter.Stderr != nil {
		gosync.Go(context.Background(), func(ctx context.Context) {
			scanner := bufio.NewScanner(adapter.Stderr)
			for scanner.Scan() {
				s.log.Info(scanner.Text())
			}
			if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Debugf("adapter stderr: %v", err)
			}
		})
	}
	return adapter, nil
}
