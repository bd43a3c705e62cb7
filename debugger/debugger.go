package debugger

import (
	"context"

	"github.com/fansqz/go-dap-engine/client"
	"github.com/fansqz/go-dap-engine/constants"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Client 会话使用的 DAP 客户端
// 由 client.Client 实现，测试中可以替换
type Client interface {
	Start(ctx context.Context) (<-chan dap.EventMessage, error)
	Initialize(ctx context.Context, adapterID string) (dap.Capabilities, error)
	Launch(ctx context.Context, args protocol.LaunchArguments) error
	Attach(ctx context.Context, args protocol.AttachArguments) error
	ConfigurationDone(ctx context.Context) error
	SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)
	SetFunctionBreakpoints(ctx context.Context, breakpoints []dap.FunctionBreakpoint) ([]dap.Breakpoint, error)
	SetExceptionBreakpoints(ctx context.Context, filters []string) error
	Continue(ctx context.Context, threadID int) (bool, error)
	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error
	Terminate(ctx context.Context) error
	Threads(ctx context.Context) ([]dap.Thread, error)
	StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error)
	Evaluate(ctx context.Context, expression string, frameID int, evalContext constants.EvaluateContext) (*dap.EvaluateResponseBody, error)
	Shutdown(ctx context.Context, terminateDebuggee bool) error
}

var _ Client = (*client.Client)(nil)

// ClientFactory builds a fresh client for every start and restart.
type ClientFactory func() Client

// NewClientFactory returns a factory building clients from cfg.
func NewClientFactory(cfg client.Config) ClientFactory {
	return func() Client {
		return client.New(cfg)
	}
}

type Option func(*DebugSession)

func WithAdapterID(adapterID string) Option {
	return func(d *DebugSession) {
		d.adapterID = adapterID
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(d *DebugSession) {
		d.log = log
	}
}

// WithVariableCacheSize bounds how many scope and variable lists are cached while
// the debuggee is stopped.
func WithVariableCacheSize(size int) Option {
	return func(d *DebugSession) {
		if size > 0 {
			d.cacheSize = size
		}
	}
}
