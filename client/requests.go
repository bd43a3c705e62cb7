package client

import (
	"context"

	"github.com/fansqz/go-dap-engine/constants"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/google/go-dap"
)

// Initialize negotiates with the adapter and stores its capabilities. Every other
// request fails with ErrNotInitialized until this succeeds.
func (c *Client) Initialize(ctx context.Context, adapterID string) (dap.Capabilities, error) {
	args := protocol.NewInitializeArguments(c.clientID, c.clientName, adapterID)
	frame, err := c.sendRequest(ctx, constants.CommandInitialize, args)
	if err != nil {
		return dap.Capabilities{}, err
	}
	var caps dap.Capabilities
	if err = decodeBody(frame, &caps); err != nil {
		return dap.Capabilities{}, err
	}
	c.lock.Lock()
	c.caps = caps
	c.lock.Unlock()
	c.initialized.Store(true)
	return caps, nil
}

func (c *Client) Launch(ctx context.Context, args protocol.LaunchArguments) error {
	_, err := c.sendRequest(ctx, constants.CommandLaunch, args)
	return err
}

func (c *Client) Attach(ctx context.Context, args protocol.AttachArguments) error {
	_, err := c.sendRequest(ctx, constants.CommandAttach, args)
	return err
}

func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.sendRequest(ctx, constants.CommandConfigurationDone, nil)
	return err
}

// SetBreakpoints replaces every breakpoint in source. The result has one entry per
// submitted breakpoint, in submission order.
func (c *Client) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	frame, err := c.sendRequest(ctx, constants.CommandSetBreakpoints, protocol.NewSetBreakpointsArguments(source, breakpoints))
	if err != nil {
		return nil, err
	}
	var body dap.SetBreakpointsResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.Breakpoints), nil
}

func (c *Client) SetFunctionBreakpoints(ctx context.Context, breakpoints []dap.FunctionBreakpoint) ([]dap.Breakpoint, error) {
	args := dap.SetFunctionBreakpointsArguments{Breakpoints: nonNil(breakpoints)}
	frame, err := c.sendRequest(ctx, constants.CommandSetFunctionBreakpoints, args)
	if err != nil {
		return nil, err
	}
	var body dap.SetFunctionBreakpointsResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.Breakpoints), nil
}

func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	args := dap.SetExceptionBreakpointsArguments{Filters: nonNil(filters)}
	_, err := c.sendRequest(ctx, constants.CommandSetExceptionBreakpoints, args)
	return err
}

// Continue resumes threadID and reports whether every thread resumed.
func (c *Client) Continue(ctx context.Context, threadID int) (bool, error) {
	frame, err := c.sendRequest(ctx, constants.CommandContinue, dap.ContinueArguments{ThreadId: threadID})
	if err != nil {
		return false, err
	}
	return protocol.ContinuedAllThreads(frame.Body()), nil
}

func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, constants.CommandNext, dap.NextArguments{ThreadId: threadID})
	return err
}

func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, constants.CommandStepIn, dap.StepInArguments{ThreadId: threadID})
	return err
}

func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, constants.CommandStepOut, dap.StepOutArguments{ThreadId: threadID})
	return err
}

func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, constants.CommandPause, dap.PauseArguments{ThreadId: threadID})
	return err
}

func (c *Client) Disconnect(ctx context.Context, args dap.DisconnectArguments) error {
	_, err := c.sendRequest(ctx, constants.CommandDisconnect, args)
	return err
}

func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.sendRequest(ctx, constants.CommandTerminate, dap.TerminateArguments{})
	return err
}

func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	frame, err := c.sendRequest(ctx, constants.CommandThreads, nil)
	if err != nil {
		return nil, err
	}
	var body dap.ThreadsResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.Threads), nil
}

// StackTrace fetches frames of threadID. levels 0 asks for all frames.
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error) {
	args := dap.StackTraceArguments{ThreadId: threadID, StartFrame: startFrame, Levels: levels}
	frame, err := c.sendRequest(ctx, constants.CommandStackTrace, args)
	if err != nil {
		return nil, err
	}
	var body dap.StackTraceResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.StackFrames), nil
}

func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	frame, err := c.sendRequest(ctx, constants.CommandScopes, dap.ScopesArguments{FrameId: frameID})
	if err != nil {
		return nil, err
	}
	var body dap.ScopesResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.Scopes), nil
}

func (c *Client) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	args := dap.VariablesArguments{VariablesReference: variablesReference}
	frame, err := c.sendRequest(ctx, constants.CommandVariables, args)
	if err != nil {
		return nil, err
	}
	var body dap.VariablesResponseBody
	if err = decodeBody(frame, &body); err != nil {
		return nil, err
	}
	return nonNil(body.Variables), nil
}

// Evaluate evaluates expression in frameID. frameID 0 means the global scope.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext constants.EvaluateContext) (*dap.EvaluateResponseBody, error) {
	args := dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: string(evalContext)}
	frame, err := c.sendRequest(ctx, constants.CommandEvaluate, args)
	if err != nil {
		return nil, err
	}
	body := &dap.EvaluateResponseBody{}
	if err = decodeBody(frame, body); err != nil {
		return nil, err
	}
	return body, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
