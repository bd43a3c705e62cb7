package debugger

import (
	"context"

	"github.com/fansqz/go-dap-engine/constants"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/google/go-dap"
)

// Continue 继续执行当前线程
func (d *DebugSession) Continue(ctx context.Context) error {
	return d.resume(ctx, func(c Client, threadID int) error {
		_, err := c.Continue(ctx, threadID)
		return err
	})
}

// Next 单步执行，不进入函数
func (d *DebugSession) Next(ctx context.Context) error {
	return d.resume(ctx, func(c Client, threadID int) error {
		return c.Next(ctx, threadID)
	})
}

// StepIn 单步执行，进入函数
func (d *DebugSession) StepIn(ctx context.Context) error {
	return d.resume(ctx, func(c Client, threadID int) error {
		return c.StepIn(ctx, threadID)
	})
}

// StepOut 单步跳出当前函数
func (d *DebugSession) StepOut(ctx context.Context) error {
	return d.resume(ctx, func(c Client, threadID int) error {
		return c.StepOut(ctx, threadID)
	})
}

// resume invalidates inspection caches, sends the request and moves to Running
// unless a stop arrived meanwhile.
func (d *DebugSession) resume(ctx context.Context, request func(c Client, threadID int) error) error {
	c, err := d.liveClient()
	if err != nil {
		return err
	}
	threadID, err := d.targetThread(ctx, c)
	if err != nil {
		return err
	}

	d.lock.Lock()
	d.invalidateLocked()
	stopSeq := d.stopSeq
	d.lock.Unlock()

	if err = request(c, threadID); err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.stopSeq == stopSeq && d.statusManager.Get().IsLive() {
		d.setStateLocked(constants.StateRunning)
	}
	return nil
}

// Pause 暂停运行中的程序，成功后进入 Paused，随后的 stopped 事件会把状态改为 Stopped
func (d *DebugSession) Pause(ctx context.Context) error {
	c, err := d.liveClient()
	if err != nil {
		return err
	}
	threadID, err := d.targetThread(ctx, c)
	if err != nil {
		return err
	}
	if err = c.Pause(ctx, threadID); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.statusManager.CompareAndSet(constants.StatePaused, constants.StateRunning); ok {
		d.log.Infof("state %s -> %s", constants.StateRunning, constants.StatePaused)
		d.emitLocked(NewStateChangedEvent(constants.StateRunning, constants.StatePaused))
	}
	return nil
}

// targetThread picks the current thread, falling back to the first thread the
// adapter reports.
func (d *DebugSession) targetThread(ctx context.Context, c Client) (int, error) {
	d.lock.Lock()
	threadID, ok := d.currentThreadID, d.hasCurrentThread
	if !ok && len(d.threads) > 0 {
		threadID, ok = d.threads[0].Id, true
	}
	d.lock.Unlock()
	if ok {
		return threadID, nil
	}

	threads, err := c.Threads(ctx)
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, e.ErrNoThread
	}
	d.lock.Lock()
	d.threads = threads
	d.lock.Unlock()
	return threads[0].Id, nil
}

// suspendedClient returns the client if stack and variable data can be trusted.
func (d *DebugSession) suspendedClient() (Client, uint64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.statusManager.Get().IsSuspended() {
		return nil, 0, e.ErrProgramIsRunning
	}
	return d.client, d.epoch, nil
}

// RefreshThreads fetches the thread list.
func (d *DebugSession) RefreshThreads(ctx context.Context) ([]dap.Thread, error) {
	c, _, err := d.suspendedClient()
	if err != nil {
		return nil, err
	}
	threads, err := c.Threads(ctx)
	if err != nil {
		return nil, err
	}
	d.lock.Lock()
	d.threads = threads
	d.lock.Unlock()
	return threads, nil
}

// StackTrace fetches every frame of threadID. threadID 0 means the current thread.
func (d *DebugSession) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	c, epoch, err := d.suspendedClient()
	if err != nil {
		return nil, err
	}
	if threadID == 0 {
		current, ok := d.CurrentThreadID()
		if !ok {
			return nil, e.ErrNoThread
		}
		threadID = current
	}
	frames, err := c.StackTrace(ctx, threadID, 0, 0)
	if err != nil {
		return nil, err
	}
	d.lock.Lock()
	if d.epoch == epoch && threadID == d.currentThreadID {
		d.frames = frames
	}
	d.lock.Unlock()
	return frames, nil
}

// Scopes 获取栈帧的作用域，停止期间缓存
func (d *DebugSession) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	c, epoch, err := d.suspendedClient()
	if err != nil {
		return nil, err
	}
	if v, ok := d.scopes.Get(frameID); ok {
		return v.([]dap.Scope), nil
	}
	scopes, err := c.Scopes(ctx, frameID)
	if err != nil {
		return nil, err
	}
	d.lock.Lock()
	if d.epoch == epoch {
		d.scopes.Add(frameID, scopes)
	}
	d.lock.Unlock()
	return scopes, nil
}

// Variables 获取引用的子变量，reference 为 0 表示没有子变量
func (d *DebugSession) Variables(ctx context.Context, reference int) ([]dap.Variable, error) {
	c, epoch, err := d.suspendedClient()
	if err != nil {
		return nil, err
	}
	if reference == 0 {
		return []dap.Variable{}, nil
	}
	if v, ok := d.variables.Get(reference); ok {
		return v.([]dap.Variable), nil
	}
	variables, err := c.Variables(ctx, reference)
	if err != nil {
		return nil, err
	}
	d.lock.Lock()
	if d.epoch == epoch {
		d.variables.Add(reference, variables)
	}
	d.lock.Unlock()
	return variables, nil
}

// Evaluate evaluates expression in frameID, or globally when frameID is 0.
func (d *DebugSession) Evaluate(ctx context.Context, expression string, frameID int, evalContext constants.EvaluateContext) (*dap.EvaluateResponseBody, error) {
	c, err := d.liveClient()
	if err != nil {
		return nil, err
	}
	return c.Evaluate(ctx, expression, frameID, evalContext)
}

// SetFunctionBreakpoints replaces every function breakpoint.
func (d *DebugSession) SetFunctionBreakpoints(ctx context.Context, names []string) ([]dap.Breakpoint, error) {
	c, err := d.clientIn(constants.StateInitializing, constants.StateRunning, constants.StateStopped, constants.StatePaused)
	if err != nil {
		return nil, err
	}
	if !d.Capabilities().SupportsFunctionBreakpoints {
		d.log.Warn("adapter does not advertise function breakpoints")
	}
	bps := make([]dap.FunctionBreakpoint, 0, len(names))
	for _, name := range names {
		bps = append(bps, dap.FunctionBreakpoint{Name: name})
	}
	return c.SetFunctionBreakpoints(ctx, bps)
}

// SetExceptionBreakpoints selects the exception filters the adapter should break on.
func (d *DebugSession) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	c, err := d.clientIn(constants.StateInitializing, constants.StateRunning, constants.StateStopped, constants.StatePaused)
	if err != nil {
		return err
	}
	return c.SetExceptionBreakpoints(ctx, filters)
}
