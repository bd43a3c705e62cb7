package debugger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/go-dap-engine/client"
	"github.com/fansqz/go-dap-engine/constants"
	"github.com/fansqz/go-dap-engine/daptest"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 5 * time.Second
	waitTick    = 10 * time.Millisecond
)

type testHelper struct {
	t       *testing.T
	ctx     context.Context
	mock    *daptest.MockAdapter
	session *DebugSession

	lock    sync.Mutex
	events  []SessionEvent
	drained chan struct{}
}

func newTestHelper(t *testing.T) *testHelper {
	mock := daptest.NewMockAdapter()
	factory := NewClientFactory(client.Config{Launcher: mock, RequestTimeout: 2 * time.Second})
	session, err := NewDebugSession(factory, WithAdapterID("mock-adapter"))
	require.NoError(t, err)

	h := &testHelper{
		t:       t,
		ctx:     context.Background(),
		mock:    mock,
		session: session,
		drained: make(chan struct{}),
	}
	go func() {
		defer close(h.drained)
		for ev := range session.Events() {
			h.lock.Lock()
			h.events = append(h.events, ev)
			h.lock.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = session.Close(context.Background())
	})
	return h
}

// launch 启动并加载程序，直到进入 Running
func (h *testHelper) launch() {
	require.NoError(h.t, h.session.Start(h.ctx))
	require.NoError(h.t, h.session.Initialize(h.ctx))
	require.NoError(h.t, h.session.Launch(h.ctx, protocol.LaunchArguments{Program: "x"}))
	require.Equal(h.t, constants.StateRunning, h.session.State())
}

// stop simulates the adapter stopping on threadID and waits for the stack refresh.
func (h *testHelper) stop(threadID int) {
	before := len(h.mock.RequestsFor("stackTrace"))
	require.NoError(h.t, h.mock.SendEvent("stopped", map[string]any{"reason": "breakpoint", "threadId": threadID}))
	h.waitForState(constants.StateStopped)
	require.True(h.t, h.mock.WaitForCommand("stackTrace", before+1, waitTimeout))
	require.Eventually(h.t, func() bool {
		return len(h.session.Frames()) > 0
	}, waitTimeout, waitTick)
}

func (h *testHelper) waitForState(state constants.DebugState) {
	require.Eventually(h.t, func() bool {
		return h.session.State() == state
	}, waitTimeout, waitTick, "waiting for state %s, got %s", state, h.session.State())
}

func (h *testHelper) eventsOf(typ constants.SessionEventType) []SessionEvent {
	h.lock.Lock()
	defer h.lock.Unlock()
	var result []SessionEvent
	for _, ev := range h.events {
		if ev.Type() == typ {
			result = append(result, ev)
		}
	}
	return result
}

func (h *testHelper) waitForEvent(typ constants.SessionEventType) SessionEvent {
	var found SessionEvent
	require.Eventually(h.t, func() bool {
		events := h.eventsOf(typ)
		if len(events) == 0 {
			return false
		}
		found = events[len(events)-1]
		return true
	}, waitTimeout, waitTick, "waiting for event %s", typ)
	return found
}

func (h *testHelper) setBreakpointsPaths() []string {
	var paths []string
	for _, req := range h.mock.RequestsFor("setBreakpoints") {
		var args protocol.SetBreakpointsArguments
		require.NoError(h.t, req.Decode(&args))
		paths = append(paths, args.Source.Path)
	}
	return paths
}

func TestLaunchHandshake(t *testing.T) {
	h := newTestHelper(t)
	_, err := h.session.AddBreakpoint(h.ctx, "main.rs", 10)
	require.NoError(t, err)

	h.launch()
	assert.Equal(t, []string{"initialize", "setBreakpoints", "launch", "configurationDone"}, h.mock.Commands())

	bps := h.session.Breakpoints()
	require.Len(t, bps, 1)
	assert.True(t, bps[0].Verified)
	assert.Equal(t, 1, bps[0].ID)

	var args map[string]any
	require.NoError(t, h.mock.RequestsFor("launch")[0].Decode(&args))
	assert.Equal(t, "x", args["program"])

	var changes []SessionEvent
	require.Eventually(t, func() bool {
		changes = h.eventsOf(constants.SessionStateChanged)
		return len(changes) == 2
	}, waitTimeout, waitTick)
	assert.Equal(t, NewStateChangedEvent(constants.StateIdle, constants.StateInitializing), changes[0])
	assert.Equal(t, NewStateChangedEvent(constants.StateInitializing, constants.StateRunning), changes[1])
}

func TestLaunchWithoutConfigurationDone(t *testing.T) {
	h := newTestHelper(t)
	h.mock.SetCapabilities(map[string]any{})
	h.launch()
	assert.Equal(t, []string{"initialize", "launch"}, h.mock.Commands())
}

func TestLaunchFailureKeepsState(t *testing.T) {
	h := newTestHelper(t)
	h.mock.Handle("launch", func(req daptest.Request) daptest.Reply {
		return daptest.Reply{Fail: true, Message: "program not found"}
	})
	require.NoError(t, h.session.Start(h.ctx))
	require.NoError(t, h.session.Initialize(h.ctx))

	err := h.session.Launch(h.ctx, protocol.LaunchArguments{Program: "x"})
	rf, ok := e.IsRequestFailed(err)
	require.True(t, ok)
	assert.Equal(t, "program not found", rf.Message)
	assert.Equal(t, constants.StateInitializing, h.session.State())
	assert.NotContains(t, h.mock.Commands(), "configurationDone")
}

func TestSequenceErrors(t *testing.T) {
	h := newTestHelper(t)
	assert.True(t, errors.Is(h.session.Initialize(h.ctx), e.ErrNotStarted))
	assert.True(t, errors.Is(h.session.Launch(h.ctx, protocol.LaunchArguments{}), e.ErrNotStarted))
	assert.True(t, errors.Is(h.session.Continue(h.ctx), e.ErrNotStarted))

	require.NoError(t, h.session.Start(h.ctx))
	assert.True(t, errors.Is(h.session.Start(h.ctx), e.ErrAlreadyRunning))

	// 没有 initialize 时由客户端拒绝
	err := h.session.Launch(h.ctx, protocol.LaunchArguments{Program: "x"})
	assert.True(t, errors.Is(err, e.ErrNotInitialized))
}

func TestStartSpawnError(t *testing.T) {
	h := newTestHelper(t)
	h.mock.FailLaunch(errors.New("not installed"))
	err := h.session.Start(h.ctx)
	assert.True(t, errors.Is(err, e.ErrSpawn))
	assert.Equal(t, constants.StateIdle, h.session.State())

	h.mock.FailLaunch(nil)
	assert.NoError(t, h.session.Start(h.ctx))
}

func TestStoppedEventRefreshesStackOnce(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(1)

	threadID, ok := h.session.CurrentThreadID()
	assert.True(t, ok)
	assert.Equal(t, 1, threadID)

	reqs := h.mock.RequestsFor("stackTrace")
	require.Len(t, reqs, 1)
	var args struct {
		ThreadID int `json:"threadId"`
	}
	require.NoError(t, reqs[0].Decode(&args))
	assert.Equal(t, 1, args.ThreadID)

	stopped := h.waitForEvent(constants.SessionStopped).(*StoppedEvent)
	assert.Equal(t, constants.BreakpointStopped, stopped.Reason)
	assert.Equal(t, 1, stopped.ThreadID)
	assert.Equal(t, 1000, h.session.Frames()[0].Id)
}

func TestStackRefreshFailureKeepsStopped(t *testing.T) {
	h := newTestHelper(t)
	h.mock.Handle("stackTrace", func(req daptest.Request) daptest.Reply {
		return daptest.Reply{Fail: true, Message: "no frames"}
	})
	h.launch()

	require.NoError(t, h.mock.SendEvent("stopped", map[string]any{"reason": "pause", "threadId": 3}))
	errEvent := h.waitForEvent(constants.SessionError).(*ErrorEvent)
	_, ok := e.IsRequestFailed(errEvent.Err)
	assert.True(t, ok)
	assert.Equal(t, constants.StateStopped, h.session.State())
	assert.Empty(t, h.session.Frames())
}

func TestSlowStackRefreshDoesNotBlockEvents(t *testing.T) {
	h := newTestHelper(t)
	h.mock.Handle("stackTrace", func(req daptest.Request) daptest.Reply {
		return daptest.Reply{NoReply: true}
	})
	h.launch()

	require.NoError(t, h.mock.SendEvent("stopped", map[string]any{"reason": "breakpoint", "threadId": 1}))
	require.True(t, h.mock.WaitForCommand("stackTrace", 1, waitTimeout))
	require.NoError(t, h.mock.SendEvent("output", map[string]any{"category": "stdout", "output": "tick\n"}))
	require.NoError(t, h.mock.SendEvent("terminated", nil))

	// 栈帧请求还没有响应，事件也要在请求超时之前处理完
	require.Eventually(t, func() bool {
		return len(h.eventsOf(constants.SessionOutput)) == 1 &&
			h.session.State() == constants.StateTerminated
	}, time.Second, waitTick)
	assert.Empty(t, h.session.Frames())
}

func TestStoppedWithoutThreadSkipsRefresh(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.mock.SendEvent("stopped", map[string]any{"reason": "entry"}))
	h.waitForState(constants.StateStopped)
	h.waitForEvent(constants.SessionStopped)

	_, ok := h.session.CurrentThreadID()
	assert.False(t, ok)
	assert.Empty(t, h.mock.RequestsFor("stackTrace"))
}

func TestTerminatedFromStopped(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(1)

	require.NoError(t, h.mock.SendEvent("terminated", nil))
	h.waitForState(constants.StateTerminated)
	h.waitForEvent(constants.SessionTerminated)
	assert.Empty(t, h.session.Frames())
}

func TestContinuedEvent(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(1)

	require.NoError(t, h.mock.SendEvent("continued", map[string]any{"threadId": 1}))
	h.waitForState(constants.StateRunning)
	assert.Empty(t, h.session.Frames())
}

func TestExecutionControl(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(2)

	require.NoError(t, h.session.Next(h.ctx))
	assert.Equal(t, constants.StateRunning, h.session.State())
	h.stop(2)
	require.NoError(t, h.session.StepIn(h.ctx))
	h.stop(2)
	require.NoError(t, h.session.StepOut(h.ctx))
	h.stop(2)
	require.NoError(t, h.session.Continue(h.ctx))
	assert.Equal(t, constants.StateRunning, h.session.State())

	for _, cmd := range []string{"next", "stepIn", "stepOut", "continue"} {
		reqs := h.mock.RequestsFor(cmd)
		require.Len(t, reqs, 1, cmd)
		var args struct {
			ThreadID int `json:"threadId"`
		}
		require.NoError(t, reqs[0].Decode(&args))
		assert.Equal(t, 2, args.ThreadID, cmd)
	}
}

func TestPause(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.session.Pause(h.ctx))
	assert.Equal(t, constants.StatePaused, h.session.State())
	// 没有当前线程时使用第一个线程
	assert.Len(t, h.mock.RequestsFor("threads"), 1)

	frames, err := h.session.StackTrace(h.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestStopDuringResumeWins(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(1)

	h.mock.Handle("next", func(req daptest.Request) daptest.Reply {
		_ = h.mock.SendEvent("stopped", map[string]any{"reason": "step", "threadId": 1})
		return daptest.Reply{}
	})
	require.NoError(t, h.session.Next(h.ctx))
	h.waitForState(constants.StateStopped)
	require.Eventually(t, func() bool {
		return len(h.eventsOf(constants.SessionStopped)) == 2
	}, waitTimeout, waitTick)
	assert.Equal(t, constants.StateStopped, h.session.State())
}

func TestInspectionRequiresSuspended(t *testing.T) {
	h := newTestHelper(t)
	h.launch()

	_, err := h.session.StackTrace(h.ctx, 1)
	assert.True(t, errors.Is(err, e.ErrProgramIsRunning))
	_, err = h.session.Scopes(h.ctx, 1000)
	assert.True(t, errors.Is(err, e.ErrProgramIsRunning))
	_, err = h.session.Variables(h.ctx, 1001)
	assert.True(t, errors.Is(err, e.ErrProgramIsRunning))
	_, err = h.session.RefreshThreads(h.ctx)
	assert.True(t, errors.Is(err, e.ErrProgramIsRunning))

	// evaluate 在运行中也可以
	body, err := h.session.Evaluate(h.ctx, "1", 0, constants.EvaluateRepl)
	require.NoError(t, err)
	assert.Equal(t, "1", body.Result)
}

func TestInspectionCachesInvalidatedOnResume(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	h.stop(1)

	threads, err := h.session.RefreshThreads(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", threads[0].Name)

	scopes, err := h.session.Scopes(h.ctx, 1000)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	vars, err := h.session.Variables(h.ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	assert.Equal(t, "x", vars[0].Name)

	_, err = h.session.Scopes(h.ctx, 1000)
	require.NoError(t, err)
	_, err = h.session.Variables(h.ctx, 1001)
	require.NoError(t, err)
	assert.Len(t, h.mock.RequestsFor("scopes"), 1)
	assert.Len(t, h.mock.RequestsFor("variables"), 1)

	leaf, err := h.session.Variables(h.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, leaf)
	assert.Len(t, h.mock.RequestsFor("variables"), 1)

	require.NoError(t, h.session.Continue(h.ctx))
	h.stop(1)
	_, err = h.session.Scopes(h.ctx, 1000)
	require.NoError(t, err)
	_, err = h.session.Variables(h.ctx, 1001)
	require.NoError(t, err)
	assert.Len(t, h.mock.RequestsFor("scopes"), 2)
	assert.Len(t, h.mock.RequestsFor("variables"), 2)
}

func TestEventsForwarded(t *testing.T) {
	h := newTestHelper(t)
	h.launch()

	require.NoError(t, h.mock.SendEvent("output", map[string]any{"category": "stdout", "output": "hello\n"}))
	require.NoError(t, h.mock.SendEvent("thread", map[string]any{"reason": "started", "threadId": 4}))
	require.NoError(t, h.mock.SendEvent("thread", map[string]any{"reason": "exited", "threadId": 4}))
	require.NoError(t, h.mock.SendEvent("module", map[string]any{"reason": "new", "module": map[string]any{"id": 1, "name": "libc.so", "path": "/lib/libc.so"}}))
	require.NoError(t, h.mock.SendEvent("breakpoint", map[string]any{"reason": "changed", "breakpoint": map[string]any{"id": 1, "verified": true, "line": 12}}))
	require.NoError(t, h.mock.SendEvent("vendorSpecific", map[string]any{"x": 1}))
	require.NoError(t, h.mock.SendEvent("process", map[string]any{"name": "x"}))

	output := h.waitForEvent(constants.SessionOutput).(*OutputEvent)
	assert.Equal(t, constants.OutputStdout, output.Category)
	assert.Equal(t, "hello\n", output.Output)
	assert.Equal(t, 4, h.waitForEvent(constants.SessionThreadStarted).(*ThreadStartedEvent).ThreadID)
	assert.Equal(t, 4, h.waitForEvent(constants.SessionThreadExited).(*ThreadExitedEvent).ThreadID)

	module := h.waitForEvent(constants.SessionModuleLoaded).(*ModuleLoadedEvent)
	assert.Equal(t, "libc.so", module.Name)
	assert.Equal(t, "/lib/libc.so", module.Path)

	changed := h.waitForEvent(constants.SessionBreakpointChanged).(*BreakpointChangedEvent)
	assert.True(t, changed.Breakpoint.Verified)
	assert.Equal(t, 12, changed.Breakpoint.Line)

	assert.Equal(t, constants.StateRunning, h.session.State())
	assert.Empty(t, h.eventsOf(constants.SessionError))
}

func TestRestartReplaysLaunch(t *testing.T) {
	h := newTestHelper(t)
	_, err := h.session.AddBreakpoint(h.ctx, "main.rs", 10)
	require.NoError(t, err)
	h.launch()
	h.stop(1)

	require.NoError(t, h.session.Restart(h.ctx))
	assert.Equal(t, constants.StateRunning, h.session.State())
	assert.Equal(t, 2, h.mock.Launches())
	assert.Len(t, h.mock.RequestsFor("disconnect"), 1)

	var second []string
	for _, req := range h.mock.Requests() {
		if req.Conn == 2 {
			second = append(second, req.Command)
		}
	}
	assert.Equal(t, []string{"initialize", "setBreakpoints", "launch", "configurationDone"}, second)
	_, ok := h.session.CurrentThreadID()
	assert.False(t, ok)
	assert.Empty(t, h.eventsOf(constants.SessionError))
}

func TestAttachIsNotRestartable(t *testing.T) {
	h := newTestHelper(t)
	require.NoError(t, h.session.Start(h.ctx))
	require.NoError(t, h.session.Initialize(h.ctx))
	require.NoError(t, h.session.Attach(h.ctx, protocol.AttachArguments{ProcessID: 42}))
	assert.Equal(t, constants.StateRunning, h.session.State())

	assert.True(t, errors.Is(h.session.Restart(h.ctx), e.ErrNotRestartable))
}

func TestDisconnect(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.session.Disconnect(h.ctx))
	assert.Equal(t, constants.StateTerminated, h.session.State())
	assert.Len(t, h.mock.RequestsFor("disconnect"), 1)
	assert.Empty(t, h.eventsOf(constants.SessionError))

	assert.True(t, errors.Is(h.session.Continue(h.ctx), e.ErrSessionClosed))
}

func TestTerminateFallsBackToDisconnect(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.session.Terminate(h.ctx))
	assert.Empty(t, h.mock.RequestsFor("terminate"))
	assert.Equal(t, constants.StateTerminated, h.session.State())
}

func TestTerminateRequest(t *testing.T) {
	h := newTestHelper(t)
	h.mock.SetCapabilities(map[string]any{
		"supportsConfigurationDoneRequest": true,
		"supportsTerminateRequest":         true,
	})
	h.mock.Handle("terminate", func(req daptest.Request) daptest.Reply {
		return daptest.Reply{Events: []daptest.Event{{Name: "terminated"}}}
	})
	h.launch()
	require.NoError(t, h.session.Terminate(h.ctx))
	h.waitForState(constants.StateTerminated)
	assert.Empty(t, h.mock.RequestsFor("disconnect"))
}

func TestAdapterCrash(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.mock.Crash())

	errEvent := h.waitForEvent(constants.SessionError).(*ErrorEvent)
	assert.True(t, errors.Is(errEvent.Err, e.ErrIO))
	h.waitForState(constants.StateError)
}

func TestCloseEndsEventStream(t *testing.T) {
	h := newTestHelper(t)
	h.launch()
	require.NoError(t, h.session.Close(h.ctx))
	select {
	case <-h.drained:
	case <-time.After(waitTimeout):
		t.Fatal("event stream not closed")
	}
	assert.Equal(t, constants.StateTerminated, h.session.State())
	assert.NoError(t, h.session.Close(h.ctx))
}
