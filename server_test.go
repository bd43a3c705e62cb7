package main

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/go-dap-engine/config"
	"github.com/fansqz/go-dap-engine/daptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type syncBuffer struct {
	lock sync.Mutex
	buf  strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

type consoleHelper struct {
	t     *testing.T
	mock  *daptest.MockAdapter
	out   *syncBuffer
	input *io.PipeWriter
	done  chan error
}

func startConsole(t *testing.T, setup func(cfg *config.Config, mock *daptest.MockAdapter)) *consoleHelper {
	cfg := config.Defaults()
	cfg.Adapter.ID = "mock"
	cfg.Adapter.RequestTimeout = 2 * time.Second
	cfg.Launch.Program = "./app"
	h := &consoleHelper{
		t:    t,
		mock: daptest.NewMockAdapter(),
		out:  &syncBuffer{},
		done: make(chan error, 1),
	}
	if setup != nil {
		setup(&cfg, h.mock)
	}
	console, err := NewConsole(&cfg, h.mock, h.out)
	require.NoError(t, err)

	reader, writer := io.Pipe()
	h.input = writer
	go func() {
		h.done <- console.Run(context.Background(), reader)
	}()
	t.Cleanup(func() {
		_ = writer.Close()
	})
	return h
}

func (h *consoleHelper) send(lines ...string) {
	for _, line := range lines {
		_, err := io.WriteString(h.input, line+"\n")
		require.NoError(h.t, err)
	}
}

func (h *consoleHelper) waitOutput(s string) {
	require.Eventually(h.t, func() bool {
		return strings.Contains(h.out.String(), s)
	}, waitTimeout, 10*time.Millisecond, "waiting for %q in:\n%s", s, h.out.String())
}

func (h *consoleHelper) wait() error {
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("console did not stop")
		return nil
	}
}

func TestConsoleLaunchAndQuit(t *testing.T) {
	h := startConsole(t, func(cfg *config.Config, _ *daptest.MockAdapter) {
		cfg.Breakpoints = []string{"main.go:10", "main.go:12 if i > 3"}
	})
	h.send("bl", "status", "bogus", "q")
	require.NoError(t, h.wait())

	out := h.out.String()
	assert.Contains(t, out, "1 main.go:10 [verified]")
	assert.Contains(t, out, "2 main.go:12 if i > 3 [verified]")
	assert.Contains(t, out, ": running")
	assert.Contains(t, out, `unknown command "bogus"`)

	commands := h.mock.Commands()
	assert.Equal(t, []string{"initialize", "setBreakpoints", "launch", "configurationDone"}, commands[:4])
	assert.Equal(t, "disconnect", commands[len(commands)-1])

	var args map[string]any
	require.NoError(t, h.mock.RequestsFor("launch")[0].Decode(&args))
	assert.Equal(t, "./app", args["program"])
}

func TestConsoleStoppedInspection(t *testing.T) {
	h := startConsole(t, nil)
	require.True(t, h.mock.WaitForCommand("configurationDone", 1, waitTimeout))

	h.send("threads")
	h.waitOutput("error: the program is not stopped")

	require.NoError(t, h.mock.SendEvent("stopped", map[string]any{"reason": "breakpoint", "threadId": 1}))
	h.waitOutput("stopped: breakpoint, thread 1")
	require.True(t, h.mock.WaitForCommand("stackTrace", 1, waitTimeout))

	h.send("bt", "scopes 1000", "vars 1001", "eval x")
	h.waitOutput("#0 1000 main line 10")
	h.waitOutput("Locals (vars 1001)")
	h.waitOutput("x int = 1")
	h.waitOutput("(dap) 1 (int)\n")

	h.send("c")
	require.True(t, h.mock.WaitForCommand("continue", 1, waitTimeout))
	h.send("q")
	require.NoError(t, h.wait())
}

func TestConsoleBreakpointCommands(t *testing.T) {
	h := startConsole(t, nil)
	require.True(t, h.mock.WaitForCommand("configurationDone", 1, waitTimeout))

	h.send("b src/lib.go:5", "disable 1", "bl")
	h.waitOutput("breakpoint 1 at src/lib.go:5")
	h.waitOutput("1 src/lib.go:5 [disabled]")
	h.send("delete 7", "delete x", "b nowhere")
	h.waitOutput("breakpoint 7 not found")
	h.waitOutput(`invalid breakpoint id "x"`)
	h.waitOutput(`expected file:line`)

	assert.Len(t, h.mock.RequestsFor("setBreakpoints"), 2)
	h.send("q")
	require.NoError(t, h.wait())
}

func TestConsoleTerminatedEvent(t *testing.T) {
	h := startConsole(t, nil)
	require.True(t, h.mock.WaitForCommand("configurationDone", 1, waitTimeout))
	require.NoError(t, h.mock.SendEvent("output", map[string]any{"category": "stdout", "output": "hello from program\n"}))
	require.NoError(t, h.mock.SendEvent("terminated", nil))
	h.waitOutput("hello from program")
	h.waitOutput("program terminated")

	h.send("n")
	h.waitOutput("error: session is closed")
	require.NoError(t, h.input.Close())
	require.NoError(t, h.wait())
}

func TestConsoleLaunchFailure(t *testing.T) {
	h := startConsole(t, func(_ *config.Config, mock *daptest.MockAdapter) {
		mock.Handle("launch", func(req daptest.Request) daptest.Reply {
			return daptest.Reply{Fail: true, Message: "no such program"}
		})
	})
	err := h.wait()
	assert.ErrorContains(t, err, "no such program")
}

func TestConsoleRunInTerminal(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	h := startConsole(t, func(cfg *config.Config, _ *daptest.MockAdapter) {
		cfg.Adapter.RunInTerminal = true
	})
	require.True(t, h.mock.WaitForCommand("configurationDone", 1, waitTimeout))

	_, err = h.mock.SendReverseRequest("runInTerminal", map[string]any{
		"kind": "integrated",
		"args": []string{sh, "-c", "echo from-terminal"},
	})
	require.NoError(t, err)
	require.True(t, h.mock.WaitFor(waitTimeout, func() bool {
		return len(h.mock.Responses()) == 1
	}))
	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(h.mock.Responses()[0], &resp))
	if !resp.Success {
		t.Skip("pty not available")
	}
	h.waitOutput("from-terminal")

	h.send("q")
	require.NoError(t, h.wait())
}

func TestConsoleIdleTimeout(t *testing.T) {
	h := startConsole(t, func(cfg *config.Config, _ *daptest.MockAdapter) {
		cfg.Console.IdleTimeout = 300 * time.Millisecond
	})
	require.True(t, h.mock.WaitForCommand("configurationDone", 1, waitTimeout))
	h.send("status")
	require.NoError(t, h.wait())
	assert.Contains(t, h.out.String(), "ending session")
	assert.Contains(t, h.mock.Commands(), "disconnect")
}
