package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	lock      sync.Mutex
	responses []*protocol.Frame
	respErrs  []error
	events    []*protocol.Frame
	requests  []*protocol.Frame
}

func (r *recordingHandler) HandleResponse(frame *protocol.Frame, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.responses = append(r.responses, frame)
	r.respErrs = append(r.respErrs, err)
}

func (r *recordingHandler) HandleEvent(frame *protocol.Frame) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, frame)
}

func (r *recordingHandler) HandleRequest(frame *protocol.Frame) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.requests = append(r.requests, frame)
}

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestSendFraming(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, nil, nil)
	require.NoError(t, tr.Send(protocol.NewRequest(1, "threads", nil)))

	body := `{"seq":1,"type":"request","command":"threads"}`
	assert.Equal(t, frame(body), out.String())
}

func TestSendAfterClose(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, nil, nil)
	require.NoError(t, tr.Close())
	err := tr.Send(protocol.NewRequest(1, "threads", nil))
	assert.True(t, errors.Is(err, e.ErrIO))
	assert.Zero(t, out.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestSendWriteFailure(t *testing.T) {
	tr := New(strings.NewReader(""), failingWriter{}, nil, nil)
	err := tr.Send(protocol.NewRequest(1, "threads", nil))
	assert.True(t, errors.Is(err, e.ErrIO))
}

func TestReadLoopDispatch(t *testing.T) {
	input := frame(`{"seq":1,"type":"event","event":"initialized"}`) +
		frame(`not json`) +
		frame(`{"seq":2,"type":"response","request_seq":1,"command":"initialize","success":true,"body":{}}`) +
		frame(`{"seq":3,"type":"request","command":"runInTerminal","arguments":{"cwd":"/","args":["x"]}}`) +
		frame(`{"seq":4,"type":"response","request_seq":2,"command":"threads","success":true,"body":{"threads":7}}`) +
		frame(`{"seq":5,"type":"event","event":"stopped","body":{"reason":5}}`) +
		frame(`{"seq":6,"type":"event","event":"output","body":{"output":"hi"}}`)

	h := &recordingHandler{}
	tr := New(strings.NewReader(input), io.Discard, nil, nil)
	require.NoError(t, tr.ReadLoop(h))

	require.Len(t, h.events, 2)
	assert.Equal(t, "initialized", h.events[0].Envelope.Event)
	assert.Equal(t, "output", h.events[1].Envelope.Event)

	require.Len(t, h.responses, 2)
	assert.NoError(t, h.respErrs[0])
	assert.Equal(t, 2, h.responses[1].Envelope.RequestSeq)
	assert.True(t, errors.Is(h.respErrs[1], e.ErrProtocol))

	require.Len(t, h.requests, 1)
	assert.Equal(t, "runInTerminal", h.requests[0].Envelope.Command)
}

func TestReadLoopMalformedHeader(t *testing.T) {
	tr := New(strings.NewReader("Content-Type: json\r\n\r\n{}"), io.Discard, nil, nil)
	err := tr.ReadLoop(&recordingHandler{})
	assert.True(t, errors.Is(err, e.ErrIO))
}

func TestReadLoopExtraHeaderFields(t *testing.T) {
	output := `{"seq":1,"type":"event","event":"output","body":{"output":"hi"}}`
	input := fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n%s", len(output), output) +
		fmt.Sprintf("Content-Type: application/json\r\ncontent-length: %d\r\n\r\n%s", len(output), output) +
		frame(`{"seq":2,"type":"event","event":"initialized"}`)

	h := &recordingHandler{}
	tr := New(strings.NewReader(input), io.Discard, nil, nil)
	require.NoError(t, tr.ReadLoop(h))

	require.Len(t, h.events, 3)
	assert.Equal(t, "output", h.events[0].Envelope.Event)
	assert.Equal(t, "output", h.events[1].Envelope.Event)
	assert.Equal(t, "initialized", h.events[2].Envelope.Event)
}

func TestReadLoopContentTooLong(t *testing.T) {
	input := fmt.Sprintf("Content-Length: %d\r\n\r\n{}", maxContentLength+1)
	tr := New(strings.NewReader(input), io.Discard, nil, nil)
	err := tr.ReadLoop(&recordingHandler{})
	assert.True(t, errors.Is(err, e.ErrIO))
	assert.Contains(t, err.Error(), "content length over")
}

func TestReadLoopTruncatedBody(t *testing.T) {
	tr := New(strings.NewReader("Content-Length: 10\r\n\r\n{}"), io.Discard, nil, nil)
	err := tr.ReadLoop(&recordingHandler{})
	assert.True(t, errors.Is(err, e.ErrIO))
}

func TestReadLoopStopsOnClose(t *testing.T) {
	pr, pw := io.Pipe()
	tr := New(pr, io.Discard, pr, nil)

	done := make(chan error, 1)
	go func() {
		done <- tr.ReadLoop(&recordingHandler{})
	}()
	_, err := pw.Write([]byte(frame(`{"seq":1,"type":"event","event":"initialized"}`)))
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	assert.NoError(t, <-done)
}

func TestProcessLauncherSpawnError(t *testing.T) {
	_, err := (&ProcessLauncher{}).Launch(context.Background())
	assert.True(t, errors.Is(err, e.ErrSpawn))

	_, err = (&ProcessLauncher{Command: "/nonexistent/debug-adapter"}).Launch(context.Background())
	assert.True(t, errors.Is(err, e.ErrSpawn))
}

func TestProcessLauncherEcho(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat is not available")
	}
	adapter, err := (&ProcessLauncher{Command: "cat", Env: map[string]string{"A": "1"}}).Launch(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, adapter.Pid)

	tr := New(adapter.Stdout, adapter.Stdin, adapter, nil)
	h := &recordingHandler{}
	done := make(chan error, 1)
	go func() {
		done <- tr.ReadLoop(h)
	}()

	// cat 回显请求，读循环会把它当作反向请求
	require.NoError(t, tr.Send(protocol.NewRequest(1, "runInTerminal", map[string]any{"args": []string{"x"}})))
	require.Eventually(t, func() bool {
		h.lock.Lock()
		defer h.lock.Unlock()
		return len(h.requests) == 1
	}, testTimeout, testTick)

	require.NoError(t, tr.Close())
	assert.NoError(t, <-done)
	assert.NoError(t, adapter.Close())
}

func TestBuildEnv(t *testing.T) {
	p := &ProcessLauncher{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, p.buildEnv())
	assert.Nil(t, (&ProcessLauncher{}).buildEnv())

	t.Setenv("DAPENGINE_TEST_INHERIT", "yes")
	env := (&ProcessLauncher{InheritEnv: true, Env: map[string]string{"DAPENGINE_TEST_INHERIT": "no"}}).buildEnv()
	assert.Contains(t, env, "DAPENGINE_TEST_INHERIT=no")
	assert.NotContains(t, env, "DAPENGINE_TEST_INHERIT=yes")
}
