// Package daptest provides an in-process debug adapter for testing the client
// and the session without a real debugger.
package daptest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/transport"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Request is a request the adapter received from the client.
type Request struct {
	Conn      int
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Decode unmarshals the request arguments into v.
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Arguments, v)
}

// Event is an event sent by the adapter.
type Event struct {
	Name string
	Body any
}

// Reply describes how the adapter answers one request.
type Reply struct {
	Body    any
	Fail    bool
	Message string
	// NoReply leaves the request unanswered.
	NoReply bool
	// Delay answers the request later without blocking other requests.
	Delay time.Duration
	// Events are sent right after the response.
	Events []Event
}

type HandlerFunc func(req Request) Reply

// MockAdapter implements transport.Launcher. Each Launch opens a new connection;
// events are always sent on the latest one.
type MockAdapter struct {
	lock      sync.Mutex
	handlers  map[string]HandlerFunc
	caps      map[string]any
	requests  []Request
	responses []json.RawMessage
	conns     []*connection
	launchErr error
	changed   chan struct{}
	log       *logrus.Entry
}

func NewMockAdapter() *MockAdapter {
	m := &MockAdapter{
		handlers: map[string]HandlerFunc{},
		caps: map[string]any{
			"supportsConfigurationDoneRequest": true,
		},
		changed: make(chan struct{}),
		log:     logrus.WithField("layer", "mock-adapter"),
	}
	return m
}

// Handle overrides the reply for command.
func (m *MockAdapter) Handle(command string, fn HandlerFunc) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers[command] = fn
}

// SetCapabilities replaces the initialize response body.
func (m *MockAdapter) SetCapabilities(caps map[string]any) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.caps = caps
}

// FailLaunch makes the next launches fail with err.
func (m *MockAdapter) FailLaunch(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.launchErr = err
}

func (m *MockAdapter) Launch(ctx context.Context) (*transport.Adapter, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.launchErr != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrSpawn, m.launchErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrSpawn, err)
	}

	clientReader, adapterWriter := io.Pipe()
	adapterReader, clientWriter := io.Pipe()
	conn := &connection{
		id:     len(m.conns) + 1,
		reader: bufio.NewReader(adapterReader),
		writer: adapterWriter,
	}
	m.conns = append(m.conns, conn)
	go m.serve(conn, adapterReader)

	closeFn := func() error {
		_ = clientWriter.Close()
		_ = adapterWriter.Close()
		return nil
	}
	return transport.NewAdapter(clientReader, clientWriter, strings.NewReader(""), 10000+conn.id, closeFn), nil
}

// Launches returns how many connections were opened.
func (m *MockAdapter) Launches() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.conns)
}

type connection struct {
	id        int
	reader    *bufio.Reader
	writer    *io.PipeWriter
	writeLock sync.Mutex
	seq       int
}

func (c *connection) write(msg map[string]any) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.seq++
	msg["seq"] = c.seq
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return dap.WriteBaseMessage(c.writer, data)
}

func (c *connection) writeRaw(data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return dap.WriteBaseMessage(c.writer, data)
}

func (m *MockAdapter) serve(conn *connection, in *io.PipeReader) {
	defer in.Close()
	for {
		data, err := dap.ReadBaseMessage(conn.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				m.log.WithError(err).Warn("mock adapter read")
			}
			return
		}
		var header struct {
			Seq       int             `json:"seq"`
			Type      string          `json:"type"`
			Command   string          `json:"command"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err = json.Unmarshal(data, &header); err != nil {
			m.log.WithError(err).Warn("mock adapter decode")
			continue
		}
		if header.Type == "response" {
			m.lock.Lock()
			m.responses = append(m.responses, data)
			m.notifyLocked()
			m.lock.Unlock()
			continue
		}

		req := Request{Conn: conn.id, Seq: header.Seq, Command: header.Command, Arguments: header.Arguments}
		m.lock.Lock()
		m.requests = append(m.requests, req)
		handler, ok := m.handlers[req.Command]
		m.notifyLocked()
		m.lock.Unlock()
		if !ok {
			handler = m.defaultReply
		}

		reply := handler(req)
		if reply.NoReply {
			continue
		}
		if reply.Delay > 0 {
			go func() {
				time.Sleep(reply.Delay)
				m.reply(conn, req, reply)
			}()
			continue
		}
		m.reply(conn, req, reply)
	}
}

func (m *MockAdapter) reply(conn *connection, req Request, reply Reply) {
	resp := map[string]any{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     !reply.Fail,
	}
	if reply.Message != "" {
		resp["message"] = reply.Message
	}
	if reply.Body != nil {
		resp["body"] = reply.Body
	}
	if err := conn.write(resp); err != nil {
		m.log.WithError(err).Debug("mock adapter write response")
		return
	}
	for _, ev := range reply.Events {
		if err := m.sendEvent(conn, ev.Name, ev.Body); err != nil {
			m.log.WithError(err).Debug("mock adapter write event")
			return
		}
	}
}

func (m *MockAdapter) sendEvent(conn *connection, event string, body any) error {
	msg := map[string]any{"type": "event", "event": event}
	if body != nil {
		msg["body"] = body
	}
	return conn.write(msg)
}

func (m *MockAdapter) current() (*connection, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.conns) == 0 {
		return nil, errors.New("mock adapter is not launched")
	}
	return m.conns[len(m.conns)-1], nil
}

// SendEvent pushes an event to the client.
func (m *MockAdapter) SendEvent(event string, body any) error {
	conn, err := m.current()
	if err != nil {
		return err
	}
	return m.sendEvent(conn, event, body)
}

// SendRaw writes data as one framed message body, valid JSON or not.
func (m *MockAdapter) SendRaw(data []byte) error {
	conn, err := m.current()
	if err != nil {
		return err
	}
	return conn.writeRaw(data)
}

// SendReverseRequest sends an adapter-initiated request and returns its seq.
func (m *MockAdapter) SendReverseRequest(command string, arguments any) (int, error) {
	conn, err := m.current()
	if err != nil {
		return 0, err
	}
	conn.writeLock.Lock()
	conn.seq++
	seq := conn.seq
	data, err := json.Marshal(map[string]any{
		"seq":       seq,
		"type":      "request",
		"command":   command,
		"arguments": arguments,
	})
	if err == nil {
		err = dap.WriteBaseMessage(conn.writer, data)
	}
	conn.writeLock.Unlock()
	return seq, err
}

// Crash ends the latest connection as if the adapter process died.
func (m *MockAdapter) Crash() error {
	conn, err := m.current()
	if err != nil {
		return err
	}
	return conn.writer.Close()
}

// Requests returns every request received so far.
func (m *MockAdapter) Requests() []Request {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Request(nil), m.requests...)
}

// Commands returns the command of every request received so far, in order.
func (m *MockAdapter) Commands() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	commands := make([]string, 0, len(m.requests))
	for _, r := range m.requests {
		commands = append(commands, r.Command)
	}
	return commands
}

// RequestsFor returns the received requests with the given command.
func (m *MockAdapter) RequestsFor(command string) []Request {
	m.lock.Lock()
	defer m.lock.Unlock()
	var result []Request
	for _, r := range m.requests {
		if r.Command == command {
			result = append(result, r)
		}
	}
	return result
}

// Responses returns the client's replies to reverse requests.
func (m *MockAdapter) Responses() []json.RawMessage {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]json.RawMessage(nil), m.responses...)
}

// WaitFor blocks until cond holds or timeout passes. cond is checked every time a
// message arrives.
func (m *MockAdapter) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.lock.Lock()
		changed := m.changed
		m.lock.Unlock()
		if cond() {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return cond()
		}
	}
}

// WaitForCommand waits until n requests with command have arrived.
func (m *MockAdapter) WaitForCommand(command string, n int, timeout time.Duration) bool {
	return m.WaitFor(timeout, func() bool {
		return len(m.RequestsFor(command)) >= n
	})
}

func (m *MockAdapter) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *MockAdapter) defaultReply(req Request) Reply {
	switch req.Command {
	case "initialize":
		m.lock.Lock()
		caps := m.caps
		m.lock.Unlock()
		return Reply{Body: caps}
	case "setBreakpoints":
		var args struct {
			Breakpoints []struct {
				Line int `json:"line"`
			} `json:"breakpoints"`
		}
		_ = req.Decode(&args)
		bps := make([]map[string]any, 0, len(args.Breakpoints))
		for i, bp := range args.Breakpoints {
			bps = append(bps, map[string]any{"id": i + 1, "verified": true, "line": bp.Line})
		}
		return Reply{Body: map[string]any{"breakpoints": bps}}
	case "setFunctionBreakpoints":
		var args struct {
			Breakpoints []struct {
				Name string `json:"name"`
			} `json:"breakpoints"`
		}
		_ = req.Decode(&args)
		bps := make([]map[string]any, 0, len(args.Breakpoints))
		for i := range args.Breakpoints {
			bps = append(bps, map[string]any{"id": i + 1, "verified": true})
		}
		return Reply{Body: map[string]any{"breakpoints": bps}}
	case "continue":
		return Reply{Body: map[string]any{"allThreadsContinued": true}}
	case "threads":
		return Reply{Body: map[string]any{"threads": []map[string]any{{"id": 1, "name": "main"}}}}
	case "stackTrace":
		return Reply{Body: map[string]any{
			"stackFrames": []map[string]any{
				{"id": 1000, "name": "main", "line": 10, "column": 1},
			},
			"totalFrames": 1,
		}}
	case "scopes":
		return Reply{Body: map[string]any{
			"scopes": []map[string]any{
				{"name": "Locals", "variablesReference": 1001, "expensive": false},
			},
		}}
	case "variables":
		return Reply{Body: map[string]any{
			"variables": []map[string]any{
				{"name": "x", "value": "1", "type": "int", "variablesReference": 0},
			},
		}}
	case "evaluate":
		return Reply{Body: map[string]any{"result": "1", "type": "int", "variablesReference": 0}}
	default:
		return Reply{}
	}
}
