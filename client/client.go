package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/go-dap-engine/constants"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/fansqz/go-dap-engine/transport"
	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/chanx"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	eventBufferSize       = 64
)

// ReverseRequestHandler answers a request the adapter sends to the client. The
// returned body is sent back in a successful response; an error becomes a failed one.
type ReverseRequestHandler interface {
	HandleReverseRequest(ctx context.Context, req *protocol.ReverseRequest) (any, error)
}

type ReverseRequestHandlerFunc func(ctx context.Context, req *protocol.ReverseRequest) (any, error)

func (f ReverseRequestHandlerFunc) HandleReverseRequest(ctx context.Context, req *protocol.ReverseRequest) (any, error) {
	return f(ctx, req)
}

type Config struct {
	Launcher       transport.Launcher
	RequestTimeout time.Duration
	ClientID       string
	ClientName     string
	// ReverseHandlers is keyed by command. Reverse requests without a handler are
	// logged and left unanswered.
	ReverseHandlers map[string]ReverseRequestHandler
	Logger          *logrus.Entry
}

// Client speaks DAP to one adapter process. A Client is started once; restarting a
// debuggee means building a new Client.
type Client struct {
	launcher        transport.Launcher
	timeout         time.Duration
	clientID        string
	clientName      string
	reverseHandlers map[string]ReverseRequestHandler
	log             *logrus.Entry

	lock      sync.Mutex
	started   bool
	adapter   *transport.Adapter
	transport *transport.Transport
	events    *chanx.UnboundedChan[dap.EventMessage]
	caps      dap.Capabilities
	readErr   error

	initialized atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
	done        chan struct{}

	seq     sequence
	pending *pendingTable
}

func New(cfg Config) *Client {
	c := &Client{
		launcher:        cfg.Launcher,
		timeout:         cfg.RequestTimeout,
		clientID:        cfg.ClientID,
		clientName:      cfg.ClientName,
		reverseHandlers: cfg.ReverseHandlers,
		log:             cfg.Logger,
		done:            make(chan struct{}),
		pending:         newPendingTable(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.log == nil {
		c.log = logrus.WithField("layer", "client")
	}
	if c.reverseHandlers == nil {
		c.reverseHandlers = map[string]ReverseRequestHandler{}
	}
	return c
}

// Start launches the adapter and its reader goroutine. The returned channel carries
// adapter events in arrival order and is closed once the adapter stream ends.
func (c *Client) Start(ctx context.Context) (<-chan dap.EventMessage, error) {
	if c.closed.Load() {
		return nil, e.ErrClientClosed
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.started {
		return nil, e.ErrAlreadyRunning
	}
	if c.launcher == nil {
		return nil, fmt.Errorf("%w: no launcher configured", e.ErrSpawn)
	}
	adapter, err := c.launcher.Launch(ctx)
	if err != nil {
		if !errors.Is(err, e.ErrSpawn) {
			err = fmt.Errorf("%w: %v", e.ErrSpawn, err)
		}
		c.log.WithError(err).Error("start debug adapter")
		return nil, err
	}

	c.adapter = adapter
	c.transport = transport.New(adapter.Stdout, adapter.Stdin, adapter, c.log.WithField("layer", "transport"))
	c.events = chanx.NewUnboundedChan[dap.EventMessage](context.Background(), eventBufferSize)
	c.started = true
	gosync.GoWithRecover(context.Background(), c.readLoop, func(err error) {
		c.pending.failAll(fmt.Errorf("%w: reader stopped: %v", e.ErrIO, err))
	})
	return c.events.Out, nil
}

func (c *Client) readLoop(_ context.Context) {
	defer close(c.done)
	defer close(c.events.In)

	err := c.transport.ReadLoop(c)
	if err != nil {
		c.lock.Lock()
		c.readErr = err
		c.lock.Unlock()
		c.log.WithError(err).Error("reader stopped")
		return
	}
	c.log.Info("debug adapter stream closed")
}

// Done is closed when the reader goroutine has exited, or by Close on a client that
// never started.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the reader, nil for a clean EOF.
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.readErr
}

// Stderr returns the adapter's stderr stream, or nil before Start.
func (c *Client) Stderr() io.Reader {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.adapter == nil {
		return nil
	}
	return c.adapter.Stderr
}

func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// Capabilities returns what the adapter reported from initialize.
func (c *Client) Capabilities() dap.Capabilities {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.caps
}

func (c *Client) checkReady(command string) error {
	if c.closed.Load() {
		return e.ErrClientClosed
	}
	c.lock.Lock()
	started := c.started
	c.lock.Unlock()
	if !started {
		return e.ErrNotStarted
	}
	if command != constants.CommandInitialize && !c.initialized.Load() {
		return e.ErrNotInitialized
	}
	return nil
}

// Shutdown asks the adapter to disconnect and then closes the client. The disconnect
// is best effort: its failure is logged and the adapter is killed regardless.
func (c *Client) Shutdown(ctx context.Context, terminateDebuggee bool) error {
	if c.initialized.Load() && !c.closed.Load() {
		err := c.Disconnect(ctx, dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee})
		if err != nil {
			c.log.WithError(err).Warn("disconnect failed, killing debug adapter")
		}
	}
	return c.Close()
}

// Close fails every pending request with ErrClientClosed, kills the adapter and waits
// for the reader to exit. It is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.pending.failAll(e.ErrClientClosed)

		c.lock.Lock()
		tr, started := c.transport, c.started
		c.lock.Unlock()
		if !started {
			close(c.done)
			return
		}
		err = tr.Close()
		<-c.done
		// 关闭期间注册的请求
		c.pending.failAll(e.ErrClientClosed)
	})
	return err
}

// HandleResponse routes a response to its waiter.
func (c *Client) HandleResponse(frame *protocol.Frame, err error) {
	if !c.pending.resolve(frame.Envelope.RequestSeq, result{frame: frame, err: err}) {
		c.log.Debugf("drop unmatched %s", frame)
	}
}

func (c *Client) HandleEvent(frame *protocol.Frame) {
	event, ok := frame.Message.(dap.EventMessage)
	if !ok {
		c.log.Warnf("drop %s: not an event message", frame)
		return
	}
	c.events.In <- event
}

// HandleRequest answers an adapter-initiated request with its registered handler.
func (c *Client) HandleRequest(frame *protocol.Frame) {
	req, err := frame.ReverseRequest()
	if err != nil {
		c.log.WithError(err).Warn("drop reverse request")
		return
	}
	handler, ok := c.reverseHandlers[req.Command]
	if !ok {
		c.log.Warnf("no handler for reverse request %s (seq %d), ignored", req.Command, req.Seq)
		return
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		body, err := handler.HandleReverseRequest(ctx, req)
		message := ""
		if err != nil {
			c.log.WithError(err).Warnf("reverse request %s failed", req.Command)
			message = err.Error()
			body = nil
		}
		resp := protocol.NewResponse(c.seq.next(), req.Seq, req.Command, err == nil, message, body)
		if err = c.transport.Send(resp); err != nil {
			c.log.WithError(err).Warnf("reply to reverse request %s", req.Command)
		}
	})
}

// decodeBody unmarshals the response body into v. A missing body leaves v untouched.
func decodeBody(frame *protocol.Frame, v any) error {
	raw := frame.Body()
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", e.ErrProtocol, frame.Envelope.Command, err)
	}
	return nil
}
