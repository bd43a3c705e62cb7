package debugger

import (
	"context"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/sets/hashset"
	"github.com/fansqz/go-dap-engine/constants"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/fansqz/go-dap-engine/utils"
	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/google/go-dap"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/chanx"
)

const (
	defaultCacheSize = 256
	eventBufferSize  = 64
)

// DebugSession drives one debuggee through a DAP client: the handshake, breakpoints,
// execution control and inspection. Methods that change the session are meant to
// be called by a single goroutine; adapter events are applied concurrently by the
// session's own event pump.
type DebugSession struct {
	id        string
	factory   ClientFactory
	adapterID string
	cacheSize int
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	statusManager *utils.StatusManager

	// lock 保护下面的字段，发送请求时不持有
	lock       sync.Mutex
	client     Client
	generation int
	pumpDone   chan struct{}
	caps       dap.Capabilities
	closed     bool

	breakpoints      []*UserBreakpoint
	nextBreakpointID int
	syncedFiles      *hashset.Set

	threads          []dap.Thread
	currentThreadID  int
	hasCurrentThread bool
	frames           []dap.StackFrame
	scopes           *lru.Cache
	variables        *lru.Cache
	// epoch changes whenever cached inspection data is invalidated
	epoch uint64
	// stopSeq counts stopped events, so a resume finishing after a stop does not
	// overwrite it with Running
	stopSeq uint64

	lastLaunch *protocol.LaunchArguments

	events *chanx.UnboundedChan[SessionEvent]
}

func NewDebugSession(factory ClientFactory, opts ...Option) (*DebugSession, error) {
	d := &DebugSession{
		id:               utils.GetUUID(),
		factory:          factory,
		cacheSize:        defaultCacheSize,
		statusManager:    utils.NewStatusManager(),
		nextBreakpointID: 1,
		syncedFiles:      hashset.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logrus.WithField("layer", "session")
	}
	d.log = d.log.WithField("session", utils.ShortID(d.id))

	var err error
	if d.scopes, err = lru.New(d.cacheSize); err != nil {
		return nil, err
	}
	if d.variables, err = lru.New(d.cacheSize); err != nil {
		return nil, err
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.events = chanx.NewUnboundedChan[SessionEvent](context.Background(), eventBufferSize)
	return d, nil
}

func (d *DebugSession) ID() string {
	return d.id
}

func (d *DebugSession) State() constants.DebugState {
	return d.statusManager.Get()
}

// Events returns the session's event stream. It has a single consumer and is
// closed by Close.
func (d *DebugSession) Events() <-chan SessionEvent {
	return d.events.Out
}

func (d *DebugSession) Capabilities() dap.Capabilities {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.caps
}

// CurrentThreadID returns the thread the last stop happened on, or the one picked
// with SelectThread.
func (d *DebugSession) CurrentThreadID() (int, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.currentThreadID, d.hasCurrentThread
}

// SelectThread makes threadID the target of execution control and StackTrace.
func (d *DebugSession) SelectThread(threadID int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.currentThreadID = threadID
	d.hasCurrentThread = true
}

func (d *DebugSession) Threads() []dap.Thread {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]dap.Thread(nil), d.threads...)
}

// Frames returns the frames of the last stack trace fetched while suspended.
func (d *DebugSession) Frames() []dap.StackFrame {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]dap.StackFrame(nil), d.frames...)
}

// Start creates the client and moves the session from Idle to Initializing.
func (d *DebugSession) Start(ctx context.Context) error {
	state := d.statusManager.Get()
	if state != constants.StateIdle {
		if state.IsTerminal() {
			return e.ErrSessionClosed
		}
		return e.ErrAlreadyRunning
	}
	return d.startClient(ctx)
}

func (d *DebugSession) startClient(ctx context.Context) error {
	c := d.factory()
	stream, err := c.Start(ctx)
	if err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.client = c
	d.generation++
	d.pumpDone = make(chan struct{})
	d.caps = dap.Capabilities{}
	d.syncedFiles.Clear()
	d.resetInspectionLocked()
	d.setStateLocked(constants.StateInitializing)

	gen, done := d.generation, d.pumpDone
	gosync.Go(d.ctx, func(ctx context.Context) {
		d.pump(ctx, gen, stream, done)
	})
	d.log.Infof("debug adapter started (generation %d)", gen)
	return nil
}

// Initialize negotiates capabilities with the adapter. The state stays Initializing.
func (d *DebugSession) Initialize(ctx context.Context) error {
	c, err := d.clientIn(constants.StateInitializing)
	if err != nil {
		return err
	}
	caps, err := c.Initialize(ctx, d.adapterID)
	if err != nil {
		return err
	}
	d.lock.Lock()
	d.caps = caps
	d.lock.Unlock()
	return nil
}

// Launch syncs breakpoints, launches the debuggee and finishes configuration. The
// arguments are kept for Restart.
func (d *DebugSession) Launch(ctx context.Context, args protocol.LaunchArguments) error {
	err := d.run(ctx, func(c Client) error {
		return c.Launch(ctx, args)
	})
	if err != nil {
		return err
	}
	saved := args.Clone()
	d.lock.Lock()
	d.lastLaunch = &saved
	d.lock.Unlock()
	return nil
}

// Attach is Launch for an already running process. Attached sessions cannot be
// restarted.
func (d *DebugSession) Attach(ctx context.Context, args protocol.AttachArguments) error {
	err := d.run(ctx, func(c Client) error {
		return c.Attach(ctx, args)
	})
	if err != nil {
		return err
	}
	d.lock.Lock()
	d.lastLaunch = nil
	d.lock.Unlock()
	return nil
}

func (d *DebugSession) run(ctx context.Context, start func(c Client) error) error {
	c, err := d.clientIn(constants.StateInitializing)
	if err != nil {
		return err
	}
	// 适配器通常要求在程序启动之前设置断点
	if err = d.SyncBreakpoints(ctx); err != nil {
		return fmt.Errorf("sync breakpoints: %w", err)
	}

	d.lock.Lock()
	stopSeq := d.stopSeq
	d.lock.Unlock()

	if err = start(c); err != nil {
		return err
	}
	if d.Capabilities().SupportsConfigurationDoneRequest {
		if err = c.ConfigurationDone(ctx); err != nil {
			return err
		}
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.stopSeq == stopSeq && d.statusManager.Is(constants.StateInitializing) {
		d.setStateLocked(constants.StateRunning)
	}
	return nil
}

// Restart ends the current debuggee and replays the last launch on a new adapter.
func (d *DebugSession) Restart(ctx context.Context) error {
	d.lock.Lock()
	last := d.lastLaunch
	old := d.client
	d.lock.Unlock()
	if last == nil {
		return e.ErrNotRestartable
	}
	if d.statusManager.Get() == constants.StateIdle {
		return e.ErrNotStarted
	}

	d.detach()
	if old != nil {
		if err := old.Shutdown(ctx, true); err != nil {
			d.log.WithError(err).Warn("shutdown before restart")
		}
	}
	if err := d.startClient(ctx); err != nil {
		d.lock.Lock()
		d.setStateLocked(constants.StateTerminated)
		d.lock.Unlock()
		return err
	}
	if err := d.Initialize(ctx); err != nil {
		return err
	}
	return d.Launch(ctx, last.Clone())
}

// Terminate asks the adapter to end the debuggee gracefully when it supports the
// terminate request, and disconnects otherwise.
func (d *DebugSession) Terminate(ctx context.Context) error {
	c, err := d.liveClient()
	if err != nil {
		return err
	}
	if d.Capabilities().SupportsTerminateRequest {
		return c.Terminate(ctx)
	}
	return d.Disconnect(ctx)
}

// Disconnect shuts the client down and moves the session to Terminated. The debuggee
// is terminated unless it was attached to.
func (d *DebugSession) Disconnect(ctx context.Context) error {
	d.lock.Lock()
	c := d.client
	terminate := d.lastLaunch != nil
	d.lock.Unlock()
	if c == nil {
		return e.ErrNotStarted
	}

	d.detach()
	err := c.Shutdown(ctx, terminate)

	d.lock.Lock()
	d.resetInspectionLocked()
	d.setStateLocked(constants.StateTerminated)
	d.lock.Unlock()
	return err
}

// Close disconnects if needed and closes the event stream.
func (d *DebugSession) Close(ctx context.Context) error {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return nil
	}
	c, done := d.client, d.pumpDone
	d.lock.Unlock()

	var err error
	if c != nil && !d.statusManager.Get().IsTerminal() {
		err = d.Disconnect(ctx)
	} else if c != nil {
		err = c.Shutdown(ctx, false)
	}
	d.cancel()
	if done != nil {
		<-done
	}

	d.lock.Lock()
	d.closed = true
	close(d.events.In)
	d.lock.Unlock()
	return err
}

// detach stops honoring events from the current client.
func (d *DebugSession) detach() {
	d.lock.Lock()
	d.generation++
	d.lock.Unlock()
}

// clientIn returns the client if the session is in one of states.
func (d *DebugSession) clientIn(states ...constants.DebugState) (Client, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	state := d.statusManager.Get()
	if !d.statusManager.Is(states...) {
		return nil, stateError(state)
	}
	return d.client, nil
}

func (d *DebugSession) liveClient() (Client, error) {
	return d.clientIn(constants.StateRunning, constants.StateStopped, constants.StatePaused)
}

func stateError(state constants.DebugState) error {
	switch {
	case state == constants.StateIdle:
		return e.ErrNotStarted
	case state.IsTerminal():
		return e.ErrSessionClosed
	case state.IsLive():
		return e.ErrAlreadyRunning
	default:
		return fmt.Errorf("%w: session is %s", e.ErrNotStarted, state)
	}
}

func (d *DebugSession) setStateLocked(to constants.DebugState) {
	from := d.statusManager.Set(to)
	if from == to {
		return
	}
	d.log.Infof("state %s -> %s", from, to)
	d.emitLocked(NewStateChangedEvent(from, to))
}

func (d *DebugSession) emitLocked(ev SessionEvent) {
	if d.closed {
		return
	}
	d.events.In <- ev
}

// invalidateLocked drops everything that is only valid while suspended.
func (d *DebugSession) invalidateLocked() {
	d.epoch++
	d.frames = nil
	d.scopes.Purge()
	d.variables.Purge()
}

func (d *DebugSession) resetInspectionLocked() {
	d.invalidateLocked()
	d.threads = nil
	d.currentThreadID = 0
	d.hasCurrentThread = false
}
