package debugger

import (
	"context"
	"fmt"

	"github.com/fansqz/go-dap-engine/constants"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/google/go-dap"
)

// pump applies the events of one client generation until its stream closes.
func (d *DebugSession) pump(ctx context.Context, gen int, stream <-chan dap.EventMessage, done chan struct{}) {
	defer close(done)
	for ev := range stream {
		d.handleEvent(ctx, gen, ev)
	}
	d.onStreamClosed(gen)
}

func (d *DebugSession) handleEvent(ctx context.Context, gen int, ev dap.EventMessage) {
	d.lock.Lock()
	current := gen == d.generation
	d.lock.Unlock()
	if !current {
		return
	}

	switch event := ev.(type) {
	case *dap.StoppedEvent:
		d.onStopped(ctx, gen, event.Body)
	case *dap.ContinuedEvent:
		d.onContinued(gen)
	case *dap.OutputEvent:
		d.emitIfCurrent(gen, NewOutputEvent(constants.OutputCategory(event.Body.Category), event.Body.Output))
	case *dap.TerminatedEvent:
		d.onTerminated(gen)
	case *dap.ThreadEvent:
		d.onThread(gen, event.Body)
	case *dap.BreakpointEvent:
		d.emitIfCurrent(gen, NewBreakpointChangedEvent(event.Body.Reason, event.Body.Breakpoint))
	case *dap.ModuleEvent:
		d.emitIfCurrent(gen, NewModuleLoadedEvent(event.Body.Reason, event.Body.Module.Name, event.Body.Module.Path))
	default:
		d.log.Debugf("ignore event %s", ev.GetEvent().Event)
	}
}

// onStopped 程序暂停，记录线程并在后台刷新一次栈帧
func (d *DebugSession) onStopped(ctx context.Context, gen int, body dap.StoppedEventBody) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation || d.statusManager.Get().IsTerminal() {
		return
	}
	d.stopSeq++
	d.invalidateLocked()
	if body.ThreadId != 0 {
		d.currentThreadID = body.ThreadId
		d.hasCurrentThread = true
	}
	d.setStateLocked(constants.StateStopped)
	stopped := NewStoppedEvent(constants.StoppedReasonType(body.Reason), body.ThreadId, body.Description)
	stopped.AllThreadsStopped = body.AllThreadsStopped
	d.emitLocked(stopped)

	if !d.hasCurrentThread {
		d.log.Debug("stopped without a thread, skip stack refresh")
		return
	}
	c, threadID, epoch := d.client, d.currentThreadID, d.epoch
	// 不阻塞事件循环，后续的 output、terminated 事件照常处理
	gosync.Go(ctx, func(ctx context.Context) {
		d.refreshFrames(ctx, gen, c, threadID, epoch)
	})
}

// refreshFrames stores the stack of threadID unless the stop it was fetched for
// has since been invalidated.
func (d *DebugSession) refreshFrames(ctx context.Context, gen int, c Client, threadID int, epoch uint64) {
	frames, err := c.StackTrace(ctx, threadID, 0, 0)

	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation {
		return
	}
	if err != nil {
		if d.epoch != epoch {
			return
		}
		d.log.WithError(err).Warnf("refresh stack trace of thread %d", threadID)
		d.emitLocked(NewErrorEvent(fmt.Errorf("refresh stack trace: %w", err)))
		return
	}
	if d.epoch == epoch {
		d.frames = frames
	}
}

func (d *DebugSession) onContinued(gen int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation || !d.statusManager.Is(constants.StateRunning, constants.StateStopped, constants.StatePaused) {
		return
	}
	d.invalidateLocked()
	d.setStateLocked(constants.StateRunning)
}

func (d *DebugSession) onTerminated(gen int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation {
		return
	}
	d.invalidateLocked()
	d.setStateLocked(constants.StateTerminated)
	d.emitLocked(NewTerminatedEvent())
}

func (d *DebugSession) onThread(gen int, body dap.ThreadEventBody) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation {
		return
	}
	switch constants.ThreadReasonType(body.Reason) {
	case constants.ThreadStarted:
		d.emitLocked(NewThreadStartedEvent(body.ThreadId))
	case constants.ThreadExited:
		for i, t := range d.threads {
			if t.Id == body.ThreadId {
				d.threads = append(d.threads[:i], d.threads[i+1:]...)
				break
			}
		}
		d.emitLocked(NewThreadExitedEvent(body.ThreadId))
	default:
		d.log.Debugf("ignore thread event reason %s", body.Reason)
	}
}

func (d *DebugSession) emitIfCurrent(gen int, ev SessionEvent) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen == d.generation {
		d.emitLocked(ev)
	}
}

// onStreamClosed handles the adapter going away. Losing it while the session is
// still active is fatal for the session.
func (d *DebugSession) onStreamClosed(gen int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if gen != d.generation {
		return
	}
	state := d.statusManager.Get()
	if state.IsTerminal() || state == constants.StateIdle {
		return
	}
	d.log.Error("debug adapter connection lost")
	d.invalidateLocked()
	d.setStateLocked(constants.StateError)
	d.emitLocked(NewErrorEvent(fmt.Errorf("%w: debug adapter connection closed", e.ErrIO)))
}
