package debugger

import (
	"fmt"

	"github.com/fansqz/go-dap-engine/constants"
	"github.com/google/go-dap"
)

// UserBreakpoint 用户设置的断点
// 只有 Verified 会被适配器的结果修改，其他字段都是用户的意图
type UserBreakpoint struct {
	ID           int
	File         string
	Line         int
	Condition    string
	HitCondition string
	LogMessage   string
	Enabled      bool
	Verified     bool
}

func (b UserBreakpoint) String() string {
	return fmt.Sprintf("#%d %s:%d", b.ID, b.File, b.Line)
}

type BreakpointOption func(*UserBreakpoint)

func WithCondition(condition string) BreakpointOption {
	return func(b *UserBreakpoint) {
		b.Condition = condition
	}
}

func WithHitCondition(hitCondition string) BreakpointOption {
	return func(b *UserBreakpoint) {
		b.HitCondition = hitCondition
	}
}

// WithLogMessage turns the breakpoint into a logpoint.
func WithLogMessage(message string) BreakpointOption {
	return func(b *UserBreakpoint) {
		b.LogMessage = message
	}
}

func Disabled() BreakpointOption {
	return func(b *UserBreakpoint) {
		b.Enabled = false
	}
}

// SessionEvent 会话对外发出的事件
type SessionEvent interface {
	Type() constants.SessionEventType
}

// StateChangedEvent 状态发生变化
type StateChangedEvent struct {
	From constants.DebugState
	To   constants.DebugState
}

func NewStateChangedEvent(from, to constants.DebugState) *StateChangedEvent {
	return &StateChangedEvent{From: from, To: to}
}

func (*StateChangedEvent) Type() constants.SessionEventType {
	return constants.SessionStateChanged
}

// OutputEvent
// 用户程序或适配器的输出
type OutputEvent struct {
	Category constants.OutputCategory
	Output   string
}

func NewOutputEvent(category constants.OutputCategory, output string) *OutputEvent {
	return &OutputEvent{Category: category, Output: output}
}

func (*OutputEvent) Type() constants.SessionEventType {
	return constants.SessionOutput
}

// StoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
// ThreadID 为 0 表示适配器没有给出线程
type StoppedEvent struct {
	Reason            constants.StoppedReasonType
	ThreadID          int
	Description       string
	AllThreadsStopped bool
}

func NewStoppedEvent(reason constants.StoppedReasonType, threadID int, description string) *StoppedEvent {
	return &StoppedEvent{Reason: reason, ThreadID: threadID, Description: description}
}

func (*StoppedEvent) Type() constants.SessionEventType {
	return constants.SessionStopped
}

type ThreadStartedEvent struct {
	ThreadID int
}

func NewThreadStartedEvent(threadID int) *ThreadStartedEvent {
	return &ThreadStartedEvent{ThreadID: threadID}
}

func (*ThreadStartedEvent) Type() constants.SessionEventType {
	return constants.SessionThreadStarted
}

type ThreadExitedEvent struct {
	ThreadID int
}

func NewThreadExitedEvent(threadID int) *ThreadExitedEvent {
	return &ThreadExitedEvent{ThreadID: threadID}
}

func (*ThreadExitedEvent) Type() constants.SessionEventType {
	return constants.SessionThreadExited
}

// BreakpointChangedEvent carries the adapter's view of a breakpoint. It is not
// applied to the session's own breakpoints.
type BreakpointChangedEvent struct {
	Reason     string
	Breakpoint dap.Breakpoint
}

func NewBreakpointChangedEvent(reason string, breakpoint dap.Breakpoint) *BreakpointChangedEvent {
	return &BreakpointChangedEvent{Reason: reason, Breakpoint: breakpoint}
}

func (*BreakpointChangedEvent) Type() constants.SessionEventType {
	return constants.SessionBreakpointChanged
}

type ModuleLoadedEvent struct {
	Reason string
	Name   string
	Path   string
}

func NewModuleLoadedEvent(reason, name, path string) *ModuleLoadedEvent {
	return &ModuleLoadedEvent{Reason: reason, Name: name, Path: path}
}

func (*ModuleLoadedEvent) Type() constants.SessionEventType {
	return constants.SessionModuleLoaded
}

// TerminatedEvent 调试结束
type TerminatedEvent struct {
}

func NewTerminatedEvent() *TerminatedEvent {
	return &TerminatedEvent{}
}

func (*TerminatedEvent) Type() constants.SessionEventType {
	return constants.SessionTerminated
}

// ErrorEvent reports a failure that happened outside any caller's request.
type ErrorEvent struct {
	Message string
	Err     error
}

func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{Message: err.Error(), Err: err}
}

func (*ErrorEvent) Type() constants.SessionEventType {
	return constants.SessionError
}
