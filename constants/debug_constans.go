package constants

type DebugMessageType string

const (
	RequestMessage  DebugMessageType = "request"
	ResponseMessage DebugMessageType = "response"
	EventMessage    DebugMessageType = "event"
)

// DebugState 调试会话的生命周期状态
type DebugState string

const (
	// StateIdle 会话已创建，适配器未启动
	StateIdle DebugState = "idle"
	// StateInitializing 适配器已启动，正在握手
	StateInitializing DebugState = "initializing"
	// StateRunning 用户程序运行中
	StateRunning DebugState = "running"
	// StateStopped 用户程序因断点、单步等原因暂停
	StateStopped DebugState = "stopped"
	// StatePaused 用户程序被 pause 请求暂停
	StatePaused DebugState = "paused"
	// StateTerminated 调试结束
	StateTerminated DebugState = "terminated"
	// StateError 不可恢复的错误
	StateError DebugState = "error"
)

// IsTerminal reports whether no further transitions are expected without a restart.
func (s DebugState) IsTerminal() bool {
	return s == StateTerminated || s == StateError
}

// IsSuspended reports whether stack and variable inspection is meaningful.
func (s DebugState) IsSuspended() bool {
	return s == StateStopped || s == StatePaused
}

// IsLive reports whether the debuggee has been launched or attached and not yet ended.
func (s DebugState) IsLive() bool {
	return s == StateRunning || s.IsSuspended()
}

// DAP request commands sent by the client.
const (
	CommandInitialize              = "initialize"
	CommandLaunch                  = "launch"
	CommandAttach                  = "attach"
	CommandConfigurationDone       = "configurationDone"
	CommandSetBreakpoints          = "setBreakpoints"
	CommandSetFunctionBreakpoints  = "setFunctionBreakpoints"
	CommandSetExceptionBreakpoints = "setExceptionBreakpoints"
	CommandContinue                = "continue"
	CommandNext                    = "next"
	CommandStepIn                  = "stepIn"
	CommandStepOut                 = "stepOut"
	CommandPause                   = "pause"
	CommandDisconnect              = "disconnect"
	CommandTerminate               = "terminate"
	CommandThreads                 = "threads"
	CommandStackTrace              = "stackTrace"
	CommandScopes                  = "scopes"
	CommandVariables               = "variables"
	CommandEvaluate                = "evaluate"
	// CommandRunInTerminal 适配器发起的反向请求
	CommandRunInTerminal = "runInTerminal"
)

type DebugEventType string

const (
	InitializedEvent DebugEventType = "initialized"
	BreakpointEvent  DebugEventType = "breakpoint"
	OutputEvent      DebugEventType = "output"
	StoppedEvent     DebugEventType = "stopped"
	ContinuedEvent   DebugEventType = "continued"
	ExitedEvent      DebugEventType = "exited"
	TerminatedEvent  DebugEventType = "terminated"
	ThreadEvent      DebugEventType = "thread"
	ModuleEvent      DebugEventType = "module"
)

// SessionEventType 会话对外发出的事件类型
type SessionEventType string

const (
	SessionStateChanged      SessionEventType = "stateChanged"
	SessionOutput            SessionEventType = "output"
	SessionStopped           SessionEventType = "stopped"
	SessionThreadStarted     SessionEventType = "threadStarted"
	SessionThreadExited      SessionEventType = "threadExited"
	SessionBreakpointChanged SessionEventType = "breakpointChanged"
	SessionModuleLoaded      SessionEventType = "moduleLoaded"
	SessionTerminated        SessionEventType = "terminated"
	SessionError             SessionEventType = "error"
)

// ThreadReasonType thread 事件的 reason
type ThreadReasonType string

const (
	ThreadStarted ThreadReasonType = "started"
	ThreadExited  ThreadReasonType = "exited"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "pause"
	EntryStopped      StoppedReasonType = "entry"
	ExceptionStopped  StoppedReasonType = "exception"
)

// OutputCategory output 事件的类别
type OutputCategory string

const (
	OutputConsole   OutputCategory = "console"
	OutputStdout    OutputCategory = "stdout"
	OutputStderr    OutputCategory = "stderr"
	OutputTelemetry OutputCategory = "telemetry"
)

// EvaluateContext evaluate 请求的上下文
type EvaluateContext string

const (
	EvaluateWatch     EvaluateContext = "watch"
	EvaluateRepl      EvaluateContext = "repl"
	EvaluateHover     EvaluateContext = "hover"
	EvaluateClipboard EvaluateContext = "clipboard"
)
