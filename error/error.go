package error

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn 调试适配器进程无法启动
	ErrSpawn = errors.New("debug adapter spawn failed")
	// ErrIO 与适配器的读写失败
	ErrIO = errors.New("debug adapter io error")
	// ErrProtocol 无法解析的协议消息
	ErrProtocol = errors.New("malformed protocol message")
	// ErrTimeout 请求在超时时间内没有收到响应
	ErrTimeout              = errors.New("request timeout")
	ErrNotInitialized       = errors.New("client is not initialized")
	ErrAlreadyRunning       = errors.New("client is already running")
	ErrNotStarted           = errors.New("client is not started")
	ErrClientClosed         = errors.New("client is closed")
	ErrProgramIsRunning     = errors.New("the program is not stopped")
	ErrBreakpointNotFound   = errors.New("breakpoint not found")
	ErrNotRestartable       = errors.New("session has no launch configuration to restart")
	ErrSessionClosed        = errors.New("session is closed")
	ErrLanguageNotSupported = errors.New("this language is not supported")
	ErrNoThread             = errors.New("no thread to operate on")
)

// RequestFailedError 适配器明确拒绝了请求 (success == false)
type RequestFailedError struct {
	Command string
	Message string
}

func (r *RequestFailedError) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("request %s failed", r.Command)
	}
	return fmt.Sprintf("request %s failed: %s", r.Command, r.Message)
}

// IsRequestFailed reports whether err is an adapter rejection, returning it if so.
func IsRequestFailed(err error) (*RequestFailedError, bool) {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf, true
	}
	return nil, false
}

// IsRecoverable 调用方可以重试或放弃的错误
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if _, ok := IsRequestFailed(err); ok {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrProtocol)
}
