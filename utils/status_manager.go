package utils

import (
	"sync"

	"github.com/fansqz/go-dap-engine/constants"
)

// StatusManager 记录调试会话的状态
type StatusManager struct {
	lock   sync.RWMutex
	status constants.DebugState
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: constants.StateIdle,
	}
}

// Set stores status and returns the previous one.
func (s *StatusManager) Set(status constants.DebugState) constants.DebugState {
	s.lock.Lock()
	defer s.lock.Unlock()
	prev := s.status
	s.status = status
	return prev
}

// CompareAndSet sets status only when the current status is one of from.
func (s *StatusManager) CompareAndSet(status constants.DebugState, from ...constants.DebugState) (constants.DebugState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	prev := s.status
	for _, f := range from {
		if prev == f {
			s.status = status
			return prev, true
		}
	}
	return prev, false
}

func (s *StatusManager) Get() constants.DebugState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.status
}

func (s *StatusManager) Is(statusList ...constants.DebugState) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
