package utils

import (
	"context"
	"sync"
	"time"

	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个空闲计时器
// 如果在timeout时间内没有执行Reset，就会执行fun函数，fun最多执行一次
type TimeoutManager struct {
	timeout       time.Duration
	fun           func()
	resetChannel  chan struct{}
	cancelChannel chan struct{}
	cancelOnce    sync.Once
	done          chan struct{}
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager(timeout time.Duration, fun func()) *TimeoutManager {
	return &TimeoutManager{
		timeout:       timeout,
		fun:           fun,
		resetChannel:  make(chan struct{}, 1),
		cancelChannel: make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start 开始计时
func (t *TimeoutManager) Start(ctx context.Context) {
	gosync.Go(ctx, func(ctx context.Context) {
		defer close(t.done)
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				logrus.Infof("[TimeoutManager] timer expired after %s", t.timeout)
				t.fun()
				return
			case <-t.resetChannel:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(t.timeout)
			case <-t.cancelChannel:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Reset 重置计时器，多次调用会合并
func (t *TimeoutManager) Reset() {
	select {
	case t.resetChannel <- struct{}{}:
	default:
	}
}

// Cancel 取消计时，不会再执行fun
func (t *TimeoutManager) Cancel() {
	t.cancelOnce.Do(func() {
		close(t.cancelChannel)
	})
}

// Done is closed once the timer fired or was cancelled.
func (t *TimeoutManager) Done() <-chan struct{} {
	return t.done
}
