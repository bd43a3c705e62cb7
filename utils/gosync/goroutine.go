package gosync

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Go 封装的go协程工具，会兜住panic，但是目前只能传递ctx
func Go(ctx context.Context, task func(ctx context.Context)) {
	GoWithRecover(ctx, task, nil)
}

// GoWithRecover runs task in a new goroutine. A panic is logged and, when onPanic is
// not nil, reported to it as an error.
func GoWithRecover(ctx context.Context, task func(ctx context.Context), onPanic func(err error)) {
	go func(ctx context.Context, f func(ctx context.Context)) {
		defer func() {
			// 在每个协程内部接收该协程自身抛出来的 panic
			if r := recover(); r != nil {
				err := fmt.Errorf("goroutine panic: %v", r)
				logrus.WithField("stack", string(debug.Stack())).Error(err)
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()

		f(ctx)
	}(ctx, task)
}
