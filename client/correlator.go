package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
)

// result 一个请求的结果，frame 和 err 只有一个有效
type result struct {
	frame *protocol.Frame
	err   error
}

// sequence hands out request seq numbers starting at 1.
type sequence struct {
	n atomic.Int64
}

func (s *sequence) next() int {
	return int(s.n.Add(1))
}

// pendingTable 正在等待响应的请求。锁只在插入和删除时持有，等待响应时不持有
type pendingTable struct {
	lock    sync.Mutex
	pending map[int]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{pending: map[int]chan result{}}
}

func (p *pendingTable) register(seq int) <-chan result {
	ch := make(chan result, 1)
	p.lock.Lock()
	p.pending[seq] = ch
	p.lock.Unlock()
	return ch
}

// resolve removes seq and delivers r to its waiter. It returns false if nothing was
// waiting for seq.
func (p *pendingTable) resolve(seq int, r result) bool {
	p.lock.Lock()
	ch, ok := p.pending[seq]
	delete(p.pending, seq)
	p.lock.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

func (p *pendingTable) remove(seq int) {
	p.lock.Lock()
	delete(p.pending, seq)
	p.lock.Unlock()
}

// failAll resolves every waiter with err and returns how many there were.
func (p *pendingTable) failAll(err error) int {
	p.lock.Lock()
	drained := p.pending
	p.pending = map[int]chan result{}
	p.lock.Unlock()
	for _, ch := range drained {
		ch <- result{err: err}
	}
	return len(drained)
}

func (p *pendingTable) len() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.pending)
}

// sendRequest sends one request and waits for its response, the request timeout or
// ctx, whichever comes first. An adapter rejection becomes a *RequestFailedError.
func (c *Client) sendRequest(ctx context.Context, command string, arguments any) (*protocol.Frame, error) {
	if err := c.checkReady(command); err != nil {
		return nil, err
	}
	seq := c.seq.next()
	ch := c.pending.register(seq)
	if err := c.transport.Send(protocol.NewRequest(seq, command, arguments)); err != nil {
		c.pending.remove(seq)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if !r.frame.Envelope.Success {
			return nil, &e.RequestFailedError{Command: command, Message: protocol.ErrorMessage(r.frame)}
		}
		return r.frame, nil
	case <-timer.C:
		c.pending.remove(seq)
		return nil, fmt.Errorf("%w: %s (seq %d) got no response within %s", e.ErrTimeout, command, seq, c.timeout)
	case <-ctx.Done():
		c.pending.remove(seq)
		return nil, ctx.Err()
	}
}
