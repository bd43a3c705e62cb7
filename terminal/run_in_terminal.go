// Package terminal answers the runInTerminal reverse request by starting the
// debuggee on a pseudo terminal owned by this process.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/creack/pty"
	"github.com/fansqz/go-dap-engine/client"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/fansqz/go-dap-engine/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var ErrNoProcess = errors.New("no process started in terminal")

// OutputFunc receives everything the debuggee writes to its terminal.
type OutputFunc func(output string)

type process struct {
	cmd  *exec.Cmd
	ptm  *os.File
	done chan struct{}
}

// Handler implements client.ReverseRequestHandler for runInTerminal.
type Handler struct {
	output OutputFunc
	log    *logrus.Entry

	lock   sync.Mutex
	procs  []*process
	closed bool
}

var _ client.ReverseRequestHandler = (*Handler)(nil)

func NewHandler(output OutputFunc, log *logrus.Entry) *Handler {
	if output == nil {
		output = func(string) {}
	}
	if log == nil {
		log = logrus.WithField("layer", "terminal")
	}
	return &Handler{output: output, log: log}
}

// HandleReverseRequest starts the requested command with its stdio bound to a new pty.
func (h *Handler) HandleReverseRequest(ctx context.Context, req *protocol.ReverseRequest) (any, error) {
	var args dap.RunInTerminalRequestArguments
	if err := req.Decode(&args); err != nil {
		return nil, err
	}
	if len(args.Args) == 0 {
		return nil, errors.New("runInTerminal: empty command")
	}

	h.lock.Lock()
	closed := h.closed
	h.lock.Unlock()
	if closed {
		return nil, errors.New("runInTerminal: terminal closed")
	}

	cmd := exec.Command(args.Args[0], args.Args[1:]...)
	cmd.Dir = args.Cwd
	cmd.Env = mergeEnv(os.Environ(), args.Env)

	// 启动一个虚拟终端
	ptm, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("runInTerminal: start %s: %w", args.Args[0], err)
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		h.log.WithError(err).Warn("make terminal raw")
	}

	p := &process{cmd: cmd, ptm: ptm, done: make(chan struct{})}
	h.lock.Lock()
	h.procs = append(h.procs, p)
	h.lock.Unlock()

	h.log.Infof("started %q in terminal, pid %d", args.Title, cmd.Process.Pid)
	// 启动协程循环读取用户输出
	gosync.Go(context.Background(), func(ctx context.Context) {
		h.processOutput(p)
	})
	return dap.RunInTerminalResponseBody{ProcessId: cmd.Process.Pid}, nil
}

func (h *Handler) processOutput(p *process) {
	defer close(p.done)
	b := make([]byte, 1024)
	for {
		n, err := p.ptm.Read(b)
		if n > 0 {
			h.output(string(b[:n]))
		}
		if err != nil {
			break
		}
	}
	if err := p.cmd.Wait(); err != nil {
		h.log.Debugf("terminal process %d exited: %v", p.cmd.Process.Pid, err)
	}
}

// Send writes input to the most recently started process.
func (h *Handler) Send(input string) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if len(h.procs) == 0 {
		return ErrNoProcess
	}
	_, err := h.procs[len(h.procs)-1].ptm.Write([]byte(input))
	return err
}

// Wait blocks until every started process has exited and its output was delivered.
func (h *Handler) Wait(ctx context.Context) error {
	h.lock.Lock()
	procs := append([]*process(nil), h.procs...)
	h.lock.Unlock()
	for _, p := range procs {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close kills the processes still running and releases their terminals.
func (h *Handler) Close() {
	h.lock.Lock()
	procs := h.procs
	h.procs = nil
	h.closed = true
	h.lock.Unlock()
	for _, p := range procs {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.log.WithError(err).Warnf("kill terminal process %d", p.cmd.Process.Pid)
		}
		_ = p.ptm.Close()
	}
}

// mergeEnv applies the requested variables on top of base. A nil value unsets.
func mergeEnv(base []string, env map[string]interface{}) []string {
	if len(env) == 0 {
		return base
	}
	values := map[string]string{}
	var order []string
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := values[k]; !seen {
			order = append(order, k)
		}
		values[k] = v
	}
	for k, v := range env {
		if v == nil {
			delete(values, k)
			continue
		}
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = fmt.Sprint(v)
	}
	sort.Strings(order)
	result := make([]string, 0, len(values))
	for _, k := range order {
		if v, ok := values[k]; ok {
			result = append(result, k+"="+v)
		}
	}
	return result
}
