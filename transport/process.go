package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/sirupsen/logrus"
)

// Launcher starts a debug adapter and hands back its stdio.
type Launcher interface {
	Launch(ctx context.Context) (*Adapter, error)
}

// Adapter is a running debug adapter. Stdout and Stdin belong to the transport.
// Stderr is left to the caller and must be drained if the adapter writes much to it.
type Adapter struct {
	Stdout io.Reader
	Stdin  io.Writer
	Stderr io.Reader
	Pid    int

	closeFn  func() error
	once     sync.Once
	closeErr error
}

func NewAdapter(stdout io.Reader, stdin io.Writer, stderr io.Reader, pid int, closeFn func() error) *Adapter {
	return &Adapter{
		Stdout:  stdout,
		Stdin:   stdin,
		Stderr:  stderr,
		Pid:     pid,
		closeFn: closeFn,
	}
}

// Close stops the adapter. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.once.Do(func() {
		if a.closeFn != nil {
			a.closeErr = a.closeFn()
		}
	})
	return a.closeErr
}

// ProcessLauncher runs the adapter as a child process with piped stdio.
type ProcessLauncher struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	// InheritEnv starts from the current process environment before applying Env.
	// With neither set the child inherits the environment as exec does by default.
	InheritEnv bool
	Log        *logrus.Entry
}

func (p *ProcessLauncher) Launch(ctx context.Context) (*Adapter, error) {
	if p.Command == "" {
		return nil, fmt.Errorf("%w: no adapter command", e.ErrSpawn)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrSpawn, err)
	}
	log := p.Log
	if log == nil {
		log = logrus.WithField("layer", "transport")
	}

	// 适配器的生命周期不跟随 ctx，由 Adapter.Close 结束
	cmd := exec.Command(p.Command, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = p.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", e.ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", e.ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", e.ErrSpawn, err)
	}
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", e.ErrSpawn, p.Command, err)
	}
	log.Infof("debug adapter started: %s %s (pid %d)", p.Command, strings.Join(p.Args, " "), cmd.Process.Pid)

	closeFn := func() error {
		_ = stdin.Close()
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.WithError(err).Warn("kill debug adapter")
		}
		// Kill 之后 Wait 的错误只是退出信号
		_ = cmd.Wait()
		if cmd.ProcessState != nil {
			log.Infof("debug adapter exited: %s", cmd.ProcessState)
		}
		return nil
	}
	return NewAdapter(stdout, stdin, stderr, cmd.Process.Pid, closeFn), nil
}

func (p *ProcessLauncher) buildEnv() []string {
	if !p.InheritEnv && len(p.Env) == 0 {
		return nil
	}
	env := map[string]string{}
	if p.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for k, v := range p.Env {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
