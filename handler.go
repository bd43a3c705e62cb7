package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fansqz/go-dap-engine/config"
	"github.com/fansqz/go-dap-engine/constants"
	"github.com/fansqz/go-dap-engine/debugger"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/google/go-dap"
)

const helpText = `commands:
  continue|c            resume the current thread
  next|n                step over
  step|s                step into
  out|o                 step out
  pause                 pause the program
  threads               list threads
  thread <id>           select the thread used by execution commands
  bt [thread]           print the stack of a thread
  scopes <frame>        list the scopes of a frame
  vars <ref>            list the variables of a reference
  eval|p <expr>         evaluate an expression in the top frame
  break|b <file:line> [if cond]
  delete|d <id>         remove a breakpoint
  enable|disable <id>   toggle a breakpoint
  breakpoints|bl        list breakpoints
  input <text>          write a line to the program terminal
  status                print the session state
  restart               restart the program
  quit|q                end the session
`

// handle 执行一行命令，返回是否退出
func (c *Console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch name {
	case "continue", "c":
		err = c.session.Continue(ctx)
	case "next", "n":
		err = c.session.Next(ctx)
	case "step", "s":
		err = c.session.StepIn(ctx)
	case "out", "o":
		err = c.session.StepOut(ctx)
	case "pause":
		err = c.session.Pause(ctx)
	case "threads":
		err = c.handleThreads(ctx)
	case "thread":
		err = c.handleSelectThread(rest)
	case "bt", "backtrace":
		err = c.handleBacktrace(ctx, rest)
	case "scopes":
		err = c.handleScopes(ctx, rest)
	case "vars":
		err = c.handleVariables(ctx, rest)
	case "eval", "p":
		err = c.handleEvaluate(ctx, rest)
	case "break", "b":
		err = c.handleAddBreakpoint(ctx, rest)
	case "delete", "d":
		err = c.withBreakpointID(rest, func(id int) error {
			return c.session.RemoveBreakpoint(ctx, id)
		})
	case "enable", "disable":
		err = c.withBreakpointID(rest, func(id int) error {
			return c.session.EnableBreakpoint(ctx, id, name == "enable")
		})
	case "breakpoints", "bl":
		c.printBreakpoints(c.session.Breakpoints())
	case "input":
		err = c.handleInput(rest)
	case "status":
		c.printf("session %s: %s\n", c.session.ID(), c.session.State())
	case "restart":
		err = c.session.Restart(ctx)
	case "help", "h":
		c.print(helpText)
	case "quit", "q", "exit":
		return true
	default:
		c.printf("unknown command %q, type help\n", name)
	}
	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *Console) handleThreads(ctx context.Context) error {
	threads, err := c.session.RefreshThreads(ctx)
	if err != nil {
		return err
	}
	current, ok := c.session.CurrentThreadID()
	for _, t := range threads {
		marker := " "
		if ok && t.Id == current {
			marker = "*"
		}
		c.printf("%s %d %s\n", marker, t.Id, t.Name)
	}
	return nil
}

func (c *Console) handleSelectThread(arg string) error {
	id, err := parseID(arg, "thread id")
	if err != nil {
		return err
	}
	c.session.SelectThread(id)
	return nil
}

func (c *Console) handleBacktrace(ctx context.Context, arg string) error {
	threadID := 0
	if arg != "" {
		id, err := parseID(arg, "thread id")
		if err != nil {
			return err
		}
		threadID = id
	}
	frames, err := c.session.StackTrace(ctx, threadID)
	if err != nil {
		return err
	}
	c.printFrames(frames)
	return nil
}

func (c *Console) handleScopes(ctx context.Context, arg string) error {
	frameID, err := parseID(arg, "frame id")
	if err != nil {
		return err
	}
	scopes, err := c.session.Scopes(ctx, frameID)
	if err != nil {
		return err
	}
	for _, s := range scopes {
		c.printf("%s (vars %d)\n", s.Name, s.VariablesReference)
	}
	return nil
}

func (c *Console) handleVariables(ctx context.Context, arg string) error {
	ref, err := strconv.Atoi(arg)
	if err != nil || ref < 0 {
		return fmt.Errorf("invalid variables reference %q", arg)
	}
	variables, err := c.session.Variables(ctx, ref)
	if err != nil {
		return err
	}
	c.printVariables(variables)
	return nil
}

func (c *Console) handleEvaluate(ctx context.Context, expression string) error {
	if expression == "" {
		return fmt.Errorf("usage: eval <expr>")
	}
	frameID := 0
	if frames := c.session.Frames(); len(frames) > 0 {
		frameID = frames[0].Id
	}
	result, err := c.session.Evaluate(ctx, expression, frameID, constants.EvaluateRepl)
	if err != nil {
		return err
	}
	if result.Type != "" {
		c.printf("%s (%s)\n", result.Result, result.Type)
	} else {
		c.printf("%s\n", result.Result)
	}
	return nil
}

func (c *Console) handleAddBreakpoint(ctx context.Context, arg string) error {
	spec, err := config.ParseBreakpoint(arg)
	if err != nil {
		return err
	}
	var opts []debugger.BreakpointOption
	if spec.Condition != "" {
		opts = append(opts, debugger.WithCondition(spec.Condition))
	}
	bp, err := c.session.AddBreakpoint(ctx, spec.File, spec.Line, opts...)
	c.printf("breakpoint %d at %s:%d\n", bp.ID, bp.File, bp.Line)
	return err
}

func (c *Console) handleInput(text string) error {
	if c.terminal == nil {
		return fmt.Errorf("program has no terminal, start with --run-in-terminal")
	}
	return c.terminal.Send(text + "\n")
}

func (c *Console) withBreakpointID(arg string, f func(id int) error) error {
	id, err := parseID(arg, "breakpoint id")
	if err != nil {
		return err
	}
	if err = f(id); err != nil {
		if errors.Is(err, e.ErrBreakpointNotFound) {
			return fmt.Errorf("breakpoint %d not found", id)
		}
		return err
	}
	return nil
}

func (c *Console) printBreakpoints(bps []debugger.UserBreakpoint) {
	if len(bps) == 0 {
		c.print("no breakpoints\n")
		return
	}
	for _, bp := range bps {
		state := "pending"
		if !bp.Enabled {
			state = "disabled"
		} else if bp.Verified {
			state = "verified"
		}
		cond := ""
		if bp.Condition != "" {
			cond = " if " + bp.Condition
		}
		c.printf("%d %s:%d%s [%s]\n", bp.ID, bp.File, bp.Line, cond, state)
	}
}

func (c *Console) printFrames(frames []dap.StackFrame) {
	for i, f := range frames {
		c.printf("#%d %d %s line %d\n", i, f.Id, f.Name, f.Line)
	}
}

func (c *Console) printVariables(variables []dap.Variable) {
	for _, v := range variables {
		if v.Type != "" {
			c.printf("%s %s = %s", v.Name, v.Type, v.Value)
		} else {
			c.printf("%s = %s", v.Name, v.Value)
		}
		if v.VariablesReference != 0 {
			c.printf(" (vars %d)", v.VariablesReference)
		}
		c.print("\n")
	}
}

func parseID(arg string, what string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}
