package debugger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/utils"
	"github.com/google/go-dap"
)

// AddBreakpoint records a breakpoint and, while the debuggee is live, sends the
// file's breakpoints to the adapter. The breakpoint is kept even if that sync fails.
func (d *DebugSession) AddBreakpoint(ctx context.Context, file string, line int, opts ...BreakpointOption) (UserBreakpoint, error) {
	d.lock.Lock()
	bp := &UserBreakpoint{
		ID:      d.nextBreakpointID,
		File:    file,
		Line:    line,
		Enabled: true,
	}
	for _, opt := range opts {
		opt(bp)
	}
	d.nextBreakpointID++
	d.breakpoints = append(d.breakpoints, bp)
	d.lock.Unlock()

	err := d.syncIfLive(ctx, file)
	return d.breakpointCopy(bp.ID), err
}

// RemoveBreakpoint 删除断点
func (d *DebugSession) RemoveBreakpoint(ctx context.Context, id int) error {
	d.lock.Lock()
	index := d.indexOfLocked(id)
	if index < 0 {
		d.lock.Unlock()
		return e.ErrBreakpointNotFound
	}
	file := d.breakpoints[index].File
	d.breakpoints = append(d.breakpoints[:index], d.breakpoints[index+1:]...)
	d.lock.Unlock()

	return d.syncIfLive(ctx, file)
}

// EnableBreakpoint toggles a breakpoint. Disabled breakpoints stay in the session
// but are never sent to the adapter.
func (d *DebugSession) EnableBreakpoint(ctx context.Context, id int, enabled bool) error {
	d.lock.Lock()
	index := d.indexOfLocked(id)
	if index < 0 {
		d.lock.Unlock()
		return e.ErrBreakpointNotFound
	}
	bp := d.breakpoints[index]
	changed := bp.Enabled != enabled
	bp.Enabled = enabled
	d.lock.Unlock()

	if !changed {
		return nil
	}
	return d.syncIfLive(ctx, bp.File)
}

// Breakpoints returns a snapshot ordered by id.
func (d *DebugSession) Breakpoints() []UserBreakpoint {
	d.lock.Lock()
	defer d.lock.Unlock()
	result := make([]UserBreakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		result = append(result, *bp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// SyncBreakpoints sends one setBreakpoints per file, in file name order. Files whose
// breakpoints are all disabled or removed get an empty list. The first failure stops
// the pass; files already done keep their results.
func (d *DebugSession) SyncBreakpoints(ctx context.Context) error {
	d.lock.Lock()
	if d.client == nil {
		d.lock.Unlock()
		return e.ErrNotStarted
	}
	snapshot := make([]UserBreakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		snapshot = append(snapshot, *bp)
	}
	files := utils.GroupByString(snapshot, func(bp UserBreakpoint) string {
		return bp.File
	})
	for _, f := range d.syncedFiles.Values() {
		if _, ok := files.Get(f); !ok {
			files.Put(f, []UserBreakpoint(nil))
		}
	}
	d.lock.Unlock()

	for _, key := range files.Keys() {
		if err := d.syncFile(ctx, key.(string)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DebugSession) syncIfLive(ctx context.Context, file string) error {
	if !d.statusManager.Get().IsLive() {
		return nil
	}
	return d.syncFile(ctx, file)
}

// syncFile replaces the adapter's breakpoints for file with the enabled ones and
// copies the verification results back by position.
func (d *DebugSession) syncFile(ctx context.Context, file string) error {
	d.lock.Lock()
	c, caps := d.client, d.caps
	var ids []int
	var submitted []dap.SourceBreakpoint
	for _, bp := range d.breakpoints {
		if bp.File != file {
			continue
		}
		if !bp.Enabled {
			bp.Verified = false
			continue
		}
		ids = append(ids, bp.ID)
		submitted = append(submitted, d.sourceBreakpoint(bp, caps))
	}
	d.lock.Unlock()
	if c == nil {
		return e.ErrNotStarted
	}

	source := dap.Source{Name: filepath.Base(file), Path: file}
	result, err := c.SetBreakpoints(ctx, source, submitted)
	if err != nil {
		return fmt.Errorf("set breakpoints in %s: %w", file, err)
	}
	if len(result) != len(ids) {
		d.log.Warnf("adapter returned %d breakpoints for %d submitted in %s", len(result), len(ids), file)
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	for i, id := range ids {
		index := d.indexOfLocked(id)
		if index < 0 {
			continue
		}
		d.breakpoints[index].Verified = i < len(result) && result[i].Verified
	}
	if len(ids) > 0 {
		d.syncedFiles.Add(file)
	} else {
		d.syncedFiles.Remove(file)
	}
	return nil
}

// sourceBreakpoint drops the options the adapter cannot honor. The user's intent
// stays on the UserBreakpoint.
func (d *DebugSession) sourceBreakpoint(bp *UserBreakpoint, caps dap.Capabilities) dap.SourceBreakpoint {
	sbp := dap.SourceBreakpoint{Line: bp.Line}
	if bp.Condition != "" {
		if caps.SupportsConditionalBreakpoints {
			sbp.Condition = bp.Condition
		} else {
			d.log.Warnf("breakpoint %s: adapter does not support conditions", bp)
		}
	}
	if bp.HitCondition != "" {
		if caps.SupportsHitConditionalBreakpoints {
			sbp.HitCondition = bp.HitCondition
		} else {
			d.log.Warnf("breakpoint %s: adapter does not support hit conditions", bp)
		}
	}
	if bp.LogMessage != "" {
		if caps.SupportsLogPoints {
			sbp.LogMessage = bp.LogMessage
		} else {
			d.log.Warnf("breakpoint %s: adapter does not support log points", bp)
		}
	}
	return sbp
}

func (d *DebugSession) indexOfLocked(id int) int {
	for i, bp := range d.breakpoints {
		if bp.ID == id {
			return i
		}
	}
	return -1
}

func (d *DebugSession) breakpointCopy(id int) UserBreakpoint {
	d.lock.Lock()
	defer d.lock.Unlock()
	if index := d.indexOfLocked(id); index >= 0 {
		return *d.breakpoints[index]
	}
	return UserBreakpoint{ID: id}
}
