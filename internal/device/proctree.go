package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// ErrProcessTermination reports a process that could not be killed. Callers
// log it; a process that no longer exists is not an error.
var ErrProcessTermination = errors.New("process termination failed")

// KillTree kills pid and all of its descendants, deepest first.
func KillTree(ctx context.Context, pid int, logger zerolog.Logger) error {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// Already gone.
		logger.Debug().Int("pid", pid).Msg("Process not found, nothing to kill")
		return nil
	}
	return killTree(ctx, proc, logger)
}

func killTree(ctx context.Context, proc *process.Process, logger zerolog.Logger) error {
	var errs []error

	for _, child := range children(ctx, proc) {
		if err := killTree(ctx, child, logger); err != nil {
			errs = append(errs, err)
		}
	}

	running, err := proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return errors.Join(errs...)
	}

	logger.Debug().Int32("pid", proc.Pid).Msg("Killing process")
	if err := proc.KillWithContext(ctx); err != nil {
		if still, _ := proc.IsRunningWithContext(ctx); still {
			logger.Warn().Err(err).Int32("pid", proc.Pid).Msg("Failed to kill process")
			errs = append(errs, fmt.Errorf("%w: pid %d: %v", ErrProcessTermination, proc.Pid, err))
		}
	}
	return errors.Join(errs...)
}

// children lists the direct children of proc. Some platforms resolve
// children through pgrep; when that fails the process table is scanned.
func children(ctx context.Context, proc *process.Process) []*process.Process {
	kids, err := proc.ChildrenWithContext(ctx)
	if err == nil {
		return kids
	}

	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	kids = kids[:0]
	for _, p := range all {
		if ppid, err := p.PpidWithContext(ctx); err == nil && ppid == proc.Pid {
			kids = append(kids, p)
		}
	}
	return kids
}
