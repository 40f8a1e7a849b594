// Package device runs the external device-control tool and owns the
// lifetime of the processes it spawns.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/campusrun/campus-run/internal/constants"
	"github.com/rs/zerolog"
)

// Runner invokes the device-control tool.
type Runner interface {
	// Run executes the tool to completion and returns its combined output.
	Run(ctx context.Context, args ...string) (string, error)
	// Spawn starts a long-running helper whose output is only logged.
	Spawn(args ...string) (Handle, error)
	// Stream starts the tool with its combined output readable from the
	// returned handle.
	Stream(args ...string) (Handle, error)
}

// Handle is a started tool process.
type Handle interface {
	Pid() int
	// Running reports whether the process has not exited yet.
	Running() bool
	// Output returns the combined stdout/stderr stream, or nil for spawned
	// helpers. The caller closes it.
	Output() io.ReadCloser
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process and all of its descendants.
	Kill() error
}

// Tool invokes the device-control tool through a fixed argv prefix, for
// example ["python3", "-m", "pymobiledevice3"].
type Tool struct {
	command []string
	timeout time.Duration
	stdin   string
	logger  zerolog.Logger
}

// NewTool creates a Tool. A zero timeout falls back to the default.
func NewTool(command []string, timeout time.Duration, logger zerolog.Logger) *Tool {
	if len(command) == 0 {
		command = constants.DefaultToolCommand
	}
	if timeout == 0 {
		timeout = constants.DefaultCommandTimeout
	}
	return &Tool{
		command: command,
		timeout: timeout,
		stdin:   "\n",
		logger:  logger,
	}
}

func (t *Tool) argv(args []string) []string {
	return append(append([]string{}, t.command[1:]...), args...)
}

// Run executes the tool and returns its combined output. The tool receives a
// single newline on stdin so that interactive confirmation prompts proceed.
// Cancelling ctx kills the process tree.
func (t *Tool) Run(ctx context.Context, args ...string) (string, error) {
	t.logger.Debug().Strs("args", args).Msg("Running device tool")

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, t.command[0], t.argv(args)...)
	cmd.Stdin = strings.NewReader(t.stdin)
	cmd.Stdout = &output
	cmd.Stderr = &output
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killTreeAndGroup(cmd.Process.Pid, t.logger)
	}
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.logger.Error().Strs("args", args).Msg("Device tool timed out")
			return output.String(), fmt.Errorf("device tool timed out after %s: %w", t.timeout, ctx.Err())
		}
		if ctx.Err() != nil {
			return output.String(), ctx.Err()
		}
		return output.String(), fmt.Errorf("device tool %s failed: %w", strings.Join(args, " "), err)
	}
	return output.String(), nil
}

// Spawn starts a helper whose output is forwarded to the debug log.
func (t *Tool) Spawn(args ...string) (Handle, error) {
	w := &logWriter{logger: t.logger.With().Str("helper", strings.Join(args, " ")).Logger()}
	h, err := t.start(args, w, nil)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Stream starts the tool with combined output available from Output.
func (t *Tool) Stream(args ...string) (Handle, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	h, err := t.start(args, w, r)
	// The child holds its own copy of the write end; EOF arrives once it and
	// its descendants exit.
	w.Close()
	if err != nil {
		r.Close()
		return nil, err
	}
	return h, nil
}

func (t *Tool) start(args []string, out io.Writer, reader *os.File) (*toolProcess, error) {
	cmd := exec.Command(t.command[0], t.argv(args)...)
	setProcessGroup(cmd)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start device tool %s: %w", strings.Join(args, " "), err)
	}

	t.logger.Info().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("Started device tool process")

	p := &toolProcess{cmd: cmd, output: reader, done: make(chan struct{}), logger: t.logger}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type toolProcess struct {
	cmd    *exec.Cmd
	output *os.File
	done   chan struct{}
	err    error
	logger zerolog.Logger
}

func (p *toolProcess) Pid() int { return p.cmd.Process.Pid }

func (p *toolProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *toolProcess) Output() io.ReadCloser {
	if p.output == nil {
		return nil
	}
	return p.output
}

func (p *toolProcess) Wait() error {
	<-p.done
	return p.err
}

// Kill terminates the process tree and then the process group the tool
// leads, which still reaches descendants after the tool itself has exited.
func (p *toolProcess) Kill() error {
	if !p.Running() {
		return killGroup(p.Pid())
	}
	return killTreeAndGroup(p.Pid(), p.logger)
}

func killTreeAndGroup(pid int, logger zerolog.Logger) error {
	return errors.Join(KillTree(context.Background(), pid, logger), killGroup(pid))
}

func killGroup(pgid int) error {
	if err := killProcessGroup(pgid); err != nil {
		return fmt.Errorf("%w: process group %d: %w", ErrProcessTermination, pgid, err)
	}
	return nil
}

// logWriter forwards helper output to the logger line by line.
type logWriter struct {
	logger zerolog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logger.Debug().Msg(line)
		}
	}
	return len(b), nil
}
