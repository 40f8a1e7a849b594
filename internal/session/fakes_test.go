package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campusrun/campus-run/internal/device"
	"github.com/campusrun/campus-run/internal/ui"
	"github.com/campusrun/campus-run/pkg/file"
	"github.com/rs/zerolog"
)

type fakeHandle struct {
	pid    int
	done   chan struct{}
	once   sync.Once
	killed atomic.Bool
	out    *io.PipeReader
	w      *io.PipeWriter
}

func newFakeHandle(pid int, stream bool) *fakeHandle {
	h := &fakeHandle{pid: pid, done: make(chan struct{})}
	if stream {
		h.out, h.w = io.Pipe()
	}
	return h
}

func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) Output() io.ReadCloser {
	if h.out == nil {
		return nil
	}
	return h.out
}

func (h *fakeHandle) Wait() error {
	<-h.done
	return nil
}

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	h.exit()
	return nil
}

func (h *fakeHandle) exit() {
	h.once.Do(func() {
		close(h.done)
		if h.w != nil {
			h.w.Close()
		}
	})
}

// fakeRunner answers device tool invocations from canned outputs.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	run     func(ctx context.Context, args []string) (string, error)

	spawned  []*fakeHandle
	exitOnce map[string]bool // spawned helpers that exit right away

	streamed *fakeHandle
	onStream func(h *fakeHandle)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{
			"amfi developer-mode-status": "true\n",
			"developer dvt ls /":         "/Applications\n/Developer\n/Library\n",
		},
		exitOnce: map[string]bool{},
	}
}

func (r *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	key := strings.Join(args, " ")
	r.mu.Lock()
	r.calls = append(r.calls, key)
	run := r.run
	output := r.outputs[key]
	r.mu.Unlock()

	if run != nil {
		return run(ctx, args)
	}
	return output, nil
}

func (r *fakeRunner) Spawn(args ...string) (device.Handle, error) {
	key := strings.Join(args, " ")
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, key)
	h := newFakeHandle(1000+len(r.spawned), false)
	if r.exitOnce[key] {
		h.exit()
	}
	r.spawned = append(r.spawned, h)
	return h, nil
}

func (r *fakeRunner) Stream(args ...string) (device.Handle, error) {
	r.mu.Lock()
	r.calls = append(r.calls, strings.Join(args, " "))
	h := newFakeHandle(2000, true)
	r.streamed = h
	onStream := r.onStream
	r.mu.Unlock()

	if onStream != nil {
		go onStream(h)
	}
	return h, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRunner) Spawned() []*fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeHandle(nil), r.spawned...)
}

type testSession struct {
	*Session
	runner *fakeRunner
	out    *ui.Buffer
	mu     sync.Mutex
	sleeps []time.Duration
}

func (ts *testSession) Sleeps() []time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]time.Duration(nil), ts.sleeps...)
}

func newTestSession(t *testing.T, config Config) *testSession {
	t.Helper()

	ts := &testSession{runner: newFakeRunner(), out: &ui.Buffer{}}
	ts.Session = New(config, ts.runner, file.NewFileService(), ts.out, zerolog.Nop())
	ts.isElevated = func() bool { return true }
	ts.sleep = func(ctx context.Context, d time.Duration) error {
		ts.mu.Lock()
		ts.sleeps = append(ts.sleeps, d)
		ts.mu.Unlock()
		return ctx.Err()
	}
	ts.randInt64N = func(n int64) int64 { return n - 1 }
	ts.memoryOf = func(int) (uint64, error) { return 8192, nil }
	t.Cleanup(ts.Cleanup)
	return ts
}
