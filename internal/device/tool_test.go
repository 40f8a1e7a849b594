//go:build !windows

package device

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellTool(timeout time.Duration) *Tool {
	return NewTool([]string{"sh", "-c"}, timeout, zerolog.Nop())
}

func TestTool_RunCombinedOutput(t *testing.T) {
	out, err := shellTool(5*time.Second).Run(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Contains(t, out, "out\n")
	assert.Contains(t, out, "err\n")
}

func TestTool_RunFeedsNewline(t *testing.T) {
	out, err := shellTool(5*time.Second).Run(context.Background(), `read line && echo "got:[$line]"`)
	require.NoError(t, err)
	assert.Equal(t, "got:[]\n", out)
}

func TestTool_RunFailureKeepsOutput(t *testing.T) {
	out, err := shellTool(5*time.Second).Run(context.Background(), "echo broken; exit 3")
	assert.Error(t, err)
	assert.Equal(t, "broken\n", out)
}

func TestTool_RunTimeout(t *testing.T) {
	start := time.Now()
	_, err := shellTool(100*time.Millisecond).Run(context.Background(), "sleep 10")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTool_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := shellTool(time.Minute).Run(ctx, "sleep 10")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTool_StreamReadsLines(t *testing.T) {
	h, err := shellTool(0).Stream("echo one; echo two >&2")
	require.NoError(t, err)
	defer h.Output().Close()

	data, err := io.ReadAll(h.Output())
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
	assert.NoError(t, h.Wait())
	assert.False(t, h.Running())
}

func TestTool_KillTerminatesDescendants(t *testing.T) {
	h, err := shellTool(0).Stream("sleep 30 & sleep 30 & echo ready; wait")
	require.NoError(t, err)
	defer h.Output().Close()

	reader := bufio.NewReader(h.Output())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)
	assert.True(t, h.Running())

	require.NoError(t, h.Kill())

	// The backgrounded sleep shares the output pipe, so EOF only arrives
	// once the whole tree is gone.
	done := make(chan struct{})
	go func() {
		_, _ = io.ReadAll(reader)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("descendant process survived Kill")
	}

	_ = h.Wait()
	assert.False(t, h.Running())
	assert.NoError(t, h.Kill(), "killing an exited process is a no-op")
}

func TestTool_KillReachesOrphanedDescendants(t *testing.T) {
	h, err := shellTool(0).Stream("sleep 30 & echo ready")
	require.NoError(t, err)
	defer h.Output().Close()

	reader := bufio.NewReader(h.Output())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)

	// The shell exits at once and its sleep is reparented, still holding
	// the output pipe.
	require.NoError(t, h.Wait())
	assert.False(t, h.Running())

	require.NoError(t, h.Kill())

	done := make(chan struct{})
	go func() {
		_, _ = io.ReadAll(reader)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned descendant survived Kill")
	}
}

func TestTool_SpawnHelper(t *testing.T) {
	h, err := shellTool(0).Spawn("echo started; sleep 30")
	require.NoError(t, err)
	assert.Nil(t, h.Output())
	assert.Greater(t, h.Pid(), 0)
	assert.True(t, h.Running())

	require.NoError(t, h.Kill())
	done := make(chan struct{})
	go func() {
		_ = h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper survived Kill")
	}
}

func TestTool_StartFailure(t *testing.T) {
	tool := NewTool([]string{"/definitely/not/a/binary"}, time.Second, zerolog.Nop())
	h, err := tool.Spawn("x")
	assert.Error(t, err)
	assert.Nil(t, h)
}

func TestKillTree_MissingProcess(t *testing.T) {
	assert.NoError(t, KillTree(context.Background(), 1<<30, zerolog.Nop()))
}

func TestLogWriter_SplitsLines(t *testing.T) {
	w := &logWriter{logger: zerolog.Nop()}
	n, err := w.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, _ = w.Write([]byte(" line\nnext"))
	assert.Equal(t, "next", string(w.buf))
}
