package kernel

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/internal/fixture"
	"github.com/viua-vm/viua/pkg/ioengine"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/value"
)

func TestMailboxSendAndDelete(t *testing.T) {
	k := New("")
	pid := process.NextPid()
	k.CreateMailbox(pid)

	assert.True(t, k.Send(pid, value.Int(42)))
	k.DeleteMailbox(pid)
	assert.False(t, k.Send(pid, value.Int(1)))
}

func TestResultSlotLifecycle(t *testing.T) {
	k := New("")
	pid := process.NextPid()
	k.CreateResultSlotFor(pid, false)

	assert.True(t, k.IsProcessJoinable(pid))
	_, ok := k.TransferResultOf(pid)
	assert.False(t, ok, "not Done yet")

	k.RecordProcessResult(pid, value.Int(99), true)
	slot, ok := k.TransferResultOf(pid)
	require.True(t, ok)
	assert.True(t, slot.Ok)
	v, _ := slot.Value.Int()
	assert.Equal(t, int64(99), v)

	_, ok = k.TransferResultOf(pid)
	assert.False(t, ok, "already transferred")
}

func TestDisownedNotJoinable(t *testing.T) {
	k := New("")
	pid := process.NextPid()
	k.CreateResultSlotFor(pid, true)
	assert.False(t, k.IsProcessJoinable(pid))
}

func TestDetachProcessMarksDisowned(t *testing.T) {
	k := New("")
	pid := process.NextPid()
	k.CreateResultSlotFor(pid, false)
	k.DetachProcess(pid)
	assert.False(t, k.IsProcessJoinable(pid))
}

func TestRunningCounterReachesZero(t *testing.T) {
	k := New("")
	k.IncRunning()
	k.IncRunning()
	assert.False(t, k.DecRunning())
	assert.True(t, k.DecRunning())
}

func TestLoadModuleCachesByPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/lib.vbc"
	data := fixture.NewELFBuilder().
		Text([]uint64{1, 2}).
		Function("greet", 0).
		Build("greet")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	k := New("")
	mod1, err := k.LoadModule(path)
	require.NoError(t, err)
	mod2, err := k.LoadModule(path)
	require.NoError(t, err)
	assert.Same(t, mod1, mod2)

	modPath, off, ok := k.EntryPointOf(path, "greet")
	require.True(t, ok)
	assert.Equal(t, path, modPath)
	assert.Equal(t, uint64(0), off)
}

func TestScheduleAndWaitIO(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	k := New("")
	defer k.CloseIOEngine()

	fd := int(w.Fd())
	id := k.NextIORequestID(fd)
	req := ioengine.NewWriteRequest(id, fd, []byte("hi"))
	wait := k.WaitChannel(id)
	k.ScheduleIO(req)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for IO completion")
	}

	assert.True(t, k.IOComplete(id))
	res, ok := k.IOResult(id)
	require.True(t, ok)
	assert.Equal(t, 2, res.N)
}

func TestCancelIOUnknownRequest(t *testing.T) {
	k := New("")
	defer k.CloseIOEngine()
	assert.False(t, k.CancelIO(999))
}
