package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
)

// countingRunner runs every process to completion on its first slice,
// regardless of budget, recording how many times each pid was run.
type countingRunner struct {
	mu  sync.Mutex
	ran map[process.Pid]int
}

func newCountingRunner() *countingRunner {
	return &countingRunner{ran: make(map[process.Pid]int)}
}

func (r *countingRunner) RunSlice(p *process.Process, budget int) (bool, error) {
	r.mu.Lock()
	r.ran[p.Pid]++
	r.mu.Unlock()
	p.SetState(process.TerminatedOk)
	return true, nil
}

func (r *countingRunner) count(pid process.Pid) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran[pid]
}

func TestPoolRunsSpawnedProcessToTermination(t *testing.T) {
	k := kernel.New("")
	runner := newCountingRunner()
	pool := NewPool(k, runner, 2, DefaultPreemptionThreshold)

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Start(func(p *process.Process) { wg.Done() })

	proc := process.New(process.NextPid(), 0, "main.vbc", 0, false)
	k.IncRunning()
	pool.Spawn(proc)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process never ran to completion")
	}

	assert.Equal(t, 1, runner.count(proc.Pid))
	pool.Shutdown()
	pool.Wait()
}

// yieldOnceRunner halts nothing on the first call (simulating a budget
// exhaustion) and terminates on the second.
type yieldOnceRunner struct {
	mu    sync.Mutex
	calls map[process.Pid]int
}

func (r *yieldOnceRunner) RunSlice(p *process.Process, budget int) (bool, error) {
	r.mu.Lock()
	r.calls[p.Pid]++
	n := r.calls[p.Pid]
	r.mu.Unlock()
	if n < 2 {
		return false, nil
	}
	p.SetState(process.TerminatedOk)
	return true, nil
}

func TestProcessIsReenqueuedAfterPreemption(t *testing.T) {
	k := kernel.New("")
	runner := &yieldOnceRunner{calls: make(map[process.Pid]int)}
	pool := NewPool(k, runner, 1, DefaultPreemptionThreshold)

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Start(func(p *process.Process) { wg.Done() })

	proc := process.New(process.NextPid(), 0, "main.vbc", 0, false)
	k.IncRunning()
	pool.Spawn(proc)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process never ran to completion")
	}

	runner.mu.Lock()
	calls := runner.calls[proc.Pid]
	runner.mu.Unlock()
	assert.Equal(t, 2, calls)
	pool.Shutdown()
	pool.Wait()
}

func TestSpawnPicksShortestQueue(t *testing.T) {
	k := kernel.New("")
	runner := newCountingRunner()
	pool := NewPool(k, runner, 2, DefaultPreemptionThreshold)

	// Directly enqueue onto scheduler 0 to make it the longer queue,
	// without starting workers that would immediately drain it.
	pool.schedulers[0].queue = []*process.Process{
		process.New(process.NextPid(), 0, "m", 0, false),
	}

	proc := process.New(process.NextPid(), 0, "main.vbc", 0, false)
	pool.Spawn(proc)

	assert.Equal(t, 1, pool.schedulers[1].QueueLen())
	assert.Equal(t, 1, pool.schedulers[0].QueueLen())
}

func TestDonateHalfSplitsQueue(t *testing.T) {
	k := kernel.New("")
	runner := newCountingRunner()
	pool := NewPool(k, runner, 1, DefaultPreemptionThreshold)
	s := pool.schedulers[0]

	for i := 0; i < 4; i++ {
		s.queue = append(s.queue, process.New(process.NextPid(), 0, "m", 0, false))
	}

	stolen := s.donateHalf()
	require.Len(t, stolen, 2)
	assert.Equal(t, 2, s.QueueLen())
}

func TestSchedulerCountDefaultsAndRespectsEnv(t *testing.T) {
	t.Setenv("VIUA_PROC_SCHEDULERS", "3")
	assert.Equal(t, 3, SchedulerCount())

	t.Setenv("VIUA_PROC_SCHEDULERS", "")
	assert.GreaterOrEqual(t, SchedulerCount(), 1)
	assert.LessOrEqual(t, SchedulerCount(), 4)
}
