package scheduler

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
)

// Pool owns a fixed set of process Schedulers plus the bookkeeping to
// shut them all down once the Kernel's running-process count reaches
// zero. FFI and I/O worker pools are separate (see pkg/ffi and
// pkg/ioengine) and are never sized or stolen from by this Pool.
type Pool struct {
	kernel     *kernel.Kernel
	schedulers []*Scheduler
	wg         sync.WaitGroup

	terminatedHook func(*process.Process)

	mu         sync.Mutex
	doneCalled bool
}

// NewPool creates count schedulers, each driving instructions via
// runner, each preempting after budget non-greedy instructions.
func NewPool(k *kernel.Kernel, runner Runner, count, budget int) *Pool {
	if count < 1 {
		count = 1
	}
	if budget < 1 {
		budget = DefaultPreemptionThreshold
	}
	pool := &Pool{kernel: k}
	pool.schedulers = make([]*Scheduler, count)
	for i := range pool.schedulers {
		pool.schedulers[i] = newScheduler(i, k, runner, budget)
	}
	return pool
}

// SchedulerCount reads VIUA_PROC_SCHEDULERS, falling back to
// min(NumCPU, 4) per the implementation-recommended default.
func SchedulerCount() int {
	if v := os.Getenv("VIUA_PROC_SCHEDULERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

// Start launches one goroutine per scheduler. onTerminatedProcess, if
// non-nil, is called once for every process that reaches a Terminated*
// state. After calling it, Pool decrements the Kernel's running-process
// counter itself and triggers shutdown when it reaches zero.
func (p *Pool) Start(onTerminatedProcess func(*process.Process)) {
	p.terminatedHook = onTerminatedProcess
	for _, s := range p.schedulers {
		p.wg.Add(1)
		go s.run(p)
	}
}

// Spawn assigns p to the scheduler with the shortest queue and wakes it.
func (p *Pool) Spawn(proc *process.Process) {
	var target *Scheduler
	best := -1
	for _, s := range p.schedulers {
		n := s.QueueLen()
		if best == -1 || n < best {
			best, target = n, s
		}
	}
	target.Enqueue(proc)
}

// onTerminated is invoked by a Scheduler once a process it ran reaches a
// terminal state.
func (p *Pool) onTerminated(proc *process.Process) {
	if p.terminatedHook != nil {
		p.terminatedHook(proc)
	}
	if p.kernel.DecRunning() {
		p.Shutdown()
	}
}

// Shutdown signals every scheduler to stop once its current slice ends
// and waits for all worker goroutines to exit. Safe to call more than
// once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	already := p.doneCalled
	p.doneCalled = true
	p.mu.Unlock()
	if already {
		return
	}
	for _, s := range p.schedulers {
		s.requestShutdown()
	}
}

// Wait blocks until every scheduler goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }

// victimOrder returns the schedulers eligible for stealing by
// excludeID, starting with the Kernel's recorded preferred victim.
func (p *Pool) victimOrder(excludeID int) []*Scheduler {
	preferred := p.kernel.PreferredVictim()
	order := make([]*Scheduler, 0, len(p.schedulers))
	if preferred >= 0 && preferred < len(p.schedulers) && preferred != excludeID {
		order = append(order, p.schedulers[preferred])
	}
	for _, s := range p.schedulers {
		if s.id == excludeID || s.id == preferred {
			continue
		}
		order = append(order, s)
	}
	return order
}
