// Package scheduler implements the work-stealing pool of process
// schedulers: one goroutine per scheduler, a mutex-protected run queue
// per scheduler, preemption after a fixed instruction budget, and
// cross-queue stealing when a scheduler runs dry. A steal removes
// processes from the victim's queue under its lock before the thief
// queues them, so no process is ever referenced by two schedulers at once.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
)

// DefaultPreemptionThreshold is the number of non-greedy instructions a
// process runs before being moved from Running back to Runnable at the
// tail of its scheduler's queue.
const DefaultPreemptionThreshold = 2048

// Runner executes up to budget non-greedy instructions of p. It reports
// halted=true if p left the Running state on its own (terminated or
// suspended) before the budget was exhausted; halted=false means the
// budget ran out while p was still Running, i.e. the scheduler should
// reschedule it.
//
// Defined here rather than satisfied by a concrete interpreter type so
// this package has no import-time dependency on instruction dispatch.
type Runner interface {
	RunSlice(p *process.Process, budget int) (halted bool, err error)
}

// Scheduler is one worker thread's run queue and state.
type Scheduler struct {
	id     int
	kernel *kernel.Kernel
	runner Runner
	budget int

	mu    sync.Mutex
	queue []*process.Process

	wake     chan struct{}
	shutdown int32
}

func newScheduler(id int, k *kernel.Kernel, r Runner, budget int) *Scheduler {
	return &Scheduler{
		id:     id,
		kernel: k,
		runner: r,
		budget: budget,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue pushes p onto the tail of this scheduler's run queue and wakes
// it if idle.
func (s *Scheduler) Enqueue(p *process.Process) {
	p.SetState(process.Runnable)
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.mu.Unlock()
	s.kernel.NotifyProcessSpawned(s.id)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// QueueLen reports the current queue depth, used by the pool to find a
// steal victim.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// pop removes and returns the front of the queue.
func (s *Scheduler) pop() (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, true
}

// donateHalf removes half of the queue (rounded down, so nothing from a
// queue of fewer than two) and returns it for migration to a stealing
// peer.
func (s *Scheduler) donateHalf() []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue) / 2
	if n == 0 {
		return nil
	}
	stolen := s.queue[:n]
	s.queue = s.queue[n:]
	return stolen
}

// requestShutdown sets the shutdown flag and wakes the worker so it can
// observe it.
func (s *Scheduler) requestShutdown() {
	atomic.StoreInt32(&s.shutdown, 1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) shuttingDown() bool {
	return atomic.LoadInt32(&s.shutdown) != 0
}

// run is the scheduler's main loop: pop, run for up to budget
// instructions, reschedule or retire, else try to steal, else wait.
func (s *Scheduler) run(pool *Pool) {
	defer pool.wg.Done()
	for {
		if s.shuttingDown() {
			return
		}

		p, ok := s.pop()
		if !ok {
			p, ok = s.steal(pool)
		}
		if !ok {
			<-s.wake
			continue
		}

		p.SetState(process.Running)
		halted, err := s.runner.RunSlice(p, s.budget)
		if err != nil {
			p.SetState(process.TerminatedErr)
		}
		switch p.State() {
		case process.TerminatedOk, process.TerminatedErr:
			pool.onTerminated(p)
		case process.Suspended:
			// Whoever suspended it (mailbox/join/IO wait) is
			// responsible for re-Enqueue-ing it on wake.
		default:
			if !halted {
				s.Enqueue(p)
			}
		}
	}
}

// steal asks the Kernel for a preferred victim, then scans the rest of
// the pool, taking half of the first non-empty queue found.
func (s *Scheduler) steal(pool *Pool) (*process.Process, bool) {
	order := pool.victimOrder(s.id)
	for _, victim := range order {
		stolen := victim.donateHalf()
		if len(stolen) == 0 {
			continue
		}
		for _, p := range stolen[1:] {
			s.mu.Lock()
			s.queue = append(s.queue, p)
			s.mu.Unlock()
		}
		return stolen[0], true
	}
	return nil, false
}
