// Package process implements Viua green processes: PID allocation, the
// mailbox/result-slot handshake spawn/send/receive/join drive, and the
// lifecycle states a process moves through under a scheduler.
package process

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// State is a process's scheduling lifecycle state.
type State uint8

const (
	Runnable State = iota
	Running
	Suspended
	TerminatedOk
	TerminatedErr
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case TerminatedOk:
		return "TerminatedOk"
	case TerminatedErr:
		return "TerminatedErr"
	default:
		return "?"
	}
}

var (
	ErrNoWatchdog       = errors.New("process: watchdog already registered")
	ErrMailboxTimeout   = errors.New("process: receive timed out")
	ErrNotJoinable      = errors.New("process: Process_cannot_be_joined")
	ErrJoinTargetAlive  = errors.New("process: join target still running")
)

// Pid uniquely identifies a process for the lifetime of the VM.
type Pid uint64

var pidCounter uint64

// NextPid allocates a fresh, monotonically increasing Pid.
func NextPid() Pid { return Pid(atomic.AddUint64(&pidCounter, 1)) }

// WakeReason says why a Suspended process was moved back to Runnable.
type WakeReason uint8

const (
	WakeNone WakeReason = iota
	WakeMessage
	WakeJoinTargetDone
	WakeIOComplete
	WakeDeadline
)

// SuspendReason records what a Suspended process is waiting for, so a
// scheduler can decide whether an incoming event should wake it.
type SuspendReason struct {
	OnMailbox   bool
	OnJoinPid   Pid
	OnIORequest uint64
	Deadline    time.Time // zero means no deadline
	HasDeadline bool
}

// Mailbox is a process's private FIFO message queue.
type Mailbox struct {
	mu   sync.Mutex
	msgs []value.Value
}

// Push enqueues v. Safe for concurrent senders.
func (m *Mailbox) Push(v value.Value) {
	m.mu.Lock()
	m.msgs = append(m.msgs, v)
	m.mu.Unlock()
}

// Pop dequeues the oldest message, or ok=false if empty.
func (m *Mailbox) Pop() (value.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		return value.Value{}, false
	}
	v := m.msgs[0]
	m.msgs = m.msgs[1:]
	return v, true
}

// Len reports the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Result is the outcome recorded for a joinable process: either a return
// value (Ok) or a thrown value (the process terminated abnormally).
type Result struct {
	Value      value.Value
	Ok         bool
	Done       bool
	Disowned   bool
}

// Process is one green thread of execution: an instruction pointer into a
// module's .text, a call stack, a mailbox, and the bookkeeping a
// scheduler needs to run it cooperatively.
type Process struct {
	Pid    Pid
	Parent Pid

	ModulePath string
	IP         uint64

	Stack *stack.Stack
	// Ephemeral, when non-nil, is the ephemeral stack the process
	// is currently running deferred calls on; the process resumes its
	// owning stack once it is exhausted.
	Ephemeral *stack.Stack

	Mailbox *Mailbox

	state   State
	stateMu sync.Mutex

	suspend SuspendReason

	watchdogFn string
	hasWatchdog bool

	disowned bool

	InstructionsRun uint64
}

// New creates a process starting at entryOffset in ModulePath's .text,
// with an empty main stack. Scheduling begins once the caller Pushes an
// initial Frame onto Stack and sets state Runnable.
func New(pid, parent Pid, modulePath string, entryOffset uint64, disowned bool) *Process {
	return &Process{
		Pid:        pid,
		Parent:     parent,
		ModulePath: modulePath,
		IP:         entryOffset,
		Stack:      stack.NewStack(),
		Mailbox:    &Mailbox{},
		state:      Runnable,
		disowned:   disowned,
	}
}

// State returns the process's current lifecycle state.
func (p *Process) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// SetState transitions the process to st.
func (p *Process) SetState(st State) {
	p.stateMu.Lock()
	p.state = st
	p.stateMu.Unlock()
}

// Suspend marks the process Suspended for reason r.
func (p *Process) Suspend(r SuspendReason) {
	p.suspend = r
	p.SetState(Suspended)
}

// SuspendReason returns the reason the process is currently suspended
// for. Only meaningful while State() == Suspended.
func (p *Process) SuspendReason() SuspendReason { return p.suspend }

// RegisterWatchdog sets fn_name as the callback to run if this process
// terminates from an uncaught exception. Only one watchdog may be
// registered per process.
func (p *Process) RegisterWatchdog(fnName string) error {
	if p.hasWatchdog {
		return ErrNoWatchdog
	}
	p.watchdogFn = fnName
	p.hasWatchdog = true
	return nil
}

// Watchdog returns the registered watchdog function name, if any.
func (p *Process) Watchdog() (string, bool) { return p.watchdogFn, p.hasWatchdog }

// Disowned reports whether this process was spawned disowned (no result
// slot, not joinable).
func (p *Process) Disowned() bool { return p.disowned }

func (p *Process) String() string {
	return fmt.Sprintf("Process<%d>[%s]", p.Pid, p.State())
}
