package stack

import (
	"errors"
	"fmt"

	"github.com/viua-vm/viua/pkg/value"
)

// State is the lifecycle state of a Stack.
type State uint8

const (
	// Running is the normal state: the top frame is executing.
	Running State = iota
	// SuspendedByDeferredOnFramePop means a frame removal handed control
	// to an ephemeral stack running that frame's deferred calls; this
	// stack resumes once the ephemeral stack finishes.
	SuspendedByDeferredOnFramePop
)

func (s State) String() string {
	if s == SuspendedByDeferredOnFramePop {
		return "SuspendedByDeferredOnFramePop"
	}
	return "Running"
}

var (
	// ErrEmptyStack is returned by operations that require at least one
	// frame.
	ErrEmptyStack = errors.New("stack: no frame on stack")
	// ErrNoHandler is returned when THROW finds no matching try-frame
	// anywhere on the stack.
	ErrNoHandler = errors.New("stack: no handler for thrown value")
	// ErrStackOverflow is returned when CALL would exceed the configured
	// frame limit.
	ErrStackOverflow = errors.New("stack: overflow")
)

// DefaultFrameLimit bounds the number of frames a single Stack may hold,
// matching the Stack_overflow fault in the interpreter's fault table.
const DefaultFrameLimit = 8192

// Stack is an ordered sequence of Frames plus the try-frames protecting
// them. A process owns one main Stack and, transiently, one ephemeral
// stack per in-flight deferred-call batch; SpawnEphemeral/Resume link an
// ephemeral stack back to the stack that spawned it.
type Stack struct {
	frames []*Frame
	tries  []*TryFrame

	state State
	limit int

	// pending holds entry points frames spawn on the stack: a stack
	// suspended by RETURN/TAILCALL/THROW links here, and is resumed by
	// whichever scheduler step runs the ephemeral deferred stack to
	// completion.
	pending *Stack

	// PendingFrame holds the frame FRAME is preparing; CALL/TAILCALL/
	// ACTOR/DEFER consume it.
	PendingFrame *Frame

	// caught holds the value a THROW handed to Unwind's matched handler,
	// the Stack-level slot DRAW reads from (unwind_call_stack_to's
	// caught = std::move(thrown) in the original runtime). nil outside
	// of an active catch block.
	caught *value.Value
}

// NewStack creates an empty stack with the default frame limit.
func NewStack() *Stack { return &Stack{limit: DefaultFrameLimit} }

// State reports the stack's current lifecycle state.
func (s *Stack) State() State { return s.state }

// SetState transitions the stack's state. Exported so the interpreter's
// CALL/RETURN/TAILCALL/THROW handlers can drive the
// Running<->SuspendedByDeferredOnFramePop cycle described in §4.4/§4.10.
func (s *Stack) SetState(st State) { s.state = st }

// Depth returns the number of active frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Top returns the innermost frame, or nil if the stack is empty.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Push installs f as the new top frame. Returns ErrStackOverflow if doing
// so would exceed the stack's frame limit.
func (s *Stack) Push(f *Frame) error {
	if len(s.frames) >= s.limit {
		return fmt.Errorf("%w: limit %d", ErrStackOverflow, s.limit)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes and returns the top frame, expiring its register sets'
// liveness tokens. Returns ErrEmptyStack if the stack has no frames.
func (s *Stack) Pop() (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, ErrEmptyStack
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	f.expire()
	s.dropTriesAbove(len(s.frames))
	return f, nil
}

// ReplaceTop swaps the current top frame for f without growing the stack
// depth, the "reuse the caller's frame slot" step TAILCALL performs.
func (s *Stack) ReplaceTop(f *Frame) error {
	if len(s.frames) == 0 {
		return ErrEmptyStack
	}
	old := s.frames[len(s.frames)-1]
	old.expire()
	s.frames[len(s.frames)-1] = f
	return nil
}

// dropTriesAbove removes try-frames whose FrameDepth is past depth (the
// number of frames left), the cleanup a frame pop or an unwind performs
// so stale try-frames don't linger once their owning frame is gone.
func (s *Stack) dropTriesAbove(depth int) {
	i := len(s.tries)
	for i > 0 && s.tries[i-1].FrameDepth > depth {
		i--
	}
	s.tries = s.tries[:i]
}

// OpenTry pushes a new try-frame bound to the current top frame.
// Implements TRY.
func (s *Stack) OpenTry() (*TryFrame, error) {
	if len(s.frames) == 0 {
		return nil, ErrEmptyStack
	}
	t := &TryFrame{Frame: s.Top(), FrameDepth: len(s.frames)}
	s.tries = append(s.tries, t)
	return t, nil
}

// CurrentTry returns the innermost open try-frame, or nil.
func (s *Stack) CurrentTry() *TryFrame {
	if len(s.tries) == 0 {
		return nil
	}
	return s.tries[len(s.tries)-1]
}

// CloseTry pops the innermost try-frame. Implements LEAVE's bookkeeping.
func (s *Stack) CloseTry() error {
	if len(s.tries) == 0 {
		return errors.New("stack: no open try-frame")
	}
	s.tries = s.tries[:len(s.tries)-1]
	return nil
}

// Unwind searches try-frames from innermost to outermost for one whose
// catch table has an entry for any of candidateTags (caller supplies the
// thrown tag followed by its ancestor tags, most specific first). On a
// match it pops every frame above the try-frame's owning frame, running
// collect(frame) against each popped frame so the caller can schedule its
// deferred calls, and returns the matching try-frame and the matching
// CatchEntry. The owning frame itself (at depth t.FrameDepth) is never
// popped: execution resumes inside it, matching
// unwind_call_stack_to in the original runtime, which never pops the
// frame a try-frame is associated with.
func (s *Stack) Unwind(candidateTags []string, collect func(*Frame)) (*TryFrame, CatchEntry, error) {
	for ti := len(s.tries) - 1; ti >= 0; ti-- {
		t := s.tries[ti]
		for _, tag := range candidateTags {
			entry, ok := t.Find(tag)
			if !ok {
				continue
			}
			for len(s.frames) > t.FrameDepth {
				f, err := s.Pop()
				if err != nil {
					return nil, CatchEntry{}, err
				}
				collect(f)
			}
			s.tries = s.tries[:ti]
			return t, entry, nil
		}
	}
	return nil, CatchEntry{}, ErrNoHandler
}

// SpawnEphemeral creates a fresh stack for running a frame's deferred
// calls on, links it behind this stack so Resume can find its way back,
// and returns it. Implements the "convert pending deferred calls into a
// private stack" step of RETURN/TAILCALL/THROW.
func (s *Stack) SpawnEphemeral() *Stack {
	eph := NewStack()
	eph.pending = s
	return eph
}

// Resume returns the stack that spawned this ephemeral stack, or nil if
// this is a process's main stack.
func (s *Stack) Resume() *Stack { return s.pending }

// SetCaught stashes v as the value a matched handler block will DRAW.
// Called once by THROW's unwind after a handler is found.
func (s *Stack) SetCaught(v value.Value) { s.caught = &v }

// TakeCaught reads and clears the stashed caught value. Implements
// DRAW's "move" semantics: a second DRAW without an intervening THROW
// finds nothing, matching the original's std::move into the handler.
func (s *Stack) TakeCaught() (value.Value, bool) {
	if s.caught == nil {
		return value.Value{}, false
	}
	v := *s.caught
	s.caught = nil
	return v, true
}
