package stack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/value"
)

func TestDeferredCallsDrainInLIFOOrder(t *testing.T) {
	f := NewFrame("main", NewRegisterSet(0))
	f.PushDeferred(DeferredCall{FunctionName: "d1"})
	f.PushDeferred(DeferredCall{FunctionName: "d2"})
	f.PushDeferred(DeferredCall{FunctionName: "d3"})

	order := f.TakeDeferred()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"d3", "d2", "d1"}, []string{order[0].FunctionName, order[1].FunctionName, order[2].FunctionName})

	assert.Empty(t, f.TakeDeferred())
}

func TestPushPopTracksDepthAndExpiresLiveness(t *testing.T) {
	s := NewStack()
	f := NewFrame("main", NewRegisterSet(0))
	f.AllocateLocals(1)
	require.NoError(t, f.Local.Set(0, value.Int(1)))
	tok, err := f.Local.Liveness(0)
	require.NoError(t, err)

	require.NoError(t, s.Push(f))
	assert.Equal(t, 1, s.Depth())
	assert.Same(t, f, s.Top())

	popped, err := s.Pop()
	require.NoError(t, err)
	assert.Same(t, f, popped)
	assert.Equal(t, 0, s.Depth())
	assert.False(t, tok.Alive())
}

func TestPopEmptyStack(t *testing.T) {
	s := NewStack()
	_, err := s.Pop()
	assert.True(t, errors.Is(err, ErrEmptyStack))
}

func TestStackOverflow(t *testing.T) {
	s := NewStack()
	s.limit = 1
	require.NoError(t, s.Push(NewFrame("a", NewRegisterSet(0))))
	err := s.Push(NewFrame("b", NewRegisterSet(0)))
	assert.True(t, errors.Is(err, ErrStackOverflow))
}

func TestUnwindFindsHandlerAndCollectsDeferred(t *testing.T) {
	s := NewStack()

	outer := NewFrame("outer", NewRegisterSet(0))
	require.NoError(t, s.Push(outer))
	tryFrame, err := s.OpenTry()
	require.NoError(t, err)
	tryFrame.AddCatch("Oops", 0x100)

	inner := NewFrame("inner", NewRegisterSet(0))
	inner.PushDeferred(DeferredCall{FunctionName: "cleanup"})
	require.NoError(t, s.Push(inner))

	var collected []*Frame
	matched, entry, err := s.Unwind([]string{"Oops"}, func(f *Frame) {
		collected = append(collected, f)
	})
	require.NoError(t, err)
	assert.Same(t, tryFrame, matched)
	assert.Equal(t, uint64(0x100), entry.BlockTarget)
	assert.Equal(t, 1, s.Depth())
	assert.Same(t, outer, s.Top())
	require.Len(t, collected, 1)
	assert.Same(t, inner, collected[0])
	assert.Nil(t, s.CurrentTry())
}

func TestUnwindNoHandler(t *testing.T) {
	s := NewStack()
	require.NoError(t, s.Push(NewFrame("main", NewRegisterSet(0))))
	_, _, err := s.Unwind([]string{"Oops"}, func(*Frame) {})
	assert.True(t, errors.Is(err, ErrNoHandler))
}

func TestEphemeralStackLinksBack(t *testing.T) {
	s := NewStack()
	eph := s.SpawnEphemeral()
	assert.Same(t, s, eph.Resume())
}

func TestReplaceTopExpiresOldFrame(t *testing.T) {
	s := NewStack()
	old := NewFrame("old", NewRegisterSet(1))
	require.NoError(t, old.Local.Set(0, value.Int(1)))
	tok, _ := old.Local.Liveness(0)
	require.NoError(t, s.Push(old))

	next := NewFrame("next", NewRegisterSet(0))
	require.NoError(t, s.ReplaceTop(next))
	assert.Equal(t, 1, s.Depth())
	assert.Same(t, next, s.Top())
	assert.False(t, tok.Alive())
}
