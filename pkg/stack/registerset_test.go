package stack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/value"
)

func TestMoveClearsSourceAndFlag(t *testing.T) {
	rs := NewRegisterSet(2)
	require.NoError(t, rs.SetMovedIn(0, value.Int(7)))
	require.NoError(t, rs.Move(1, 0))

	v, err := rs.Get(1)
	require.NoError(t, err)
	got, _ := v.Int()
	assert.Equal(t, int64(7), got)

	v0, _ := rs.Get(0)
	assert.True(t, v0.IsVoid())
	assert.NoError(t, rs.CheckMovesConsumed())
}

func TestUnconsumedMoveIsAnError(t *testing.T) {
	rs := NewRegisterSet(1)
	require.NoError(t, rs.SetMovedIn(0, value.Int(1)))
	err := rs.CheckMovesConsumed()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnconsumedMove))
}

func TestConsumeClearsFlag(t *testing.T) {
	rs := NewRegisterSet(1)
	require.NoError(t, rs.SetMovedIn(0, value.Int(1)))
	_, err := rs.Consume(0)
	require.NoError(t, err)
	assert.NoError(t, rs.CheckMovesConsumed())
}

func TestBoundRegisterRejectsWrite(t *testing.T) {
	rs := NewRegisterSet(1)
	require.NoError(t, rs.MarkBound(0))
	err := rs.Set(0, value.Int(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBoundWrite))
}

func TestLivenessExpiresOnOverwrite(t *testing.T) {
	rs := NewRegisterSet(1)
	require.NoError(t, rs.Set(0, value.Int(1)))
	tok, err := rs.Liveness(0)
	require.NoError(t, err)
	assert.True(t, tok.Alive())

	require.NoError(t, rs.Set(0, value.Int(2)))
	assert.False(t, tok.Alive())
}

func TestSwapExchangesValuesAndFlags(t *testing.T) {
	rs := NewRegisterSet(2)
	require.NoError(t, rs.SetMovedIn(0, value.Int(1)))
	require.NoError(t, rs.Set(1, value.Int(2)))
	require.NoError(t, rs.Swap(0, 1))

	v0, _ := rs.Get(0)
	i0, _ := v0.Int()
	assert.Equal(t, int64(2), i0)

	err := rs.CheckMovesConsumed()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register 1")
}

func TestOutOfRangeAccess(t *testing.T) {
	rs := NewRegisterSet(1)
	_, err := rs.Get(5)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}
