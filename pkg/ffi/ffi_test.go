package ffi

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/value"
)

func TestSubmitDispatchesToRegisteredFunction(t *testing.T) {
	k := kernel.New("")
	k.RegisterForeign("double", func(params []value.Value) (value.Value, error) {
		n, _ := params[0].Int()
		return value.Int(n * 2), nil
	})

	pool := NewPool(k, 2)
	defer pool.Close()

	resCh := pool.Submit(1, "double", []value.Value{value.Int(21)})
	select {
	case res := <-resCh:
		require.NoError(t, res.Err)
		n, _ := res.Value.Int()
		assert.Equal(t, int64(42), n)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FFI result")
	}
}

func TestSubmitUnknownFunctionReportsError(t *testing.T) {
	k := kernel.New("")
	pool := NewPool(k, 1)
	defer pool.Close()

	res := <-pool.Submit(1, "nope", nil)
	assert.True(t, errors.Is(res.Err, ErrNoSuchForeignFunction))
}

func TestForeignFunctionErrorIsPropagated(t *testing.T) {
	k := kernel.New("")
	wantErr := errors.New("boom")
	k.RegisterForeign("fail", func(params []value.Value) (value.Value, error) {
		return value.Value{}, wantErr
	})

	pool := NewPool(k, 1)
	defer pool.Close()

	res := <-pool.Submit(1, "fail", nil)
	assert.ErrorIs(t, res.Err, wantErr)
}

func TestSchedulerCountRespectsEnv(t *testing.T) {
	t.Setenv("VIUA_FFI_SCHEDULERS", "2")
	assert.Equal(t, 2, SchedulerCount("VIUA_FFI_SCHEDULERS"))
}
