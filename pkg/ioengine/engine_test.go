package ioengine

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	results := make(chan Result, 2)
	eng := NewEngine(func(_ Request, res Result) { results <- res })
	defer eng.Close()

	wfd := int(w.Fd())
	id := eng.NextRequestID(wfd)
	eng.Submit(NewWriteRequest(id, wfd, []byte("hi")))

	select {
	case res := <-results:
		require.NoError(t, res.Err)
		assert.Equal(t, 2, res.N)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	rfd := int(r.Fd())
	rid := eng.NextRequestID(rfd)
	eng.Submit(NewReadRequest(rid, rfd, 16))
	select {
	case res := <-results:
		require.NoError(t, res.Err)
		assert.Equal(t, "hi", string(res.Bytes))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestSameFDRequestsCompleteInOrder(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var mu sync.Mutex
	var order []int
	eng := NewEngine(func(req Request, _ Result) {
		mu.Lock()
		order = append(order, int(req.ID()))
		mu.Unlock()
	})

	fd := int(w.Fd())
	for i := 0; i < 5; i++ {
		eng.Submit(NewWriteRequest(uint64(i), fd, []byte{byte(i)}))
	}
	eng.Close()

	require.Len(t, order, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCancelBeforeInteractReportsCancelled(t *testing.T) {
	req := NewEmptyRequest(1)
	req.Cancel()
	res := req.Interact()
	assert.True(t, res.Cancelled)
}

func TestCloseRequest(t *testing.T) {
	r, _, err := os.Pipe()
	require.NoError(t, err)
	fd := int(r.Fd())

	req := NewCloseRequest(1, fd)
	res := req.Interact()
	assert.True(t, res.Closed)
	assert.NoError(t, res.Err)
}

func TestRequestIDPacksFDAndCounter(t *testing.T) {
	id := RequestID(7, 3)
	assert.Equal(t, uint64(7)<<32|3, id)
}
