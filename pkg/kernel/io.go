package kernel

import (
	"github.com/viua-vm/viua/pkg/ioengine"
)

// ioResultEntry records a completed interaction's raw result until
// IO_WAIT (via IOResult) collects it.
type ioResultEntry struct {
	result ioengine.Result
	done   bool
}

// ScheduleIO submits req to the I/O engine. Implements §4.8's
// schedule_io(request).
func (k *Kernel) ScheduleIO(req ioengine.Request) {
	k.mu.Lock()
	k.ioRequests[req.ID()] = req
	k.ioResults[req.ID()] = ioResultEntry{}
	k.mu.Unlock()
	k.ioEngine.Submit(req)
}

// CancelIO sets the cancellation flag on the interaction identified by
// id. Implements IO_SHUTDOWN / cancel_io(request_id).
func (k *Kernel) CancelIO(id uint64) bool {
	k.mu.Lock()
	req, ok := k.ioRequests[id]
	k.mu.Unlock()
	if !ok {
		return false
	}
	req.Cancel()
	return true
}

// completeIO is the I/O engine's completion callback: it records the
// result and wakes any process blocked in IOWait on this id. Implements
// complete_io(request_id, result).
func (k *Kernel) completeIO(req ioengine.Request, res ioengine.Result) {
	k.mu.Lock()
	k.ioResults[req.ID()] = ioResultEntry{result: res, done: true}
	waiters := k.ioWaiters[req.ID()]
	delete(k.ioWaiters, req.ID())
	k.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// IOComplete reports whether id's interaction has finished. Implements
// io_complete(request_id).
func (k *Kernel) IOComplete(id uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ioResults[id].done
}

// IOResult returns id's completed result and clears its bookkeeping.
// Implements io_result(request_id).
func (k *Kernel) IOResult(id uint64) (ioengine.Result, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.ioResults[id]
	if !ok || !entry.done {
		return ioengine.Result{}, false
	}
	delete(k.ioResults, id)
	delete(k.ioRequests, id)
	return entry.result, true
}

// WaitChannel returns a channel that closes when id's interaction
// completes, or nil if it has already completed (check IOComplete
// first). The caller's scheduler step should Suspend the process on the
// returned channel rather than spin-poll.
func (k *Kernel) WaitChannel(id uint64) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ioResults[id].done {
		return nil
	}
	ch := make(chan struct{})
	k.ioWaiters[id] = append(k.ioWaiters[id], ch)
	return ch
}

// NextIORequestID allocates the next (fd, per-fd counter) id for fd.
func (k *Kernel) NextIORequestID(fd int) uint64 {
	return k.ioEngine.NextRequestID(fd)
}

// CloseIOEngine shuts down the I/O engine's worker goroutines.
func (k *Kernel) CloseIOEngine() { k.ioEngine.Close() }
