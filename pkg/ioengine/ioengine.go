// Package ioengine implements Viua's I/O submission/completion model: a
// process submits a typed Request, a worker goroutine performs the
// underlying syscall, and the result is posted back to the Kernel for
// IO_WAIT to collect. The vocabulary (submission, completion, a request
// identified by (fd, per-fd counter)) mirrors the io_uring submission/
// completion-queue model; the implementation itself is a plain worker
// pool over blocking syscalls via golang.org/x/sys/unix, which is the
// right scale for a handful of concurrent green-process file descriptors
// rather than a shared-memory ring buffer.
package ioengine

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Result is the outcome of one completed interaction.
type Result struct {
	// Exactly one of the following is meaningful, matching the request
	// kind that produced this result.
	Bytes     []byte // IO_read
	N         int    // IO_write: bytes written
	Closed    bool   // IO_close
	Err       error
	Cancelled bool // IO_cancel was requested before the syscall started
}

// Request is a submitted I/O interaction.
type Request interface {
	ID() uint64
	FD() int
	// Cancel marks the request cancelled. If the worker has not yet
	// called Interact, Interact must return a Cancelled result; if the
	// syscall already started, the implementation may still let it
	// finish but the result delivered to the submitter is Cancelled
	// regardless.
	Cancel()
	// Interact performs the underlying syscall and produces a Result.
	Interact() Result
}

type baseRequest struct {
	id        uint64
	fd        int
	cancelled int32
}

func (b *baseRequest) ID() uint64 { return b.id }
func (b *baseRequest) FD() int    { return b.fd }
func (b *baseRequest) Cancel()    { atomic.StoreInt32(&b.cancelled, 1) }
func (b *baseRequest) isCancelled() bool {
	return atomic.LoadInt32(&b.cancelled) != 0
}

// ReadRequest reads up to Limit bytes from FD.
type ReadRequest struct {
	baseRequest
	Limit int
}

// NewReadRequest builds a read interaction for fd, assigned id.
func NewReadRequest(id uint64, fd, limit int) *ReadRequest {
	return &ReadRequest{baseRequest: baseRequest{id: id, fd: fd}, Limit: limit}
}

func (r *ReadRequest) Interact() Result {
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	buf := make([]byte, r.Limit)
	n, err := unix.Read(r.fd, buf)
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	if err != nil {
		return Result{Err: err}
	}
	return Result{Bytes: buf[:n]}
}

// WriteRequest writes Buffer to FD.
type WriteRequest struct {
	baseRequest
	Buffer []byte
}

// NewWriteRequest builds a write interaction for fd, assigned id.
func NewWriteRequest(id uint64, fd int, buf []byte) *WriteRequest {
	return &WriteRequest{baseRequest: baseRequest{id: id, fd: fd}, Buffer: buf}
}

func (r *WriteRequest) Interact() Result {
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	n, err := unix.Write(r.fd, r.Buffer)
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	if err != nil {
		return Result{Err: err}
	}
	return Result{N: n}
}

// CloseRequest closes FD.
type CloseRequest struct{ baseRequest }

// NewCloseRequest builds a close interaction for fd, assigned id.
func NewCloseRequest(id uint64, fd int) *CloseRequest {
	return &CloseRequest{baseRequest{id: id, fd: fd}}
}

func (r *CloseRequest) Interact() Result {
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	err := unix.Close(r.fd)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Closed: true}
}

// EmptyRequest is a no-op completion used for borrowed handles that
// don't own the underlying fd and so have nothing to release.
type EmptyRequest struct{ baseRequest }

// NewEmptyRequest builds a no-op interaction, assigned id.
func NewEmptyRequest(id uint64) *EmptyRequest { return &EmptyRequest{baseRequest{id: id, fd: -1}} }

func (r *EmptyRequest) Interact() Result {
	if r.isCancelled() {
		return Result{Cancelled: true}
	}
	return Result{}
}

// perFDCounters assigns the (fd, counter) request-id pairs IO_SUBMIT
// needs, incrementing independently per fd so ordering within one fd is
// observable.
type perFDCounters struct {
	mu       sync.Mutex
	counters map[int]uint64
}

func newPerFDCounters() *perFDCounters { return &perFDCounters{counters: make(map[int]uint64)} }

func (c *perFDCounters) next(fd int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counters[fd]
	c.counters[fd]++
	return n
}

// RequestID packs an fd and a per-fd counter into the opaque id Viua
// exposes as an IO_request value.
func RequestID(fd int, counter uint64) uint64 {
	return (uint64(uint32(fd)) << 32) | counter
}
