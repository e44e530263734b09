// Package trace implements the VIUA_VM_TRACE_FD instruction-retirement
// sink described in spec.md §6: one line per retired instruction, off by
// default, enabled by naming either an already-open numeric file
// descriptor or a path to open for append.
package trace

import (
	"log"
	"os"
	"strconv"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/process"
)

// Sink is an interp.Tracer backed by a *log.Logger: no line prefix,
// microsecond timestamps, matching the teacher's bare diagnostic style.
type Sink struct {
	logger *log.Logger
	closer func() error
}

// Open resolves spec ("", a decimal fd, or a file path) into a Sink.
// An empty spec disables tracing (Open returns nil, nil). The returned
// Sink owns closer, if any; callers should defer sink.Close().
func Open(spec string) (*Sink, error) {
	if spec == "" {
		return nil, nil
	}
	var f *os.File
	if n, err := strconv.Atoi(spec); err == nil {
		f = os.NewFile(uintptr(n), "trace-fd-"+spec)
	} else {
		opened, err := os.OpenFile(spec, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		f = opened
	}
	return &Sink{
		logger: log.New(f, "", log.Lmicroseconds),
		closer: f.Close,
	}, nil
}

// Close closes the underlying file, including a numeric file descriptor
// that was handed in rather than opened by Open.
func (s *Sink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// Trace implements interp.Tracer.
func (s *Sink) Trace(pid process.Pid, ip uint64, ins bytecode.Instruction) {
	if s == nil {
		return
	}
	s.logger.Printf("pid=%d ip=%#06x op=%#04x fmt=%s rd=%s rs=%s",
		pid, ip, uint16(ins.Op), ins.Op.Format(), ins.RD, ins.RS)
}
