// Package kernel implements the process-wide registry shared by every
// scheduler: loaded modules, function/block address maps, the foreign
// function table, mailboxes, result slots, and the I/O request/result
// maps. Exactly one Kernel exists per running VM.
package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/ioengine"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/value"
)

// moduleCacheSize bounds how many parsed Modules the Kernel keeps around
// for libraries reachable from more than one load_module call.
const moduleCacheSize = 64

// ForeignFunc is a loaded FFI entry point: given the calling process's
// parameters register set, it returns a result value or an error that
// the caller boxes into a thrown exception.
type ForeignFunc func(params []value.Value) (value.Value, error)

// ResultSlot is the outcome the Kernel records for a joinable process.
type ResultSlot struct {
	Value    value.Value
	Ok       bool // true: normal return; false: thrown exception
	Done     bool
	Disowned bool
}

// Kernel is the registry every scheduler and process operates against.
type Kernel struct {
	mu sync.Mutex

	searchPath []string
	modules    *lru.ARCCache // resolved path -> *elfload.Module
	fnIndex    map[string]fnLoc // "module::function" -> location

	foreign map[string]ForeignFunc

	mailboxes map[process.Pid]*process.Mailbox
	results   map[process.Pid]*ResultSlot

	ioEngine   *ioengine.Engine
	ioRequests map[uint64]ioengine.Request
	ioResults  map[uint64]ioResultEntry
	ioWaiters  map[uint64][]chan struct{}

	exceptions *except.Registry

	running int64

	globals *RegisterBank
	statics map[string]*RegisterBank

	// lastSpawnedBy records which scheduler ID most recently had a
	// process spawned onto its queue, used as the first work-stealing
	// victim candidate.
	lastSpawnedBy int
}

type fnLoc struct {
	ModulePath string
	Offset     uint64
}

// New creates a Kernel that resolves load_module names against
// searchPath, a colon-separated list mirroring VIUA_LIBRARY_PATH.
func New(searchPath string) *Kernel {
	cache, err := lru.NewARC(moduleCacheSize)
	if err != nil {
		// NewARC only fails for a non-positive size, which moduleCacheSize
		// never is.
		panic(fmt.Sprintf("kernel: lru.NewARC: %v", err))
	}
	var paths []string
	if searchPath != "" {
		paths = strings.Split(searchPath, ":")
	}
	k := &Kernel{
		searchPath: paths,
		modules:    cache,
		fnIndex:    make(map[string]fnLoc),
		foreign:    make(map[string]ForeignFunc),
		mailboxes:  make(map[process.Pid]*process.Mailbox),
		results:    make(map[process.Pid]*ResultSlot),
		ioRequests: make(map[uint64]ioengine.Request),
		ioResults:  make(map[uint64]ioResultEntry),
		ioWaiters:  make(map[uint64][]chan struct{}),
		lastSpawnedBy: -1,
		exceptions: except.NewRegistry(),
	}
	k.ioEngine = ioengine.NewEngine(k.completeIO)
	return k
}

// Exceptions returns the Kernel's process-wide exception class registry.
func (k *Kernel) Exceptions() *except.Registry { return k.exceptions }

// LoadModule resolves name against the search path, parses it (or
// returns the cached Module if already loaded), registers its function
// symbols, and returns it. Kernel-level load failures are fatal per the
// propagation policy; this method returns a plain error rather than a
// value-level exception.
func (k *Kernel) LoadModule(name string) (*elfload.Module, error) {
	resolved, err := k.resolve(name)
	if err != nil {
		return nil, fmt.Errorf("kernel: load_module %q: %w", name, err)
	}

	k.mu.Lock()
	if cached, ok := k.modules.Get(resolved); ok {
		k.mu.Unlock()
		return cached.(*elfload.Module), nil
	}
	k.mu.Unlock()

	mod, err := elfload.Load(resolved)
	if err != nil {
		return nil, fmt.Errorf("kernel: load_module %q: %w", name, err)
	}

	k.mu.Lock()
	k.modules.Add(resolved, mod)
	for fname, offset := range mod.FnMap() {
		k.fnIndex[resolved+"::"+fname] = fnLoc{ModulePath: resolved, Offset: offset}
	}
	k.mu.Unlock()

	return mod, nil
}

func (k *Kernel) resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	for _, dir := range k.searchPath {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	return "", fmt.Errorf("module not found in search path: %s", name)
}

// EntryPointOf resolves "module::function" (or "function" against
// modulePath) to its (module path, byte offset into .text) pair.
func (k *Kernel) EntryPointOf(modulePath, functionName string) (string, uint64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	loc, ok := k.fnIndex[modulePath+"::"+functionName]
	if !ok {
		return "", 0, false
	}
	return loc.ModulePath, loc.Offset, true
}

// RegisterForeign installs fn under name, callable from FFI dispatch.
func (k *Kernel) RegisterForeign(name string, fn ForeignFunc) {
	k.mu.Lock()
	k.foreign[name] = fn
	k.mu.Unlock()
}

// Foreign looks up a registered foreign function by name.
func (k *Kernel) Foreign(name string) (ForeignFunc, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fn, ok := k.foreign[name]
	return fn, ok
}

// CreateMailbox allocates a mailbox for pid.
func (k *Kernel) CreateMailbox(pid process.Pid) *process.Mailbox {
	k.mu.Lock()
	defer k.mu.Unlock()
	mb := &process.Mailbox{}
	k.mailboxes[pid] = mb
	return mb
}

// DeleteMailbox removes pid's mailbox once the process has terminated.
func (k *Kernel) DeleteMailbox(pid process.Pid) {
	k.mu.Lock()
	delete(k.mailboxes, pid)
	k.mu.Unlock()
}

// Send delivers v to pid's mailbox. Returns false if pid has no mailbox
// (already terminated or never existed).
func (k *Kernel) Send(pid process.Pid, v value.Value) bool {
	k.mu.Lock()
	mb, ok := k.mailboxes[pid]
	k.mu.Unlock()
	if !ok {
		return false
	}
	mb.Push(v)
	return true
}

// CreateResultSlotFor registers pid as joinable, unless disowned.
func (k *Kernel) CreateResultSlotFor(pid process.Pid, disowned bool) {
	k.mu.Lock()
	k.results[pid] = &ResultSlot{Disowned: disowned}
	k.mu.Unlock()
}

// RecordProcessResult publishes the terminal outcome of pid.
func (k *Kernel) RecordProcessResult(pid process.Pid, v value.Value, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot, exists := k.results[pid]
	if !exists {
		return
	}
	slot.Value, slot.Ok, slot.Done = v, ok, true
}

// IsProcessJoinable reports whether pid has a (non-disowned) result slot.
func (k *Kernel) IsProcessJoinable(pid process.Pid) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot, ok := k.results[pid]
	return ok && !slot.Disowned
}

// TransferResultOf returns pid's recorded result, clearing the slot. The
// bool is false if the slot is absent, disowned, or not yet Done.
func (k *Kernel) TransferResultOf(pid process.Pid) (ResultSlot, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot, ok := k.results[pid]
	if !ok || slot.Disowned || !slot.Done {
		return ResultSlot{}, false
	}
	out := *slot
	delete(k.results, pid)
	return out, true
}

// DetachProcess marks pid disowned, making its result (if any) unjoinable
// from this point on.
func (k *Kernel) DetachProcess(pid process.Pid) {
	k.mu.Lock()
	if slot, ok := k.results[pid]; ok {
		slot.Disowned = true
	}
	k.mu.Unlock()
}

// IncRunning increments the live-process counter, called on spawn.
func (k *Kernel) IncRunning() {
	k.mu.Lock()
	k.running++
	k.mu.Unlock()
}

// DecRunning decrements the live-process counter, called on termination,
// and reports whether it reached zero (shutdown condition).
func (k *Kernel) DecRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running--
	return k.running <= 0
}

// NotifyProcessSpawned records which scheduler ID to prefer as the first
// work-stealing victim.
func (k *Kernel) NotifyProcessSpawned(schedulerID int) {
	k.mu.Lock()
	k.lastSpawnedBy = schedulerID
	k.mu.Unlock()
}

// PreferredVictim returns the scheduler ID recorded by the most recent
// NotifyProcessSpawned call.
func (k *Kernel) PreferredVictim() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastSpawnedBy
}
