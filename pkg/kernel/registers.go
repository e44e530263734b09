package kernel

import (
	"strconv"
	"sync"

	"github.com/viua-vm/viua/pkg/value"
)

// RegisterBank is a simple mutex-protected, sparsely-indexed set of
// Value slots backing the global and static register sets: unlike a
// Frame's RegisterSet, these are process-wide or function-wide and
// carry none of the MOVED/BOUND bookkeeping a local/argument set needs,
// since nothing ever moves ownership into them from a call site.
type RegisterBank struct {
	mu    sync.Mutex
	slots map[uint16]value.Value
}

func newRegisterBank() *RegisterBank {
	return &RegisterBank{slots: make(map[uint16]value.Value)}
}

// Get reads slot i, returning Void if never written.
func (b *RegisterBank) Get(i uint16) value.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[i]
}

// Set writes v into slot i.
func (b *RegisterBank) Set(i uint16, v value.Value) {
	b.mu.Lock()
	b.slots[i] = v
	b.mu.Unlock()
}

// Globals returns the Kernel's single process-wide global register bank.
func (k *Kernel) Globals() *RegisterBank {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.globals == nil {
		k.globals = newRegisterBank()
	}
	return k.globals
}

// StaticsFor returns the static register bank for the function identified
// by modulePath+entryAddress, allocating it on first use. Static storage
// persists across calls to the same function for the lifetime of the VM.
func (k *Kernel) StaticsFor(modulePath string, entryAddress uint64) *RegisterBank {
	key := fnStaticKey(modulePath, entryAddress)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.statics == nil {
		k.statics = make(map[string]*RegisterBank)
	}
	bank, ok := k.statics[key]
	if !ok {
		bank = newRegisterBank()
		k.statics[key] = bank
	}
	return bank
}

func fnStaticKey(modulePath string, entryAddress uint64) string {
	return modulePath + "@" + strconv.FormatUint(entryAddress, 10)
}
