// Package except implements Viua's value-level exception tags: a small
// class registry with single-parent inheritance, flattened into ancestor
// sets so THROW can match a handler by exact tag or by any ancestor
// "class" tag in one pass.
//
// The registry resolves an ambiguity in the distilled specification
// (Open Question: whether class matching walks ancestors bottom-up and
// whether it is transitive): it flattens the full ancestor chain for each
// registered tag at registration time and matches top-down against that
// flattened set, which is the behavior the original C++ runtime's type
// registry implements.
package except

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// Exception is a thrown value: a tag naming its most specific class, a
// human-readable message, and an arbitrary payload (typically a boxed
// Struct) carried alongside it.
type Exception struct {
	Tag     string
	Message string
	Payload interface{}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Tag
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// Built-in tags representative of the runtime fault kinds in the error
// handling design: decoder faults, type errors, arithmetic faults,
// pointer/ownership faults, concurrency API misuse, I/O outcomes, and
// resource exhaustion.
const (
	TagInvalidOpcode           = "Invalid_opcode"
	TagInvalidOperand          = "Invalid_operand"
	TagOutOfBounds             = "Out_of_bounds"
	TagTypeError               = "Type_error"
	TagArithmeticError         = "ArithmeticError"
	TagOverflow                = "Overflow"
	TagValueOutOfRange         = "ValueOutOfRange"
	TagInvalidPointer          = "InvalidPointer"
	TagProcessCannotBeJoined   = "Process_cannot_be_joined"
	TagInvalidPid              = "InvalidPid"
	TagIOCancel                = "IO_cancel"
	TagIOError                 = "IO_error"
	TagNotCopyable             = "Not_copyable"
	TagStackOverflow           = "Stack_overflow"
	TagMailboxEmptyWithTimeout = "Mailbox_empty_with_timeout"
)

// Registry tracks the single-parent inheritance chain between exception
// tags and the flattened ancestor set each tag resolves to.
type Registry struct {
	mu        sync.RWMutex
	parent    map[string]string
	ancestors map[string]mapset.Set
}

// NewRegistry creates a registry pre-populated with the built-in fault
// tags, each its own root (no shared base class unless the embedding
// module registers one with RegisterClass).
func NewRegistry() *Registry {
	r := &Registry{
		parent:    make(map[string]string),
		ancestors: make(map[string]mapset.Set),
	}
	for _, tag := range []string{
		TagInvalidOpcode, TagInvalidOperand, TagOutOfBounds, TagTypeError,
		TagArithmeticError, TagOverflow, TagValueOutOfRange, TagInvalidPointer,
		TagProcessCannotBeJoined, TagInvalidPid, TagIOCancel, TagIOError,
		TagNotCopyable, TagStackOverflow, TagMailboxEmptyWithTimeout,
	} {
		r.RegisterClass(tag, "")
	}
	return r
}

// RegisterClass records tag as a subclass of parent ("" for a root
// class) and flattens its ancestor set. Re-registering an existing tag
// with a different parent re-flattens it and every class that descends
// from it is left stale until re-registered; the registry is meant to be
// populated once at module-load time, not mutated at run time.
func (r *Registry) RegisterClass(tag, parent string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parent[tag] = parent
	set := mapset.NewSet()
	for cur := parent; cur != ""; cur = r.parent[cur] {
		set.Add(cur)
		if anc, ok := r.ancestors[cur]; ok {
			for _, a := range anc.ToSlice() {
				set.Add(a)
			}
			break
		}
	}
	r.ancestors[tag] = set
}

// AncestorTags returns tag's registered ancestors, most specific first
// (i.e. parent, grandparent, ...), not including tag itself. Unknown tags
// have no ancestors.
func (r *Registry) AncestorTags(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parent, ok := r.parent[tag]
	if !ok || parent == "" {
		return nil
	}
	out := []string{parent}
	set, ok := r.ancestors[tag]
	if !ok {
		return out
	}
	// Follow the parent links so ancestors come out nearest first; any
	// flattened ancestor the links no longer reach is appended after them.
	seen := map[string]bool{parent: true}
	for cur := r.parent[parent]; cur != "" && !seen[cur]; cur = r.parent[cur] {
		seen[cur] = true
		if set.Contains(cur) {
			out = append(out, cur)
		}
	}
	for _, a := range set.ToSlice() {
		if !seen[a.(string)] {
			out = append(out, a.(string))
		}
	}
	return out
}

// CandidateTags returns tag followed by its ancestors, in the order THROW
// should probe a try-frame's catch table: exact match first, then each
// ancestor class, most specific first.
func (r *Registry) CandidateTags(tag string) []string {
	return append([]string{tag}, r.AncestorTags(tag)...)
}

// IsA reports whether tag is exactly class or descends from it.
func (r *Registry) IsA(tag, class string) bool {
	if tag == class {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.ancestors[tag]
	return ok && set.Contains(class)
}
