package memmodel

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/variable"
)

// storeBufferEntry is one in-flight xstore waiting to be drained by a
// matching cstore.
type storeBufferEntry struct {
	variable     *variable.Variable
	destSpadAddr int
}

// StoreBuffer is the ordered FIFO between the compute engine and SPAD:
// `xstore` pushes an entry, `cstore` pops the oldest one for the variable it
// names. Grounded on spec.md §3/§4.4.5's "ordered map (insertion-ordered)
// from variable name to (Variable, dest_spad_address)".
type StoreBuffer struct {
	order   []string
	entries map[string]storeBufferEntry
}

// NewStoreBuffer builds an empty store buffer.
func NewStoreBuffer() *StoreBuffer {
	return &StoreBuffer{entries: make(map[string]storeBufferEntry)}
}

// Push records that v has been written by an xstore and will eventually be
// drained to SPAD address destSpadAddr.
func (b *StoreBuffer) Push(v *variable.Variable, destSpadAddr int) error {
	if _, ok := b.entries[v.Name()]; ok {
		return errors.Errorf("store buffer: %q is already in flight", v.Name())
	}
	b.entries[v.Name()] = storeBufferEntry{variable: v, destSpadAddr: destSpadAddr}
	b.order = append(b.order, v.Name())
	return nil
}

// Pop drains the named entry, as a cstore does. Returns an error if name is
// not currently buffered.
func (b *StoreBuffer) Pop(name string) (*variable.Variable, int, error) {
	e, ok := b.entries[name]
	if !ok {
		return nil, 0, errors.Errorf("store buffer: %q is not in flight", name)
	}
	delete(b.entries, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return e.variable, e.destSpadAddr, nil
}

// Contains reports whether name is currently buffered.
func (b *StoreBuffer) Contains(name string) bool {
	_, ok := b.entries[name]
	return ok
}

// Oldest returns the name of the longest-resident entry, in insertion
// order, or "" if the buffer is empty.
func (b *StoreBuffer) Oldest() string {
	if len(b.order) == 0 {
		return ""
	}
	return b.order[0]
}

// Len returns the number of in-flight entries.
func (b *StoreBuffer) Len() int { return len(b.order) }
