package logbuf

import (
	"fmt"
	"sync"
)

// Buffer is a bounded FIFO of entries. Pushing into a full buffer
// evicts the oldest entry; the newest is never rejected.
//
// Uploads work in two steps: Snapshot copies the current contents
// without removing them, and Commit removes exactly the snapshotted
// entries that are still present. Entries pushed between the two calls
// survive the Commit. When an upload fails the caller simply does not
// commit, which leaves the snapshot at the front ahead of anything
// appended meanwhile.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	records  []record
	capacity int
	nextSeq  uint64
	dropped  uint64
}

type record struct {
	seq   uint64
	entry Entry
}

// Snapshot is a point-in-time copy of the buffer contents.
type Snapshot struct {
	Entries []Entry
	seqs    []uint64
}

// Len returns the number of entries in the snapshot.
func (s Snapshot) Len() int { return len(s.Entries) }

// NewBuffer creates a Buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("logbuf: capacity must be positive, got %d", capacity))
	}
	return &Buffer{capacity: capacity}
}

// Push appends e, evicting the oldest entry if the buffer is full.
func (b *Buffer) Push(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		b.records[0] = record{}
		b.records = b.records[1:]
		b.dropped++
	}
	b.nextSeq++
	b.records = append(b.records, record{seq: b.nextSeq, entry: e})
}

// Snapshot returns a copy of the current contents, oldest first.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		Entries: make([]Entry, len(b.records)),
		seqs:    make([]uint64, len(b.records)),
	}
	for i, r := range b.records {
		s.Entries[i] = r.entry
		s.seqs[i] = r.seq
	}
	return s
}

// Commit removes the entries of s that are still buffered and returns
// how many were removed. Snapshotted entries evicted in the meantime
// are skipped.
func (b *Buffer) Commit(s Snapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Surviving snapshot entries always form a prefix of the buffer:
	// eviction only removes from the front and Push only appends.
	n, j := 0, 0
	for n < len(b.records) {
		seq := b.records[n].seq
		for j < len(s.seqs) && s.seqs[j] != seq {
			j++
		}
		if j == len(s.seqs) {
			break
		}
		n++
		j++
	}
	if n == 0 {
		return 0
	}
	remaining := make([]record, len(b.records)-n, max(len(b.records)-n, 16))
	copy(remaining, b.records[n:])
	b.records = remaining
	return n
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry {
	return b.Snapshot().Entries
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Capacity returns the maximum number of entries.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Dropped returns how many entries have been evicted since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
