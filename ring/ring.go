// ============================================================================
// SPSC SAMPLE RING WITH DEFERRED-COMMIT BATCH VIEWS
// ============================================================================
//
// Fixed-capacity circular store handing records from one producer (the
// pinned sampling loop) to one consumer (the streaming session) without
// per-record locking.
//
// Core capabilities:
//   - Exclusive writer and reader handles, each handed out exactly once
//   - Append that refuses to overwrite unread data and counts the miss
//   - In-place replacement of the newest unread record (decimator coalescing)
//   - Zero-copy batch views split at the physical wraparound
//
// Architecture overview:
//   - Arena of L entries addressed by index, one slot always left empty so
//     full and empty states stay distinguishable
//   - read/write cursors on isolated cache lines, published with atomics
//   - fence cursor marks the commit boundary of the outstanding batch
//   - busy flag lets the writer and reader agree on the newest slot
//
// Memory ordering:
//   - Writer stores the entry, then publishes write (atomic store)
//   - Reader loads write (atomic load) before touching entries
//   - Reader publishes read only after it is done with the batch bytes
//   - sync/atomic is sequentially consistent, which covers acquire/release
//
// Safety model:
//   - SPSC discipline is enforced by handle ownership, not by locks
//   - A broken entry count means the discipline was violated: panic
//   - Batch views are invalid after Release

package ring

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrOverwrite reports an append into a full buffer. The buffer is left
	// unchanged, the value is dropped and the missed counter is incremented.
	ErrOverwrite = errors.New("ring: trying to overwrite unread entries")

	// ErrStale reports that the newest slot was already consumed or is
	// claimed by an outstanding batch, so it cannot be replaced in place.
	ErrStale = errors.New("ring: last entry is not safe to replace")
)

// ============================================================================
// CORE DATA STRUCTURES
// ============================================================================

// Buffer is a fixed-capacity SPSC ring of T.
// T must be a fixed-layout value type without pointers for the byte views
// returned by batches to be meaningful.
//
// Memory layout:
//   - Cache line 1: read + fence (consumer owned)
//   - Cache line 2: write + busy (producer owned)
//   - Cold tail: counters, arena, handle flags
type Buffer[T any] struct {
	_     [64]byte
	read  atomic.Uint64 // Oldest unread index
	fence atomic.Uint64 // Commit boundary of the open batch, == read when none
	_     [48]byte

	write atomic.Uint64 // Next index to be written
	busy  atomic.Uint32 // 1 while the writer replaces the newest slot
	_     [52]byte

	missed  atomic.Uint64 // Appends dropped because the buffer was full
	size    uint64        // Capacity L
	entries []T           // Arena, len == size

	mu          sync.Mutex // Guards the handle flags only
	writerTaken bool
	readerTaken bool
}

// Writer is the exclusive producer handle.
type Writer[T any] struct {
	buf *Buffer[T]
}

// Reader is the exclusive consumer handle.
type Reader[T any] struct {
	buf  *Buffer[T]
	gen  uint64 // Generation of the most recent batch
	open bool   // A batch is outstanding
}

// ============================================================================
// CONSTRUCTOR & HANDLES
// ============================================================================

// New creates a buffer with the given capacity, every slot set to filler.
// One slot is always kept free, so at most capacity-1 entries are unread
// at any time. Capacity below 3 panics: the decimator keeps a two-sample
// history in the buffer.
func New[T any](capacity int, filler T) *Buffer[T] {
	if capacity < 3 {
		panic("ring: capacity must be >= 3")
	}
	b := &Buffer[T]{
		size:    uint64(capacity),
		entries: make([]T, capacity),
	}
	for i := range b.entries {
		b.entries[i] = filler
	}
	return b
}

// TakeWriter hands out the writer handle. Only the first call succeeds.
func (b *Buffer[T]) TakeWriter() (*Writer[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writerTaken {
		return nil, false
	}
	b.writerTaken = true
	return &Writer[T]{buf: b}, true
}

// TakeReader hands out the reader handle. Only the first call succeeds.
func (b *Buffer[T]) TakeReader() (*Reader[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readerTaken {
		return nil, false
	}
	b.readerTaken = true
	return &Reader[T]{buf: b}, true
}

// ============================================================================
// INDEX ARITHMETIC
// ============================================================================

//go:nosplit
//go:inline
func (b *Buffer[T]) next(i uint64) uint64 {
	if i+1 == b.size {
		return 0
	}
	return i + 1
}

//go:nosplit
//go:inline
func (b *Buffer[T]) prev(i uint64) uint64 {
	if i == 0 {
		return b.size - 1
	}
	return i - 1
}

// distance is the wrap-aware number of entries from `from` up to `to`.
//
//go:nosplit
//go:inline
func (b *Buffer[T]) distance(from, to uint64) uint64 {
	if from <= to {
		return to - from
	}
	return b.size - from + to
}

// checked enforces count < capacity.
func (b *Buffer[T]) checked(n uint64) int {
	if n >= b.size {
		panic("ring: " + strconv.FormatUint(n, 10) + " entries in a buffer of capacity " +
			strconv.FormatUint(b.size, 10) + ", SPSC discipline violated")
	}
	return int(n)
}

// ============================================================================
// OBSERVERS
// ============================================================================

// Capacity returns L.
func (b *Buffer[T]) Capacity() int { return int(b.size) }

// Missed returns the number of appends dropped on overflow.
func (b *Buffer[T]) Missed() uint64 { return b.missed.Load() }

// EntryCount returns the number of unread entries. It is safe to call from
// any goroutine: write is sampled on both sides of the read load so the pair
// is consistent.
func (b *Buffer[T]) EntryCount() int {
	for {
		w := b.write.Load()
		r := b.read.Load()
		if b.write.Load() == w {
			return b.checked(b.distance(r, w))
		}
	}
}

// ============================================================================
// PRODUCER OPERATIONS
// ============================================================================

// EntryCount returns the number of unread entries as seen by the producer.
func (w *Writer[T]) EntryCount() int {
	b := w.buf
	return b.checked(b.distance(b.read.Load(), b.write.Load()))
}

// Append stores v in the next free slot and publishes it.
// Returns ErrOverwrite when only the reserved slot is left.
func (w *Writer[T]) Append(v T) error {
	b := w.buf
	wi := b.write.Load()
	if b.checked(b.distance(b.read.Load(), wi)) >= int(b.size)-1 {
		b.missed.Add(1)
		return ErrOverwrite
	}
	b.entries[wi] = v
	b.write.Store(b.next(wi))
	return nil
}

// ReplaceLast overwrites the most recently appended entry in place.
// It succeeds only while that entry is unread and outside any open batch;
// otherwise it returns ErrStale and leaves the buffer untouched.
//
// The busy flag is raised before the fence is inspected and the reader
// raises the fence before inspecting busy, so at least one side always
// sees the other.
func (w *Writer[T]) ReplaceLast(v T) error {
	b := w.buf
	wi := b.write.Load()
	b.busy.Store(1)
	if b.fence.Load() == wi {
		b.busy.Store(0)
		return ErrStale
	}
	b.entries[b.prev(wi)] = v
	b.busy.Store(0)
	return nil
}

// ReplaceLastOrAppend replaces the newest entry, appending instead when it
// is stale.
func (w *Writer[T]) ReplaceLastOrAppend(v T) error {
	if err := w.ReplaceLast(v); err == nil {
		return nil
	}
	return w.Append(v)
}

// ============================================================================
// CONSUMER OPERATIONS
// ============================================================================

// EntryCount returns the number of unread entries as seen by the consumer.
func (r *Reader[T]) EntryCount() int {
	b := r.buf
	return b.checked(b.distance(b.read.Load(), b.write.Load()))
}

// ReadBatch opens a view over the unread entries, leaving the newest
// `reserve` entries out so the consumer does not race the producer on a
// sample that may still be coalesced. With fewer than reserve+1 unread
// entries the batch is empty.
//
// Nothing is consumed until Release. Opening a batch while another is
// outstanding panics; so does a negative reserve.
func (r *Reader[T]) ReadBatch(reserve int) Batch[T] {
	if reserve < 0 {
		panic("ring: negative batch reserve")
	}
	if r.open {
		panic("ring: previous batch not released")
	}
	b := r.buf
	start := b.read.Load()
	wi := b.write.Load()

	take := b.checked(b.distance(start, wi)) - reserve
	if take < 0 {
		take = 0
	}
	end := (start + uint64(take)) % b.size

	// Publish the claim, then check whether the writer is mid-replace of
	// the slot just claimed; if so leave that slot out of the batch.
	b.fence.Store(end)
	if take > 0 && end == wi && b.busy.Load() != 0 {
		take--
		end = b.prev(end)
		b.fence.Store(end)
	}

	r.gen++
	r.open = true
	bt := Batch[T]{
		reader: r,
		gen:    r.gen,
		start:  start,
		n:      take,
		commit: take,
	}
	switch {
	case take == 0:
	case start+uint64(take) <= b.size:
		bt.first = b.entries[start : start+uint64(take)]
	default:
		bt.first = b.entries[start:]
		bt.second = b.entries[:end]
	}
	return bt
}

// ============================================================================
// BATCH VIEW
// ============================================================================

// Batch is a borrowed, deferred-commit view over unread entries.
// Its slices alias the arena and must not be used after Release.
type Batch[T any] struct {
	reader   *Reader[T]
	first    []T
	second   []T
	gen      uint64
	start    uint64
	n        int
	commit   int
	released bool
}

// Len returns the number of entries in the view.
func (bt *Batch[T]) Len() int { return bt.n }

// Bytes returns the byte length of the view.
func (bt *Batch[T]) Bytes() int {
	var zero T
	return bt.n * int(unsafe.Sizeof(zero))
}

// Entries returns the view as up to two typed segments in logical order.
// The second segment is non-empty only when the range wraps.
func (bt *Batch[T]) Entries() (first, second []T) {
	return bt.first, bt.second
}

// Segments returns the view as up to two byte segments in logical order.
func (bt *Batch[T]) Segments() [2][]byte {
	return [2][]byte{asBytes(bt.first), asBytes(bt.second)}
}

// Truncate limits what Release commits to the first n entries of the view,
// leaving the rest unread. Used when only part of a batch was delivered.
func (bt *Batch[T]) Truncate(n int) {
	if bt.released {
		panic("ring: truncate after release")
	}
	if n < 0 || n > bt.n {
		panic("ring: truncate out of range")
	}
	bt.commit = n
}

// Release advances the read cursor to the batch's commit boundary.
// It is idempotent: only the first call on a live batch has an effect, so
// `defer b.Release()` can be combined with an explicit early Release.
func (bt *Batch[T]) Release() {
	if bt.released || bt.reader == nil {
		return
	}
	bt.released = true
	r := bt.reader
	if !r.open || r.gen != bt.gen {
		return
	}
	b := r.buf
	target := (bt.start + uint64(bt.commit)) % b.size
	b.read.Store(target)
	b.fence.Store(target)
	r.open = false
}

// asBytes reinterprets a slice of fixed-layout values as bytes.
//
//go:nosplit
//go:inline
func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
}
