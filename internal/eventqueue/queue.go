// Package eventqueue is the time-ordered merge buffer of a pipeline. Events
// fetched independently from several partitions are kept in one global index
// ordered by event time, plus one offset-ordered index per partition so that a
// partition's checkpoint never skips an older event that is still buffered.
//
// A Queue is not safe for concurrent use; it is owned by the control goroutine.
package eventqueue

import (
	"github.com/google/btree"

	"logpipe/internal/event"
)

const degree = 32

type entry struct {
	ev  event.Event
	seq uint64
}

func byTime(a, b *entry) bool {
	if a.ev.Time != b.ev.Time {
		return a.ev.Time < b.ev.Time
	}
	return a.seq < b.seq
}

func byOffset(a, b *entry) bool {
	if a.ev.Offset != b.ev.Offset {
		return a.ev.Offset < b.ev.Offset
	}
	return a.seq < b.seq
}

type Queue struct {
	global *btree.BTreeG[*entry]
	parts  map[int32]*btree.BTreeG[*entry]
	bytes  int64
	seq    uint64
}

// New creates an empty queue. Partitions not listed are indexed lazily.
func New(partitions []int32) *Queue {
	q := &Queue{
		global: btree.NewG(degree, byTime),
		parts:  make(map[int32]*btree.BTreeG[*entry], len(partitions)),
	}
	for _, p := range partitions {
		q.parts[p] = btree.NewG(degree, byOffset)
	}
	return q
}

// Add buffers ev and accounts for its size.
func (q *Queue) Add(ev event.Event) {
	q.seq++
	e := &entry{ev: ev, seq: q.seq}
	q.global.ReplaceOrInsert(e)
	q.partition(ev.Partition).ReplaceOrInsert(e)
	q.bytes += ev.Size
}

func (q *Queue) partition(p int32) *btree.BTreeG[*entry] {
	t, ok := q.parts[p]
	if !ok {
		t = btree.NewG(degree, byOffset)
		q.parts[p] = t
	}
	return t
}

func (q *Queue) remove(e *entry) {
	if _, ok := q.global.Delete(e); !ok {
		return
	}
	q.parts[e.ev.Partition].Delete(e)
	q.bytes -= e.ev.Size
}

// Bytes returns the summed size of every buffered event.
func (q *Queue) Bytes() int64 { return q.bytes }

func (q *Queue) Len() int { return q.global.Len() }

func (q *Queue) Empty() bool { return q.global.Len() == 0 }

// IsEmpty reports whether nothing is buffered for partition p.
func (q *Queue) IsEmpty(p int32) bool {
	t, ok := q.parts[p]
	return !ok || t.Len() == 0
}

// First returns the event with the smallest event time.
func (q *Queue) First() (event.Event, bool) {
	e, ok := q.global.Min()
	if !ok {
		return event.Event{}, false
	}
	return e.ev, true
}

// SmallestResumeToken returns where partition p has to resume so that no
// buffered event is lost: the offset and time of its oldest buffered event.
// The boolean is false when nothing is buffered for p, in which case the
// caller may advance to its own last known offset.
func (q *Queue) SmallestResumeToken(p int32) (event.Token, bool) {
	t, ok := q.parts[p]
	if !ok {
		return event.Token{}, false
	}
	e, ok := t.Min()
	if !ok {
		return event.Token{}, false
	}
	return event.Token{Offset: e.ev.Offset, EventTime: e.ev.Time}, true
}

// Iterator walks the buffer in ascending event time. Each call starts over from
// the oldest event.
func (q *Queue) Iterator() *Iterator {
	return &Iterator{q: q}
}

type Iterator struct {
	q    *Queue
	cur  *entry
	last *entry
}

// Next advances to the next event and reports whether there was one.
func (it *Iterator) Next() bool {
	var next *entry
	if it.last == nil {
		next, _ = it.q.global.Min()
	} else {
		it.q.global.AscendGreaterOrEqual(it.last, func(e *entry) bool {
			if !byTime(it.last, e) {
				return true
			}
			next = e
			return false
		})
	}
	it.cur = next
	if next == nil {
		return false
	}
	it.last = next
	return true
}

// Event returns the current event.
func (it *Iterator) Event() event.Event {
	return it.cur.ev
}

// Remove deletes the current event from the buffer. It is a no-op when called
// twice for the same event.
func (it *Iterator) Remove() {
	if it.cur == nil {
		return
	}
	it.q.remove(it.cur)
	it.cur = nil
}
