package service

import (
	"crypto-rug-graph-detector/internal/domain/entity"
)

// DefaultWindowCapacity is used when a window is created with a non-positive capacity
const DefaultWindowCapacity = 12

// Window is a fixed-capacity ring of recent snapshots. It belongs to a single
// monitoring session and is not safe for concurrent use.
type Window struct {
	buf    []*entity.Snapshot
	head   int // index of the oldest snapshot
	size   int
	pushed int64
}

// NewWindow creates an empty window
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Window{buf: make([]*entity.Snapshot, capacity)}
}

// Push appends a snapshot, evicting the oldest one when full
func (w *Window) Push(s *entity.Snapshot) {
	if s == nil {
		return
	}
	w.pushed++
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = s
		w.size++
		return
	}
	w.buf[w.head] = s
	w.head = (w.head + 1) % len(w.buf)
}

// Len returns the number of held snapshots
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity
func (w *Window) Cap() int { return len(w.buf) }

// Pushed returns how many snapshots were ever pushed, including evicted ones
func (w *Window) Pushed() int64 { return w.pushed }

// Snapshots returns the held snapshots from oldest to newest
func (w *Window) Snapshots() []*entity.Snapshot {
	if w == nil {
		return nil
	}
	out := make([]*entity.Snapshot, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.head+i)%len(w.buf)])
	}
	return out
}

// Latest returns the newest snapshot
func (w *Window) Latest() (*entity.Snapshot, bool) {
	if w == nil || w.size == 0 {
		return nil, false
	}
	return w.buf[(w.head+w.size-1)%len(w.buf)], true
}
