package service

import (
	"crypto-rug-graph-detector/internal/domain/entity"
	"testing"
)

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := int64(1); i <= 5; i++ {
		w.Push(entity.NewSnapshot(i, nil, nil))
	}

	if w.Len() != 3 || w.Cap() != 3 {
		t.Fatalf("len/cap = %d/%d, want 3/3", w.Len(), w.Cap())
	}
	snaps := w.Snapshots()
	for i, want := range []int64{3, 4, 5} {
		if snaps[i].TimestampMs() != want {
			t.Errorf("snapshot %d = %d, want %d", i, snaps[i].TimestampMs(), want)
		}
	}
	latest, ok := w.Latest()
	if !ok || latest.TimestampMs() != 5 {
		t.Errorf("latest = %v", latest)
	}
}

func TestWindowDefaults(t *testing.T) {
	w := NewWindow(0)
	if w.Cap() != DefaultWindowCapacity {
		t.Errorf("cap = %d, want %d", w.Cap(), DefaultWindowCapacity)
	}
	if _, ok := w.Latest(); ok {
		t.Error("empty window has no latest snapshot")
	}
	w.Push(nil)
	if w.Len() != 0 {
		t.Error("nil snapshots are ignored")
	}

	var nilWindow *Window
	if nilWindow.Snapshots() != nil {
		t.Error("nil window has no snapshots")
	}
}
