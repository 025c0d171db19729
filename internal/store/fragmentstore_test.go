package store

import (
	"testing"

	"github.com/flowmesh/groupmedia/internal/wire"
)

func TestFragmentStoreInsertAndGet(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	s.Insert(&wire.Fragment{ID: 5})
	s.Insert(&wire.Fragment{ID: 1})
	s.Insert(&wire.Fragment{ID: 3})

	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if first, _ := s.First(); first != 1 {
		t.Fatalf("first = %d, want 1", first)
	}
	if last, _ := s.Last(); last != 5 {
		t.Fatalf("last = %d, want 5", last)
	}
	if !s.Has(3) {
		t.Fatal("expected id 3 present")
	}
}

func TestFragmentStoreDuplicateInsertIgnored(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	s.Insert(&wire.Fragment{ID: 1, Time: 100})
	s.Insert(&wire.Fragment{ID: 1, Time: 200})
	f, _ := s.Get(1)
	if f.Time != 100 {
		t.Fatalf("second insert must not overwrite: time = %d, want 100", f.Time)
	}
}

func TestFragmentStoreLowerBound(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	for _, id := range []uint64{10, 20, 30} {
		s.Insert(&wire.Fragment{ID: id})
	}
	got, ok := s.LowerBound(15)
	if !ok || got != 20 {
		t.Fatalf("lowerBound(15) = %d, %v; want 20, true", got, ok)
	}
	_, ok = s.LowerBound(31)
	if ok {
		t.Fatal("lowerBound past the end must report not found")
	}
}

func TestFragmentStoreEraseBefore(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	for _, id := range []uint64{1, 2, 3, 4, 5} {
		s.Insert(&wire.Fragment{ID: id})
	}
	removed := s.EraseBefore(3)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if s.Has(1) || s.Has(2) {
		t.Fatal("ids below cut must be gone")
	}
	if !s.Has(3) {
		t.Fatal("cut id itself must survive")
	}
}

func TestFragmentStoreRemove(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	for _, id := range []uint64{1, 2, 3} {
		s.Insert(&wire.Fragment{ID: id})
	}
	s.Remove(2)
	if s.Has(2) {
		t.Fatal("removed id must be gone")
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if first, _ := s.First(); first != 1 {
		t.Fatalf("first = %d, want 1", first)
	}
	if last, _ := s.Last(); last != 3 {
		t.Fatalf("last = %d, want 3", last)
	}
}

func TestFragmentStoreRemoveMissingIsNoOp(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	s.Insert(&wire.Fragment{ID: 1})
	s.Remove(99)
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestFragmentStoreEraseBeforeSingleFragmentNoOp(t *testing.T) {
	t.Parallel()
	s := NewFragmentStore()
	s.Insert(&wire.Fragment{ID: 1})
	removed := s.EraseBefore(1)
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	if s.Len() != 1 {
		t.Fatal("single fragment must survive EraseBefore its own id")
	}
}
