package group

import (
	"testing"

	"github.com/flowmesh/groupmedia/peer"
)

func peerSet(ids ...string) map[string]*peer.PeerMedia {
	m := make(map[string]*peer.PeerMedia, len(ids))
	for _, id := range ids {
		m[id] = peer.New(id, false, nil, 0, 0, nil, 0, nil, nil)
	}
	return m
}

func matchAll(*peer.PeerMedia) bool { return true }

func TestPeerCursorEmptyMapReportsNotFound(t *testing.T) {
	t.Parallel()
	c := newPeerCursor()
	_, ok := c.next(map[string]*peer.PeerMedia{}, true, matchAll)
	if ok {
		t.Fatal("empty map must report not found")
	}
	if !c.atEnd {
		t.Fatal("cursor must be left at end")
	}
}

func TestPeerCursorVisitsEveryPeerAscending(t *testing.T) {
	t.Parallel()
	m := peerSet("a", "b", "c")
	c := newPeerCursor()

	seen := make(map[string]bool)
	for i := 0; i < len(m); i++ {
		id, ok := c.next(m, true, matchAll)
		if !ok {
			t.Fatalf("next() failed on round %d", i)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("visited %d distinct peers, want 3", len(seen))
	}
}

func TestPeerCursorSkipsNonMatching(t *testing.T) {
	t.Parallel()
	m := peerSet("a", "b", "c")
	c := newPeerCursor()
	c.lastPeerID = "a"
	c.atEnd = false

	id, ok := c.next(m, true, func(p *peer.PeerMedia) bool { return p.ID == "c" })
	if !ok || id != "c" {
		t.Fatalf("next() = %q, %v; want c, true", id, ok)
	}
}

func TestPeerCursorNoMatchLeavesCursorAtEnd(t *testing.T) {
	t.Parallel()
	m := peerSet("a", "b")
	c := newPeerCursor()
	_, ok := c.next(m, true, func(*peer.PeerMedia) bool { return false })
	if ok {
		t.Fatal("expected no match")
	}
	if !c.atEnd {
		t.Fatal("cursor must be left at end after an exhausted scan")
	}
}

func TestPeerCursorOnPeerRemovedAdvancesOffTarget(t *testing.T) {
	t.Parallel()
	m := peerSet("a", "b", "c")
	c := newPeerCursor()
	c.lastPeerID = "b"
	c.atEnd = false

	delete(m, "b")
	c.onPeerRemoved("b", m)
	if c.lastPeerID == "b" {
		t.Fatal("cursor must move off the removed peer")
	}
}

func TestPeerCursorOnPeerRemovedLastPeerResetsToEnd(t *testing.T) {
	t.Parallel()
	m := peerSet("a")
	c := newPeerCursor()
	c.lastPeerID = "a"
	c.atEnd = false

	delete(m, "a")
	c.onPeerRemoved("a", m)
	if !c.atEnd {
		t.Fatal("removing the only peer must reset the cursor to end")
	}
}

func TestPeerCursorOnPeerRemovedIgnoresOtherPeers(t *testing.T) {
	t.Parallel()
	m := peerSet("a", "b")
	c := newPeerCursor()
	c.lastPeerID = "a"
	c.atEnd = false

	c.onPeerRemoved("b", m)
	if c.lastPeerID != "a" || c.atEnd {
		t.Fatal("removing an unrelated peer must not move the cursor")
	}
}
