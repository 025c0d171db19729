package group

import (
	"math/rand/v2"

	"github.com/flowmesh/groupmedia/peer"
)

// peerCursor is a round-robin position into a map[string]*peer.PeerMedia that
// survives insertions and tolerates removal of its current target,
// replacing the raw iterator the original engine kept live across ticks.
// A cursor made by newPeerCursor starts "at end": the next step re-seeds at
// a peer chosen at random.
type peerCursor struct {
	lastPeerID string
	atEnd      bool
}

func newPeerCursor() peerCursor {
	return peerCursor{atEnd: true}
}

// orderedIDs returns the peer ids of m sorted, giving every cursor a
// stable traversal order to step through regardless of map iteration
// order.
func orderedIDs(m map[string]*peer.PeerMedia) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// next advances the cursor and returns the peer it lands on, restricted to
// those for which match returns true. ascending controls traversal
// direction. If no peer matches, the cursor is left at end and ok is
// false.
func (c *peerCursor) next(m map[string]*peer.PeerMedia, ascending bool, match func(*peer.PeerMedia) bool) (id string, ok bool) {
	ids := orderedIDs(m)
	if len(ids) == 0 {
		c.atEnd = true
		return "", false
	}
	if len(ids) == 1 {
		if match(m[ids[0]]) {
			c.lastPeerID = ids[0]
			c.atEnd = false
			return ids[0], true
		}
		c.atEnd = true
		return "", false
	}

	start := 0
	if !c.atEnd {
		for i, id := range ids {
			if id == c.lastPeerID {
				start = i
				break
			}
		}
	} else {
		start = rand.IntN(len(ids))
	}

	n := len(ids)
	for step := 1; step <= n; step++ {
		var i int
		if ascending {
			i = (start + step) % n
		} else {
			i = ((start-step)%n + n) % n
		}
		if match(m[ids[i]]) {
			c.lastPeerID = ids[i]
			c.atEnd = false
			return ids[i], true
		}
	}
	c.atEnd = true
	return "", false
}

// onPeerRemoved advances the cursor off a peer that is being removed, so a
// later next() does not resolve a stale id. If advancing loops back to the
// same id (only one peer was left), the cursor resets to end.
func (c *peerCursor) onPeerRemoved(id string, m map[string]*peer.PeerMedia) {
	if c.lastPeerID != id || c.atEnd {
		return
	}
	remaining := make(map[string]*peer.PeerMedia, len(m))
	for k, v := range m {
		if k != id {
			remaining[k] = v
		}
	}
	if _, ok := c.next(remaining, true, func(*peer.PeerMedia) bool { return true }); !ok {
		c.atEnd = true
	}
}
