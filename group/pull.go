package group

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/flowmesh/groupmedia/peer"
)

// sendPushRequests rotates the current push mask and assigns it to a peer
// that has not yet been asked for it (§4.3.7). Over time this spreads the
// 8 distinct masks across up to 8 distinct peers.
func (g *GroupMedia) sendPushRequests() {
	if len(g.peers) == 0 {
		g.lastPushUpdateAt = now()
		return
	}

	if g.currentPushMask == 0 {
		g.currentPushMask = 1 << uint8(rand.IntN(8))
	} else if g.currentPushMask == 0x80 {
		g.currentPushMask = 1
	} else {
		g.currentPushMask <<= 1
	}
	mask := g.currentPushMask

	id, ok := g.pushCursor.next(g.peers, false, func(p *peer.PeerMedia) bool {
		return p.PushInMode()&mask == 0
	})
	if !ok {
		if g.log != nil {
			g.log.Debug("push in: no peer available for mask", "mask", mask)
		}
		g.lastPushUpdateAt = now()
		return
	}
	p := g.peers[id]
	p.SendPushMode(p.PushInMode() | mask)
	g.lastPushUpdateAt = now()
}

func sortArrivals(a []pullArrival) {
	sort.Slice(a, func(i, j int) bool { return a[i].at.Before(a[j].at) })
}

// lastArrivalAtOrBefore returns the fragment id announced by the newest
// gossip arrival recorded at or before cutoff (i.e. at least fetchPeriod
// old by the time the caller computed cutoff), and whether one exists.
func (g *GroupMedia) lastArrivalAtOrBefore(cutoff time.Time) (uint64, bool) {
	if len(g.pullArrivals) == 0 {
		return 0, false
	}
	sortArrivals(g.pullArrivals)
	i := sort.Search(len(g.pullArrivals), func(i int) bool { return g.pullArrivals[i].at.After(cutoff) })
	if i == 0 {
		return 0, false
	}
	return g.pullArrivals[i-1].fragment, true
}

// sendPullRequests drives bootstrap and steady-state pull scheduling
// (§4.3.8), gated on at least one fragments-map having arrived a fetch
// period ago.
func (g *GroupMedia) sendPullRequests() {
	if len(g.pullArrivals) == 0 {
		return
	}

	timeNow := now()
	timeMax := timeNow.Add(-g.cfg.FetchPeriod)
	lastFragment, ok := g.lastArrivalAtOrBefore(timeMax)
	if !ok {
		return
	}

	if g.currentPullFragment == 0 {
		g.bootstrapPull(lastFragment)
		return
	}

	// Retry pass: preserves the spec's documented double subtraction of
	// fetchPeriod verbatim (§9 open question) rather than simplifying to
	// timeNow.Add(-2*fetchPeriod).
	retryDeadline := timeMax.Add(-g.cfg.FetchPeriod)
	if lastOld, ok := g.lastArrivalAtOrBefore(retryDeadline); ok {
		ids := make([]uint64, 0, len(g.waiting))
		for id := range g.waiting {
			if id <= lastOld {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			w := g.waiting[id]
			if timeNow.Sub(w.sentAt) < g.cfg.FetchPeriod {
				continue
			}
			if p, ok := g.peers[w.peerID]; ok {
				p.AddPullBlacklist(id)
			}
			if newPeer, ok := g.sendPullToNextPeer(id); ok {
				g.waiting[id] = &pullWait{peerID: newPeer, sentAt: timeNow}
			}
		}
	}

	// Hole-fill pass.
	for ; g.currentPullFragment < lastFragment; g.currentPullFragment++ {
		next := g.currentPullFragment + 1
		if g.fragments.Has(next) {
			continue
		}
		if _, ok := g.sendPullToNextPeer(next); !ok {
			break
		}
	}
}

func (g *GroupMedia) bootstrapPull(lastFragment uint64) {
	target := uint64(1)
	if lastFragment > 1 {
		target = lastFragment - 1
	}
	g.currentPullFragment = target

	id1, ok := g.pullCursor.next(g.peers, true, func(p *peer.PeerMedia) bool {
		return p.HasFragment(target)
	})
	if ok {
		if !g.fragments.Has(target) {
			g.peers[id1].SendPull(target)
			g.waiting[target] = &pullWait{peerID: id1, sentAt: now()}
		} else {
			g.firstPullReceived = true
		}
	}

	second := target + 1
	id2, ok := g.pullCursor.next(g.peers, true, func(p *peer.PeerMedia) bool {
		return p.HasFragment(second)
	})
	if ok {
		g.currentPullFragment = second
		if !g.fragments.Has(second) {
			g.peers[id2].SendPull(second)
			g.waiting[second] = &pullWait{peerID: id2, sentAt: now()}
		} else {
			g.firstPullReceived = true
		}
		return
	}

	g.currentPullFragment = 0
}

// sendPullToNextPeer requests id from the next peer (ascending rotation)
// known to have it, recording the waiting entry on success.
func (g *GroupMedia) sendPullToNextPeer(id uint64) (peerID string, ok bool) {
	pid, found := g.pullCursor.next(g.peers, true, func(p *peer.PeerMedia) bool {
		return p.HasFragment(id)
	})
	if !found {
		if g.log != nil {
			g.log.Debug("no peer found for fragment", "id", id)
		}
		return "", false
	}
	g.peers[pid].SendPull(id)
	g.waiting[id] = &pullWait{peerID: pid, sentAt: now()}
	return pid, true
}
