package group

import (
	"github.com/flowmesh/groupmedia/internal/wire"
	"github.com/flowmesh/groupmedia/peer"
)

// updateFragmentMap trims the window and encodes the current
// fragments-map payload (§4.3.5). It returns last == 0 if the store is
// empty, in which case payload is nil and nothing should be sent.
func (g *GroupMedia) updateFragmentMap() (last uint64, payload []byte) {
	if g.fragments.Len() == 0 {
		return 0, nil
	}

	g.eraseOldFragments()

	first, ok := g.fragments.First()
	if !ok {
		return 0, nil
	}
	last, _ = g.fragments.Last()

	payload = wire.EncodeGroupFragmentsMap(nil, first, last, g.cfg.IsPublisher, func(id uint64) bool {
		return g.fragments.Has(id)
	})
	return last, payload
}

// deliverFragmentsMap sends the encoded map to every peer, or to one
// peer chosen round-robin, per AvailabilitySendToAll.
func (g *GroupMedia) deliverFragmentsMap(last uint64, payload []byte) {
	if g.cfg.AvailabilitySendToAll {
		for _, p := range g.peers {
			p.SendFragmentsMap(last, payload)
		}
		return
	}
	id, ok := g.fragmentsCursor.next(g.peers, false, func(*peer.PeerMedia) bool { return true })
	if !ok {
		return
	}
	g.peers[id].SendFragmentsMap(last, payload)
}
