package group

// pushOwner records which peer currently owns delivery of one push mask
// and the highest fragment id seen from it under that mask.
type pushOwner struct {
	peerID        string
	highestSeenID uint64
}

// pushMaskOwners tracks, for each of the 8 push masks, which peer is
// currently the fastest source we have observed for it.
type pushMaskOwners struct {
	owners map[uint8]*pushOwner
}

func newPushMaskOwners() *pushMaskOwners {
	return &pushMaskOwners{owners: make(map[uint8]*pushOwner)}
}

// observe records that peerID delivered fragment id under mask. It
// returns the id of a peer that must now be told to drop the mask
// (either the slower challenger or the displaced former owner), or "" if
// no handover is required.
func (p *pushMaskOwners) observe(mask uint8, peerID string, id uint64) (drop string) {
	owner, ok := p.owners[mask]
	if !ok {
		p.owners[mask] = &pushOwner{peerID: peerID, highestSeenID: id}
		return ""
	}
	if owner.peerID != peerID {
		if owner.highestSeenID < id {
			old := owner.peerID
			owner.peerID = peerID
			owner.highestSeenID = id
			return old
		}
		return peerID
	}
	if owner.highestSeenID < id {
		owner.highestSeenID = id
	}
	return ""
}

// removePeer drops every mask currently owned by peerID, e.g. because the
// peer disconnected.
func (p *pushMaskOwners) removePeer(peerID string) {
	for mask, owner := range p.owners {
		if owner.peerID == peerID {
			delete(p.owners, mask)
		}
	}
}
