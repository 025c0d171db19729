// Package peer implements PeerMedia: one remote peer's state relative to
// a single GroupMedia instance.
package peer

import "github.com/flowmesh/groupmedia/internal/wire"

// Observer is the capability set a PeerMedia raises events through. The
// owning GroupMedia implements it; PeerMedia never imports the group
// package, so there is no back-pointer cycle between the two.
type Observer interface {
	// PeerClosed reports that this peer is gone. pushMask is the peer's
	// outbound push mask at the time of removal: the bits we were
	// authorized to push to it (see SetOutboundPushMode).
	PeerClosed(peerID string, pushMask uint8)

	// PlayPull reports that the peer explicitly requested fragment id
	// from us (as opposed to us having pushed it unsolicited).
	PlayPull(peerID string, id uint64)

	// FragmentsMap reports a freshly accepted availability bitmap from
	// the peer.
	FragmentsMap(peerID string, lastID uint64)

	// Fragment reports one fragment received from the peer, whether
	// pushed or pulled.
	Fragment(peerID string, f *wire.Fragment)
}
