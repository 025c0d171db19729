package group

import "time"

// Tuning constants, grounded on NETGROUP_MAX_PACKET_SIZE / NETGROUP_PUSH_DELAY
// / NETGROUP_PULL_DELAY / MAX_FRAGMENT_MAP_SIZE.
const (
	MaxPacketSize      = 1200
	MaxFragmentMapSize = 8192
	PushDelay          = 2 * time.Second
	PullDelay          = 2 * time.Second
)

// Config holds the per-GroupMedia parameters supplied at construction.
type Config struct {
	// IsPublisher marks this side as the media originator; a publisher
	// ignores inbound fragments-maps and never pulls.
	IsPublisher bool

	// WindowDuration is the retention window, in media time.
	WindowDuration time.Duration
	// RelayMargin is additional grace added to WindowDuration before a
	// fragment is evicted, so relay peers keep a short buffer beyond what
	// a pure consumer needs.
	RelayMargin time.Duration

	// AvailabilityUpdatePeriod is the gossip cadence for fragments-map
	// announcements.
	AvailabilityUpdatePeriod time.Duration
	// AvailabilitySendToAll broadcasts the fragments-map to every peer
	// instead of one random peer per tick.
	AvailabilitySendToAll bool

	// FetchPeriod is both the pull timeout and the gossip-age threshold
	// used to pick which announced "last fragment" to chase.
	FetchPeriod time.Duration

	// PushLimit+1 is the maximum number of peers a publishing side (or a
	// relay forwarding a received fragment) pushes each fragment to.
	PushLimit uint8
}
