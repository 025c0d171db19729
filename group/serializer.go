package group

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmesh/groupmedia/media"
	"github.com/flowmesh/groupmedia/peer"
)

// Serializer runs one GroupMedia's event loop on a single dedicated
// goroutine, so every public operation against it (ingress callbacks,
// peer lifecycle, ticks) observes a consistent, race-free view of its
// state without a lock — mirroring the single-threaded cooperative model
// the engine was designed around. Multiple independent GroupMedia
// instances each get their own Serializer and may run concurrently.
type Serializer struct {
	g    *GroupMedia
	log  *slog.Logger
	cmds chan func(*GroupMedia)
	tick time.Duration
}

// NewSerializer wraps g with a command queue and a periodic Manage tick.
func NewSerializer(g *GroupMedia, tick time.Duration, log *slog.Logger) *Serializer {
	return &Serializer{
		g:    g,
		log:  log,
		cmds: make(chan func(*GroupMedia), 256),
		tick: tick,
	}
}

// Run drains the command queue and drives the periodic tick until ctx is
// canceled. It is meant to be launched via errgroup.Go alongside the
// Serializers of sibling GroupMedia instances.
func (s *Serializer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.log != nil {
				s.log.Debug("serializer stopping")
			}
			return ctx.Err()
		case cmd := <-s.cmds:
			cmd(s.g)
		case <-ticker.C:
			s.g.Manage(ctx)
		}
	}
}

// Submit enqueues fn to run on the serializer's goroutine. It blocks if
// the queue is full, applying backpressure to the caller rather than
// dropping work.
func (s *Serializer) Submit(fn func(*GroupMedia)) {
	s.cmds <- fn
}

// OnMedia enqueues a publisher-side media frame for processing.
func (s *Serializer) OnMedia(f media.Frame) {
	s.Submit(func(g *GroupMedia) { g.OnMedia(f) })
}

// AddPeer enqueues a peer addition.
func (s *Serializer) AddPeer(id string, p *peer.PeerMedia) {
	s.Submit(func(g *GroupMedia) { g.AddPeer(id, p) })
}

// RemovePeer enqueues a peer removal.
func (s *Serializer) RemovePeer(id string) {
	s.Submit(func(g *GroupMedia) { g.RemovePeer(id) })
}
