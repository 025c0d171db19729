// Package group implements GroupMedia, the per-stream mesh replication
// engine: it assigns fragment ids on the publishing side, relays and
// reorders fragments on the subscribing side, and drives the gossip,
// push-assignment, and pull-scheduling ticks that keep a group of peers
// converged on the same media window.
package group

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmesh/groupmedia/internal/store"
	"github.com/flowmesh/groupmedia/internal/wire"
	"github.com/flowmesh/groupmedia/media"
	"github.com/flowmesh/groupmedia/peer"
)

// PacketHandler receives fully reassembled audio/video payloads in strict
// fragment-id order, raised upward as the original engine's OnGroupPacket.
type PacketHandler func(t media.ContentType, time uint32, payload []byte)

type pullWait struct {
	peerID string
	sentAt time.Time
}

type pullArrival struct {
	at       time.Time
	fragment uint64
}

// GroupMedia replicates one named media stream across a mesh of peers.
// All public methods are expected to be called from the owning
// Serializer's goroutine; GroupMedia itself holds no lock.
type GroupMedia struct {
	name string
	key  []byte
	cfg  Config
	info wire.MediaInfos
	log  *slog.Logger

	peers          map[string]*peer.PeerMedia
	groupMediaSent map[string]bool

	fragments *store.FragmentStore
	times     *store.TimeIndex

	fragmentCounter    uint64
	firstPullReceived  bool
	lastFragmentMapID  uint64

	pushMasks *pushMaskOwners

	waiting             map[uint64]*pullWait
	pullArrivals        []pullArrival
	currentPullFragment uint64

	firstPushMode   bool
	currentPushMask uint8

	pullCursor, pushCursor, fragmentsCursor peerCursor

	lastFragmentsMapAt time.Time
	lastPushUpdateAt   time.Time
	lastPullUpdateAt   time.Time

	onPacket PacketHandler
}

// New creates a GroupMedia for stream name/key, raising reassembled
// packets through onPacket.
func New(name string, key []byte, cfg Config, info wire.MediaInfos, onPacket PacketHandler, log *slog.Logger) *GroupMedia {
	return &GroupMedia{
		name:           name,
		key:            key,
		cfg:            cfg,
		info:           info,
		log:            log,
		peers:          make(map[string]*peer.PeerMedia),
		groupMediaSent: make(map[string]bool),
		fragments:      store.NewFragmentStore(),
		times:          store.NewTimeIndex(),
		pushMasks:      newPushMaskOwners(),
		waiting:        make(map[uint64]*pullWait),
		firstPushMode:  true,
		pullCursor:     newPeerCursor(),
		pushCursor:     newPeerCursor(),
		fragmentsCursor: newPeerCursor(),
		onPacket:       onPacket,
	}
}

// OnMedia is the publishing path (§4.3.1): split a media frame into
// fragments of at most MaxPacketSize bytes and push each to up to
// PushLimit+1 peers.
func (g *GroupMedia) OnMedia(f media.Frame) {
	data := f.Data
	total := len(data)
	n := (total + MaxPacketSize - 1) / MaxPacketSize
	if n == 0 {
		n = 1
	}
	pos := 0
	for k := 0; k < n; k++ {
		end := pos + MaxPacketSize
		if end > total {
			end = total
		}
		var marker wire.Marker
		switch {
		case n == 1:
			marker = wire.MarkerData
		case k == 0:
			marker = wire.MarkerStart
		case k == n-1:
			marker = wire.MarkerEnd
		default:
			marker = wire.MarkerNext
		}
		split := uint8(n - 1 - k)
		g.fragmentCounter++
		id := g.fragmentCounter
		buf, _ := wire.Encode(nil, marker, id, split, f.Type, f.Time, data[pos:end])
		g.addFragment(id, "", buf, marker, f.Time)
		pos = end
	}
}

// addFragment inserts a freshly produced or received fragment, relays it
// to every peer except the source (up to PushLimit+1 acceptances), and
// records it in the time index when it starts a new media unit (§4.3.3).
func (g *GroupMedia) addFragment(id uint64, fromPeer string, buf []byte, marker wire.Marker, t uint32) {
	frag, err := wire.Decode(buf)
	if err != nil {
		if g.log != nil {
			g.log.Error("failed to decode fragment we just built", "id", id, "error", err)
		}
		return
	}
	g.fragments.Insert(frag)

	nbPush := int(g.cfg.PushLimit) + 1
	for peerID, p := range g.peers {
		if peerID == fromPeer {
			continue
		}
		if p.SendMedia(buf, id, false) {
			nbPush--
			if nbPush == 0 {
				break
			}
		}
	}

	if marker == wire.MarkerData || marker == wire.MarkerStart {
		g.times.Record(t, id)
	}
}

// OnFragment is the subscribing path (§4.3.2): handle pull resolution,
// push-mask ownership tracking, dedup, and ordered delivery.
func (g *GroupMedia) OnFragment(peerID string, f *wire.Fragment) {
	p := g.peers[peerID]

	if _, ok := g.waiting[f.ID]; ok {
		delete(g.waiting, f.ID)
		g.firstPullReceived = true
	} else if p != nil {
		mask := uint8(1 << (f.ID % 8))
		if p.PushInMode()&mask != 0 {
			if drop := g.pushMasks.observe(mask, peerID, f.ID); drop != "" {
				if dp, ok := g.peers[drop]; ok {
					dp.SendPushMode(dp.PushInMode() &^ mask)
				}
			}
		} else if g.log != nil {
			g.log.Debug("unexpected push fragment", "peer", peerID, "id", f.ID, "mask", mask)
		}
	}

	if g.fragments.Has(f.ID) {
		if g.log != nil {
			g.log.Debug("duplicate fragment ignored", "id", f.ID)
		}
		return
	}

	g.addFragment(f.ID, peerID, f.Buf, f.Marker, f.Time)
	g.pushFragment(f.ID)
}

// pushFragment drives the ordered-delivery state machine (§4.3.4) forward
// from fragment id, looping instead of recursing.
func (g *GroupMedia) pushFragment(id uint64) {
	for {
		if !g.firstPullReceived {
			return
		}
		frag, ok := g.fragments.Get(id)
		if !ok {
			return
		}

		if frag.Marker == wire.MarkerData || (frag.Marker == wire.MarkerEnd && frag.ID == g.fragmentCounter+1) {
			if g.fragmentCounter != 0 && frag.ID != g.fragmentCounter+1 {
				return
			}
			g.fragmentCounter = frag.ID
			g.raisePacket(frag)
			id = frag.ID + 1
			continue
		}

		if g.fragmentCounter == 0 {
			if frag.Marker != wire.MarkerStart {
				g.fragments.Remove(frag.ID)
				return
			}
			g.fragmentCounter = frag.ID - 1
		}

		start := frag
		for start.Marker != wire.MarkerStart {
			prev, ok := g.fragments.Get(start.ID - 1)
			if !ok {
				return
			}
			start = prev
		}

		nbFragments := int(start.Split) + 1
		end := start
		payloadSize := len(start.Payload())
		for i := 1; i < nbFragments; i++ {
			next, ok := g.fragments.Get(start.ID + uint64(i))
			if !ok {
				return
			}
			end = next
			payloadSize += len(next.Payload())
		}

		if start.ID != g.fragmentCounter+1 {
			return
		}
		g.fragmentCounter = end.ID

		if start.Type == media.Audio || start.Type == media.Video {
			payload := make([]byte, 0, payloadSize)
			for cur := start.ID; cur <= end.ID; cur++ {
				part, _ := g.fragments.Get(cur)
				payload = append(payload, part.Payload()...)
			}
			if g.onPacket != nil {
				g.onPacket(start.Type, start.Time, payload)
			}
		}
		id = end.ID + 1
	}
}

func (g *GroupMedia) raisePacket(f *wire.Fragment) {
	if g.onPacket == nil {
		return
	}
	if f.Type == media.Audio || f.Type == media.Video {
		g.onPacket(f.Type, f.Time, f.Payload())
	}
}

// PeerClosed implements peer.Observer.
func (g *GroupMedia) PeerClosed(peerID string, pushMask uint8) {
	g.pushMasks.removePeer(peerID)
	g.RemovePeer(peerID)
}

// PlayPull implements peer.Observer: answer an explicit pull for a
// fragment we still hold.
func (g *GroupMedia) PlayPull(peerID string, id uint64) {
	f, ok := g.fragments.Get(id)
	if !ok {
		if g.log != nil {
			g.log.Debug("peer asked for unknown fragment", "peer", peerID, "id", id)
		}
		return
	}
	if p, ok := g.peers[peerID]; ok {
		p.SendMedia(f.Buf, id, true)
	}
}

// FragmentsMap implements peer.Observer (§4.3's onFragmentsMap lambda):
// record the arrival for pull scheduling and kick off push mode on the
// first map ever seen.
func (g *GroupMedia) FragmentsMap(peerID string, lastID uint64) {
	if g.cfg.IsPublisher {
		return
	}
	if g.lastFragmentMapID < lastID {
		g.pullArrivals = append(g.pullArrivals, pullArrival{at: now(), fragment: lastID})
		g.lastFragmentMapID = lastID
	}
	if g.firstPushMode {
		g.sendPushRequests()
		g.firstPushMode = false
	}
}

// Fragment implements peer.Observer.
func (g *GroupMedia) Fragment(peerID string, f *wire.Fragment) {
	g.OnFragment(peerID, f)
}

// AddPeer registers a peer and sends the subscription handshake and current
// fragments-map if not already sent (§4.3.9). The peer raises its events to
// the Observer it was given in peer.New; AddPeer does not change it.
func (g *GroupMedia) AddPeer(id string, p *peer.PeerMedia) {
	if _, exists := g.peers[id]; exists {
		return
	}
	g.peers[id] = p
	if g.log != nil {
		g.log.Debug("adding peer", "peer", id, "count", len(g.peers))
	}
	g.sendGroupMedia(id, p)
}

func (g *GroupMedia) sendGroupMedia(id string, p *peer.PeerMedia) {
	if g.groupMediaSent[id] {
		return
	}
	p.SendGroupInit()
	p.SendGroupBegin()
	p.SendGroupMediaInfos(g.info)
	g.groupMediaSent[id] = true

	last, payload := g.updateFragmentMap()
	if last != 0 {
		p.SendFragmentsMap(last, payload)
	}
}

// RemovePeer unsubscribes a peer and retires any cursor pointed at it
// (§4.3.9).
func (g *GroupMedia) RemovePeer(id string) {
	if _, ok := g.peers[id]; !ok {
		return
	}
	if g.log != nil {
		g.log.Debug("removing peer", "peer", id, "count", len(g.peers))
	}
	delete(g.peers, id)
	delete(g.groupMediaSent, id)
	g.pullCursor.onPeerRemoved(id, g.peers)
	g.pushCursor.onPeerRemoved(id, g.peers)
	g.fragmentsCursor.onPeerRemoved(id, g.peers)
}

// Manage drives the periodic ticks (gossip, push assignment, pull
// scheduling) and must be called regularly by the owning Serializer.
func (g *GroupMedia) Manage(ctx context.Context) {
	if len(g.peers) == 0 {
		return
	}

	t := now()
	for _, p := range g.peers {
		p.Manage(t)
	}

	if now().Sub(g.lastFragmentsMapAt) >= g.cfg.AvailabilityUpdatePeriod {
		if last, payload := g.updateFragmentMap(); last != 0 {
			g.deliverFragmentsMap(last, payload)
		}
		g.lastFragmentsMapAt = now()
	}

	if !g.cfg.IsPublisher && now().Sub(g.lastPushUpdateAt) >= PushDelay {
		g.sendPushRequests()
	}

	if !g.cfg.IsPublisher && now().Sub(g.lastPullUpdateAt) >= PullDelay {
		g.sendPullRequests()
		g.lastPullUpdateAt = now()
	}
}

// now is a seam for tests; production code always observes wall time.
var nowFunc = time.Now

func now() time.Time { return nowFunc() }
