package peer

import (
	"log/slog"
	"time"

	"github.com/flowmesh/groupmedia/internal/flow"
	"github.com/flowmesh/groupmedia/internal/wire"
)

// activeWriterSetter is implemented by Band adapters that multiplex
// several FlowWriters into one shared outbound unit (e.g. one QUIC
// datagram per peer) and need to know, before each Flush/Manage call,
// which writer is about to produce bytes, so header elision can look at
// "did the writer that owns the current tail of the buffer match".
type activeWriterSetter interface {
	SetActiveWriter(id uint64)
}

// maxFragmentsMapSize bounds the bitmap bytes retained from a peer's
// announcement; older bits beyond this size have scrolled off and are
// simply absent from HasFragment.
const maxFragmentsMapSize = 8192

// PeerMedia holds one remote peer's state relative to a single GroupMedia:
// its inbound/outbound push masks, its most recently announced
// availability bitmap, a pull blacklist, and the two flow writers used to
// talk to it.
type PeerMedia struct {
	ID          string
	isPublisher bool

	observer Observer
	log      *slog.Logger

	band         flow.Band
	mediaID      uint64
	reportID     uint64
	signature    []byte
	flowID       uint64
	mediaWriter  *flow.Writer
	reportWriter *flow.Writer

	outboundPushMask uint8 // bits we are authorized to push to this peer
	pushInMode       uint8 // bits we have asked this peer to push to us

	idFragmentsMapOut uint64
	idFragmentsMapIn  uint64
	fragmentsMapIn    *wire.FragmentsMap

	pullBlacklist map[uint64]bool
}

// New creates a PeerMedia. mediaID and reportID identify the two flow
// writers on the wire; signature and flowID are handshake artifacts
// supplied by the session layer above this package.
func New(id string, isPublisher bool, band flow.Band, mediaID, reportID uint64, signature []byte, flowID uint64, observer Observer, log *slog.Logger) *PeerMedia {
	return &PeerMedia{
		ID:            id,
		isPublisher:   isPublisher,
		observer:      observer,
		log:           log,
		band:          band,
		mediaID:       mediaID,
		reportID:      reportID,
		signature:     signature,
		flowID:        flowID,
		pullBlacklist: make(map[uint64]bool),
	}
}

func (p *PeerMedia) mediaFlowWriter() *flow.Writer {
	if p.mediaWriter == nil {
		p.mediaWriter = flow.New(p.mediaID, p.signature, p.flowID, p.band, p.log)
	}
	return p.mediaWriter
}

func (p *PeerMedia) reportFlowWriter() *flow.Writer {
	if p.reportWriter == nil {
		p.reportWriter = flow.New(p.reportID, p.signature, p.flowID, p.band, p.log)
	}
	return p.reportWriter
}

// SendMedia enqueues a fragment for this peer. Unsolicited pushes are
// filtered by the peer's outbound push mask; pull answers bypass it.
func (p *PeerMedia) SendMedia(buf []byte, fragmentID uint64, pull bool) bool {
	if !pull && p.outboundPushMask&(1<<(fragmentID%8)) == 0 {
		return false
	}
	p.mediaFlowWriter().WriteMedia(buf)
	return true
}

// SendFragmentsMap enqueues a GROUP_FRAGMENTS_MAP message if lastFragmentID
// differs from the last one successfully sent to this peer.
func (p *PeerMedia) SendFragmentsMap(lastFragmentID uint64, payload []byte) bool {
	if lastFragmentID == p.idFragmentsMapOut {
		return false
	}
	p.reportFlowWriter().Write(payload, true)
	p.idFragmentsMapOut = lastFragmentID
	return true
}

// SendPushMode asks the peer to push us mode, if it differs from the
// mode we last asked for.
func (p *PeerMedia) SendPushMode(mode uint8) {
	if mode == p.pushInMode {
		return
	}
	p.reportFlowWriter().WriteGroupPlayPush(mode)
	p.pushInMode = mode
}

// SendPull requests fragment id explicitly from this peer.
func (p *PeerMedia) SendPull(id uint64) {
	p.reportFlowWriter().WriteGroupPlayPull(id)
}

// SendGroupInit, SendGroupBegin, and SendGroupMediaInfos enqueue the
// one-time subscription handshake sent on peer addition.
func (p *PeerMedia) SendGroupInit()  { p.reportFlowWriter().WriteGroupInit() }
func (p *PeerMedia) SendGroupBegin() { p.reportFlowWriter().WriteGroupBegin() }
func (p *PeerMedia) SendGroupMediaInfos(info wire.MediaInfos) {
	p.reportFlowWriter().WriteGroupMediaInfos(info)
}

// AddPullBlacklist marks id as "do not ask this peer again".
func (p *PeerMedia) AddPullBlacklist(id uint64) {
	p.pullBlacklist[id] = true
}

// SetOutboundPushMode records the push mask this peer has authorized us
// to send, received via an incoming GROUP_PLAY_PUSH control message.
func (p *PeerMedia) SetOutboundPushMode(mode uint8) {
	p.outboundPushMask = mode
}

// OutboundPushMask returns the bits we are currently authorized to push
// to this peer.
func (p *PeerMedia) OutboundPushMask() uint8 { return p.outboundPushMask }

// PushInMode returns the bits we have last asked this peer to push to us.
func (p *PeerMedia) PushInMode() uint8 { return p.pushInMode }

// OnFragmentsMap ingests a freshly received GROUP_FRAGMENTS_MAP payload
// (opcode already stripped). Publishers never consume maps since they
// have nothing to pull.
func (p *PeerMedia) OnFragmentsMap(payload []byte) error {
	if p.isPublisher {
		return nil
	}
	m, err := wire.DecodeFragmentsMap(payload)
	if err != nil {
		return err
	}
	if m.Last <= p.idFragmentsMapIn {
		if p.log != nil {
			p.log.Debug("stale fragments map", "peer", p.ID, "id", m.Last, "current", p.idFragmentsMapIn)
		}
		return nil
	}
	if len(m.Bitmap) > maxFragmentsMapSize {
		if p.log != nil {
			p.log.Warn("fragments map truncated", "peer", p.ID, "size", len(m.Bitmap))
		}
		m.Bitmap = m.Bitmap[:maxFragmentsMapSize]
	}
	p.idFragmentsMapIn = m.Last
	p.fragmentsMapIn = m
	if p.observer != nil {
		p.observer.FragmentsMap(p.ID, m.Last)
	}
	return nil
}

// OnFragment forwards a received fragment to the observing GroupMedia
// with this peer's identity attached.
func (p *PeerMedia) OnFragment(f *wire.Fragment) {
	if p.observer != nil {
		p.observer.Fragment(p.ID, f)
	}
}

// OnPlayPull ingests a GROUP_PLAY_PULL request from the peer.
func (p *PeerMedia) OnPlayPull(id uint64) {
	if p.observer != nil {
		p.observer.PlayPull(p.ID, id)
	}
}

// OnPlayPush ingests a GROUP_PLAY_PUSH request from the peer, updating
// the mask we are authorized to push.
func (p *PeerMedia) OnPlayPush(mode uint8) {
	p.SetOutboundPushMode(mode)
}

// HasFragment reports whether this peer's most recent availability
// bitmap indicates it holds fragment idx, per the offset/rest bit math
// in §3/§4.2: a blacklisted id is never considered available.
func (p *PeerMedia) HasFragment(idx uint64) bool {
	if p.pullBlacklist[idx] {
		return false
	}
	if p.fragmentsMapIn == nil {
		return false
	}
	return p.fragmentsMapIn.HasFragment(idx)
}

// Manage drives both flow writers' retransmission timers for one tick.
// When the underlying Band multiplexes several writers into one outbound
// unit, it is told which writer is about to run via SetActiveWriter
// before each Manage call, so header elision only fires for bytes that
// actually came from that writer.
func (p *PeerMedia) Manage(t time.Time) {
	setter, _ := p.band.(activeWriterSetter)
	if p.mediaWriter != nil {
		if setter != nil {
			setter.SetActiveWriter(p.mediaID)
		}
		p.mediaWriter.Manage(t)
	}
	if p.reportWriter != nil {
		if setter != nil {
			setter.SetActiveWriter(p.reportID)
		}
		p.reportWriter.Manage(t)
	}
}

// Close tears down this peer's flow writers and notifies the observer.
func (p *PeerMedia) Close() {
	if p.mediaWriter != nil {
		p.mediaWriter.Close()
	}
	if p.reportWriter != nil {
		p.reportWriter.Close()
	}
	if p.observer != nil {
		p.observer.PeerClosed(p.ID, p.outboundPushMask)
	}
}
