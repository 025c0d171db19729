// Package flow implements sliding-window reliable delivery of opaque
// messages over one logical unidirectional flow, on top of a lower layer
// that only exposes a per-packet write budget and an explicit flush.
package flow

import (
	"log/slog"
	"time"

	"github.com/flowmesh/groupmedia/internal/wire"
)

// State is one of a FlowWriter's lifecycle stages.
type State int

const (
	Opening State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Band is the shared per-peer packet-multiplexing layer beneath every
// FlowWriter on one connection. It reports how much budget remains in the
// packet currently being assembled, whether the last bytes written into
// that packet belong to a given writer (enabling header elision), and
// accepts fragment bytes to append or flush.
type Band interface {
	AvailableToWrite() int
	CanWriteFollowing(writerID uint64) bool
	Write(p []byte)
	Flush()
}

const defaultTriggerInterval = 500 * time.Millisecond

// Writer reliably delivers an ordered sequence of byte messages over one
// flow. It is driven synchronously by its owning peer or group: Write,
// Flush, Acknowledgment, and Manage are never called concurrently with
// each other for the same Writer.
type Writer struct {
	ID        uint64
	Signature []byte
	FlowID    uint64

	band Band
	log  *slog.Logger

	state    State
	stage    uint64
	stageAck uint64

	messages     []*message
	messagesSent []*message
	repeatable   int
	ackCount     int
	lostCount    int

	trigger *trigger
}

// New creates a FlowWriter. A nil or empty signature opens the writer
// immediately; otherwise it starts in Opening until the caller invokes
// Open once the peer's handshake for this flow completes.
func New(id uint64, signature []byte, flowID uint64, band Band, log *slog.Logger) *Writer {
	w := &Writer{
		ID:        id,
		Signature: signature,
		FlowID:    flowID,
		band:      band,
		log:       log,
		trigger:   newTrigger(defaultTriggerInterval),
	}
	if len(signature) == 0 {
		w.state = Open
	} else {
		w.state = Opening
	}
	return w
}

// Open transitions an Opening writer to Open, releasing any buffered
// reliable messages to be flushed on the next Flush call.
func (w *Writer) Open() {
	if w.state == Opening {
		w.state = Open
	}
}

// Close transitions the writer to Closed. Existing queues are left to
// drain; no further writes are accepted.
func (w *Writer) Close() {
	w.state = Closed
	w.trigger.stop()
}

func (w *Writer) State() State { return w.state }

// Write enqueues buf for delivery. repeatable messages are retransmitted
// on loss and survive the Opening state buffered; non-repeatable messages
// are dropped while Opening and ignored entirely once Closed.
func (w *Writer) Write(buf []byte, repeatable bool) {
	switch w.state {
	case Closed:
		return
	case Opening:
		if !repeatable {
			return
		}
	}
	w.messages = append(w.messages, newMessage(buf, repeatable))
}

// Flush fragments every pending message across the available write
// budget reported by the Band, emitting each fragment through it. It
// returns true if anything was sent.
func (w *Writer) Flush() bool {
	if w.state == Opening {
		if w.log != nil {
			w.log.Error("flush attempted on opening writer", "writer", w.ID)
		}
		return false
	}

	hasSent := false
	header := !w.band.CanWriteFollowing(w.ID)

	for len(w.messages) > 0 {
		hasSent = true
		msg := w.messages[0]
		w.messages = w.messages[1:]

		if msg.repeatable {
			w.repeatable++
			w.trigger.start(time.Now())
		}

		offset := 0
		for {
			w.stage++
			withHeader := header && w.stageAck == 0

			hdrSize := 1
			if withHeader {
				hdrSize = wire.HeaderSize(w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
			}

			avail := w.band.AvailableToWrite()
			contentSize := avail - hdrSize
			if contentSize < 0 {
				contentSize = 0
			}
			remaining := len(msg.buf) - offset

			flags := uint8(0)
			if offset > 0 {
				flags |= wire.FlagBeforePart
			}
			finished := contentSize >= remaining
			if finished {
				contentSize = remaining
			} else {
				flags |= wire.FlagAfterPart
			}

			pkt := wire.EncodeFlowHeader(nil, flags, withHeader, w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
			pkt = append(pkt, msg.buf[offset:offset+contentSize]...)
			w.band.Write(pkt)
			msg.fragments = append(msg.fragments, fragmentSend{Offset: offset, Stage: w.stage})

			offset += contentSize
			header = false

			if finished {
				break
			}
			w.band.Flush()
			header = true
		}

		w.messagesSent = append(w.messagesSent, msg)
	}

	return hasSent
}

// Acknowledgment processes one acknowledgment packet as described in
// §4.1.2: a buffer-size hint, the highest contiguous stage the receiver
// holds, then zero or more lost-range pairs.
func (w *Writer) Acknowledgment(packet []byte) error {
	bufSize, n, ok := wire.Read7BitValue(packet)
	if !ok {
		return &wire.ParseError{Field: "bufferSize", Err: wire.ErrTruncated}
	}
	packet = packet[n:]

	if bufSize == 0 {
		if w.log != nil {
			w.log.Warn("closing writer, negative acknowledgment", "writer", w.ID)
		}
		w.Close()
		return nil
	}

	stageReaden, n, ok := wire.Read7BitValue(packet)
	if !ok {
		return &wire.ParseError{Field: "stageReaden", Err: wire.ErrTruncated}
	}
	packet = packet[n:]

	prevStageAck := w.stageAck
	switch {
	case stageReaden > w.stage:
		if w.log != nil {
			w.log.Error("acknowledgment references unsent stage", "writer", w.ID, "stageReaden", stageReaden, "stage", w.stage)
		}
		w.stageAck = w.stage
	case stageReaden > w.stageAck:
		w.stageAck = stageReaden
	}

	maxStageRecv := stageReaden
	lost := make(map[uint64]bool)
	for len(packet) > 0 {
		lostCountMinus1, n, ok := wire.Read7BitValue(packet)
		if !ok {
			return &wire.ParseError{Field: "lostCount", Err: wire.ErrTruncated}
		}
		packet = packet[n:]
		gap, n, ok := wire.Read7BitValue(packet)
		if !ok {
			return &wire.ParseError{Field: "lostGap", Err: wire.ErrTruncated}
		}
		packet = packet[n:]

		lostCount := lostCountMinus1 + 1
		lostStageStart := maxStageRecv + 1
		if lostStageStart > w.stage {
			if w.log != nil {
				w.log.Error("lost information references unsent stage", "writer", w.ID, "stage", lostStageStart)
			}
			continue
		}
		for s := lostStageStart; s < lostStageStart+lostCount; s++ {
			lost[s] = true
		}
		maxStageRecv = lostStageStart + lostCount - 1 + gap
	}

	anyRetransmitted := false
	i := 0
	for i < len(w.messagesSent) {
		msg := w.messagesSent[i]
		j := 0
		for j < len(msg.fragments) {
			frag := msg.fragments[j]
			switch {
			case frag.Stage <= w.stageAck:
				msg.removeFragmentAt(j)
				w.ackCount++
			case lost[frag.Stage]:
				if msg.repeatable {
					if frag.Stage < maxStageRecv {
						w.retransmitFragment(msg, j)
						anyRetransmitted = true
						j++
					} else {
						j++
					}
				} else {
					w.stageAck = frag.Stage
					w.lostCount++
					msg.removeFragmentAt(j)
				}
			default:
				if !anyRetransmitted {
					w.stageAck = frag.Stage
					msg.removeFragmentAt(j)
				} else {
					j++
				}
			}
		}

		if len(msg.fragments) == 0 {
			if msg.repeatable {
				w.repeatable--
			}
			w.ackCount = 0
			w.lostCount = 0
			w.messagesSent = append(w.messagesSent[:i], w.messagesSent[i+1:]...)
			continue
		}
		i++
	}

	if w.repeatable <= 0 {
		w.repeatable = 0
		w.trigger.stop()
	} else if w.stageAck > prevStageAck || anyRetransmitted {
		w.trigger.reset(time.Now())
	}
	return nil
}

// retransmitFragment resends the wire fragment at fragment index j of msg
// under a fresh stage, respecting the Band's write budget.
func (w *Writer) retransmitFragment(msg *message, j int) {
	off := msg.fragments[j].Offset
	end := len(msg.buf)
	if j+1 < len(msg.fragments) {
		end = msg.fragments[j+1].Offset
	}
	contentSize := end - off

	flags := uint8(0)
	if off > 0 {
		flags |= wire.FlagBeforePart
	}
	if end < len(msg.buf) {
		flags |= wire.FlagAfterPart
	}

	w.stage++
	withHeader := w.stageAck == 0
	hdrSize := 1
	if withHeader {
		hdrSize = wire.HeaderSize(w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
	}
	if w.band.AvailableToWrite() < hdrSize+contentSize {
		w.band.Flush()
	}

	pkt := wire.EncodeFlowHeader(nil, flags, withHeader, w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
	pkt = append(pkt, msg.buf[off:end]...)
	w.band.Write(pkt)
	msg.fragments[j].Stage = w.stage
}

// Manage runs the periodic retransmit trigger and flushes whatever has
// accumulated since the last call.
func (w *Writer) Manage(now time.Time) {
	if w.state != Closed {
		if fired, exhausted := w.trigger.raise(now); fired {
			w.raiseMessages()
		} else if exhausted {
			if w.log != nil {
				w.log.Warn("closing writer, retransmit trigger exhausted", "writer", w.ID)
			}
			w.Close()
			return
		}
	}
	w.Flush()
}

// raiseMessages bulk-retransmits every repeatable message's fragments in
// messagesSent, stopping as soon as the current outbound packet's budget
// is exhausted; the remainder is retried on the next trigger cycle.
func (w *Writer) raiseMessages() {
	for _, msg := range w.messagesSent {
		if !msg.repeatable {
			continue
		}
		for j := range msg.fragments {
			off := msg.fragments[j].Offset
			end := len(msg.buf)
			if j+1 < len(msg.fragments) {
				end = msg.fragments[j+1].Offset
			}
			contentSize := end - off

			flags := uint8(0)
			if off > 0 {
				flags |= wire.FlagBeforePart
			}
			if end < len(msg.buf) {
				flags |= wire.FlagAfterPart
			}

			w.stage++
			withHeader := w.stageAck == 0
			hdrSize := 1
			if withHeader {
				hdrSize = wire.HeaderSize(w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
			}
			if w.band.AvailableToWrite() < hdrSize+contentSize {
				return
			}

			pkt := wire.EncodeFlowHeader(nil, flags, withHeader, w.ID, w.stage, w.stage-w.stageAck, w.Signature, w.FlowID)
			pkt = append(pkt, msg.buf[off:end]...)
			w.band.Write(pkt)
			msg.fragments[j].Stage = w.stage
		}
	}
}

// Repeatable reports the number of in-flight messages flagged reliable.
func (w *Writer) Repeatable() int { return w.repeatable }

// Stage reports the writer's current stage counter.
func (w *Writer) Stage() uint64 { return w.stage }

// StageAck reports the highest stage known acknowledged by the receiver.
func (w *Writer) StageAck() uint64 { return w.stageAck }
