// Package transport adapts quic-go's unreliable DATAGRAM extension to the
// flow.Band interface, so a peer's FlowWriters can multiplex their
// fragments into one outbound QUIC datagram per flush.
package transport

import (
	"context"
	"log/slog"

	"github.com/flowmesh/groupmedia/internal/flow"
)

// DatagramConnection is the subset of quic.Connection used here (RFC 9221
// unreliable datagrams), kept narrow so tests can stub it without pulling
// in a real QUIC handshake.
type DatagramConnection interface {
	SendDatagram(payload []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
}

// MaxDatagramSize bounds one outbound packet; it stays comfortably under
// the common 1200-byte safe-path-MTU DATAGRAM ceiling.
const MaxDatagramSize = 1100

// Band implements flow.Band over one QUIC connection's datagram channel.
// A single Band is shared by every FlowWriter belonging to one peer, so
// consecutive fragments from the same writer can share one datagram and
// elide repeated headers.
type Band struct {
	conn DatagramConnection
	log  *slog.Logger

	buf []byte

	activeWriter uint64
	haveActive   bool

	// lastWriterInBuf is the writer that produced the bytes currently at
	// the tail of buf, set as a side effect of Write and cleared by Flush.
	lastWriterInBuf uint64
	haveLastWriter  bool
}

// NewBand wraps conn for use by a peer's FlowWriters.
func NewBand(conn DatagramConnection, log *slog.Logger) *Band {
	return &Band{conn: conn, log: log}
}

// SetActiveWriter records which FlowWriter is about to write into the
// current datagram. The peer-level orchestrator calls this before
// driving each writer's Flush/Manage, since the Band itself has no way to
// observe which writer produced a given byte slice otherwise.
func (b *Band) SetActiveWriter(id uint64) {
	b.activeWriter = id
	b.haveActive = true
}

// AvailableToWrite implements flow.Band.
func (b *Band) AvailableToWrite() int {
	return MaxDatagramSize - len(b.buf)
}

// CanWriteFollowing implements flow.Band: true only if the current
// datagram already ends with bytes from writerID.
func (b *Band) CanWriteFollowing(writerID uint64) bool {
	return b.haveLastWriter && b.lastWriterInBuf == writerID
}

// Write implements flow.Band.
func (b *Band) Write(p []byte) {
	b.buf = append(b.buf, p...)
	if b.haveActive {
		b.lastWriterInBuf = b.activeWriter
		b.haveLastWriter = true
	}
}

// Flush implements flow.Band: send the accumulated buffer as one
// datagram and reset for the next packet.
func (b *Band) Flush() {
	if len(b.buf) == 0 {
		return
	}
	if err := b.conn.SendDatagram(b.buf); err != nil && b.log != nil {
		b.log.Warn("failed to send datagram", "error", err, "size", len(b.buf))
	}
	b.buf = b.buf[:0]
	b.haveLastWriter = false
}

// ReceiveLoop reads datagrams from conn until ctx is canceled, passing
// each to handle. It is meant to run on its own goroutine per peer
// connection.
func (b *Band) ReceiveLoop(ctx context.Context, handle func([]byte)) error {
	for {
		data, err := b.conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		handle(data)
	}
}

var _ flow.Band = (*Band)(nil)
