package flow

import "github.com/flowmesh/groupmedia/internal/wire"

// WriteMedia enqueues a raw pre-serialized fragment for delivery. Media
// fragments are always repeatable: losing one means the peer never gets
// that piece of the stream.
func (w *Writer) WriteMedia(buf []byte) {
	w.Write(buf, true)
}

// WriteGroupInit enqueues a bare GROUP_INIT control message.
func (w *Writer) WriteGroupInit() {
	w.Write(wire.EncodeGroupInit(nil), true)
}

// WriteGroupBegin enqueues a bare GROUP_BEGIN control message.
func (w *Writer) WriteGroupBegin() {
	w.Write(wire.EncodeGroupBegin(nil), true)
}

// WriteGroupMediaInfos enqueues a GROUP_MEDIA_INFOS control message
// describing the stream name and the sender's window/gossip tuning.
func (w *Writer) WriteGroupMediaInfos(info wire.MediaInfos) {
	w.Write(wire.EncodeGroupMediaInfos(nil, info), true)
}

// WriteGroupPlayPush enqueues a GROUP_PLAY_PUSH control message asking
// the peer to honor the given push mask.
func (w *Writer) WriteGroupPlayPush(mask uint8) {
	w.Write(wire.EncodeGroupPlayPush(nil, mask), true)
}

// WriteGroupPlayPull enqueues a GROUP_PLAY_PULL control message
// requesting one fragment id from the peer.
func (w *Writer) WriteGroupPlayPull(id uint64) {
	w.Write(wire.EncodeGroupPlayPull(nil, id), true)
}

// WriteGroupFragmentsMap enqueues a GROUP_FRAGMENTS_MAP gossip message.
func (w *Writer) WriteGroupFragmentsMap(first, last uint64, publisher bool, has func(id uint64) bool) {
	w.Write(wire.EncodeGroupFragmentsMap(nil, first, last, publisher, has), true)
}
