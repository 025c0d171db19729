package group

import (
	"testing"
	"time"

	"github.com/flowmesh/groupmedia/internal/wire"
	"github.com/flowmesh/groupmedia/media"
	"github.com/flowmesh/groupmedia/peer"
)

type fakeBand struct {
	budget int
	cur    []byte
	sent   [][]byte
}

func newFakeBand() *fakeBand { return &fakeBand{budget: 4096} }

func (b *fakeBand) AvailableToWrite() int            { return b.budget - len(b.cur) }
func (b *fakeBand) CanWriteFollowing(id uint64) bool { return false }
func (b *fakeBand) Write(p []byte) {
	b.cur = append(b.cur, p...)
	buf := make([]byte, len(b.cur))
	copy(buf, b.cur)
	b.sent = append(b.sent, buf)
}
func (b *fakeBand) Flush() { b.cur = nil }

func testConfig() Config {
	return Config{
		WindowDuration:           10 * time.Second,
		RelayMargin:              time.Second,
		AvailabilityUpdatePeriod: 5 * time.Second,
		FetchPeriod:              time.Second,
		PushLimit:                7,
	}
}

func newTestPeer(id string) (*peer.PeerMedia, *fakeBand) {
	band := newFakeBand()
	p := peer.New(id, false, band, 4, 5, nil, 0, nil, nil)
	p.SetOutboundPushMode(0xFF)
	return p, band
}

func TestOnMediaPushesUpToPushLimit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.PushLimit = 1 // nbPush == 2
	g := New("s", nil, cfg, wire.MediaInfos{}, nil, nil)

	p1, b1 := newTestPeer("p1")
	p2, b2 := newTestPeer("p2")
	p3, b3 := newTestPeer("p3")
	g.AddPeer("p1", p1)
	g.AddPeer("p2", p2)
	g.AddPeer("p3", p3)
	for _, p := range []*peer.PeerMedia{p1, p2, p3} {
		p.Manage(time.Now())
	}
	for _, b := range []*fakeBand{b1, b2, b3} {
		b.sent = nil // drop handshake traffic before measuring the push
	}

	g.OnMedia(media.Frame{Type: media.Video, Time: 1000, Data: []byte("abc")})
	for _, p := range []*peer.PeerMedia{p1, p2, p3} {
		p.Manage(time.Now())
	}

	got := 0
	for _, b := range []*fakeBand{b1, b2, b3} {
		if len(b.sent) > 0 {
			got++
		}
	}
	if got != 2 {
		t.Fatalf("got %d peers pushed to, want 2 (pushLimit+1)", got)
	}
}

func TestOnFragmentDegenerateEndAfterFirstData(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)

	buf1, _ := wire.Encode(nil, wire.MarkerData, 1, 0, media.Video, 100, []byte("one"))
	f1, err := wire.Decode(buf1)
	if err != nil {
		t.Fatal(err)
	}
	g.waiting[1] = &pullWait{peerID: "peerA", sentAt: time.Now()}

	var got []string
	g.onPacket = func(typ media.ContentType, ts uint32, payload []byte) {
		got = append(got, string(payload))
	}

	g.OnFragment("peerA", f1)
	if !g.firstPullReceived {
		t.Fatal("resolving a waited pull must set firstPullReceived")
	}
	if g.fragmentCounter != 1 {
		t.Fatalf("fragmentCounter = %d, want 1", g.fragmentCounter)
	}

	buf2, _ := wire.Encode(nil, wire.MarkerEnd, 2, 0, media.Video, 200, []byte("two"))
	f2, _ := wire.Decode(buf2)
	g.OnFragment("peerA", f2)

	if g.fragmentCounter != 2 {
		t.Fatalf("fragmentCounter = %d, want 2", g.fragmentCounter)
	}
	// An END fragment carries no content-type or time byte, so it decodes
	// as media.Data and is counted but not raised to the packet callback.
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("got %v, want [one]", got)
	}
}

func TestOnFragmentReassemblesSplitGroup(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)

	var got [][]byte
	g.onPacket = func(typ media.ContentType, ts uint32, payload []byte) {
		got = append(got, payload)
	}

	// Fragment 1 is a standalone DATA packet so fragmentCounter becomes 1
	// before the split group starts at id 2 (a split group that began at
	// id 1 would hit the "waiting for a starting fragment" guard, since
	// fragmentCounter would still read 0 after the START itself).
	buf1, _ := wire.Encode(nil, wire.MarkerData, 1, 0, media.Video, 100, []byte("x"))
	f1, _ := wire.Decode(buf1)
	g.waiting[1] = &pullWait{peerID: "peerA", sentAt: time.Now()}
	g.OnFragment("peerA", f1)

	bufStart, _ := wire.Encode(nil, wire.MarkerStart, 2, 2, media.Video, 200, []byte("AB"))
	bufNext, _ := wire.Encode(nil, wire.MarkerNext, 3, 1, media.Video, 0, []byte("CD"))
	bufEnd, _ := wire.Encode(nil, wire.MarkerEnd, 4, 0, media.Video, 0, []byte("EF"))

	fStart, _ := wire.Decode(bufStart)
	fNext, _ := wire.Decode(bufNext)
	fEnd, _ := wire.Decode(bufEnd)

	// Arrive out of order: END, then START, then NEXT; only once the hole
	// is filled at NEXT should the whole group flush in id order.
	g.OnFragment("peerA", fEnd)
	if g.fragmentCounter != 1 {
		t.Fatalf("fragmentCounter = %d after END alone, want 1 (still incomplete)", g.fragmentCounter)
	}
	g.OnFragment("peerA", fStart)
	if g.fragmentCounter != 1 {
		t.Fatalf("fragmentCounter = %d after START, want 1 (NEXT still missing)", g.fragmentCounter)
	}
	g.OnFragment("peerA", fNext)

	if g.fragmentCounter != 4 {
		t.Fatalf("fragmentCounter = %d, want 4", g.fragmentCounter)
	}
	if len(got) != 2 || string(got[0]) != "x" || string(got[1]) != "ABCDEF" {
		t.Fatalf("got %v, want [x ABCDEF]", got)
	}
}

func TestOnFragmentLinearPushInOrder(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	g.firstPullReceived = true

	var times []uint32
	g.onPacket = func(typ media.ContentType, ts uint32, payload []byte) {
		times = append(times, ts)
	}

	frames := []struct {
		id uint64
		ts uint32
	}{{1, 1000}, {2, 1100}, {3, 1200}}
	for _, fr := range frames {
		buf, _ := wire.Encode(nil, wire.MarkerData, fr.id, 0, media.Video, fr.ts, []byte("x"))
		f, _ := wire.Decode(buf)
		g.OnFragment("peerA", f)
	}

	if len(times) != 3 || times[0] != 1000 || times[1] != 1100 || times[2] != 1200 {
		t.Fatalf("got %v, want [1000 1100 1200] in order", times)
	}
	if g.fragmentCounter != 3 {
		t.Fatalf("fragmentCounter = %d, want 3", g.fragmentCounter)
	}
}

func TestOnFragmentReorderWithHole(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	g.firstPullReceived = true

	var ids []uint64
	g.onPacket = func(typ media.ContentType, ts uint32, payload []byte) {
		ids = append(ids, uint64(ts)) // times double as ids here, 1000/1100/1200
	}

	encode := func(id uint64, ts uint32) *wire.Fragment {
		buf, _ := wire.Encode(nil, wire.MarkerData, id, 0, media.Video, ts, []byte("x"))
		f, _ := wire.Decode(buf)
		return f
	}

	g.OnFragment("peerA", encode(1, 1000))
	if len(ids) != 1 || ids[0] != 1000 {
		t.Fatalf("after fragment 1, got %v, want [1000]", ids)
	}

	g.OnFragment("peerA", encode(3, 1200))
	if len(ids) != 1 {
		t.Fatalf("fragment 3 must not flush past the hole at 2, got %v", ids)
	}

	g.OnFragment("peerA", encode(2, 1100))
	if len(ids) != 3 || ids[1] != 1100 || ids[2] != 1200 {
		t.Fatalf("filling the hole at 2 must flush 2 then 3, got %v", ids)
	}
	if g.fragmentCounter != 3 {
		t.Fatalf("fragmentCounter = %d, want 3", g.fragmentCounter)
	}
}

func TestOnFragmentDuplicateIgnored(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	buf, _ := wire.Encode(nil, wire.MarkerData, 1, 0, media.Video, 100, []byte("x"))
	f, _ := wire.Decode(buf)
	g.waiting[1] = &pullWait{peerID: "peerA", sentAt: time.Now()}

	calls := 0
	g.onPacket = func(media.ContentType, uint32, []byte) { calls++ }

	g.OnFragment("peerA", f)
	g.OnFragment("peerA", f)
	if calls != 1 {
		t.Fatalf("onPacket called %d times, want 1", calls)
	}
}

func TestPlayPullAnswersKnownFragment(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	p, band := newTestPeer("peerA")
	g.AddPeer("peerA", p)
	p.Manage(time.Now())
	band.sent = nil

	g.OnMedia(media.Frame{Type: media.Video, Time: 1000, Data: []byte("abc")})
	p.Manage(time.Now())
	band.sent = nil

	g.PlayPull("peerA", 1)
	p.Manage(time.Now())
	if len(band.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(band.sent))
	}
}

func TestPlayPullUnknownFragmentIsNoOp(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	p, band := newTestPeer("peerA")
	g.AddPeer("peerA", p)
	band.sent = nil

	g.PlayPull("peerA", 999)
	if len(band.sent) != 0 {
		t.Fatal("must not send anything for an unknown fragment")
	}
}

func TestAddPeerIsIdempotent(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	p, band := newTestPeer("peerA")
	g.AddPeer("peerA", p)
	p.Manage(time.Now())
	first := len(band.sent)
	g.AddPeer("peerA", p)
	p.Manage(time.Now())
	if len(band.sent) != first {
		t.Fatal("re-adding an existing peer must not resend the handshake")
	}
}

func TestRemovePeerRetiresCursors(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	p, _ := newTestPeer("peerA")
	g.AddPeer("peerA", p)
	g.pullCursor.lastPeerID = "peerA"
	g.pullCursor.atEnd = false

	g.RemovePeer("peerA")
	if _, ok := g.peers["peerA"]; ok {
		t.Fatal("peer must be removed")
	}
	if !g.pullCursor.atEnd {
		t.Fatal("cursor pointed at the removed peer must reset to end")
	}
}

func TestPeerClosedReleasesPushMaskOwnership(t *testing.T) {
	t.Parallel()
	g := New("s", nil, testConfig(), wire.MediaInfos{}, nil, nil)
	p, _ := newTestPeer("peerA")
	g.AddPeer("peerA", p)
	g.pushMasks.observe(0x01, "peerA", 5)

	g.PeerClosed("peerA", 0x01)
	if _, ok := g.pushMasks.owners[0x01]; ok {
		t.Fatal("closing the owning peer must release the mask")
	}
	if _, ok := g.peers["peerA"]; ok {
		t.Fatal("PeerClosed must also remove the peer")
	}
}
