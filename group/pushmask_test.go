package group

import "testing"

func TestPushMaskOwnersFirstObserverBecomesOwner(t *testing.T) {
	t.Parallel()
	o := newPushMaskOwners()
	if drop := o.observe(0x01, "peerA", 5); drop != "" {
		t.Fatalf("drop = %q, want none", drop)
	}
	if o.owners[0x01].peerID != "peerA" {
		t.Fatal("peerA must own mask 0x01")
	}
}

func TestPushMaskOwnersFasterChallengerTakesOver(t *testing.T) {
	t.Parallel()
	o := newPushMaskOwners()
	o.observe(0x01, "peerA", 5)

	drop := o.observe(0x01, "peerB", 9)
	if drop != "peerA" {
		t.Fatalf("drop = %q, want peerA", drop)
	}
	if o.owners[0x01].peerID != "peerB" {
		t.Fatal("peerB must now own mask 0x01")
	}
}

func TestPushMaskOwnersSlowerChallengerIsDropped(t *testing.T) {
	t.Parallel()
	o := newPushMaskOwners()
	o.observe(0x01, "peerA", 9)

	drop := o.observe(0x01, "peerB", 5)
	if drop != "peerB" {
		t.Fatalf("drop = %q, want peerB", drop)
	}
	if o.owners[0x01].peerID != "peerA" {
		t.Fatal("peerA must keep owning mask 0x01")
	}
}

func TestPushMaskOwnersSameOwnerAdvancesHighWaterMark(t *testing.T) {
	t.Parallel()
	o := newPushMaskOwners()
	o.observe(0x01, "peerA", 5)
	if drop := o.observe(0x01, "peerA", 9); drop != "" {
		t.Fatalf("drop = %q, want none", drop)
	}
	if o.owners[0x01].highestSeenID != 9 {
		t.Fatalf("highestSeenID = %d, want 9", o.owners[0x01].highestSeenID)
	}
}

func TestPushMaskOwnersRemovePeerReleasesAllOwnedMasks(t *testing.T) {
	t.Parallel()
	o := newPushMaskOwners()
	o.observe(0x01, "peerA", 5)
	o.observe(0x02, "peerA", 3)
	o.observe(0x04, "peerB", 1)

	o.removePeer("peerA")
	if _, ok := o.owners[0x01]; ok {
		t.Fatal("mask 0x01 must be released")
	}
	if _, ok := o.owners[0x02]; ok {
		t.Fatal("mask 0x02 must be released")
	}
	if _, ok := o.owners[0x04]; !ok {
		t.Fatal("mask 0x04 owned by peerB must survive")
	}
}
