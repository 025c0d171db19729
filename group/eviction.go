package group

// eraseOldFragments trims the fragment store and time index down to the
// configured retention window (§4.3.6). It is a no-op when the store is
// empty or the computed cut point would not remove anything.
func (g *GroupMedia) eraseOldFragments() {
	if g.fragments.Len() == 0 {
		return
	}

	endTime, ok := g.times.Max()
	if !ok {
		return
	}
	span := uint32(g.cfg.WindowDuration.Milliseconds()) + uint32(g.cfg.RelayMargin.Milliseconds())
	if endTime < span {
		return
	}
	keepAfter := endTime - span

	cutID, ok := g.times.FragmentAtOrBefore(keepAfter)
	if !ok {
		return
	}

	// Never erase the store's own first reference: cutID must strictly
	// follow the oldest retained fragment for there to be anything to do.
	first, ok := g.fragments.First()
	if !ok || cutID <= first {
		return
	}

	removed := g.fragments.EraseBefore(cutID)
	if removed == 0 {
		return
	}
	g.times.PruneBefore(cutID)

	if g.fragmentCounter < cutID {
		if g.log != nil {
			g.log.Warn("deleting unread fragments to keep the window duration",
				"skipped", cutID-g.fragmentCounter)
		}
		g.fragmentCounter = cutID
	}

	for id := range g.waiting {
		if id < cutID {
			delete(g.waiting, id)
		}
	}

	if g.currentPullFragment < cutID {
		g.currentPullFragment = cutID
	}

	g.pushFragment(g.fragmentCounter + 1)
}
