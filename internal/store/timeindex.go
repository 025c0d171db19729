package store

import "sort"

// TimeIndex maps timestamp -> fragment id, populated only by DATA/START
// fragments whose timestamp strictly exceeds the current maximum. It
// exists purely to drive window eviction: given a cutoff time, find the
// newest fragment id at or before it.
type TimeIndex struct {
	times []uint32 // sorted ascending, strictly increasing by construction
	ids   []uint64 // ids[i] corresponds to times[i]
}

func NewTimeIndex() *TimeIndex {
	return &TimeIndex{}
}

// Max returns the latest recorded timestamp, and whether the index is
// non-empty.
func (t *TimeIndex) Max() (uint32, bool) {
	if len(t.times) == 0 {
		return 0, false
	}
	return t.times[len(t.times)-1], true
}

// Record adds (time, id) if time strictly exceeds the current maximum,
// preserving the monotone-time assumption the index relies on.
func (t *TimeIndex) Record(time uint32, id uint64) {
	if max, ok := t.Max(); ok && time <= max {
		return
	}
	t.times = append(t.times, time)
	t.ids = append(t.ids, id)
}

// FragmentAtOrBefore returns the id of the newest recorded fragment whose
// timestamp is <= cutoff, and whether one exists.
func (t *TimeIndex) FragmentAtOrBefore(cutoff uint32) (uint64, bool) {
	i := sort.Search(len(t.times), func(i int) bool { return t.times[i] > cutoff })
	if i == 0 {
		return 0, false
	}
	return t.ids[i-1], true
}

// PruneBefore drops every (time, id) pair whose id is strictly less than
// cut, keeping the index aligned with the fragment store after eviction.
func (t *TimeIndex) PruneBefore(cut uint64) {
	i := 0
	for i < len(t.ids) && t.ids[i] < cut {
		i++
	}
	t.times = t.times[i:]
	t.ids = t.ids[i:]
}
