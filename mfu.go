package zcc

import "sort"

// mfu keeps the most frequently used segments pinned. Counts survive until
// Reset, which zeroes them without forgetting keys. Zero-count keys are not
// pin candidates, so after a Reset the desired set depends only on later
// accesses.
type mfu struct {
	limit  int
	counts map[SegmentID]uint64
	pinned SegmentSet
}

func newMFU(limit int) *mfu {
	return &mfu{
		limit:  limit,
		counts: make(map[SegmentID]uint64),
		pinned: NewSegmentSet(),
	}
}

func (p *mfu) UpdateAccess(id SegmentID) {
	p.counts[id]++
}

func (p *mfu) TopSegmentsToPin() SegmentSet {
	type counted struct {
		id    SegmentID
		count uint64
	}
	all := make([]counted, 0, len(p.counts))
	for id, count := range p.counts {
		// Never-accessed keys (count zero after a reset) are not candidates.
		if count == 0 {
			continue
		}
		all = append(all, counted{id, count})
	}
	// Ties broken by ID so the answer is stable within a reconciliation
	// cycle regardless of map iteration order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		if all[i].id.Slab != all[j].id.Slab {
			return all[i].id.Slab < all[j].id.Slab
		}
		return all[i].id.Index < all[j].id.Index
	})

	top := NewSegmentSet()
	for i := 0; i < len(all) && i < p.limit; i++ {
		top.Add(all[i].id)
	}
	return top
}

func (p *mfu) InsertAndEvict(SegmentID) (SegmentID, bool) {
	return SegmentID{}, false
}

func (p *mfu) Reset() {
	for id := range p.counts {
		p.counts[id] = 0
	}
}

func (p *mfu) CurrentPinned() SegmentSet { return p.pinned }

func (p *mfu) SetCurrentPinned(s SegmentSet) { p.pinned = s }

var _ ReplacementPolicy = (*mfu)(nil)
