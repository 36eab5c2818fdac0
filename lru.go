package zcc

import (
	"container/list"
	"sort"
)

// timestampLRU tracks recency with a logical clock per segment. The desired
// pinned set is the limit most recently touched segments.
type timestampLRU struct {
	limit  int
	clock  uint64
	stamps map[SegmentID]uint64
	pinned SegmentSet
}

func newTimestampLRU(limit int) *timestampLRU {
	return &timestampLRU{
		limit:  limit,
		stamps: make(map[SegmentID]uint64),
		pinned: NewSegmentSet(),
	}
}

func (p *timestampLRU) UpdateAccess(id SegmentID) {
	p.clock++
	p.stamps[id] = p.clock
}

func (p *timestampLRU) TopSegmentsToPin() SegmentSet {
	type stamped struct {
		id    SegmentID
		stamp uint64
	}
	all := make([]stamped, 0, len(p.stamps))
	for id, stamp := range p.stamps {
		all = append(all, stamped{id, stamp})
	}
	// Stamps are unique, so recency alone is a total order.
	sort.Slice(all, func(i, j int) bool { return all[i].stamp > all[j].stamp })

	top := NewSegmentSet()
	for i := 0; i < len(all) && i < p.limit; i++ {
		top.Add(all[i].id)
	}
	return top
}

func (p *timestampLRU) InsertAndEvict(SegmentID) (SegmentID, bool) {
	return SegmentID{}, false
}

func (p *timestampLRU) Reset() {
	p.clock = 0
	p.stamps = make(map[SegmentID]uint64)
}

func (p *timestampLRU) CurrentPinned() SegmentSet { return p.pinned }

func (p *timestampLRU) SetCurrentPinned(s SegmentSet) { p.pinned = s }

// linkedListLRU tracks recency with an intrusive list, most recent at the
// front. Same answers as timestampLRU without the sort on every pass.
type linkedListLRU struct {
	limit  int
	order  *list.List
	elems  map[SegmentID]*list.Element
	pinned SegmentSet
}

func newLinkedListLRU(limit int) *linkedListLRU {
	return &linkedListLRU{
		limit:  limit,
		order:  list.New(),
		elems:  make(map[SegmentID]*list.Element),
		pinned: NewSegmentSet(),
	}
}

func (p *linkedListLRU) UpdateAccess(id SegmentID) {
	if e, ok := p.elems[id]; ok {
		p.order.MoveToFront(e)
		return
	}
	p.elems[id] = p.order.PushFront(id)
}

func (p *linkedListLRU) TopSegmentsToPin() SegmentSet {
	top := NewSegmentSet()
	for e := p.order.Front(); e != nil && len(top) < p.limit; e = e.Next() {
		top.Add(e.Value.(SegmentID))
	}
	return top
}

func (p *linkedListLRU) InsertAndEvict(SegmentID) (SegmentID, bool) {
	return SegmentID{}, false
}

func (p *linkedListLRU) Reset() {
	p.order.Init()
	p.elems = make(map[SegmentID]*list.Element)
}

func (p *linkedListLRU) CurrentPinned() SegmentSet { return p.pinned }

func (p *linkedListLRU) SetCurrentPinned(s SegmentSet) { p.pinned = s }

// onDemandLRU implements admission by recency for pin-on-demand mode. The
// recency list doubles as the membership record: whatever is on the list is
// pinned.
type onDemandLRU struct {
	limit  int
	order  *list.List
	elems  map[SegmentID]*list.Element
	pinned SegmentSet
}

func newOnDemandLRU(limit int) *onDemandLRU {
	return &onDemandLRU{
		limit:  limit,
		order:  list.New(),
		elems:  make(map[SegmentID]*list.Element),
		pinned: NewSegmentSet(),
	}
}

func (p *onDemandLRU) UpdateAccess(id SegmentID) {
	if e, ok := p.elems[id]; ok {
		p.order.MoveToFront(e)
	}
}

func (p *onDemandLRU) TopSegmentsToPin() SegmentSet {
	// Admission happens through InsertAndEvict; the desired set is simply
	// what has been admitted.
	return p.pinned.Clone()
}

func (p *onDemandLRU) InsertAndEvict(id SegmentID) (SegmentID, bool) {
	if e, ok := p.elems[id]; ok {
		p.order.MoveToFront(e)
		return SegmentID{}, false
	}

	var evicted SegmentID
	var hasEvicted bool
	if p.order.Len() >= p.limit {
		back := p.order.Back()
		evicted = back.Value.(SegmentID)
		hasEvicted = true
		p.order.Remove(back)
		delete(p.elems, evicted)
		delete(p.pinned, evicted)
	}

	p.elems[id] = p.order.PushFront(id)
	p.pinned.Add(id)
	return evicted, hasEvicted
}

func (p *onDemandLRU) Reset() {
	// Membership is the pinned set, so only the recency order is cleared.
	p.SetCurrentPinned(p.pinned)
}

func (p *onDemandLRU) CurrentPinned() SegmentSet { return p.pinned }

func (p *onDemandLRU) SetCurrentPinned(s SegmentSet) {
	p.pinned = s
	p.order.Init()
	p.elems = make(map[SegmentID]*list.Element)
	for id := range s {
		p.elems[id] = p.order.PushFront(id)
	}
}

var (
	_ ReplacementPolicy = (*timestampLRU)(nil)
	_ ReplacementPolicy = (*linkedListLRU)(nil)
	_ ReplacementPolicy = (*onDemandLRU)(nil)
)
