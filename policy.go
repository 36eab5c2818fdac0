package zcc

import (
	"strings"

	"github.com/behrlich/go-zcc/internal/constants"
)

// CacheType selects the replacement policy that decides which segments stay
// pinned.
type CacheType string

const (
	CacheTypeOnDemandLRU   CacheType = "ondemandlru"
	CacheTypeTimestampLRU  CacheType = "timestamplru"
	CacheTypeLinkedListLRU CacheType = "linkedlistlru"
	CacheTypeMFU           CacheType = "mfu"
	CacheTypeNoAlg         CacheType = "noalg"
)

// ParseCacheType parses a policy name, case-insensitively.
func ParseCacheType(s string) (CacheType, error) {
	switch strings.ToLower(s) {
	case "ondemandlru":
		return CacheTypeOnDemandLRU, nil
	case "timestamplru":
		return CacheTypeTimestampLRU, nil
	case "linkedlistlru":
		return CacheTypeLinkedListLRU, nil
	case "mfu":
		return CacheTypeMFU, nil
	case "noalg":
		return CacheTypeNoAlg, nil
	}
	return "", NewError("PARSE_CACHE_TYPE", ErrCodeUnknownCacheType, s+" cache type unknown")
}

// SegmentSet is a set of segment IDs.
type SegmentSet map[SegmentID]struct{}

// NewSegmentSet builds a set from the given IDs.
func NewSegmentSet(ids ...SegmentID) SegmentSet {
	s := make(SegmentSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s SegmentSet) Contains(id SegmentID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s SegmentSet) Add(id SegmentID) {
	s[id] = struct{}{}
}

// Clone returns an independent copy of the set.
func (s SegmentSet) Clone() SegmentSet {
	c := make(SegmentSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// ReplacementPolicy maintains access history over segment IDs and answers
// which segments should be pinned. Implementations are not internally
// synchronized; the cache serializes all calls under its policy lock.
type ReplacementPolicy interface {
	// UpdateAccess records one access to the segment. Called on every
	// resolved fast-path touch, so it must be O(1) amortized.
	UpdateAccess(id SegmentID)

	// TopSegmentsToPin returns the desired pinned set, at most limit IDs.
	// With no intervening accesses it must return an equal set on every
	// call.
	TopSegmentsToPin() SegmentSet

	// InsertAndEvict admits id and returns the evicted ID when the policy
	// is at capacity. Only meaningful for on-demand policies.
	InsertAndEvict(id SegmentID) (SegmentID, bool)

	// Reset clears access history without forgetting the pinned set.
	Reset()

	// CurrentPinned returns the committed pinned set. Callers must not
	// mutate the returned set.
	CurrentPinned() SegmentSet

	// SetCurrentPinned replaces the committed pinned set.
	SetCurrentPinned(s SegmentSet)
}

// NewPolicy constructs the policy named by ct. limit is the maximum number
// of segments that may be pinned simultaneously; a negative limit falls back
// to DefaultCacheCapacity, for hosts that size policies directly rather than
// from a byte budget.
func NewPolicy(ct CacheType, limit int) (ReplacementPolicy, error) {
	if limit < 0 {
		limit = constants.DefaultCacheCapacity
	}
	switch ct {
	case CacheTypeOnDemandLRU:
		return newOnDemandLRU(limit), nil
	case CacheTypeTimestampLRU:
		return newTimestampLRU(limit), nil
	case CacheTypeLinkedListLRU:
		return newLinkedListLRU(limit), nil
	case CacheTypeMFU:
		return newMFU(limit), nil
	case CacheTypeNoAlg:
		return newNoAlg(limit), nil
	}
	return nil, NewError("NEW_POLICY", ErrCodeUnknownCacheType, string(ct)+" cache type unknown")
}

// noAlg pins whatever an external oracle committed via SetCurrentPinned and
// records nothing.
type noAlg struct {
	limit  int
	pinned SegmentSet
}

func newNoAlg(limit int) *noAlg {
	return &noAlg{limit: limit, pinned: NewSegmentSet()}
}

func (p *noAlg) UpdateAccess(SegmentID) {}

func (p *noAlg) TopSegmentsToPin() SegmentSet {
	return p.pinned.Clone()
}

func (p *noAlg) InsertAndEvict(SegmentID) (SegmentID, bool) {
	return SegmentID{}, false
}

func (p *noAlg) Reset() {}

func (p *noAlg) CurrentPinned() SegmentSet { return p.pinned }

func (p *noAlg) SetCurrentPinned(s SegmentSet) { p.pinned = s }

var _ ReplacementPolicy = (*noAlg)(nil)
