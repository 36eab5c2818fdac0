package zcc

import "fmt"

// SlabID identifies a slab registered with the cache.
type SlabID uint32

// PinningState is the slab-private record of a segment's registration with
// the datapath. The cache never inspects it; it is created by
// Slab.NewPinningState and passed back on every pin, unpin and query call.
type PinningState any

// PrivateInfo is an opaque datapath handle (e.g. a protection domain or a
// ring) that the cache threads through to pin calls.
type PrivateInfo any

// IOInfo is the opaque, copyable descriptor the datapath needs to issue
// zero-copy I/O against a pinned segment (e.g. a memory-region key and
// address, or a fixed-buffer index).
type IOInfo any

// Slab is the capability the cache consumes from the datapath's memory
// pools: identity, geometry, and the pin/unpin primitives. Implementations
// must be safe for concurrent use; pin and unpin for distinct states may be
// invoked from different goroutines at once.
type Slab interface {
	// ID returns the slab's identity.
	ID() SlabID

	// StartAddress returns the address of the slab's first byte. It must be
	// aligned to PageSize.
	StartAddress() uintptr

	// TotalPages returns the number of pages in the slab.
	TotalPages() int

	// PageSize returns the slab's page granularity.
	PageSize() PageSize

	// NewPinningState returns a fresh, unpinned state for one segment.
	NewPinningState() PinningState

	// Pinned reports whether the segment described by state is currently
	// registered with the device.
	Pinned(state PinningState) bool

	// Pin registers [addr, addr+length) with the device. On success,
	// Pinned(state) reports true and IOInfo(state) is valid.
	Pin(state PinningState, priv PrivateInfo, addr uintptr, length uintptr) error

	// Unpin releases the registration recorded in state.
	Unpin(state PinningState) error

	// IOInfo returns the device I/O descriptor for a pinned state.
	IOInfo(state PinningState) IOInfo
}

// SegmentID identifies a segment as its slab plus its ordinal within the
// slab. It is comparable and usable as a map key.
type SegmentID struct {
	Slab  SlabID
	Index int
}

func (id SegmentID) String() string {
	return fmt.Sprintf("%d/%d", id.Slab, id.Index)
}

// Segment is a contiguous, fixed-size sub-range of one slab: the unit of
// pinning. Segments are created when a slab is registered and live for the
// lifetime of the cache.
type Segment struct {
	startAddr uintptr
	numPages  int
	pageSize  PageSize
	state     PinningState
	id        SegmentID
	slab      Slab
}

func newSegment(slab Slab, index int, startAddr uintptr, numPages int) *Segment {
	return &Segment{
		startAddr: startAddr,
		numPages:  numPages,
		pageSize:  slab.PageSize(),
		state:     slab.NewPinningState(),
		id:        SegmentID{Slab: slab.ID(), Index: index},
		slab:      slab,
	}
}

// ID returns the segment's identity.
func (s *Segment) ID() SegmentID { return s.id }

// StartAddress returns the address of the segment's first byte.
func (s *Segment) StartAddress() uintptr { return s.startAddr }

// NumPages returns the number of pages the segment spans.
func (s *Segment) NumPages() int { return s.numPages }

// PageSize returns the segment's page granularity.
func (s *Segment) PageSize() PageSize { return s.pageSize }

// Len returns the segment's length in bytes.
func (s *Segment) Len() uintptr {
	return uintptr(s.numPages) * s.pageSize.Bytes()
}

// Pinned reports whether the segment is currently registered.
func (s *Segment) Pinned() bool {
	return s.slab.Pinned(s.state)
}

// register pins the segment's full byte range with the slab.
func (s *Segment) register(priv PrivateInfo) error {
	return s.slab.Pin(s.state, priv, s.startAddr, s.Len())
}

// unregister releases the segment's registration.
func (s *Segment) unregister() error {
	return s.slab.Unpin(s.state)
}

func (s *Segment) ioInfo() IOInfo {
	return s.slab.IOInfo(s.state)
}

// pageAddresses returns the start address of every page in the segment.
func (s *Segment) pageAddresses() []uintptr {
	addrs := make([]uintptr, s.numPages)
	for i := range addrs {
		addrs[i] = s.startAddr + uintptr(i)*s.pageSize.Bytes()
	}
	return addrs
}
