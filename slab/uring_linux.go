//go:build linux

package slab

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	zcc "github.com/behrlich/go-zcc"
)

// defaultRingEntries sizes the submission queue of the slab's ring. The
// slab itself only submits registration updates; datapaths that share the
// ring for fixed-buffer I/O can size it explicitly via NewUringFixedRing.
const defaultRingEntries = 64

// UringFixed is a memory pool whose segments are pinned by registering them
// in an io_uring fixed-buffer table. A pinned segment's descriptor carries
// the table index for use with READ_FIXED/WRITE_FIXED submissions on the
// same ring.
type UringFixed struct {
	id         zcc.SlabID
	pageSize   zcc.PageSize
	totalPages int
	data       []byte
	raw        []byte
	start      uintptr

	mu       sync.Mutex
	ring     *giouring.Ring
	ownsRing bool
	free     []uint32 // unused fixed-buffer table slots
}

// uringPinningState records one segment's fixed-buffer registration
type uringPinningState struct {
	pinned   bool
	bufIndex uint32
	addr     uintptr
	length   uintptr
}

// UringIOInfo is the I/O descriptor for a pinned UringFixed segment
type UringIOInfo struct {
	Addr     uintptr
	Length   uintptr
	BufIndex uint32
}

// NewUringFixed creates a slab with its own ring whose fixed-buffer table
// holds up to maxSegments registrations.
func NewUringFixed(id zcc.SlabID, totalPages int, pageSize zcc.PageSize, maxSegments int) (*UringFixed, error) {
	ring, err := giouring.CreateRing(defaultRingEntries)
	if err != nil {
		return nil, fmt.Errorf("create ring: %w", err)
	}

	u, err := NewUringFixedRing(id, totalPages, pageSize, maxSegments, ring)
	if err != nil {
		ring.QueueExit()
		return nil, err
	}
	u.ownsRing = true
	return u, nil
}

// NewUringFixedRing creates a slab that registers segments on an existing
// ring, typically the datapath's I/O ring.
func NewUringFixedRing(id zcc.SlabID, totalPages int, pageSize zcc.PageSize, maxSegments int, ring *giouring.Ring) (*UringFixed, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("slab must have at least one page")
	}
	if !pageSize.Valid() {
		return nil, fmt.Errorf("unsupported page size %d", pageSize)
	}
	if maxSegments <= 0 {
		return nil, fmt.Errorf("fixed-buffer table must have at least one slot")
	}

	// A sparse table lets segments come and go without re-registering the
	// whole pool.
	if _, err := ring.RegisterBuffersSparse(uint32(maxSegments)); err != nil {
		return nil, fmt.Errorf("register sparse buffer table: %w", err)
	}

	size := uintptr(totalPages) * pageSize.Bytes()
	data, raw := alignedBlock(size, pageSize.Bytes())

	free := make([]uint32, maxSegments)
	for i := range free {
		free[i] = uint32(maxSegments - 1 - i)
	}

	return &UringFixed{
		id:         id,
		pageSize:   pageSize,
		totalPages: totalPages,
		data:       data,
		raw:        raw,
		start:      uintptr(unsafe.Pointer(&data[0])),
		ring:       ring,
		free:       free,
	}, nil
}

// ID implements the zcc.Slab interface
func (u *UringFixed) ID() zcc.SlabID { return u.id }

// StartAddress implements the zcc.Slab interface
func (u *UringFixed) StartAddress() uintptr { return u.start }

// TotalPages implements the zcc.Slab interface
func (u *UringFixed) TotalPages() int { return u.totalPages }

// PageSize implements the zcc.Slab interface
func (u *UringFixed) PageSize() zcc.PageSize { return u.pageSize }

// NewPinningState implements the zcc.Slab interface
func (u *UringFixed) NewPinningState() zcc.PinningState {
	return &uringPinningState{}
}

// Pinned implements the zcc.Slab interface
func (u *UringFixed) Pinned(state zcc.PinningState) bool {
	return state.(*uringPinningState).pinned
}

// Pin implements the zcc.Slab interface by publishing the segment into a
// free slot of the fixed-buffer table
func (u *UringFixed) Pin(state zcc.PinningState, _ zcc.PrivateInfo, addr uintptr, length uintptr) error {
	if addr < u.start || addr+length > u.start+uintptr(len(u.data)) {
		return fmt.Errorf("pin range [%#x, %#x) outside slab", addr, addr+length)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.free) == 0 {
		return fmt.Errorf("fixed-buffer table full")
	}
	idx := u.free[len(u.free)-1]

	var iov syscall.Iovec
	iov.Base = (*byte)(unsafe.Pointer(addr))
	iov.SetLen(int(length))

	if _, err := u.ring.RegisterBuffersUpdateTag(idx, []syscall.Iovec{iov}, []uint64{0}); err != nil {
		return fmt.Errorf("register buffer at slot %d: %w", idx, err)
	}
	u.free = u.free[:len(u.free)-1]

	ps := state.(*uringPinningState)
	ps.pinned = true
	ps.bufIndex = idx
	ps.addr = addr
	ps.length = length
	return nil
}

// Unpin implements the zcc.Slab interface by clearing the segment's table
// slot
func (u *UringFixed) Unpin(state zcc.PinningState) error {
	ps := state.(*uringPinningState)
	if !ps.pinned {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// An empty iovec releases the kernel's reference on the slot's pages.
	if _, err := u.ring.RegisterBuffersUpdateTag(ps.bufIndex, []syscall.Iovec{{}}, []uint64{0}); err != nil {
		return fmt.Errorf("clear buffer slot %d: %w", ps.bufIndex, err)
	}
	u.free = append(u.free, ps.bufIndex)

	ps.pinned = false
	return nil
}

// IOInfo implements the zcc.Slab interface
func (u *UringFixed) IOInfo(state zcc.PinningState) zcc.IOInfo {
	ps := state.(*uringPinningState)
	if !ps.pinned {
		return UringIOInfo{}
	}
	return UringIOInfo{Addr: ps.addr, Length: ps.length, BufIndex: ps.bufIndex}
}

// Ring returns the ring the slab registers buffers on, for datapaths that
// issue READ_FIXED/WRITE_FIXED against pinned segments
func (u *UringFixed) Ring() *giouring.Ring {
	return u.ring
}

// Buffer returns a view of the slab's memory at the given byte offset
func (u *UringFixed) Buffer(offset, length uintptr) []byte {
	return u.data[offset : offset+length : offset+length]
}

// Close unregisters the buffer table and, if the slab created the ring,
// tears it down
func (u *UringFixed) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.ring.UnregisterBuffers()
	if u.ownsRing {
		u.ring.QueueExit()
	}
	return err
}

// Compile-time interface check
var _ zcc.Slab = (*UringFixed)(nil)
