// Package slab provides standard Slab implementations for the zero-copy
// pinning cache: a process-memory pool pinned with mlock, and an io_uring
// pool whose segments are registered as fixed buffers.
package slab

import (
	"fmt"
	"unsafe"

	"github.com/ncw/directio"

	zcc "github.com/behrlich/go-zcc"
)

// alignedBlock allocates size bytes whose first byte is aligned to align.
// directio gives 4 KiB alignment; stronger alignments (huge page sized
// slabs) are carved out of an over-allocation.
func alignedBlock(size, align uintptr) (aligned, raw []byte) {
	raw = directio.AlignedBlock(int(size + align))
	base := uintptr(unsafe.Pointer(&raw[0]))
	off := ((base + align - 1) &^ (align - 1)) - base
	return raw[off : off+size : off+size], raw
}

// Memory is a page-aligned pool of process memory. Pinning a segment locks
// its pages into RAM with mlock, which makes the virtual address range safe
// to hand to a device; the I/O descriptor is simply that address range.
type Memory struct {
	id         zcc.SlabID
	pageSize   zcc.PageSize
	totalPages int
	data       []byte
	raw        []byte // keeps the allocation reachable
	start      uintptr
}

// memoryPinningState records one segment's mlock registration
type memoryPinningState struct {
	pinned bool
	locked []byte
}

// MemoryIOInfo is the I/O descriptor for a pinned Memory segment
type MemoryIOInfo struct {
	Addr   uintptr
	Length uintptr
}

// NewMemory allocates a memory slab with the given geometry
func NewMemory(id zcc.SlabID, totalPages int, pageSize zcc.PageSize) (*Memory, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("slab must have at least one page")
	}
	if !pageSize.Valid() {
		return nil, fmt.Errorf("unsupported page size %d", pageSize)
	}

	size := uintptr(totalPages) * pageSize.Bytes()
	data, raw := alignedBlock(size, pageSize.Bytes())

	return &Memory{
		id:         id,
		pageSize:   pageSize,
		totalPages: totalPages,
		data:       data,
		raw:        raw,
		start:      uintptr(unsafe.Pointer(&data[0])),
	}, nil
}

// ID implements the zcc.Slab interface
func (m *Memory) ID() zcc.SlabID { return m.id }

// StartAddress implements the zcc.Slab interface
func (m *Memory) StartAddress() uintptr { return m.start }

// TotalPages implements the zcc.Slab interface
func (m *Memory) TotalPages() int { return m.totalPages }

// PageSize implements the zcc.Slab interface
func (m *Memory) PageSize() zcc.PageSize { return m.pageSize }

// NewPinningState implements the zcc.Slab interface
func (m *Memory) NewPinningState() zcc.PinningState {
	return &memoryPinningState{}
}

// Pinned implements the zcc.Slab interface
func (m *Memory) Pinned(state zcc.PinningState) bool {
	return state.(*memoryPinningState).pinned
}

// Pin implements the zcc.Slab interface by locking the segment's pages
// into RAM
func (m *Memory) Pin(state zcc.PinningState, _ zcc.PrivateInfo, addr uintptr, length uintptr) error {
	if addr < m.start || addr+length > m.start+uintptr(len(m.data)) {
		return fmt.Errorf("pin range [%#x, %#x) outside slab", addr, addr+length)
	}

	off := addr - m.start
	buf := m.data[off : off+length : off+length]
	if err := lockMemory(buf); err != nil {
		return err
	}

	ps := state.(*memoryPinningState)
	ps.pinned = true
	ps.locked = buf
	return nil
}

// Unpin implements the zcc.Slab interface
func (m *Memory) Unpin(state zcc.PinningState) error {
	ps := state.(*memoryPinningState)
	if !ps.pinned {
		return nil
	}
	if err := unlockMemory(ps.locked); err != nil {
		return err
	}
	ps.pinned = false
	ps.locked = nil
	return nil
}

// IOInfo implements the zcc.Slab interface
func (m *Memory) IOInfo(state zcc.PinningState) zcc.IOInfo {
	ps := state.(*memoryPinningState)
	if !ps.pinned {
		return MemoryIOInfo{}
	}
	return MemoryIOInfo{
		Addr:   uintptr(unsafe.Pointer(&ps.locked[0])),
		Length: uintptr(len(ps.locked)),
	}
}

// Buffer returns a view of the slab's memory at the given byte offset, for
// callers that cut I/O buffers from the pool
func (m *Memory) Buffer(offset, length uintptr) []byte {
	return m.data[offset : offset+length : offset+length]
}

// Size returns the slab's total size in bytes
func (m *Memory) Size() uintptr {
	return uintptr(len(m.data))
}

// Compile-time interface check
var _ zcc.Slab = (*Memory)(nil)
