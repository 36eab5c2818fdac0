package zcc

import (
	"sync"
	"unsafe"
)

// MockSlab provides an in-memory Slab implementation for testing. It backs
// its address range with real page-aligned process memory (so buffers cut
// from it resolve through the page-address index), records every pin and
// unpin call, and can be told to fail either.
type MockSlab struct {
	id         SlabID
	pageSize   PageSize
	totalPages int
	backing    []byte
	start      uintptr

	// Method call tracking
	mu         sync.RWMutex
	pinCalls   int
	unpinCalls int
	pinnedNow  int
	nextKey    uint32
	lastPriv   PrivateInfo
	failPin    error
	failUnpin  error
}

// mockPinningState is the per-segment registration record of a MockSlab
type mockPinningState struct {
	pinned bool
	addr   uintptr
	length uintptr
	key    uint32
}

// MockIOInfo is the I/O descriptor a MockSlab hands out for pinned
// segments: the registered address range plus a registration key
type MockIOInfo struct {
	Addr   uintptr
	Length uintptr
	Key    uint32
}

// NewMockSlab creates a mock slab with the given geometry. The backing
// memory is over-allocated by one page so the start address can be aligned
// to the page size.
func NewMockSlab(id SlabID, totalPages int, pageSize PageSize) *MockSlab {
	size := uintptr(totalPages) * pageSize.Bytes()
	align := pageSize.Bytes()
	backing := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&backing[0]))
	start := (base + align - 1) &^ (align - 1)

	return &MockSlab{
		id:         id,
		pageSize:   pageSize,
		totalPages: totalPages,
		backing:    backing,
		start:      start,
	}
}

// ID implements the Slab interface
func (m *MockSlab) ID() SlabID { return m.id }

// StartAddress implements the Slab interface
func (m *MockSlab) StartAddress() uintptr { return m.start }

// TotalPages implements the Slab interface
func (m *MockSlab) TotalPages() int { return m.totalPages }

// PageSize implements the Slab interface
func (m *MockSlab) PageSize() PageSize { return m.pageSize }

// NewPinningState implements the Slab interface
func (m *MockSlab) NewPinningState() PinningState {
	return &mockPinningState{}
}

// Pinned implements the Slab interface
func (m *MockSlab) Pinned(state PinningState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state.(*mockPinningState).pinned
}

// Pin implements the Slab interface
func (m *MockSlab) Pin(state PinningState, priv PrivateInfo, addr uintptr, length uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pinCalls++
	m.lastPriv = priv

	if m.failPin != nil {
		return m.failPin
	}

	ps := state.(*mockPinningState)
	m.nextKey++
	ps.pinned = true
	ps.addr = addr
	ps.length = length
	ps.key = m.nextKey
	m.pinnedNow++
	return nil
}

// Unpin implements the Slab interface
func (m *MockSlab) Unpin(state PinningState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unpinCalls++

	if m.failUnpin != nil {
		return m.failUnpin
	}

	ps := state.(*mockPinningState)
	if ps.pinned {
		ps.pinned = false
		m.pinnedNow--
	}
	return nil
}

// IOInfo implements the Slab interface
func (m *MockSlab) IOInfo(state PinningState) IOInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps := state.(*mockPinningState)
	return MockIOInfo{Addr: ps.addr, Length: ps.length, Key: ps.key}
}

// Buffer returns a view of the slab's memory at the given byte offset. Use
// it to build buffers that resolve through the cache's page-address index.
func (m *MockSlab) Buffer(offset, length uintptr) []byte {
	lo := m.start - uintptr(unsafe.Pointer(&m.backing[0])) + offset
	return m.backing[lo : lo+length : lo+length]
}

// Testing utility methods

// PinCalls returns the number of Pin invocations, including failed ones
func (m *MockSlab) PinCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pinCalls
}

// UnpinCalls returns the number of Unpin invocations, including failed ones
func (m *MockSlab) UnpinCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unpinCalls
}

// CurrentlyPinned returns how many segments are registered right now
func (m *MockSlab) CurrentlyPinned() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pinnedNow
}

// LastPriv returns the private info passed to the most recent Pin call
func (m *MockSlab) LastPriv() PrivateInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPriv
}

// SetFailPin makes subsequent Pin calls fail with err (nil to clear)
func (m *MockSlab) SetFailPin(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPin = err
}

// SetFailUnpin makes subsequent Unpin calls fail with err (nil to clear)
func (m *MockSlab) SetFailUnpin(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUnpin = err
}

// Reset resets call counters; pinned states are untouched
func (m *MockSlab) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinCalls = 0
	m.unpinCalls = 0
	m.lastPriv = nil
}

// Compile-time interface check
var _ Slab = (*MockSlab)(nil)
