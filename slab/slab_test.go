package slab

import (
	"testing"

	zcc "github.com/behrlich/go-zcc"
)

func TestNewMemory(t *testing.T) {
	pool, err := NewMemory(1, 4, zcc.PageSize4KB)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	if pool.ID() != 1 {
		t.Errorf("ID() = %d, want 1", pool.ID())
	}
	if pool.TotalPages() != 4 {
		t.Errorf("TotalPages() = %d, want 4", pool.TotalPages())
	}
	if pool.PageSize() != zcc.PageSize4KB {
		t.Errorf("PageSize() = %v, want 4KB", pool.PageSize())
	}
	if pool.Size() != 16384 {
		t.Errorf("Size() = %d, want 16384", pool.Size())
	}

	// The start address must be aligned to the page size or the cache's
	// page index cannot resolve inner addresses
	if pool.StartAddress()%pool.PageSize().Bytes() != 0 {
		t.Errorf("start address %#x not aligned to %d", pool.StartAddress(), pool.PageSize().Bytes())
	}
}

func TestNewMemoryValidation(t *testing.T) {
	if _, err := NewMemory(1, 0, zcc.PageSize4KB); err == nil {
		t.Error("expected error for zero pages")
	}
	if _, err := NewMemory(1, 4, zcc.PageSize(12345)); err == nil {
		t.Error("expected error for invalid page size")
	}
}

func TestMemoryPinUnpin(t *testing.T) {
	pool, err := NewMemory(1, 2, zcc.PageSize4KB)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	state := pool.NewPinningState()
	if pool.Pinned(state) {
		t.Error("fresh state should be unpinned")
	}

	err = pool.Pin(state, nil, pool.StartAddress(), 4096)
	if err != nil {
		// mlock is subject to RLIMIT_MEMLOCK; treat a refusal as an
		// environment limitation, not a code failure
		t.Skipf("mlock unavailable: %v", err)
	}

	if !pool.Pinned(state) {
		t.Error("state should be pinned after Pin")
	}

	info, ok := pool.IOInfo(state).(MemoryIOInfo)
	if !ok {
		t.Fatalf("IOInfo returned %T, want MemoryIOInfo", pool.IOInfo(state))
	}
	if info.Addr != pool.StartAddress() {
		t.Errorf("IOInfo.Addr = %#x, want %#x", info.Addr, pool.StartAddress())
	}
	if info.Length != 4096 {
		t.Errorf("IOInfo.Length = %d, want 4096", info.Length)
	}

	if err := pool.Unpin(state); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	if pool.Pinned(state) {
		t.Error("state should be unpinned after Unpin")
	}

	// Unpinning an unpinned state is a no-op
	if err := pool.Unpin(state); err != nil {
		t.Errorf("double Unpin failed: %v", err)
	}
}

func TestMemoryPinBounds(t *testing.T) {
	pool, err := NewMemory(1, 1, zcc.PageSize4KB)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	state := pool.NewPinningState()

	if err := pool.Pin(state, nil, pool.StartAddress()-4096, 4096); err == nil {
		t.Error("expected error pinning below the slab")
	}
	if err := pool.Pin(state, nil, pool.StartAddress(), 8192); err == nil {
		t.Error("expected error pinning past the slab")
	}
}

func TestMemoryBuffer(t *testing.T) {
	pool, err := NewMemory(1, 2, zcc.PageSize4KB)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	buf := pool.Buffer(4096, 64)
	if len(buf) != 64 {
		t.Fatalf("Buffer length = %d, want 64", len(buf))
	}

	// Views alias the slab memory
	buf[0] = 0xAB
	if pool.Buffer(4096, 1)[0] != 0xAB {
		t.Error("Buffer views do not alias the slab")
	}
}

func TestMemoryWithCache(t *testing.T) {
	cache, err := zcc.New(zcc.Params{
		PinningLimit: 8192,
		SegmentSize:  4096,
		Policy:       zcc.CacheTypeMFU,
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pool, err := NewMemory(1, 4, zcc.PageSize4KB)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	if err := cache.InitializeSlab(pool, false, nil); err != nil {
		t.Fatalf("InitializeSlab failed: %v", err)
	}

	// Every page of the pool must resolve to its segment
	for page := 0; page < 4; page++ {
		id, ok := cache.GetSegmentID(pool.Buffer(uintptr(page)*4096+128, 8))
		if !ok {
			t.Fatalf("page %d did not resolve", page)
		}
		if id.Index != page {
			t.Errorf("page %d resolved to segment %d", page, id.Index)
		}
	}

	buf := pool.Buffer(0, 64)
	if _, _, err := cache.RecordAccess(buf, nil); err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}
	if err := cache.UpdatePinnedList(nil); err != nil {
		t.Skipf("pin via mlock unavailable: %v", err)
	}

	_, ok, err := cache.RecordAccess(buf, nil)
	if err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}
	if !ok {
		t.Error("expected a grant after the segment was pinned")
	}
	cache.RecordIOCompletion(buf)
}

func BenchmarkMemoryPinUnpin(b *testing.B) {
	pool, err := NewMemory(1, 1, zcc.PageSize4KB)
	if err != nil {
		b.Fatal(err)
	}
	state := pool.NewPinningState()
	if err := pool.Pin(state, nil, pool.StartAddress(), 4096); err != nil {
		b.Skipf("mlock unavailable: %v", err)
	}
	pool.Unpin(state)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Pin(state, nil, pool.StartAddress(), 4096)
		pool.Unpin(state)
	}
}
