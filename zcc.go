// Package zcc provides a zero-copy pinning cache for high-performance
// datapaths. Device I/O against registered (pinned) memory is zero-copy, but
// pinned capacity is bounded and registration is expensive, so the cache
// decides which fixed-size segments of the application's memory pools are
// pinned at any moment based on the observed access pattern. Hot buffers see
// device-visible addresses; cold buffers quietly fall back to the caller's
// copy path.
package zcc

import (
	"sync"
	"time"
	"unsafe"

	"github.com/behrlich/go-zcc/internal/constants"
	"github.com/behrlich/go-zcc/internal/logging"
)

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Params contains parameters for creating a cache
type Params struct {
	// PinningLimit is the maximum simultaneously pinned bytes
	PinningLimit uintptr

	// SegmentSize is the pinning granularity in bytes. Must divide
	// PinningLimit evenly and must not exceed it.
	SegmentSize uintptr

	// PinOnDemand chooses lazy pin-on-first-access instead of the
	// periodic background reconciler
	PinOnDemand bool

	// SleepDuration is the reconciler cadence when PinOnDemand is false
	SleepDuration time.Duration

	// Policy selects the replacement policy
	Policy CacheType

	// PrivInfo is the datapath handle threaded through to pin calls made
	// on the cache's own behalf (e.g. register-at-start)
	PrivInfo PrivateInfo
}

// DefaultParams returns default cache parameters
func DefaultParams() Params {
	return Params{
		PinningLimit:  constants.DefaultPinningLimit,
		SegmentSize:   constants.DefaultSegmentSize,
		PinOnDemand:   false,
		SleepDuration: constants.DefaultSleepDuration,
		Policy:        CacheTypeMFU,
	}
}

// Options contains additional options for cache creation
type Options struct {
	// Logger for debug/info messages (if nil, uses the package default)
	Logger Logger

	// Observer for metrics collection (if nil, records to the cache's
	// built-in Metrics)
	Observer Observer
}

// Grant is a successful fast-path reply: the descriptor the datapath needs
// to issue zero-copy I/O through the pinned segment. Every Grant must be
// balanced by exactly one RecordIOCompletion for a buffer in the same
// segment.
type Grant struct {
	Slab   SlabID
	IOInfo IOInfo
}

// segmentSlot holds one segment together with its I/O bookkeeping. The
// mutex protects all three fields; the fast path only ever try-locks it,
// the reconciler takes it blocking.
type segmentSlot struct {
	mu        sync.Mutex
	drained   *sync.Cond // signaled when inFlight drops to zero
	seg       *Segment
	inFlight  uint64 // outstanding I/Os granted against this segment
	quiescing bool   // unpin pending; refuse new grants until drained
}

func newSegmentSlot(seg *Segment) *segmentSlot {
	s := &segmentSlot{seg: seg}
	s.drained = sync.NewCond(&s.mu)
	return s
}

// Cache is a zero-copy pinning cache instance. It is safe for concurrent
// use and is shared by pointer; a typical deployment hands the same *Cache
// to every datapath worker plus one reconciler goroutine.
type Cache struct {
	pinningLimit uintptr
	segmentSize  uintptr
	pinOnDemand  bool
	sleep        time.Duration
	capacity     int // max simultaneously pinned segments
	priv         PrivateInfo

	logger   Logger
	observer Observer
	metrics  *Metrics

	// Segment registry and page-address index. Written only while a slab
	// is being registered; read-mostly on the fast path.
	mu      sync.RWMutex
	slots   map[SegmentID]*segmentSlot
	pages4k map[uintptr]SegmentID
	pages2m map[uintptr]SegmentID
	pages1g map[uintptr]SegmentID

	// policyMu protects the policy's internal maps and its committed
	// pinned set. Never held across a pin or unpin call.
	policyMu sync.Mutex
	policy   ReplacementPolicy
}

// New creates a cache with the given parameters.
//
// Example:
//
//	params := zcc.DefaultParams()
//	params.Policy = zcc.CacheTypeMFU
//	cache, err := zcc.New(params, nil)
func New(params Params, options *Options) (*Cache, error) {
	if options == nil {
		options = &Options{}
	}

	if params.SegmentSize > params.PinningLimit {
		return nil, NewError("NEW", ErrCodeInvalidConfig,
			"segment size cannot be larger than pinning limit")
	}
	if params.SegmentSize != 0 || params.PinningLimit != 0 {
		if params.SegmentSize == 0 || params.PinningLimit%params.SegmentSize != 0 {
			return nil, NewError("NEW", ErrCodeInvalidConfig,
				"pinning limit must be a multiple of segment size")
		}
	}
	if params.PinOnDemand && params.Policy != CacheTypeOnDemandLRU {
		// Only the on-demand policy implements admission with eviction;
		// any other choice would pin without bound.
		return nil, NewError("NEW", ErrCodeInvalidConfig,
			"pin on demand requires the ondemandlru policy")
	}

	capacity := 0
	if params.SegmentSize > 0 {
		capacity = int(params.PinningLimit / params.SegmentSize)
	}

	policy, err := NewPolicy(params.Policy, capacity)
	if err != nil {
		return nil, err
	}

	sleep := params.SleepDuration
	if sleep <= 0 {
		sleep = constants.DefaultSleepDuration
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	var logger Logger = logging.Default()
	if options.Logger != nil {
		logger = options.Logger
	}

	return &Cache{
		pinningLimit: params.PinningLimit,
		segmentSize:  params.SegmentSize,
		pinOnDemand:  params.PinOnDemand,
		sleep:        sleep,
		capacity:     capacity,
		priv:         params.PrivInfo,
		logger:       logger,
		observer:     observer,
		metrics:      metrics,
		slots:        make(map[SegmentID]*segmentSlot),
		pages4k:      make(map[uintptr]SegmentID),
		pages2m:      make(map[uintptr]SegmentID),
		pages1g:      make(map[uintptr]SegmentID),
		policy:       policy,
	}, nil
}

// PinOnDemand reports whether the cache pins lazily on first access
func (c *Cache) PinOnDemand() bool {
	return c.pinOnDemand
}

// SegmentSize returns the pinning granularity in bytes
func (c *Cache) SegmentSize() uintptr {
	return c.segmentSize
}

// PinningLimit returns the maximum simultaneously pinned bytes
func (c *Cache) PinningLimit() uintptr {
	return c.pinningLimit
}

// CurrentBytesPinned returns the bytes pinned as of the last committed
// reconciliation (or admission, in on-demand mode)
func (c *Cache) CurrentBytesPinned() uintptr {
	c.policyMu.Lock()
	defer c.policyMu.Unlock()
	return uintptr(len(c.policy.CurrentPinned())) * c.segmentSize
}

// Metrics returns the cache's built-in metrics
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of cache metrics
func (c *Cache) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// ResetAccessHistory clears the policy's access history, e.g. as a decay
// tick from the host. The committed pinned set is untouched.
func (c *Cache) ResetAccessHistory() {
	c.policyMu.Lock()
	defer c.policyMu.Unlock()
	c.policy.Reset()
}

// InitializeSlab registers a slab's memory with the cache, splitting it into
// fixed-size segments and indexing every page they contain. When
// registerAtStart is true, segments are pinned up-front until the byte
// budget is exhausted.
func (c *Cache) InitializeSlab(slab Slab, registerAtStart bool, priv PrivateInfo) error {
	pageSize := slab.PageSize()
	if !pageSize.Valid() {
		return NewError("INIT_SLAB", ErrCodeInvalidSlab, "unsupported page size")
	}

	mempool := uintptr(slab.TotalPages()) * pageSize.Bytes()
	if c.segmentSize == 0 || mempool < c.segmentSize || mempool%c.segmentSize != 0 {
		return NewError("INIT_SLAB", ErrCodeInvalidSlab,
			"slab size not larger than and a multiple of segment size")
	}
	if c.segmentSize%pageSize.Bytes() != 0 {
		return NewError("INIT_SLAB", ErrCodeInvalidSlab,
			"segment size not a multiple of slab page size")
	}

	numSegments := int(mempool / c.segmentSize)
	pagesPerSegment := slab.TotalPages() / numSegments

	c.logger.Debugf("initializing slab %d with %d segments", slab.ID(), numSegments)

	c.mu.Lock()
	pageIndex := c.pageIndexFor(pageSize)
	for i := 0; i < numSegments; i++ {
		start := slab.StartAddress() + uintptr(i)*c.segmentSize
		seg := newSegment(slab, i, start, pagesPerSegment)
		c.slots[seg.ID()] = newSegmentSlot(seg)
		for _, page := range seg.pageAddresses() {
			pageIndex[page] = seg.ID()
		}
	}
	c.mu.Unlock()

	if !registerAtStart {
		return nil
	}

	// Pin up-front until the budget is spent, then hand the committed set
	// to the policy.
	c.policyMu.Lock()
	pinned := c.policy.CurrentPinned().Clone()
	c.policyMu.Unlock()

	bytesPinned := uintptr(len(pinned)) * c.segmentSize
	for i := 0; i < numSegments; i++ {
		if bytesPinned+c.segmentSize > c.pinningLimit {
			break
		}
		id := SegmentID{Slab: slab.ID(), Index: i}
		if _, err := c.pinSegment(id, c.privOr(priv)); err != nil {
			c.logger.Printf("pin at slab init failed for segment %s: %v", id, err)
			continue
		}
		pinned.Add(id)
		bytesPinned += c.segmentSize
	}

	c.policyMu.Lock()
	c.policy.SetCurrentPinned(pinned)
	c.policyMu.Unlock()

	return nil
}

// pageIndexFor returns the page-address map matching the page size. Caller
// holds c.mu.
func (c *Cache) pageIndexFor(p PageSize) map[uintptr]SegmentID {
	switch p {
	case PageSize2MB:
		return c.pages2m
	case PageSize1GB:
		return c.pages1g
	default:
		return c.pages4k
	}
}

// GetSegmentID resolves a buffer to the segment containing its first byte
func (c *Cache) GetSegmentID(buf []byte) (SegmentID, bool) {
	if len(buf) == 0 {
		return SegmentID{}, false
	}
	return c.lookupAddress(uintptr(unsafe.Pointer(&buf[0])))
}

// lookupAddress consults the 2MB, 4KB and 1GB page maps, in that order. The
// order is fixed but irrelevant in correct configurations: each segment uses
// exactly one page size, so the maps are disjoint.
func (c *Cache) lookupAddress(addr uintptr) (SegmentID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if id, ok := c.pages2m[Closest2MBPage(addr)]; ok {
		return id, true
	}
	if id, ok := c.pages4k[Closest4KPage(addr)]; ok {
		return id, true
	}
	if id, ok := c.pages1g[Closest1GBPage(addr)]; ok {
		return id, true
	}
	return SegmentID{}, false
}

// slot returns the registry entry for id, or nil
func (c *Cache) slot(id SegmentID) *segmentSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slots[id]
}

// privOr falls back to the handle supplied at construction when the call
// site passes none
func (c *Cache) privOr(priv PrivateInfo) PrivateInfo {
	if priv == nil {
		return c.priv
	}
	return priv
}

// RecordAccess records one access to buf and, when buf's segment is pinned
// and safe to use, returns the zero-copy grant for it. A false reply means
// the caller must fall back to its copy path: the memory is not managed by
// the cache, the segment is unpinned or quiescing, or the slot was
// momentarily contended. Ordinary misses are never errors.
//
// Every true reply must be balanced by one RecordIOCompletion call.
func (c *Cache) RecordAccess(buf []byte, priv PrivateInfo) (Grant, bool, error) {
	id, ok := c.GetSegmentID(buf)
	if !ok {
		c.observer.ObserveAccess(false)
		return Grant{}, false, nil
	}

	if c.pinOnDemand {
		return c.recordAndPinOnDemand(id, c.privOr(priv))
	}

	c.policyMu.Lock()
	c.policy.UpdateAccess(id)
	c.policyMu.Unlock()

	slot := c.slot(id)
	if slot == nil {
		c.observer.ObserveAccess(false)
		return Grant{}, false, nil
	}

	// Never block the datapath: on contention this I/O goes to the copy
	// path and the next access tries again.
	if !slot.mu.TryLock() {
		c.observer.ObserveAccess(false)
		return Grant{}, false, nil
	}

	if !slot.seg.Pinned() || slot.quiescing {
		slot.mu.Unlock()
		c.observer.ObserveAccess(false)
		return Grant{}, false, nil
	}

	slot.inFlight++
	info := slot.seg.ioInfo()
	slot.mu.Unlock()

	c.observer.ObserveAccess(true)
	return Grant{Slab: id.Slab, IOInfo: info}, true, nil
}

// recordAndPinOnDemand admits the segment, unpinning the policy's evictee
// first so its budget is free before the new registration commits.
func (c *Cache) recordAndPinOnDemand(id SegmentID, priv PrivateInfo) (Grant, bool, error) {
	if c.capacity == 0 {
		c.observer.ObserveAccess(false)
		return Grant{}, false, nil
	}

	c.policyMu.Lock()
	c.policy.UpdateAccess(id)
	evicted, hasEvicted := c.policy.InsertAndEvict(id)
	c.policyMu.Unlock()

	if hasEvicted {
		if err := c.unpinSegment(evicted); err != nil && !IsCode(err, ErrCodeSegmentNotFound) {
			c.observer.ObserveAccess(false)
			return Grant{}, false, err
		}
	}

	info, err := c.pinSegment(id, priv)
	if err != nil {
		c.observer.ObserveAccess(false)
		return Grant{}, false, err
	}

	c.observer.ObserveAccess(true)
	return Grant{Slab: id.Slab, IOInfo: info}, true, nil
}

// RecordIOCompletion retires one outstanding grant against buf's segment.
// It is a no-op if buf does not resolve to a managed segment, and in
// pin-on-demand mode, where grants are not counted in flight.
func (c *Cache) RecordIOCompletion(buf []byte) {
	if c.pinOnDemand {
		return
	}
	id, ok := c.GetSegmentID(buf)
	if !ok {
		return
	}
	slot := c.slot(id)
	if slot == nil {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.inFlight == 0 {
		// A completion with no matching grant is a caller bug; saturate
		// instead of underflowing.
		c.logger.Printf("io completion without outstanding grant on segment %s", id)
		return
	}

	slot.inFlight--
	if slot.inFlight == 0 && slot.quiescing {
		slot.drained.Broadcast()
	}
}

// pinSegment registers the segment with its slab if it is not already
// registered, and returns its I/O descriptor.
func (c *Cache) pinSegment(id SegmentID, priv PrivateInfo) (IOInfo, error) {
	slot := c.slot(id)
	if slot == nil {
		return nil, NewSegmentError("PIN", id, ErrCodeSegmentNotFound, "")
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !slot.seg.Pinned() {
		start := time.Now()
		if err := slot.seg.register(priv); err != nil {
			c.observer.ObservePin(0, false)
			return nil, WrapError("PIN", id, ErrCodePinFailed, err)
		}
		c.observer.ObservePin(uint64(time.Since(start).Nanoseconds()), true)
		c.logger.Debugf("pinned segment %s", id)
	}

	return slot.seg.ioInfo(), nil
}

// unpinSegment quiesces the segment, waits for outstanding grants to drain,
// and unregisters it. While quiescing, the fast path refuses new grants so
// the drain can make progress.
func (c *Cache) unpinSegment(id SegmentID) error {
	slot := c.slot(id)
	if slot == nil {
		return NewSegmentError("UNPIN", id, ErrCodeSegmentNotFound, "")
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !slot.seg.Pinned() {
		return nil
	}

	slot.quiescing = true
	for slot.inFlight > 0 {
		slot.drained.Wait()
	}

	err := slot.seg.unregister()
	slot.quiescing = false
	if err != nil {
		c.observer.ObserveUnpin(false)
		return WrapError("UNPIN", id, ErrCodeUnpinFailed, err)
	}

	c.observer.ObserveUnpin(true)
	c.logger.Debugf("unpinned segment %s", id)
	return nil
}
