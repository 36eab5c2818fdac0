package constants

import "time"

// Default configuration constants
const (
	// DefaultSegmentSize is the default pinning granularity in bytes (2MB).
	// One huge page per registration keeps the page-address index small
	// while staying well under typical device registration limits.
	DefaultSegmentSize = 1 << 21

	// DefaultPinningLimit is the default maximum simultaneously pinned
	// bytes (64MB)
	DefaultPinningLimit = 64 << 20

	// DefaultCacheCapacity is the policy capacity NewPolicy uses when it is
	// given a negative limit
	DefaultCacheCapacity = 10_000
)

// Timing constants for the reconciler
//
// The reconciler trades pin churn against staleness of the pinned set. Each
// pass unpins departures before pinning arrivals, and an unpin blocks until
// outstanding I/O on the segment drains, so a pass can take up to one device
// queue-drain. The cadence below leaves headroom for that on loaded systems.
const (
	// DefaultSleepDuration is the wait between reconciliation passes.
	// 100ms keeps the pinned set within one scheduling quantum of the
	// observed access pattern without measurable fast-path interference.
	DefaultSleepDuration = 100 * time.Millisecond
)
