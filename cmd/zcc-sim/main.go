// Command zcc-sim drives a zero-copy pinning cache against a memory slab
// with a synthetic access pattern and reports hit rates. It exists to
// compare replacement policies and reconciler cadences without a datapath.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	zcc "github.com/behrlich/go-zcc"
	"github.com/behrlich/go-zcc/internal/logging"
	"github.com/behrlich/go-zcc/slab"
)

func main() {
	var (
		policyStr  = flag.String("policy", "mfu", "Replacement policy (ondemandlru, timestamplru, linkedlistlru, mfu, noalg)")
		limitStr   = flag.String("limit", "8M", "Pinning limit (e.g., 8M, 64M)")
		segmentStr = flag.String("segment", "1M", "Segment size (e.g., 1M, 2M)")
		slabStr    = flag.String("slab", "64M", "Slab size (e.g., 64M, 1G)")
		ops        = flag.Int("ops", 1_000_000, "Number of accesses to simulate")
		workers    = flag.Int("workers", 4, "Concurrent datapath workers")
		hotFrac    = flag.Float64("hot", 0.1, "Fraction of the slab forming the hot set")
		hotProb    = flag.Float64("hotprob", 0.9, "Probability an access lands in the hot set")
		onDemand   = flag.Bool("ondemand", false, "Pin on demand instead of running the reconciler")
		sleepDur   = flag.Duration("sleep", 50*time.Millisecond, "Reconciler cadence")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	limit, err := parseSize(*limitStr)
	if err != nil {
		log.Fatalf("Invalid limit '%s': %v", *limitStr, err)
	}
	segment, err := parseSize(*segmentStr)
	if err != nil {
		log.Fatalf("Invalid segment '%s': %v", *segmentStr, err)
	}
	slabSize, err := parseSize(*slabStr)
	if err != nil {
		log.Fatalf("Invalid slab size '%s': %v", *slabStr, err)
	}

	policy, err := zcc.ParseCacheType(*policyStr)
	if err != nil {
		log.Fatalf("Invalid policy '%s': %v", *policyStr, err)
	}
	if *workers <= 0 {
		log.Fatalf("Need at least one worker")
	}
	if *onDemand && policy != zcc.CacheTypeOnDemandLRU {
		log.Fatalf("-ondemand requires -policy ondemandlru")
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	params := zcc.Params{
		PinningLimit:  uintptr(limit),
		SegmentSize:   uintptr(segment),
		PinOnDemand:   *onDemand,
		SleepDuration: *sleepDur,
		Policy:        policy,
	}

	cache, err := zcc.New(params, nil)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	pageSize := zcc.PageSize4KB
	pool, err := slab.NewMemory(1, int(uintptr(slabSize)/pageSize.Bytes()), pageSize)
	if err != nil {
		logger.Error("failed to allocate slab", "error", err)
		os.Exit(1)
	}

	if err := cache.InitializeSlab(pool, !*onDemand, nil); err != nil {
		logger.Error("failed to register slab", "error", err)
		os.Exit(1)
	}

	logger.Info("simulation starting",
		"policy", policy,
		"limit", formatSize(limit),
		"segment", formatSize(segment),
		"slab", formatSize(slabSize),
		"workers", *workers,
		"ops", *ops)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop cleanly on Ctrl+C and report whatever was measured so far
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var reconcilerWg sync.WaitGroup
	if !*onDemand {
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			if err := cache.PinAndUnpinThread(ctx, nil); err != nil {
				logger.Error("reconciler failed", "error", err)
			}
		}()
	}

	hotBytes := uintptr(float64(slabSize) * *hotFrac)
	if hotBytes < pageSize.Bytes() {
		hotBytes = pageSize.Bytes()
	}

	start := time.Now()
	var workerWg sync.WaitGroup
	opsPerWorker := *ops / *workers
	for w := 0; w < *workers; w++ {
		workerWg.Add(1)
		go func(seed int64) {
			defer workerWg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				if ctx.Err() != nil {
					return
				}

				// Skewed offsets: most accesses hammer the hot prefix
				var off uintptr
				if rng.Float64() < *hotProb {
					off = uintptr(rng.Int63n(int64(hotBytes)))
				} else {
					off = uintptr(rng.Int63n(slabSize))
				}
				off &^= 63
				length := uintptr(64)
				if off+length > uintptr(slabSize) {
					off = uintptr(slabSize) - length
				}

				buf := pool.Buffer(off, length)
				_, ok, err := cache.RecordAccess(buf, nil)
				if err != nil {
					logger.Error("access failed", "error", err)
					return
				}
				if ok {
					cache.RecordIOCompletion(buf)
				}
			}
		}(int64(w) + 1)
	}

	workerWg.Wait()
	elapsed := time.Since(start)
	cancel()
	reconcilerWg.Wait()

	snap := cache.MetricsSnapshot()
	fmt.Printf("Accesses:  %d in %v (%.0f/s)\n", snap.Accesses, elapsed.Round(time.Millisecond),
		float64(snap.Accesses)/elapsed.Seconds())
	fmt.Printf("Hit rate:  %.2f%% (%d hits, %d misses)\n", snap.HitRate*100, snap.Hits, snap.Misses)
	fmt.Printf("Pins:      %d (%d failed), unpins: %d (%d failed)\n",
		snap.Pins, snap.PinErrors, snap.Unpins, snap.UnpinErrors)
	fmt.Printf("Reconcile: %d passes\n", snap.ReconcilePasses)
	if snap.Pins > 0 {
		fmt.Printf("Pin lat:   avg %s, p50 %s, p99 %s\n",
			formatNs(snap.AvgPinLatencyNs), formatNs(snap.PinLatencyP50Ns), formatNs(snap.PinLatencyP99Ns))
	}
	fmt.Printf("Pinned:    %s of %s budget\n",
		formatSize(int64(cache.CurrentBytesPinned())), formatSize(limit))
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatNs formats a nanosecond latency as a human-readable duration
func formatNs(ns uint64) string {
	return time.Duration(ns).Round(100 * time.Nanosecond).String()
}
