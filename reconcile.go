package zcc

import (
	"context"
	"errors"
	"time"
)

// UpdatePinnedList performs one reconciliation step: it reads the policy's
// desired pinned set, unpins departures (draining each first) and pins
// arrivals, then commits the result back to the policy. Unpins run before
// pins so budget is freed before new registrations claim it.
//
// Individual pin and unpin failures do not abort the pass; they are logged,
// reflected in the committed set, and joined into the returned error.
func (c *Cache) UpdatePinnedList(priv PrivateInfo) error {
	priv = c.privOr(priv)

	c.policyMu.Lock()
	desired := c.policy.TopSegmentsToPin()
	current := c.policy.CurrentPinned().Clone()
	c.policyMu.Unlock()

	// Segments staying pinned carry over into the committed set as-is.
	committed := NewSegmentSet()
	for id := range current {
		if desired.Contains(id) {
			committed.Add(id)
		}
	}

	var errs []error

	for id := range current {
		if desired.Contains(id) {
			continue
		}
		if err := c.unpinSegment(id); err != nil {
			if IsCode(err, ErrCodeSegmentNotFound) {
				c.logger.Printf("skipping unknown segment %s", id)
				continue
			}
			// Unpin failed, so the segment is still registered; keep it
			// in the committed set so the next pass retries.
			c.logger.Printf("unpin failed for segment %s: %v", id, err)
			committed.Add(id)
			errs = append(errs, err)
		}
	}

	for id := range desired {
		if current.Contains(id) {
			continue
		}
		// A failed unpin above still occupies budget; defer arrivals
		// rather than overshoot the pinning limit.
		if c.capacity > 0 && len(committed) >= c.capacity {
			c.logger.Printf("budget exhausted, deferring pin of segment %s", id)
			continue
		}
		if _, err := c.pinSegment(id, priv); err != nil {
			if IsCode(err, ErrCodeSegmentNotFound) {
				c.logger.Printf("skipping unknown segment %s", id)
			} else {
				c.logger.Printf("pin failed for segment %s: %v", id, err)
				errs = append(errs, err)
			}
			continue
		}
		committed.Add(id)
	}

	c.policyMu.Lock()
	c.policy.SetCurrentPinned(committed)
	c.policyMu.Unlock()

	c.observer.ObserveReconcilePass()
	return errors.Join(errs...)
}

// PinAndUnpinThread runs the periodic reconciler until ctx is cancelled.
// It is the long-running entrypoint a host spawns once per cache in
// periodic mode:
//
//	go cache.PinAndUnpinThread(ctx, priv)
//
// It errors immediately if the cache was configured for pin-on-demand.
func (c *Cache) PinAndUnpinThread(ctx context.Context, priv PrivateInfo) error {
	if c.pinOnDemand {
		return NewError("PIN_UNPIN_THREAD", ErrCodeInvalidConfig,
			"reconciler started even though pin on demand is configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.Printf("reconciler started, cadence %v", c.sleep)

	for {
		if err := c.UpdatePinnedList(priv); err != nil {
			c.logger.Printf("reconciliation pass: %v", err)
		}

		select {
		case <-ctx.Done():
			c.logger.Printf("reconciler stopping")
			return nil
		case <-time.After(c.sleep):
		}
	}
}
