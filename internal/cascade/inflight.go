package cascade

import (
	"context"
	"time"

	"NewsDesk/internal/cache"
	"NewsDesk/internal/metrics"
)

// recheckFunc reports a cache entry that makes a model call unnecessary.
type recheckFunc func() (cache.Entry, bool)

// acquire makes the caller the only worker allowed to call the large model
// for fp. While another worker holds fp, the caller waits in slices of
// inflightWait and re-checks the cache after each slice; a usable entry is
// returned as a hit. On leader=true the caller must call release.
func (c *Cascade) acquire(ctx context.Context, fp string, recheck recheckFunc) (leader bool, entry cache.Entry, hit bool, err error) {
	waited := false
	for {
		c.mu.Lock()
		done, busy := c.inflight[fp]
		if !busy {
			c.inflight[fp] = make(chan struct{})
			n := len(c.inflight)
			c.mu.Unlock()
			c.deps.Sink.SetGauge(metrics.InflightRequests, float64(n))

			if recheck != nil {
				if e, ok := recheck(); ok {
					c.release(fp)
					return false, e, true, nil
				}
			}
			return true, cache.Entry{}, false, nil
		}
		c.mu.Unlock()

		if !waited {
			waited = true
			c.deps.Sink.Inc(metrics.InflightWaits)
		}
		timer := time.NewTimer(c.inflightWait)
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, cache.Entry{}, false, ctx.Err()
		}
		timer.Stop()

		if recheck != nil {
			if e, ok := recheck(); ok {
				return false, e, true, nil
			}
		}
	}
}

func (c *Cascade) release(fp string) {
	c.mu.Lock()
	if done, ok := c.inflight[fp]; ok {
		close(done)
		delete(c.inflight, fp)
	}
	n := len(c.inflight)
	c.mu.Unlock()
	c.deps.Sink.SetGauge(metrics.InflightRequests, float64(n))
}

// Inflight returns the number of fingerprints currently being scored.
func (c *Cascade) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
