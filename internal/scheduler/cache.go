package scheduler

import (
	"sync"
	"time"

	"github.com/l2arb/engine/internal/opportunity"
)

// opportunityCache is the TTL map (A5) owned by each Worker: it maps an
// opportunity fingerprint to the time it was first seen, and entries expire
// after the TTL (default one scan interval). Cross-worker duplicate detection is eventually-consistent and
// best-effort per §5 — each worker only dedupes against its own cache.
type opportunityCache struct {
	mu  sync.Mutex
	ttl time.Duration
	seen map[string]time.Time
}

func newOpportunityCache(ttl time.Duration) *opportunityCache {
	if ttl <= 0 {
		ttl = defaultScanInterval
	}
	return &opportunityCache{ttl: ttl, seen: make(map[string]time.Time)}
}

// filterFresh prunes entries older than the TTL, drops any opportunity whose
// fingerprint is already cached, and records the survivors' fingerprints.
func (c *opportunityCache) filterFresh(opps []opportunity.Opportunity) []opportunity.Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for fp, seenAt := range c.seen {
		if now.Sub(seenAt) > c.ttl {
			delete(c.seen, fp)
		}
	}

	fresh := make([]opportunity.Opportunity, 0, len(opps))
	for _, o := range opps {
		fp := o.Fingerprint()
		if _, dup := c.seen[fp]; dup {
			continue
		}
		c.seen[fp] = now
		fresh = append(fresh, o)
	}
	return fresh
}
