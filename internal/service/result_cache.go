package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/concordance-score-server/internal/domain"
)

// ResultCache memoizes concordance results keyed by a digest of the
// canonicalized request. The calculator is deterministic and results are
// immutable, so a hit is always safe to reuse; the cache lives in the API
// layer and never inside the calculator itself.
type ResultCache struct {
	entries *lru.Cache[string, *domain.ConcordanceResult]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewResultCache creates a result cache holding up to size entries.
func NewResultCache(size int) (*ResultCache, error) {
	entries, err := lru.New[string, *domain.ConcordanceResult](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{entries: entries}, nil
}

// cacheKeyPayload is the canonical form hashed into a cache key. Event
// timestamps collapse to sorted unique day offsets so that reordered or
// duplicated input produces the same key as its normalized equivalent.
type cacheKeyPayload struct {
	Rule   domain.GuidelineRule `json:"rule"`
	Start  string               `json:"start"`
	End    string               `json:"end"`
	Policy domain.PriorPolicy   `json:"policy"`
	Days   []int                `json:"days"`
}

// Key derives the cache key for one compute request. Events are filtered the
// same way the calculator filters them, so an event that cannot influence the
// result cannot influence the key either.
func (c *ResultCache) Key(rule domain.GuidelineRule, period domain.EvaluationPeriod, events []domain.ActivityEvent, opts domain.ComputeOptions) string {
	start := domain.CivilDay(period.Start)
	totalDays := domain.DaysBetween(start, domain.CivilDay(period.End)) + 1

	seen := make(map[int]struct{}, len(events))
	days := make([]int, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		if !eventMatchesRule(ev, rule) {
			continue
		}
		off := domain.DaysBetween(start, domain.CivilDay(ev.Timestamp))
		if off >= totalDays {
			// After the window; the calculator never looks at it.
			continue
		}
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}
		days = append(days, off)
	}
	sort.Ints(days)

	payload, _ := json.Marshal(cacheKeyPayload{
		Rule:   rule,
		Start:  start.Format("2006-01-02"),
		End:    domain.CivilDay(period.End).Format("2006-01-02"),
		Policy: opts.EffectivePolicy(),
		Days:   days,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get retrieves a cached result.
func (c *ResultCache) Get(key string) (*domain.ConcordanceResult, bool) {
	result, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return result, ok
}

// Add stores a computed result.
func (c *ResultCache) Add(key string, result *domain.ConcordanceResult) {
	c.entries.Add(key, result)
}

// Stats reports hit/miss counters and current size.
func (c *ResultCache) Stats() (hits, misses int64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}
