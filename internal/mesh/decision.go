package mesh

import (
	"context"
	"math"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Decision is the outcome of a routing evaluation.
type Decision string

const (
	DecisionForward Decision = "FORWARD"
	DecisionDrop    Decision = "DROP"
)

// DefaultDecisionCacheSize bounds the agentic decision cache.
const DefaultDecisionCacheSize = 1024

// Evaluator decides what to do with a payload under a congestion level.
// Implementations must be deterministic in (payload, level).
type Evaluator interface {
	Evaluate(ctx context.Context, payload string, level CongestionLevel) (Decision, error)
}

var (
	criticalMarkers = []string{"SOS", "CRITICAL", "URGENT"}
	routineMarkers  = []string{"Telemetry", "Ping"}
)

// RuleEvaluator is the offline rule set: critical traffic always forwards,
// routine traffic forwards only on an idle channel, everything else forwards.
type RuleEvaluator struct {
	calls atomic.Int64
}

// Evaluate applies the rules in precedence order.
func (r *RuleEvaluator) Evaluate(_ context.Context, payload string, level CongestionLevel) (Decision, error) {
	r.calls.Add(1)
	if containsAny(payload, criticalMarkers) {
		return DecisionForward, nil
	}
	if containsAny(payload, routineMarkers) {
		if level == CongestionLow {
			return DecisionForward, nil
		}
		return DecisionDrop, nil
	}
	return DecisionForward, nil
}

// Calls returns how many times the rules were evaluated.
func (r *RuleEvaluator) Calls() int64 { return r.calls.Load() }

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// DecisionKey composes the cache key for a payload under a congestion level.
func DecisionKey(payload string, level CongestionLevel) string {
	return payload + "::" + string(level)
}

// DecisionCache memoizes decisions with insertion-order eviction. It is safe
// for concurrent use; concurrent misses on one key simply overwrite each
// other with the same value.
type DecisionCache struct {
	entries *lru.Cache[string, *decisionSlot]
}

// decisionSlot lets Put replace a value without promoting the key.
type decisionSlot struct{ v atomic.Value }

func (s *decisionSlot) load() Decision { return s.v.Load().(Decision) }

// NewDecisionCache creates a cache holding at most capacity decisions.
// A capacity of zero disables eviction.
func NewDecisionCache(capacity int) *DecisionCache {
	if capacity <= 0 {
		capacity = math.MaxInt
	}
	entries, err := lru.New[string, *decisionSlot](capacity)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &DecisionCache{entries: entries}
}

// Get returns the cached decision for key. Lookups never change eviction order.
func (c *DecisionCache) Get(key string) (Decision, bool) {
	slot, ok := c.entries.Peek(key)
	if !ok {
		return "", false
	}
	return slot.load(), true
}

// Put stores a decision, evicting the oldest entry when full.
func (c *DecisionCache) Put(key string, d Decision) {
	if slot, ok := c.entries.Peek(key); ok {
		slot.v.Store(d)
		return
	}
	slot := &decisionSlot{}
	slot.v.Store(d)
	c.entries.Add(key, slot)
}

// Len returns the number of cached decisions.
func (c *DecisionCache) Len() int { return c.entries.Len() }
