package mesh

import (
	"context"
	"fmt"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// AgenticPolicy forwards or drops based on payload semantics and the node's
// current congestion. Decisions depend only on (payload, congestion), so
// they are memoized in a cache shared by every node running this instance.
type AgenticPolicy struct {
	sink      EventSink
	recorder  DecisionRecorder
	cache     *DecisionCache
	evaluator Evaluator
}

// NewAgenticPolicy creates the policy. A nil cache or evaluator gets the defaults.
func NewAgenticPolicy(sink EventSink, rec DecisionRecorder, cache *DecisionCache, ev Evaluator) *AgenticPolicy {
	if sink == nil {
		sink = discardSink{}
	}
	if rec == nil {
		rec = discardRecorder{}
	}
	if cache == nil {
		cache = NewDecisionCache(DefaultDecisionCacheSize)
	}
	if ev == nil {
		ev = &RuleEvaluator{}
	}
	return &AgenticPolicy{sink: sink, recorder: rec, cache: cache, evaluator: ev}
}

// Name returns "agentic".
func (a *AgenticPolicy) Name() string { return string(PolicyAgentic) }

func (a *AgenticPolicy) kind() PolicyKind { return PolicyAgentic }

// Cache exposes the decision cache.
func (a *AgenticPolicy) Cache() *DecisionCache { return a.cache }

// ProcessPacket runs the shared checks, then forwards or drops per the cached decision.
func (a *AgenticPolicy) ProcessPacket(ctx context.Context, p *radio.Packet, h Host) error {
	if screen(p, h, nil) {
		return nil
	}

	level := ClassifyCongestion(h.MailboxDepth())
	decision, err := a.Decide(ctx, p.Payload, level)
	if err != nil {
		return err
	}

	if decision == DecisionForward {
		if err := forward(ctx, p, h); err != nil {
			return err
		}
		a.emit(h.ID(), telemetry.ActionForward, p.Payload, level)
		return nil
	}
	h.CountDropped()
	a.emit(h.ID(), telemetry.ActionDrop, p.Payload, level)
	return nil
}

// Decide returns the decision for payload under level, evaluating on a cache miss.
func (a *AgenticPolicy) Decide(ctx context.Context, payload string, level CongestionLevel) (Decision, error) {
	key := DecisionKey(payload, level)
	if d, ok := a.cache.Get(key); ok {
		return d, nil
	}
	d, err := a.evaluator.Evaluate(ctx, payload, level)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", key, err)
	}
	a.cache.Put(key, d)
	return d, nil
}

func (a *AgenticPolicy) emit(nodeID, action, payload string, level CongestionLevel) {
	a.sink.LogEvent(telemetry.Event{NodeID: nodeID, Action: action, Payload: payload, Congestion: string(level)})
	a.recorder.Decision(a.Name(), action, string(level))
}
