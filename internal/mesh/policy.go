package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// ErrUnknownPolicy is returned by NewPolicy for an unsupported kind.
var ErrUnknownPolicy = errors.New("mesh: unknown routing policy")

// PolicyKind names one of the supported routing strategies.
type PolicyKind string

const (
	PolicyFlood   PolicyKind = "flood"
	PolicyAgentic PolicyKind = "agentic"
)

// Host is the node surface a policy acts through.
type Host interface {
	ID() string
	MailboxDepth() int
	Transmit(ctx context.Context, p radio.Packet) error
	CountDropped()
	CountDelivered()
}

// EventSink receives node state and routing events.
type EventSink interface {
	UpdateNode(telemetry.NodeState)
	LogEvent(telemetry.Event)
}

// DecisionRecorder receives one call per routing outcome.
type DecisionRecorder interface {
	Decision(policy, action, congestion string)
}

// Policy decides, per received packet, whether a node consumes, forwards or drops it.
// The set of policies is closed: see PolicyKind.
type Policy interface {
	Name() string
	ProcessPacket(ctx context.Context, p *radio.Packet, h Host) error
	kind() PolicyKind
}

// PolicyOptions carries the collaborators shared by every policy.
type PolicyOptions struct {
	Sink      EventSink
	Recorder  DecisionRecorder
	Cache     *DecisionCache
	Evaluator Evaluator
}

// NewPolicy builds the policy named by kind.
func NewPolicy(kind string, opts PolicyOptions) (Policy, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(kind))) {
	case PolicyFlood:
		return NewFloodPolicy(opts.Sink, opts.Recorder), nil
	case PolicyAgentic:
		return NewAgenticPolicy(opts.Sink, opts.Recorder, opts.Cache, opts.Evaluator), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, kind)
	}
}

type discardSink struct{}

func (discardSink) UpdateNode(telemetry.NodeState) {}
func (discardSink) LogEvent(telemetry.Event)       {}

type discardRecorder struct{}

func (discardRecorder) Decision(string, string, string) {}

// screen applies the checks every policy shares: self-echo suppression,
// delivery to the application, and ttl exhaustion. It reports whether the
// packet is fully handled and must not be forwarded.
func screen(p *radio.Packet, h Host, onDeliver func()) bool {
	if p.OriginalSender == h.ID() {
		h.CountDropped()
		return true
	}
	if p.AddressedTo(h.ID()) || p.IsBroadcast() {
		h.CountDelivered()
		if onDeliver != nil {
			onDeliver()
		}
		if p.AddressedTo(h.ID()) {
			return true
		}
	}
	if p.TTL <= 0 {
		h.CountDropped()
		return true
	}
	return false
}

// forward spends one hop of budget and retransmits.
func forward(ctx context.Context, p *radio.Packet, h Host) error {
	p.TTL--
	p.Hops++
	return h.Transmit(ctx, *p)
}
