package mesh

import (
	"context"

	"meshsim/internal/radio"
	"meshsim/internal/telemetry"
)

// floodTag is the congestion label flood events carry; flooding never looks at congestion.
const floodTag = "FLOOD"

// FloodPolicy retransmits every packet that still has hop budget.
type FloodPolicy struct {
	sink     EventSink
	recorder DecisionRecorder
}

// NewFloodPolicy creates a stateless flooding policy.
func NewFloodPolicy(sink EventSink, rec DecisionRecorder) *FloodPolicy {
	if sink == nil {
		sink = discardSink{}
	}
	if rec == nil {
		rec = discardRecorder{}
	}
	return &FloodPolicy{sink: sink, recorder: rec}
}

// Name returns "flood".
func (f *FloodPolicy) Name() string { return string(PolicyFlood) }

func (f *FloodPolicy) kind() PolicyKind { return PolicyFlood }

// ProcessPacket consumes packets addressed here and floods everything else.
func (f *FloodPolicy) ProcessPacket(ctx context.Context, p *radio.Packet, h Host) error {
	done := screen(p, h, func() {
		f.emit(h.ID(), telemetry.ActionReceived, p.Payload)
	})
	if done {
		return nil
	}
	f.emit(h.ID(), telemetry.ActionForward, p.Payload)
	return forward(ctx, p, h)
}

func (f *FloodPolicy) emit(nodeID, action, payload string) {
	f.sink.LogEvent(telemetry.Event{NodeID: nodeID, Action: action, Payload: payload, Congestion: floodTag})
	f.recorder.Decision(f.Name(), action, floodTag)
}
