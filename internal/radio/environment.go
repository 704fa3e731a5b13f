package radio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// ErrUnknownNode is returned when an operation references a node that was never registered.
var ErrUnknownNode = errors.New("radio: unknown node")

const (
	defaultFrequencyMHz       = 868.0
	defaultCollisionThreshold = 50
	minSNR                    = -20.0
	maxSNR                    = 10.0
)

// Position is a node's fixed location on the simulation plane, in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two positions.
func (p Position) Distance(o Position) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Recorder receives physical-layer counters as they happen.
type Recorder interface {
	Transmission()
	Collision()
	OutOfRange()
	Delivered(rssi, snr float64)
}

// Stats are the aggregate medium counters.
type Stats struct {
	Transmissions     int64 `json:"transmissions"`
	Collisions        int64 `json:"collisions"`
	DroppedOutOfRange int64 `json:"dropped_out_of_range"`
}

// Option customizes an Environment.
type Option func(*Environment)

// WithFrequencyMHz sets the carrier frequency used by the path-loss model.
func WithFrequencyMHz(f float64) Option {
	return func(e *Environment) {
		if f > 0 {
			e.frequencyMHz = f
		}
	}
}

// WithCollisionThreshold sets the mailbox depth above which deliveries are lost.
func WithCollisionThreshold(n int) Option {
	return func(e *Environment) {
		if n > 0 {
			e.collisionThreshold = n
		}
	}
}

// WithMailboxCapacity sets the hard queue capacity allocated per node.
func WithMailboxCapacity(n int) Option {
	return func(e *Environment) {
		if n > 0 {
			e.mailboxCapacity = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Environment) { e.recorder = r }
}

type registration struct {
	pos     Position
	mailbox *Mailbox
}

// Environment owns node positions and mailboxes and fans broadcasts out to
// every registered node within range.
type Environment struct {
	maxRange           float64
	txPower            float64
	frequencyMHz       float64
	collisionThreshold int
	mailboxCapacity    int
	recorder           Recorder

	mu    sync.RWMutex
	nodes map[string]registration

	transmissions atomic.Int64
	collisions    atomic.Int64
	outOfRange    atomic.Int64
}

// NewEnvironment creates a medium with the given range (meters) and transmit power (dBm).
func NewEnvironment(maxRangeMeters, baseTxPowerDBm float64, opts ...Option) *Environment {
	e := &Environment{
		maxRange:           maxRangeMeters,
		txPower:            baseTxPowerDBm,
		frequencyMHz:       defaultFrequencyMHz,
		collisionThreshold: defaultCollisionThreshold,
		nodes:              make(map[string]registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mailboxCapacity == 0 {
		e.mailboxCapacity = e.collisionThreshold * 2
	}
	if e.mailboxCapacity <= e.collisionThreshold {
		e.mailboxCapacity = e.collisionThreshold + 1
	}
	return e
}

// MaxRange returns the delivery range in meters.
func (e *Environment) MaxRange() float64 { return e.maxRange }

// CollisionThreshold returns the mailbox depth above which deliveries collide.
func (e *Environment) CollisionThreshold() int { return e.collisionThreshold }

// RegisterNode records a node's position and returns its new, empty mailbox.
// Registering an id again replaces the previous position and mailbox.
func (e *Environment) RegisterNode(nodeID string, x, y float64) *Mailbox {
	mb := newMailbox(nodeID, e.mailboxCapacity)
	e.mu.Lock()
	e.nodes[nodeID] = registration{pos: Position{X: x, Y: y}, mailbox: mb}
	e.mu.Unlock()
	return mb
}

// Position returns the registered position of nodeID.
func (e *Environment) Position(nodeID string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.nodes[nodeID]
	return r.pos, ok
}

// NodeIDs returns the registered node ids in no particular order.
func (e *Environment) NodeIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	return ids
}

// RSSI returns the received signal strength in dBm at the given distance
// using a free-space path-loss approximation.
func (e *Environment) RSSI(distance float64) float64 {
	if distance < 1 {
		return e.txPower
	}
	pathLoss := 20*math.Log10(distance) + 20*math.Log10(e.frequencyMHz) - 27.55
	return e.txPower - pathLoss
}

// SNR returns a linear distance-based signal-to-noise estimate in dB, clamped to [-20, 10].
func (e *Environment) SNR(distance float64) float64 {
	snr := maxSNR
	if e.maxRange > 0 {
		snr = maxSNR - (distance/e.maxRange)*20
	}
	return math.Max(minSNR, math.Min(maxSNR, snr))
}

// Broadcast transmits packet from senderID to every other registered node.
// Each in-range recipient gets its own copy with rssi/snr computed for its
// position. Deliveries into a congested mailbox are counted as collisions.
func (e *Environment) Broadcast(senderID string, packet Packet) error {
	e.transmissions.Add(1)
	if e.recorder != nil {
		e.recorder.Transmission()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	sender, ok := e.nodes[senderID]
	if !ok {
		return fmt.Errorf("broadcast from %q: %w", senderID, ErrUnknownNode)
	}

	for id, rcpt := range e.nodes {
		if id == senderID {
			continue
		}
		dist := sender.pos.Distance(rcpt.pos)
		if dist > e.maxRange {
			e.outOfRange.Add(1)
			if e.recorder != nil {
				e.recorder.OutOfRange()
			}
			continue
		}

		copied := packet
		copied.RSSI = e.RSSI(dist)
		copied.SNR = e.SNR(dist)

		if rcpt.mailbox.Len() > e.collisionThreshold || !rcpt.mailbox.offer(copied) {
			e.collisions.Add(1)
			if e.recorder != nil {
				e.recorder.Collision()
			}
			continue
		}
		if e.recorder != nil {
			e.recorder.Delivered(copied.RSSI, copied.SNR)
		}
	}
	return nil
}

// Stats returns a point-in-time copy of the medium counters.
func (e *Environment) Stats() Stats {
	return Stats{
		Transmissions:     e.transmissions.Load(),
		Collisions:        e.collisions.Load(),
		DroppedOutOfRange: e.outOfRange.Load(),
	}
}
