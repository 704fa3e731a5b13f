// Package radio models packets and the shared broadcast medium they travel over.
package radio

import "github.com/google/uuid"

// Broadcast is the destination sentinel addressing every node in range.
const Broadcast = "BROADCAST"

// DefaultTTL is the hop budget used when a packet is created with ttl < 1.
const DefaultTTL = 3

// Packet is one frame on the simulated medium. All fields are values, so a
// plain struct copy is an independent per-hop copy.
type Packet struct {
	ID             string  `json:"id"`
	SenderID       string  `json:"sender_id"`
	DestinationID  string  `json:"destination_id"`
	Payload        string  `json:"payload"`
	TTL            int     `json:"ttl"`
	RSSI           float64 `json:"rssi"`
	SNR            float64 `json:"snr"`
	OriginalSender string  `json:"original_sender"`
	Hops           int     `json:"hops"`
}

// NewPacket creates a packet originated by sender with a fresh id.
func NewPacket(sender, destination, payload string, ttl int) Packet {
	if ttl < 1 {
		ttl = DefaultTTL
	}
	if destination == "" {
		destination = Broadcast
	}
	return Packet{
		ID:             uuid.NewString(),
		SenderID:       sender,
		DestinationID:  destination,
		Payload:        payload,
		TTL:            ttl,
		OriginalSender: sender,
	}
}

// IsBroadcast reports whether the packet is addressed to every node.
func (p Packet) IsBroadcast() bool {
	return p.DestinationID == Broadcast
}

// AddressedTo reports whether nodeID is the packet's unicast destination.
func (p Packet) AddressedTo(nodeID string) bool {
	return p.DestinationID == nodeID
}
