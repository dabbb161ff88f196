// Package transport implements the network layer for the chat system.
//
// This package handles the wire packet format, UDP communication, and the
// acknowledgement/retransmission machinery that gives the chat its
// at-least-once delivery behavior.
//
// Example:
//
//	udp, err := transport.NewUDPTransport("127.0.0.1:5000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt := transport.NewReliableTransport(udp, transport.DefaultReliableOptions())
//	pending, err := rt.SendReliable(transport.NewMessage("alice", "hello"), remoteAddr)
package transport

import (
	"time"

	"github.com/google/uuid"
)

// PacketType identifies the type of a chat packet on the wire.
type PacketType string

const (
	PacketMessage        PacketType = "message"
	PacketPrivateMessage PacketType = "private_message"
	PacketAck            PacketType = "ack"
	PacketJoin           PacketType = "join"
	PacketLeave          PacketType = "leave"
	PacketUserList       PacketType = "user_list"
	PacketHeartbeat      PacketType = "heartbeat"
	PacketError          PacketType = "error"
)

// Valid reports whether t is one of the known packet types.
func (t PacketType) Valid() bool {
	switch t {
	case PacketMessage, PacketPrivateMessage, PacketAck, PacketJoin,
		PacketLeave, PacketUserList, PacketHeartbeat, PacketError:
		return true
	}
	return false
}

// Packet is one chat protocol datagram payload.
//
// MessageID is unique per packet instance and never reused; ACK
// correlation depends on that uniqueness. For ACK packets, Content carries
// the MessageID of the packet being acknowledged. For USER_LIST packets,
// Content carries an encoded identity→address mapping (see EncodeUserList).
// Recipient is set for PRIVATE_MESSAGE only; nil means absent on the wire.
type Packet struct {
	Type      PacketType `json:"message_type"`
	Sender    string     `json:"sender"`
	Timestamp float64    `json:"timestamp"`
	MessageID string     `json:"message_id"`
	Content   string     `json:"content"`
	Recipient *string    `json:"recipient,omitempty"`
}

// newPacket fills the fields common to every constructor.
func newPacket(t PacketType, sender, content string) *Packet {
	return &Packet{
		Type:      t,
		Sender:    sender,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		MessageID: uuid.New().String(),
		Content:   content,
	}
}

// WithFreshID returns a copy of the packet carrying a new MessageID.
// Fan-out delivery uses this so each destination's in-flight copy is
// acknowledged and retried independently.
func (p *Packet) WithFreshID() *Packet {
	clone := *p
	clone.MessageID = uuid.New().String()
	return &clone
}

// NewMessage creates a public chat message packet.
func NewMessage(sender, content string) *Packet {
	return newPacket(PacketMessage, sender, content)
}

// NewPrivateMessage creates a direct message packet addressed to recipient.
func NewPrivateMessage(sender, recipient, content string) *Packet {
	p := newPacket(PacketPrivateMessage, sender, content)
	p.Recipient = &recipient
	return p
}

// NewAck creates an acknowledgement for the packet with originalID.
func NewAck(sender, originalID string) *Packet {
	return newPacket(PacketAck, sender, originalID)
}

// NewJoin creates a join request packet.
func NewJoin(sender string) *Packet {
	return newPacket(PacketJoin, sender, "join_request")
}

// NewLeave creates a leave notification packet.
func NewLeave(sender string) *Packet {
	return newPacket(PacketLeave, sender, "leave_request")
}

// NewHeartbeat creates a liveness refresh packet.
func NewHeartbeat(sender string) *Packet {
	return newPacket(PacketHeartbeat, sender, "heartbeat")
}

// NewUserList creates a user list packet carrying the given
// identity→address mapping.
func NewUserList(sender string, users map[string]string) *Packet {
	return newPacket(PacketUserList, sender, EncodeUserList(users))
}
