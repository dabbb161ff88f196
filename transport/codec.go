package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MaxPacketSize is the largest datagram the chat protocol will produce or
// accept. Content that would push an encoded packet past this bound is the
// caller's responsibility to avoid.
const MaxPacketSize = 4096

// ErrPacketTooLarge is returned by Marshal when the encoded packet exceeds
// MaxPacketSize.
var ErrPacketTooLarge = errors.New("encoded packet exceeds maximum datagram size")

// Marshal serializes a packet for transmission.
func Marshal(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.New("packet is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}
	if len(data) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	return data, nil
}

// Unmarshal parses and validates a received datagram.
//
// Malformed input yields an error, never a partially valid packet; callers
// in network loops must treat a failure as "drop and continue". Invalid
// type/field combinations are rejected here rather than discovered
// downstream.
func Unmarshal(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal packet: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validate(p *Packet) error {
	if !p.Type.Valid() {
		return fmt.Errorf("unknown packet type %q", p.Type)
	}
	if p.Sender == "" {
		return errors.New("packet has empty sender")
	}
	if p.MessageID == "" {
		return errors.New("packet has empty message_id")
	}
	if p.Type == PacketPrivateMessage && (p.Recipient == nil || *p.Recipient == "") {
		return errors.New("private message without recipient")
	}
	return nil
}

// EncodeUserList serializes an identity→address mapping for USER_LIST
// packet content. Addresses are "host:port" strings.
func EncodeUserList(users map[string]string) string {
	data, err := json.Marshal(users)
	if err != nil {
		// A map[string]string cannot fail to marshal; keep the wire sane
		// anyway.
		logrus.WithFields(logrus.Fields{
			"function": "EncodeUserList",
			"error":    err,
		}).Error("Failed to encode user list")
		return "{}"
	}
	return string(data)
}

// DecodeUserList parses USER_LIST packet content back into an
// identity→address mapping.
func DecodeUserList(content string) (map[string]string, error) {
	users := make(map[string]string)
	if err := json.Unmarshal([]byte(content), &users); err != nil {
		return nil, fmt.Errorf("decode user list: %w", err)
	}
	return users, nil
}
