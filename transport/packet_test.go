package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketConstructors(t *testing.T) {
	tests := []struct {
		name          string
		packet        *Packet
		wantType      PacketType
		wantContent   string
		wantRecipient bool
	}{
		{"message", NewMessage("alice", "hello"), PacketMessage, "hello", false},
		{"private", NewPrivateMessage("alice", "bob", "psst"), PacketPrivateMessage, "psst", true},
		{"ack", NewAck("server", "some-id"), PacketAck, "some-id", false},
		{"join", NewJoin("alice"), PacketJoin, "join_request", false},
		{"leave", NewLeave("alice"), PacketLeave, "leave_request", false},
		{"heartbeat", NewHeartbeat("alice"), PacketHeartbeat, "heartbeat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.packet.Type)
			assert.Equal(t, tt.wantContent, tt.packet.Content)
			assert.NotEmpty(t, tt.packet.MessageID)
			assert.NotZero(t, tt.packet.Timestamp)
			if tt.wantRecipient {
				require.NotNil(t, tt.packet.Recipient)
				assert.Equal(t, "bob", *tt.packet.Recipient)
			} else {
				assert.Nil(t, tt.packet.Recipient)
			}
		})
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		p := NewMessage("alice", "x")
		assert.False(t, seen[p.MessageID], "duplicate message ID %s", p.MessageID)
		seen[p.MessageID] = true
	}
}

func TestWithFreshID(t *testing.T) {
	original := NewMessage("alice", "hello")
	clone := original.WithFreshID()

	assert.NotEqual(t, original.MessageID, clone.MessageID)
	assert.Equal(t, original.Type, clone.Type)
	assert.Equal(t, original.Sender, clone.Sender)
	assert.Equal(t, original.Content, clone.Content)
	assert.Equal(t, original.Timestamp, clone.Timestamp)
}

func TestNewUserList(t *testing.T) {
	p := NewUserList("server", map[string]string{
		"alice": "127.0.0.1:4001",
		"bob":   "127.0.0.1:4002",
	})

	assert.Equal(t, PacketUserList, p.Type)

	users, err := DecodeUserList(p.Content)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"alice": "127.0.0.1:4001",
		"bob":   "127.0.0.1:4002",
	}, users)
}

func TestPacketTypeValid(t *testing.T) {
	assert.True(t, PacketMessage.Valid())
	assert.True(t, PacketError.Valid())
	assert.False(t, PacketType("").Valid())
	assert.False(t, PacketType("bogus").Valid())
}
