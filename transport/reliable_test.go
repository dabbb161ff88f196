package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport records sends and can be told to fail them.
type mockTransport struct {
	mu       sync.Mutex
	sent     []*Packet
	failNext int
	handlers map[PacketType]PacketHandler
}

func newMockTransport() *mockTransport {
	return &mockTransport{handlers: make(map[PacketType]PacketHandler)}
}

func (m *mockTransport) Send(packet *Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("injected send failure")
	}
	m.sent = append(m.sent, packet)
	return nil
}

func (m *mockTransport) Close() error        { return nil }
func (m *mockTransport) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4zero, Port: 0} }

func (m *mockTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	m.handlers[packetType] = handler
}

func (m *mockTransport) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) sentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.sent))
	for i, p := range m.sent {
		ids[i] = p.MessageID
	}
	return ids
}

var testDest = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

func fastReliableOptions() ReliableOptions {
	return ReliableOptions{
		AckTimeout:    30 * time.Millisecond,
		MaxRetries:    3,
		SweepInterval: 5 * time.Millisecond,
	}
}

func TestAcksAreNotTracked(t *testing.T) {
	mock := newMockTransport()
	rt := NewReliableTransport(mock, fastReliableOptions())
	defer rt.Close()

	pending, err := rt.SendReliable(NewAck("alice", "some-id"), testDest)
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Equal(t, 1, mock.sendCount())
	assert.Equal(t, 0, rt.PendingCount())
}

func TestAckResolvesSend(t *testing.T) {
	mock := newMockTransport()
	rt := NewReliableTransport(mock, fastReliableOptions())
	defer rt.Close()

	packet := NewMessage("alice", "hello")
	pending, err := rt.SendReliable(packet, testDest)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 1, rt.PendingCount())

	resolved := rt.HandleAck(NewAck("server", packet.MessageID))
	assert.True(t, resolved)
	assert.Equal(t, 0, rt.PendingCount())

	select {
	case result := <-pending.Done():
		assert.True(t, result.Acked)
		assert.Equal(t, 0, result.Retries)
		assert.GreaterOrEqual(t, result.Elapsed, time.Duration(0))
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestDuplicateAckIsNoOp(t *testing.T) {
	mock := newMockTransport()
	rt := NewReliableTransport(mock, fastReliableOptions())
	defer rt.Close()

	packet := NewMessage("alice", "hello")
	pending, err := rt.SendReliable(packet, testDest)
	require.NoError(t, err)

	ack := NewAck("server", packet.MessageID)
	assert.True(t, rt.HandleAck(ack))
	assert.False(t, rt.HandleAck(ack))
	assert.False(t, rt.HandleAck(NewAck("server", "never-sent-id")))

	// Exactly one result, despite the duplicate ACKs.
	<-pending.Done()
	select {
	case _, ok := <-pending.Done():
		assert.False(t, ok, "second result delivered")
	default:
	}
}

func TestBoundedRetriesThenTimeout(t *testing.T) {
	mock := newMockTransport()
	opts := fastReliableOptions()
	rt := NewReliableTransport(mock, opts)
	defer rt.Close()

	packet := NewMessage("alice", "hello")
	pending, err := rt.SendReliable(packet, testDest)
	require.NoError(t, err)

	select {
	case result := <-pending.Done():
		assert.False(t, result.Acked)
		assert.Equal(t, opts.MaxRetries, result.Retries)
	case <-time.After(2 * time.Second):
		t.Fatal("send never timed out")
	}

	// Initial transmission plus MaxRetries retransmissions, all with the
	// original message ID.
	assert.Equal(t, 1+opts.MaxRetries, mock.sendCount())
	for _, id := range mock.sentIDs() {
		assert.Equal(t, packet.MessageID, id)
	}

	// The entry is gone: a late ACK is a no-op.
	assert.Equal(t, 0, rt.PendingCount())
	assert.False(t, rt.HandleAck(NewAck("server", packet.MessageID)))
}

func TestTransmitFailureIsRetriedBySweep(t *testing.T) {
	mock := newMockTransport()
	mock.failNext = 1 // initial transmit fails
	rt := NewReliableTransport(mock, fastReliableOptions())
	defer rt.Close()

	packet := NewMessage("alice", "hello")
	pending, err := rt.SendReliable(packet, testDest)
	require.NoError(t, err, "transmit failure must not surface as a send error")
	require.NotNil(t, pending)
	assert.Equal(t, 1, rt.PendingCount())

	// The sweep retransmits despite the failed first attempt.
	require.Eventually(t, func() bool {
		return mock.sendCount() > 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, rt.HandleAck(NewAck("server", packet.MessageID)))
	result := <-pending.Done()
	assert.True(t, result.Acked)
	assert.GreaterOrEqual(t, result.Retries, 1)
}

func TestCloseDiscardsPendingWithoutResult(t *testing.T) {
	mock := newMockTransport()
	opts := fastReliableOptions()
	opts.AckTimeout = time.Hour // never expires on its own
	rt := NewReliableTransport(mock, opts)

	pending, err := rt.SendReliable(NewMessage("alice", "hello"), testDest)
	require.NoError(t, err)

	rt.Close()

	select {
	case result, ok := <-pending.Done():
		assert.False(t, ok, "discarded send delivered a result: %+v", result)
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed on shutdown")
	}
	assert.Equal(t, 0, rt.PendingCount())
}

func TestConcurrentSendsAndAcks(t *testing.T) {
	mock := newMockTransport()
	rt := NewReliableTransport(mock, fastReliableOptions())
	defer rt.Close()

	const n = 100
	var wg sync.WaitGroup
	results := make(chan SendResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			packet := NewMessage("alice", "hello")
			pending, err := rt.SendReliable(packet, testDest)
			if err != nil || pending == nil {
				t.Error("send failed")
				return
			}
			rt.HandleAck(NewAck("server", packet.MessageID))
			results <- <-pending.Done()
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for result := range results {
		assert.True(t, result.Acked)
		count++
	}
	assert.Equal(t, n, count)
	assert.Equal(t, 0, rt.PendingCount())
}
