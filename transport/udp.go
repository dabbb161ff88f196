package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// readTimeout bounds each socket read so the receive loop can observe
// shutdown promptly. The loop itself runs until the context is cancelled.
const readTimeout = 100 * time.Millisecond

// UDPTransport implements datagram communication for the chat protocol.
// It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewUDPTransport creates a UDP transport bound to listenAddr and starts
// its receive loop. A bind failure is the one fatal startup error in this
// layer; everything after bind is drop-and-continue.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
	}

	go t.processPackets()

	return t, nil
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// Send encodes and sends a packet to the specified address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := Marshal(packet)
	if err != nil {
		return err
	}

	_, err = t.conn.WriteTo(data, addr)
	return err
}

// Close shuts down the transport. Closing the socket is what unblocks a
// receive in progress.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// processPackets handles incoming datagrams until shutdown.
func (t *UDPTransport) processPackets() {
	buffer := make([]byte, MaxPacketSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads and dispatches a single incoming datagram.
// All failures are non-fatal to the loop.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		t.handleReadError(err)
		return
	}

	packet, err := Unmarshal(buffer[:n])
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"remote":   addr.String(),
			"error":    err,
		}).Debug("Dropping undecodable datagram")
		return
	}

	t.dispatchPacketToHandler(packet, addr)
}

// handleReadError classifies connection read errors. Timeouts are the
// normal idle case and stay silent.
func (t *UDPTransport) handleReadError(err error) {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	select {
	case <-t.ctx.Done():
		// Socket closed during shutdown.
		return
	default:
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleReadError",
		"error":    err,
	}).Warn("Socket read failed")
}

// dispatchPacketToHandler finds and executes the handler for the packet's
// type. Packets with no registered handler are dropped.
func (t *UDPTransport) dispatchPacketToHandler(packet *Packet, addr net.Addr) {
	t.mu.RLock()
	handler, exists := t.handlers[packet.Type]
	t.mu.RUnlock()

	if exists {
		handler(packet, addr)
	}
}
