package udpchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpchat/transport"
)

// Options contains configuration options for creating a Client.
type Options struct {
	// Reliable configures acknowledgement tracking for outbound sends.
	Reliable transport.ReliableOptions
	// HeartbeatInterval is how often a connected client refreshes its
	// liveness with the server.
	HeartbeatInterval time.Duration
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Reliable:          transport.DefaultReliableOptions(),
		HeartbeatInterval: 30 * time.Second,
	}
}

// Client is one chat identity's connection to a rendezvous server.
//
// Commands (Connect, Disconnect, SendPublic, SendPrivate) are methods;
// everything inbound surfaces through the OnX callbacks.
type Client struct {
	opts *Options

	mu         sync.Mutex
	identity   string
	serverAddr net.Addr
	udp        *transport.UDPTransport
	reliable   *transport.ReliableTransport
	connected  bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	cbMu             sync.RWMutex
	onConnected      func()
	onDisconnected   func()
	onPublicMessage  func(sender, text string)
	onPrivateMessage func(sender, text string)
	onUserList       func(users map[string]string)
	onSendFailed     func(context string)
}

// NewClient creates a disconnected client.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = NewOptions()
	}
	return &Client{opts: opts}
}

// OnConnected sets the callback fired when the server acknowledges the
// join.
func (c *Client) OnConnected(callback func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onConnected = callback
}

// OnDisconnected sets the callback fired when the client disconnects.
func (c *Client) OnDisconnected(callback func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDisconnected = callback
}

// OnPublicMessage sets the callback for broadcast chat messages.
func (c *Client) OnPublicMessage(callback func(sender, text string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPublicMessage = callback
}

// OnPrivateMessage sets the callback for direct messages addressed to this
// client.
func (c *Client) OnPrivateMessage(callback func(sender, text string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPrivateMessage = callback
}

// OnUserList sets the callback for registry updates. The map is
// identity→"host:port" and is owned by the callback.
func (c *Client) OnUserList(callback func(users map[string]string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onUserList = callback
}

// OnSendFailed sets the callback fired when a reliable send exhausts its
// retries. The argument describes what failed.
func (c *Client) OnSendFailed(callback func(context string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSendFailed = callback
}

// Connect opens an ephemeral UDP socket and sends a reliable JOIN to the
// server. It returns once the join is sent; the outcome arrives
// asynchronously as either OnConnected or OnSendFailed. Connecting while
// already connected is an error.
func (c *Client) Connect(identity, serverAddr string) error {
	if identity == "" {
		return errors.New("identity cannot be empty")
	}

	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.udp != nil {
		return errors.New("already connected")
	}

	udp, err := transport.NewUDPTransport(":0")
	if err != nil {
		return fmt.Errorf("open client socket: %w", err)
	}

	reliable := transport.NewReliableTransport(udp, c.opts.Reliable)

	c.identity = identity
	c.serverAddr = addr
	c.udp = udp
	c.reliable = reliable

	udp.RegisterHandler(transport.PacketMessage, c.inbound(c.handleMessage))
	udp.RegisterHandler(transport.PacketPrivateMessage, c.inbound(c.handlePrivateMessage))
	udp.RegisterHandler(transport.PacketUserList, c.inbound(c.handleUserList))
	udp.RegisterHandler(transport.PacketAck, func(p *transport.Packet, addr net.Addr) {
		reliable.HandleAck(p)
	})

	pending, err := reliable.SendReliable(transport.NewJoin(identity), addr)
	if err != nil || pending == nil {
		c.releaseLocked().shutdown()
		return fmt.Errorf("send join: %w", err)
	}

	go c.awaitJoin(pending)

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"identity": identity,
		"server":   addr.String(),
	}).Info("Join sent")

	return nil
}

// awaitJoin resolves the connection from the JOIN send's outcome.
func (c *Client) awaitJoin(pending *transport.Pending) {
	result, ok := <-pending.Done()
	if !ok {
		return
	}

	if !result.Acked {
		logrus.WithFields(logrus.Fields{
			"function": "awaitJoin",
			"retries":  result.Retries,
		}).Error("Join timed out")

		c.fireSendFailed("join: server did not respond")

		c.mu.Lock()
		resources := c.releaseLocked()
		c.mu.Unlock()
		resources.shutdown()
		c.wg.Wait()
		return
	}

	heartbeatCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.udp == nil {
		// Disconnected while the join was in flight.
		c.mu.Unlock()
		cancel()
		return
	}
	c.connected = true
	c.cancel = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(heartbeatCtx)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "awaitJoin",
		"elapsed":  result.Elapsed,
		"retries":  result.Retries,
	}).Info("Connected")

	c.cbMu.RLock()
	callback := c.onConnected
	c.cbMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// Disconnect sends a best-effort LEAVE, stops the heartbeat, discards
// outstanding sends, and closes the socket. Safe to call when not
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.udp == nil {
		c.mu.Unlock()
		return
	}

	if c.connected {
		// One-shot; the socket is about to close, so there is no point
		// tracking the leave for retransmission.
		if err := c.udp.Send(transport.NewLeave(c.identity), c.serverAddr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Disconnect",
				"error":    err,
			}).Warn("Failed to send leave")
		}
	}

	wasConnected := c.connected
	resources := c.releaseLocked()
	c.mu.Unlock()

	resources.shutdown()
	c.wg.Wait()

	if wasConnected {
		c.cbMu.RLock()
		callback := c.onDisconnected
		c.cbMu.RUnlock()
		if callback != nil {
			callback()
		}
	}

	logrus.WithField("function", "Disconnect").Info("Disconnected")
}

// clientResources carries the network state detached from a Client so it
// can be shut down without holding the client lock (the heartbeat loop
// takes that lock and must be able to observe cancellation).
type clientResources struct {
	cancel   context.CancelFunc
	reliable *transport.ReliableTransport
	udp      *transport.UDPTransport
}

func (r clientResources) shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.reliable != nil {
		r.reliable.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
	}
}

// releaseLocked detaches the network resources and marks the client
// disconnected. Caller holds c.mu.
func (c *Client) releaseLocked() clientResources {
	resources := clientResources{
		cancel:   c.cancel,
		reliable: c.reliable,
		udp:      c.udp,
	}
	c.cancel = nil
	c.reliable = nil
	c.udp = nil
	c.connected = false
	return resources
}

// SendPublic sends a broadcast chat message to the server for fan-out.
func (c *Client) SendPublic(text string) error {
	return c.sendTracked(func(identity string) *transport.Packet {
		return transport.NewMessage(identity, text)
	}, "public message")
}

// SendPrivate sends a direct message to recipient via the server.
func (c *Client) SendPrivate(recipient, text string) error {
	if recipient == "" {
		return errors.New("recipient cannot be empty")
	}
	return c.sendTracked(func(identity string) *transport.Packet {
		return transport.NewPrivateMessage(identity, recipient, text)
	}, fmt.Sprintf("private message to %s", recipient))
}

// sendTracked builds and reliably sends one packet to the server,
// reporting retry exhaustion through OnSendFailed.
func (c *Client) sendTracked(build func(identity string) *transport.Packet, what string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return errors.New("not connected")
	}
	reliable := c.reliable
	addr := c.serverAddr
	packet := build(c.identity)
	c.mu.Unlock()

	pending, err := reliable.SendReliable(packet, addr)
	if err != nil {
		return err
	}

	go func() {
		result, ok := <-pending.Done()
		if !ok || result.Acked {
			return
		}
		c.fireSendFailed(fmt.Sprintf("%s: no ACK after %d retries", what, result.Retries))
	}()

	return nil
}

// IsConnected reports whether the join handshake has completed and the
// client has not disconnected since.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LocalAddr returns the client's socket address, or nil when closed.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.udp == nil {
		return nil
	}
	return c.udp.LocalAddr()
}

// inbound wraps a handler with the acknowledgement every received non-ACK
// packet gets.
func (c *Client) inbound(handler func(*transport.Packet, net.Addr)) transport.PacketHandler {
	return func(p *transport.Packet, addr net.Addr) {
		c.mu.Lock()
		reliable := c.reliable
		identity := c.identity
		c.mu.Unlock()

		if reliable == nil {
			return
		}

		ack := transport.NewAck(identity, p.MessageID)
		if _, err := reliable.SendReliable(ack, addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "inbound",
				"message_id": p.MessageID,
				"error":      err,
			}).Error("Failed to send ACK")
		}

		handler(p, addr)
	}
}

func (c *Client) handleMessage(p *transport.Packet, addr net.Addr) {
	c.cbMu.RLock()
	callback := c.onPublicMessage
	c.cbMu.RUnlock()
	if callback != nil {
		callback(p.Sender, p.Content)
	}
}

func (c *Client) handlePrivateMessage(p *transport.Packet, addr net.Addr) {
	c.cbMu.RLock()
	callback := c.onPrivateMessage
	c.cbMu.RUnlock()
	if callback != nil {
		callback(p.Sender, p.Content)
	}
}

func (c *Client) handleUserList(p *transport.Packet, addr net.Addr) {
	users, err := transport.DecodeUserList(p.Content)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleUserList",
			"error":    err,
		}).Warn("Dropping malformed user list")
		return
	}

	c.cbMu.RLock()
	callback := c.onUserList
	c.cbMu.RUnlock()
	if callback != nil {
		callback(users)
	}
}

func (c *Client) fireSendFailed(what string) {
	c.cbMu.RLock()
	callback := c.onSendFailed
	c.cbMu.RUnlock()
	if callback != nil {
		callback(what)
	}
}

// heartbeatLoop keeps the server's last-seen entry for this client fresh
// while connected.
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.connected {
				c.mu.Unlock()
				return
			}
			reliable := c.reliable
			addr := c.serverAddr
			identity := c.identity
			c.mu.Unlock()

			if _, err := reliable.SendReliable(transport.NewHeartbeat(identity), addr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"error":    err,
				}).Warn("Heartbeat send failed")
			}
		}
	}
}
