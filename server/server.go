// Package server implements the rendezvous server for the chat system.
//
// The server owns the peer registry and routes every inbound packet:
// join/leave membership changes, public fan-out, private forwarding, and
// liveness eviction. Outbound delivery goes through the reliable transport
// so each destination is retried independently under packet loss.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpchat/peer"
	"github.com/opd-ai/udpchat/transport"
)

// Identity is the sender name the server uses on packets it originates.
const Identity = "server"

// Options contains configuration options for creating a Server.
type Options struct {
	// Host and Port form the UDP bind address.
	Host string
	Port int
	// Reliable configures acknowledgement tracking for outbound sends.
	Reliable transport.ReliableOptions
	// LivenessInterval is how often the liveness sweep runs.
	LivenessInterval time.Duration
	// LivenessTimeout is how long a peer may stay silent before the sweep
	// evicts it.
	LivenessTimeout time.Duration
	// AdminAddr is the listen address for the HTTP admin API. Empty
	// disables the API.
	AdminAddr string
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Host:             "0.0.0.0",
		Port:             5000,
		Reliable:         transport.DefaultReliableOptions(),
		LivenessInterval: 30 * time.Second,
		LivenessTimeout:  60 * time.Second,
	}
}

// Server is a running chat rendezvous server.
type Server struct {
	opts     *Options
	udp      transport.Transport
	reliable *transport.ReliableTransport
	registry *peer.Registry
	stats    *Stats

	liveness *livenessMonitor
	admin    *adminAPI
}

// New binds the server socket and starts all server loops. A bind failure
// (UDP or admin listener) is fatal and returned; every later network
// failure is logged and survived.
func New(opts *Options) (*Server, error) {
	udp, err := transport.NewUDPTransport(fmt.Sprintf("%s:%d", opts.Host, opts.Port))
	if err != nil {
		return nil, fmt.Errorf("bind server socket: %w", err)
	}

	s := newWithTransport(opts, udp)

	if opts.AdminAddr != "" {
		admin, err := newAdminAPI(opts.AdminAddr, s)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("start admin api: %w", err)
		}
		s.admin = admin
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"addr":     udp.LocalAddr().String(),
	}).Info("Chat server started")

	return s, nil
}

// newWithTransport wires the server onto an already bound transport.
// Split out so tests can drive the server over loopback or fakes.
func newWithTransport(opts *Options, t transport.Transport) *Server {
	s := &Server{
		opts:     opts,
		udp:      t,
		reliable: transport.NewReliableTransport(t, opts.Reliable),
		registry: peer.NewRegistry(),
		stats:    NewStats(),
	}

	t.RegisterHandler(transport.PacketJoin, s.inbound(s.handleJoin))
	t.RegisterHandler(transport.PacketLeave, s.inbound(s.handleLeave))
	t.RegisterHandler(transport.PacketMessage, s.inbound(s.handleMessage))
	t.RegisterHandler(transport.PacketPrivateMessage, s.inbound(s.handlePrivateMessage))
	t.RegisterHandler(transport.PacketHeartbeat, s.inbound(s.handleHeartbeat))
	t.RegisterHandler(transport.PacketAck, s.handleAck)

	s.liveness = newLivenessMonitor(s, opts.LivenessInterval, opts.LivenessTimeout)

	return s
}

// Addr returns the bound server address.
func (s *Server) Addr() net.Addr {
	return s.udp.LocalAddr()
}

// Registry exposes the peer registry for read-side consumers (admin API,
// tests). Mutation still only happens through registry operations.
func (s *Server) Registry() *peer.Registry {
	return s.registry
}

// Stats returns a point-in-time copy of the server counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// AdminAddr returns the admin API listen address, or nil when the API is
// disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.admin == nil {
		return nil
	}
	return s.admin.addr
}

// Stop shuts the server down: loops stop cooperatively, outstanding
// reliable sends are discarded, the socket is closed.
func (s *Server) Stop() {
	s.liveness.stop()
	if s.admin != nil {
		s.admin.stop()
	}
	s.reliable.Close()
	if err := s.udp.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"error":    err,
		}).Warn("Closing server socket failed")
	}

	logrus.WithField("function", "Stop").Info("Chat server stopped")
}

// inbound wraps a per-kind handler with the steps every non-ACK packet
// gets: refresh the sender's last-seen entry, then acknowledge receipt to
// the source address before dispatching.
func (s *Server) inbound(handler func(*transport.Packet, net.Addr)) transport.PacketHandler {
	return func(p *transport.Packet, addr net.Addr) {
		s.registry.Touch(p.Sender, addr)
		s.sendAck(p, addr)
		handler(p, addr)
	}
}

// sendAck acknowledges one received packet. ACKs are unconfirmed one-shot
// sends.
func (s *Server) sendAck(p *transport.Packet, addr net.Addr) {
	ack := transport.NewAck(Identity, p.MessageID)
	if _, err := s.reliable.SendReliable(ack, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendAck",
			"message_id": p.MessageID,
			"addr":       addr.String(),
			"error":      err,
		}).Error("Failed to send ACK")
	}
}

// handleAck routes acknowledgements into the reliable transport. ACKs are
// never themselves acknowledged and do not refresh liveness.
func (s *Server) handleAck(p *transport.Packet, addr net.Addr) {
	s.reliable.HandleAck(p)
}

// handleJoin registers a new peer and announces it. A duplicate join is
// ignored: no broadcast, no state change.
func (s *Server) handleJoin(p *transport.Packet, addr net.Addr) {
	if !s.registry.Register(p.Sender, addr) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleJoin",
		"identity": p.Sender,
		"addr":     addr.String(),
	}).Info("User joined")

	s.broadcastUserList()
	s.broadcast(transport.NewMessage(Identity, fmt.Sprintf("%s joined the chat", p.Sender)), p.Sender)
}

// handleLeave removes the peer and announces the departure to everyone
// left.
func (s *Server) handleLeave(p *transport.Packet, addr net.Addr) {
	if !s.registry.Unregister(p.Sender) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleLeave",
		"identity": p.Sender,
	}).Info("User left")

	s.broadcastUserList()
	s.broadcast(transport.NewMessage(Identity, fmt.Sprintf("%s left the chat", p.Sender)), "")
}

// handleMessage fans a public message out to every registered peer except
// its sender.
func (s *Server) handleMessage(p *transport.Packet, addr net.Addr) {
	s.stats.IncMessages()

	logrus.WithFields(logrus.Fields{
		"function": "handleMessage",
		"sender":   p.Sender,
	}).Info("Routing public message")

	s.broadcast(p, p.Sender)
}

// handlePrivateMessage forwards a direct message to its recipient,
// preserving the original message ID, or reports back to the sender when
// the recipient is not online. The codec guarantees Recipient is set.
func (s *Server) handlePrivateMessage(p *transport.Packet, addr net.Addr) {
	s.stats.IncMessages()

	recipient := *p.Recipient
	dest, online := s.registry.Addr(recipient)
	if !online {
		logrus.WithFields(logrus.Fields{
			"function":  "handlePrivateMessage",
			"sender":    p.Sender,
			"recipient": recipient,
		}).Info("Private message recipient not online")

		reply := transport.NewMessage(Identity, fmt.Sprintf("User '%s' is not online", recipient))
		s.sendTracked(reply, addr, p.Sender)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "handlePrivateMessage",
		"sender":    p.Sender,
		"recipient": recipient,
	}).Info("Forwarding private message")

	s.sendTracked(p, dest, recipient)
}

// handleHeartbeat needs nothing beyond the touch and ACK already done for
// every inbound packet.
func (s *Server) handleHeartbeat(p *transport.Packet, addr net.Addr) {
}

// broadcast reliably delivers a logical message to every registered peer
// except exclude. Each destination gets its own copy with a fresh message
// ID so delivery is tracked, retried, and reported independently; one slow
// or dead peer cannot affect the others.
func (s *Server) broadcast(p *transport.Packet, exclude string) {
	for identity, addr := range s.registry.Snapshot() {
		if identity == exclude {
			continue
		}
		s.sendTracked(p.WithFreshID(), addr, identity)
	}
}

// broadcastUserList pushes the current identity→address table to every
// registered peer.
func (s *Server) broadcastUserList() {
	snapshot := s.registry.Snapshot()

	users := make(map[string]string, len(snapshot))
	for identity, addr := range snapshot {
		users[identity] = addr.String()
	}

	for identity, addr := range snapshot {
		s.sendTracked(transport.NewUserList(Identity, users), addr, identity)
	}
}

// sendTracked performs one reliable send and consumes its outcome into the
// server stats. The destination identity is only used for logging.
func (s *Server) sendTracked(p *transport.Packet, addr net.Addr, identity string) {
	pending, err := s.reliable.SendReliable(p, addr)
	if err != nil || pending == nil {
		return
	}

	go func() {
		result, ok := <-pending.Done()
		if !ok {
			return
		}
		if result.Acked {
			s.stats.RecordDelivery(result.Elapsed, result.Retries)
			return
		}
		s.stats.RecordFailure(result.Retries)
		logrus.WithFields(logrus.Fields{
			"function":   "sendTracked",
			"identity":   identity,
			"message_id": p.MessageID,
			"retries":    result.Retries,
		}).Error("Failed to deliver message")
	}()
}
