package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReliableOptions configures the acknowledgement/retransmission behavior.
type ReliableOptions struct {
	// AckTimeout is how long a transmission may go unacknowledged before
	// the sweep retransmits it.
	AckTimeout time.Duration
	// MaxRetries is the number of retransmissions attempted after the
	// initial send before the send is reported as timed out.
	MaxRetries int
	// SweepInterval is how often the retry sweep scans the pending set.
	SweepInterval time.Duration
}

// DefaultReliableOptions returns the standard reliability configuration.
func DefaultReliableOptions() ReliableOptions {
	return ReliableOptions{
		AckTimeout:    3 * time.Second,
		MaxRetries:    3,
		SweepInterval: 100 * time.Millisecond,
	}
}

// SendResult is the single terminal outcome of one reliable send.
type SendResult struct {
	// Acked is true when the destination acknowledged the packet, false
	// when the retry budget was exhausted.
	Acked bool
	// Elapsed is the time from the first transmission to the ACK. Zero
	// for timed-out sends.
	Elapsed time.Duration
	// Retries is the number of retransmissions performed.
	Retries int
}

// Pending is the caller's handle to one in-flight reliable send.
//
// Done yields exactly one SendResult, unless the transport is closed
// first, in which case the entry is discarded and no result is ever
// delivered.
type Pending struct {
	MessageID string
	done      chan SendResult
}

// Done returns the channel on which the send's terminal outcome arrives.
func (p *Pending) Done() <-chan SendResult {
	return p.done
}

// pendingSend is the transport-private bookkeeping for one tracked
// transmission. Entries are owned exclusively by the ReliableTransport
// that created them and must never be touched after removal.
type pendingSend struct {
	packet    *Packet
	addr      net.Addr
	firstSent time.Time
	lastSent  time.Time
	retries   int
	done      chan SendResult
}

// ReliableTransport layers at-least-once delivery on top of a Transport.
//
// Non-ACK packets sent through SendReliable are tracked by message ID and
// retransmitted by a shared periodic sweep until acknowledged or the retry
// budget runs out. One sweep timer serves all in-flight sends.
type ReliableTransport struct {
	transport Transport
	opts      ReliableOptions

	mu      sync.Mutex
	pending map[string]*pendingSend

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReliableTransport creates a reliability layer over t and starts its
// retry sweep.
func NewReliableTransport(t Transport, opts ReliableOptions) *ReliableTransport {
	ctx, cancel := context.WithCancel(context.Background())

	rt := &ReliableTransport{
		transport: t,
		opts:      opts,
		pending:   make(map[string]*pendingSend),
		ctx:       ctx,
		cancel:    cancel,
	}

	rt.wg.Add(1)
	go rt.sweepLoop()

	return rt
}

// SendReliable transmits packet to addr with acknowledgement tracking and
// returns a handle for the outcome.
//
// ACK packets are one-shot sends: they are transmitted immediately with no
// tracking (tracking them would need ACKs for ACKs) and the returned
// handle is nil. For tracked packets a transmit failure is not an error;
// the entry stays pending and the sweep retries it.
func (rt *ReliableTransport) SendReliable(packet *Packet, addr net.Addr) (*Pending, error) {
	if packet.Type == PacketAck {
		return nil, rt.transport.Send(packet, addr)
	}

	now := time.Now()
	entry := &pendingSend{
		packet:    packet,
		addr:      addr,
		firstSent: now,
		lastSent:  now,
		done:      make(chan SendResult, 1),
	}

	rt.mu.Lock()
	rt.pending[packet.MessageID] = entry
	rt.mu.Unlock()

	if err := rt.transport.Send(packet, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "SendReliable",
			"message_id": packet.MessageID,
			"addr":       addr.String(),
			"error":      err,
		}).Error("Initial transmit failed, will retry on sweep")
	} else {
		logrus.WithFields(logrus.Fields{
			"function":   "SendReliable",
			"message_id": packet.MessageID,
			"addr":       addr.String(),
		}).Debug("Sent reliable message")
	}

	return &Pending{MessageID: packet.MessageID, done: entry.done}, nil
}

// HandleAck resolves the pending send the ACK's content refers to and
// reports whether one was resolved.
//
// A duplicate or late ACK (already acknowledged, already timed out, or
// never tracked here) is an idempotent no-op. A retransmission carries the
// original message ID, so a timeout racing a very late ACK can at worst
// produce duplicate delivery downstream, never a double result.
func (rt *ReliableTransport) HandleAck(ack *Packet) bool {
	originalID := ack.Content

	rt.mu.Lock()
	entry, ok := rt.pending[originalID]
	if ok {
		delete(rt.pending, originalID)
	}
	rt.mu.Unlock()

	if !ok {
		return false
	}

	elapsed := time.Since(entry.firstSent)
	logrus.WithFields(logrus.Fields{
		"function":   "HandleAck",
		"message_id": originalID,
		"elapsed":    elapsed,
		"retries":    entry.retries,
	}).Debug("ACK received")

	entry.done <- SendResult{Acked: true, Elapsed: elapsed, Retries: entry.retries}
	return true
}

// PendingCount reports how many sends are currently awaiting an ACK.
func (rt *ReliableTransport) PendingCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.pending)
}

// Close stops the sweep and discards all outstanding sends without
// delivering results; their Done channels are closed so waiters unblock
// empty-handed. Best-effort shutdown; the underlying Transport is not
// closed here.
func (rt *ReliableTransport) Close() {
	rt.cancel()
	rt.wg.Wait()

	rt.mu.Lock()
	discarded := rt.pending
	rt.pending = make(map[string]*pendingSend)
	rt.mu.Unlock()

	for _, entry := range discarded {
		close(entry.done)
	}
}

// sweepLoop periodically retransmits or expires aged pending sends.
func (rt *ReliableTransport) sweepLoop() {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-ticker.C:
			rt.sweep(time.Now())
		}
	}
}

// retransmission is one sweep decision carried outside the lock.
type retransmission struct {
	packet *Packet
	addr   net.Addr
	retry  int
}

// sweep scans the pending set once. Mutations happen under the lock;
// network sends and result delivery happen after it is released.
func (rt *ReliableTransport) sweep(now time.Time) {
	var resend []retransmission
	var expired []*pendingSend

	rt.mu.Lock()
	for id, entry := range rt.pending {
		if now.Sub(entry.lastSent) <= rt.opts.AckTimeout {
			continue
		}
		if entry.retries < rt.opts.MaxRetries {
			entry.retries++
			entry.lastSent = now
			resend = append(resend, retransmission{
				packet: entry.packet,
				addr:   entry.addr,
				retry:  entry.retries,
			})
		} else {
			delete(rt.pending, id)
			expired = append(expired, entry)
		}
	}
	rt.mu.Unlock()

	for _, r := range resend {
		logrus.WithFields(logrus.Fields{
			"function":   "sweep",
			"message_id": r.packet.MessageID,
			"attempt":    r.retry,
		}).Warn("Retransmitting message")

		if err := rt.transport.Send(r.packet, r.addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "sweep",
				"message_id": r.packet.MessageID,
				"error":      err,
			}).Error("Retransmit failed")
		}
	}

	for _, entry := range expired {
		logrus.WithFields(logrus.Fields{
			"function":   "sweep",
			"message_id": entry.packet.MessageID,
			"retries":    entry.retries,
		}).Error("Message timed out")

		entry.done <- SendResult{Acked: false, Retries: entry.retries}
	}
}
