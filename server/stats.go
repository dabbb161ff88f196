package server

import (
	"sync"
	"time"
)

// Stats accumulates server delivery metrics. All methods are safe for
// concurrent use.
type Stats struct {
	mu              sync.Mutex
	totalMessages   int64
	deliveries      int64
	totalDelivery   time.Duration
	retransmissions int64
	failures        int64
}

// StatsSnapshot is a point-in-time copy of the server counters.
type StatsSnapshot struct {
	// TotalMessages counts the chat messages (public and private) routed.
	TotalMessages int64 `json:"total_messages"`
	// Deliveries counts the reliable sends that were acknowledged.
	Deliveries int64 `json:"deliveries"`
	// AverageDelivery is the mean time from first transmission to ACK.
	AverageDelivery time.Duration `json:"average_delivery_ns"`
	// Retransmissions counts every retry performed across all sends.
	Retransmissions int64 `json:"retransmissions"`
	// Failures counts reliable sends that exhausted their retry budget.
	Failures int64 `json:"failures"`
}

// NewStats creates zeroed server counters.
func NewStats() *Stats {
	return &Stats{}
}

// IncMessages counts one routed chat message.
func (s *Stats) IncMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages++
}

// RecordDelivery accounts one acknowledged send.
func (s *Stats) RecordDelivery(elapsed time.Duration, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries++
	s.totalDelivery += elapsed
	s.retransmissions += int64(retries)
}

// RecordFailure accounts one send that ran out of retries.
func (s *Stats) RecordFailure(retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.retransmissions += int64(retries)
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatsSnapshot{
		TotalMessages:   s.totalMessages,
		Deliveries:      s.deliveries,
		Retransmissions: s.retransmissions,
		Failures:        s.failures,
	}
	if s.deliveries > 0 {
		snapshot.AverageDelivery = s.totalDelivery / time.Duration(s.deliveries)
	}
	return snapshot
}
