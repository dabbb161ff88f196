package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpchat/transport"
)

// livenessMonitor periodically evicts peers that have gone silent. It is
// the only path that removes a peer without an explicit leave packet.
type livenessMonitor struct {
	server   *Server
	interval time.Duration
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newLivenessMonitor(s *Server, interval, timeout time.Duration) *livenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &livenessMonitor{
		server:   s,
		interval: interval,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.run()

	return m
}

func (m *livenessMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep evicts every peer whose last-seen time is past the timeout, then
// tells the remaining peers about each eviction.
func (m *livenessMonitor) sweep(now time.Time) {
	stale := m.server.registry.StaleBefore(now.Add(-m.timeout))

	for _, identity := range stale {
		if !m.server.registry.Unregister(identity) {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function": "sweep",
			"identity": identity,
		}).Warn("Removing inactive user")

		m.server.broadcastUserList()
		m.server.broadcast(
			transport.NewMessage(Identity, fmt.Sprintf("%s disconnected (timeout)", identity)), "")
	}
}

func (m *livenessMonitor) stop() {
	m.cancel()
	m.wg.Wait()
}
