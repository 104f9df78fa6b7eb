package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the relay counters.
type Snapshot struct {
	Sessions         int64
	MessagesRouted   uint64
	MessagesQueued   uint64
	MessagesEvicted  uint64
	PeersDropped     uint64
	TransfersOK      uint64
	TransfersFailed  uint64
	BytesRelayed     uint64
	LastTransferMime string
	Uptime           time.Duration
}

// Metrics aggregates relay counters. Safe for concurrent use.
type Metrics struct {
	startedAt time.Time

	sessions        atomic.Int64
	messagesRouted  atomic.Uint64
	messagesQueued  atomic.Uint64
	messagesEvicted atomic.Uint64
	peersDropped    atomic.Uint64
	transfersOK     atomic.Uint64
	transfersFailed atomic.Uint64
	bytesRelayed    atomic.Uint64

	mu       sync.RWMutex
	lastMime string
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) SessionOpened() { m.sessions.Add(1) }

func (m *Metrics) SessionClosed() { m.sessions.Add(-1) }

// IncrRouted counts one message delivered to one live peer.
func (m *Metrics) IncrRouted() { m.messagesRouted.Add(1) }

func (m *Metrics) IncrQueued() { m.messagesQueued.Add(1) }

func (m *Metrics) IncrEvicted() { m.messagesEvicted.Add(1) }

func (m *Metrics) IncrDropped() { m.peersDropped.Add(1) }

func (m *Metrics) AddRelayedBytes(n uint64) { m.bytesRelayed.Add(n) }

// TransferDone records the outcome of one file relay.
func (m *Metrics) TransferDone(mime string, ok bool) {
	if ok {
		m.transfersOK.Add(1)
	} else {
		m.transfersFailed.Add(1)
	}
	if mime == "" {
		return
	}
	m.mu.Lock()
	m.lastMime = mime
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	lastMime := m.lastMime
	m.mu.RUnlock()

	return Snapshot{
		Sessions:         m.sessions.Load(),
		MessagesRouted:   m.messagesRouted.Load(),
		MessagesQueued:   m.messagesQueued.Load(),
		MessagesEvicted:  m.messagesEvicted.Load(),
		PeersDropped:     m.peersDropped.Load(),
		TransfersOK:      m.transfersOK.Load(),
		TransfersFailed:  m.transfersFailed.Load(),
		BytesRelayed:     m.bytesRelayed.Load(),
		LastTransferMime: lastMime,
		Uptime:           time.Since(m.startedAt),
	}
}
