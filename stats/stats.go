// Package stats tracks per-worker message counters and active-vertex counts.
// The master uses these to decide when a superstep has fully drained and when
// the computation has gone quiescent.
package stats

import (
	"sync"
	"time"
)

// MessageStats captures the message-exchange counters a worker reports for one
// superstep.
type MessageStats struct {
	// SendCount is the number of message units the worker emitted, counting
	// both local deliveries and units shipped to remote shards.
	SendCount int64

	// ReceivedCount is the number of message units stored into the
	// worker's caches, from local deliveries and parsed wire batches.
	ReceivedCount int64

	// MemoryBytesUsed estimates the wire bytes received for messages.
	MemoryBytesUsed int64

	// SuperstepRuntime is the wall-clock duration of the worker's compute
	// phase.
	SuperstepRuntime time.Duration
}

// Manager accumulates the stats reported by every worker participating in a
// computation. One report per worker per superstep is expected; the manager is
// reset at the start of each superstep.
type Manager struct {
	mu          sync.Mutex
	serverStats map[string]MessageStats
	activeStats map[string]int64

	collector *Collector
}

// NewManager creates an empty stats manager.
func NewManager() *Manager {
	return &Manager{
		serverStats: make(map[string]MessageStats),
		activeStats: make(map[string]int64),
	}
}

// SetCollector configures an optional metrics collector that observes every
// accumulated report.
func (m *Manager) SetCollector(c *Collector) {
	m.mu.Lock()
	m.collector = c
	m.mu.Unlock()
}

// Accumulate records the message stats reported by a worker, replacing any
// previous report from the same worker for this superstep.
func (m *Manager) Accumulate(workerID string, stats MessageStats) {
	m.mu.Lock()
	m.serverStats[workerID] = stats
	collector := m.collector
	m.mu.Unlock()

	if collector != nil {
		collector.observeMessages(workerID, stats)
	}
}

// AccumulateActive records the number of vertices that voted to remain active
// on the given worker.
func (m *Manager) AccumulateActive(workerID string, active int64) {
	m.mu.Lock()
	m.activeStats[workerID] = active
	collector := m.collector
	m.mu.Unlock()

	if collector != nil {
		collector.observeActive(workerID, active)
	}
}

// AllMessagesProcessed reports whether every message sent during the current
// superstep has been received, i.e. the total send count equals the total
// receive count across all reporting workers. The master must not evaluate
// convergence until this holds, otherwise it would act on in-flight data.
func (m *Manager) AllMessagesProcessed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sent, received int64
	for _, stats := range m.serverStats {
		sent += stats.SendCount
		received += stats.ReceivedCount
	}
	return sent == received
}

// TotalSent returns the total number of message units sent across all workers.
func (m *Manager) TotalSent() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sent int64
	for _, stats := range m.serverStats {
		sent += stats.SendCount
	}
	return sent
}

// TotalReceived returns the total number of message units received across all
// workers.
func (m *Manager) TotalReceived() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var received int64
	for _, stats := range m.serverStats {
		received += stats.ReceivedCount
	}
	return received
}

// TotalActive returns the total number of vertices that voted to remain
// active across all workers.
func (m *Manager) TotalActive() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active int64
	for _, count := range m.activeStats {
		active += count
	}
	return active
}

// WorkerStats returns a copy of the last stats report for the given worker.
func (m *Manager) WorkerStats(workerID string) (MessageStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, exists := m.serverStats[workerID]
	return stats, exists
}

// ResetActive clears the per-worker active-vertex counts.
func (m *Manager) ResetActive() {
	m.mu.Lock()
	m.activeStats = make(map[string]int64)
	m.mu.Unlock()
}

// Reset clears all accumulated reports. Invoked by the master at the start of
// every superstep.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.serverStats = make(map[string]MessageStats)
	m.activeStats = make(map[string]int64)
	m.mu.Unlock()
}
