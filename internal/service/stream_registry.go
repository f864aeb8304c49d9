package service

import (
	"sort"
	"sync"
	"time"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// StreamRegistry tracks the executor streams owned by this replica. It backs
// the admin connection listing and graceful drain; cross-replica subscriber
// counts come from the bus, not from here.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*models.ExecutorConnection
	drain   chan struct{}
	once    sync.Once
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]*models.ExecutorConnection),
		drain:   make(chan struct{}),
	}
}

// Register records a live stream under its session id.
func (r *StreamRegistry) Register(conn *models.ExecutorConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.Since.IsZero() {
		conn.Since = time.Now().UTC()
	}
	r.streams[conn.SessionID] = conn
	metrics.ExecutorStreamsActive.Set(float64(len(r.streams)))
}

// Unregister drops a stream. Safe to call for unknown or already removed
// session ids.
func (r *StreamRegistry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, sessionID)
	metrics.ExecutorStreamsActive.Set(float64(len(r.streams)))
}

// Connections returns a snapshot of live streams, oldest first.
func (r *StreamRegistry) Connections() []*models.ExecutorConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*models.ExecutorConnection, 0, len(r.streams))
	for _, c := range r.streams {
		copied := *c
		conns = append(conns, &copied)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Since.Before(conns[j].Since) })
	return conns
}

// Count returns the number of live streams on this replica.
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// CountFor returns the number of live streams for one cluster on this replica.
func (r *StreamRegistry) CountFor(clusterID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.streams {
		if c.ClusterID == clusterID {
			n++
		}
	}
	return n
}

// BeginDrain signals every stream handler to terminate so executors reconnect
// to another replica. Idempotent.
func (r *StreamRegistry) BeginDrain() {
	r.once.Do(func() { close(r.drain) })
}

// Draining returns a channel closed when shutdown drain begins.
func (r *StreamRegistry) Draining() <-chan struct{} {
	return r.drain
}
