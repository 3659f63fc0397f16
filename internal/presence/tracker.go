package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChangeHandler is called with a room's new count after membership changes.
type ChangeHandler func(roomCode string, count int)

// EvictHandler is called for each session removed by the liveness sweeper.
type EvictHandler func(roomCode, connectionID string)

// roomEvent is one queued membership change awaiting handler dispatch.
type roomEvent struct {
	count   int
	evicted string // connection ID when removed by the sweeper
}

// roomQueue orders handler dispatch for one room. Handlers run under the
// queue lock only, never under the tracker lock, so a handler may block on
// I/O or read tracker state without stalling joins, heartbeats or other
// rooms. Handlers must not call Join or Leave.
type roomQueue struct {
	mu      sync.Mutex
	pending []roomEvent
}

// Tracker is the live-count authority: per-room sets of connection IDs with
// last-seen times. Counts are derived from set size, so they can never go
// negative; a leave for an untracked connection is logged as an anomaly and
// otherwise ignored.
type Tracker struct {
	mu       sync.Mutex
	rooms    map[string]map[string]time.Time
	queues   map[string]*roomQueue
	ttl      time.Duration
	logger   *zap.Logger
	onChange ChangeHandler
	onEvict  EvictHandler
}

// NewTracker creates a tracker. Sessions with no heartbeat within ttl are
// treated as left by Sweep.
func NewTracker(ttl time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		rooms:  make(map[string]map[string]time.Time),
		queues: make(map[string]*roomQueue),
		ttl:    ttl,
		logger: logger,
	}
}

// SetChangeHandler sets the callback for count changes. Events for one room
// reach the handler in the order they occurred.
func (t *Tracker) SetChangeHandler(fn ChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// SetEvictHandler sets the callback for sweeper evictions.
func (t *Tracker) SetEvictHandler(fn EvictHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvict = fn
}

// Join adds a connection to a room. Joining twice with the same connection
// refreshes its last-seen time and never double counts. Returns true when
// the connection was newly added.
func (t *Tracker) Join(roomCode, connectionID string) bool {
	t.mu.Lock()
	conns, ok := t.rooms[roomCode]
	if !ok {
		conns = make(map[string]time.Time)
		t.rooms[roomCode] = conns
	}
	_, already := conns[connectionID]
	conns[connectionID] = time.Now()
	var q *roomQueue
	if !already {
		q = t.enqueueLocked(roomCode, roomEvent{count: len(conns)})
	}
	t.mu.Unlock()

	if q != nil {
		t.flush(roomCode, q)
	}
	return !already
}

// Touch refreshes a connection's last-seen time, typically from a heartbeat.
func (t *Tracker) Touch(roomCode, connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conns, ok := t.rooms[roomCode]; ok {
		if _, tracked := conns[connectionID]; tracked {
			conns[connectionID] = time.Now()
		}
	}
}

// Leave removes a connection. Removing one that was never tracked or has
// already left is not an error: disconnect races land here routinely. The
// count is clamped by construction and never goes negative. Returns true
// when a session was actually removed.
func (t *Tracker) Leave(roomCode, connectionID string) bool {
	t.mu.Lock()
	removed, q := t.removeLocked(roomCode, connectionID, false)
	t.mu.Unlock()

	if q != nil {
		t.flush(roomCode, q)
	}
	return removed
}

// removeLocked deletes a session and queues its change event. Caller holds
// t.mu; the returned queue, if any, must be flushed after release.
func (t *Tracker) removeLocked(roomCode, connectionID string, evicted bool) (bool, *roomQueue) {
	conns, ok := t.rooms[roomCode]
	if !ok {
		t.logger.Warn("presence anomaly: leave for untracked room",
			zap.String("room", roomCode), zap.String("connection_id", connectionID))
		return false, nil
	}
	if _, tracked := conns[connectionID]; !tracked {
		t.logger.Warn("presence anomaly: leave for untracked connection",
			zap.String("room", roomCode), zap.String("connection_id", connectionID))
		return false, nil
	}
	delete(conns, connectionID)
	count := len(conns)
	if count == 0 {
		delete(t.rooms, roomCode)
	}
	ev := roomEvent{count: count}
	if evicted {
		ev.evicted = connectionID
	}
	return true, t.enqueueLocked(roomCode, ev)
}

func (t *Tracker) enqueueLocked(roomCode string, ev roomEvent) *roomQueue {
	q, ok := t.queues[roomCode]
	if !ok {
		q = &roomQueue{}
		t.queues[roomCode] = q
	}
	q.pending = append(q.pending, ev)
	return q
}

// flush delivers a room's queued events in order. The tracker lock is held
// only to take the next batch, never across a handler call; whichever
// flusher holds the queue lock delivers everything queued so far, so a
// caller may return after its own event has been handed off to a
// concurrent flusher of the same room.
func (t *Tracker) flush(roomCode string, q *roomQueue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		t.mu.Lock()
		if len(q.pending) == 0 {
			// Drop the queue once the room is gone and nothing is pending.
			if cur, ok := t.queues[roomCode]; ok && cur == q && len(t.rooms[roomCode]) == 0 {
				delete(t.queues, roomCode)
			}
			t.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		onChange, onEvict := t.onChange, t.onEvict
		t.mu.Unlock()

		for _, ev := range batch {
			if ev.evicted != "" && onEvict != nil {
				onEvict(roomCode, ev.evicted)
			}
			if onChange != nil {
				onChange(roomCode, ev.count)
			}
		}
	}
}

// Count returns the current live count for a room.
func (t *Tracker) Count(roomCode string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[roomCode])
}

// Sweep evicts sessions whose last heartbeat is older than the TTL and
// returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	evicted := 0
	queues := make(map[string]*roomQueue)
	for roomCode, conns := range t.rooms {
		for connID, lastSeen := range conns {
			if now.Sub(lastSeen) > t.ttl {
				t.logger.Info("presence session timed out",
					zap.String("room", roomCode), zap.String("connection_id", connID))
				if ok, q := t.removeLocked(roomCode, connID, true); ok {
					queues[roomCode] = q
					evicted++
				}
			}
		}
	}
	t.mu.Unlock()

	for roomCode, q := range queues {
		t.flush(roomCode, q)
	}
	return evicted
}

// Run sweeps on an interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}
