package presence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestTracker(ttl time.Duration) *Tracker {
	return NewTracker(ttl, zap.NewNop())
}

func TestJoinAndLeaveCount(t *testing.T) {
	tr := newTestTracker(time.Minute)

	assert.Equal(t, 0, tr.Count("ABC123"))

	tr.Join("ABC123", "conn-1")
	tr.Join("ABC123", "conn-2")
	tr.Join("ABC123", "conn-3")
	assert.Equal(t, 3, tr.Count("ABC123"))

	tr.Leave("ABC123", "conn-2")
	assert.Equal(t, 2, tr.Count("ABC123"))

	// Rooms are independent.
	assert.Equal(t, 0, tr.Count("XYZ789"))
}

func TestJoinIsIdempotentPerConnection(t *testing.T) {
	tr := newTestTracker(time.Minute)

	assert.True(t, tr.Join("ABC123", "conn-1"))
	before := tr.Count("ABC123")
	assert.False(t, tr.Join("ABC123", "conn-1"), "second join is not a new session")
	assert.Equal(t, before, tr.Count("ABC123"), "count is +1, not +2")
}

func TestLeaveUnknownConnectionIsNoOp(t *testing.T) {
	tr := newTestTracker(time.Minute)

	assert.False(t, tr.Leave("ABC123", "never-joined"))
	assert.Equal(t, 0, tr.Count("ABC123"))

	tr.Join("ABC123", "conn-1")
	tr.Leave("ABC123", "conn-1")
	assert.False(t, tr.Leave("ABC123", "conn-1"), "second leave is a no-op")
	assert.Equal(t, 0, tr.Count("ABC123"), "count never goes negative")
}

func TestUnmatchedJoinsAndLeaves(t *testing.T) {
	tr := newTestTracker(time.Minute)

	const joins, leaves = 7, 4
	for i := 0; i < joins; i++ {
		tr.Join("ABC123", fmt.Sprintf("conn-%d", i))
	}
	for i := 0; i < leaves; i++ {
		tr.Leave("ABC123", fmt.Sprintf("conn-%d", i))
	}
	assert.Equal(t, joins-leaves, tr.Count("ABC123"))

	// More leaves than joins clamps at zero.
	for i := 0; i < joins+3; i++ {
		tr.Leave("ABC123", fmt.Sprintf("conn-%d", i))
	}
	assert.Equal(t, 0, tr.Count("ABC123"))
}

func TestChangeHandlerSeesOrderedCounts(t *testing.T) {
	tr := newTestTracker(time.Minute)
	var counts []int
	tr.SetChangeHandler(func(roomCode string, count int) {
		assert.Equal(t, "ABC123", roomCode)
		counts = append(counts, count)
	})

	tr.Join("ABC123", "conn-1")
	tr.Join("ABC123", "conn-2")
	tr.Join("ABC123", "conn-2") // idempotent, no change event
	tr.Leave("ABC123", "conn-1")
	tr.Leave("ABC123", "ghost") // anomaly, no change event

	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestChangeHandlerMayReadTrackerState(t *testing.T) {
	tr := newTestTracker(time.Minute)
	tr.SetChangeHandler(func(roomCode string, count int) {
		// Handlers run outside the tracker lock, so reading the count back
		// must not wedge and must agree with the event.
		assert.Equal(t, count, tr.Count(roomCode))
	})

	tr.Join("ABC123", "conn-1")
	tr.Join("ABC123", "conn-2")
	tr.Leave("ABC123", "conn-1")
	tr.Leave("ABC123", "conn-2")
}

func TestSlowHandlerDoesNotStallOtherOperations(t *testing.T) {
	tr := newTestTracker(time.Minute)
	entered := make(chan struct{})
	release := make(chan struct{})
	tr.SetChangeHandler(func(roomCode string, count int) {
		if roomCode == "AAAAAA" {
			entered <- struct{}{}
			<-release
		}
	})
	defer close(release)

	go tr.Join("AAAAAA", "conn-1")
	<-entered

	// With the handler stuck mid-dispatch, heartbeats, reads and other
	// rooms keep moving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Touch("AAAAAA", "conn-1")
		assert.Equal(t, 1, tr.Count("AAAAAA"))
		tr.Join("BBBBBB", "conn-2")
		tr.Leave("BBBBBB", "conn-2")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker operations stalled behind a slow handler")
	}
}

func TestSweepEvictsStaleSessions(t *testing.T) {
	tr := newTestTracker(50 * time.Millisecond)
	var evicted []string
	tr.SetEvictHandler(func(roomCode, connectionID string) {
		evicted = append(evicted, roomCode+"/"+connectionID)
	})

	tr.Join("ABC123", "stale")
	tr.Join("ABC123", "fresh")

	// Only "fresh" heartbeats past the TTL.
	future := time.Now().Add(100 * time.Millisecond)
	tr.Touch("ABC123", "fresh")
	tr.mu.Lock()
	tr.rooms["ABC123"]["fresh"] = future
	tr.mu.Unlock()

	n := tr.Sweep(future)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ABC123/stale"}, evicted)
	assert.Equal(t, 1, tr.Count("ABC123"))
}

func TestTouchUnknownConnectionDoesNotCreateSession(t *testing.T) {
	tr := newTestTracker(time.Minute)
	tr.Touch("ABC123", "ghost")
	assert.Equal(t, 0, tr.Count("ABC123"))
}
