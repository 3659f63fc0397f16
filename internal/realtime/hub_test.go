package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roompulse/backend/internal/presence"
	"github.com/roompulse/backend/internal/rooms"
)

func newTestHub() *Hub {
	return NewHub(zap.NewNop(), nil, nil, "test-instance")
}

func newTestClient(id, roomCode string, buf int) *Client {
	return &Client{
		ID:       id,
		RoomCode: roomCode,
		Role:     rooms.RoleAttendee,
		send:     make(chan WSMessage, buf),
		done:     make(chan struct{}),
	}
}

func emptySnapshot() (interface{}, error) {
	return Snapshot{RoomCode: "ABC123"}, nil
}

// recv pops the next queued message without blocking; the hub enqueues
// synchronously so everything a test expects is already buffered.
func recv(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("no message queued")
		return WSMessage{}
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("c1", "ABC123", 16)

	require.NoError(t, hub.Subscribe(client, emptySnapshot))
	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]int{"id": 1})

	first := recv(t, client)
	assert.Equal(t, EventSnapshot, first.Event)
	second := recv(t, client)
	assert.Equal(t, EventFeedbackAdded, second.Event)
}

func TestBroadcastOrderIsSharedByAllSubscribers(t *testing.T) {
	hub := newTestHub()
	a := newTestClient("a", "ABC123", 16)
	b := newTestClient("b", "ABC123", 16)
	require.NoError(t, hub.Subscribe(a, emptySnapshot))
	require.NoError(t, hub.Subscribe(b, emptySnapshot))

	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]string{"comment": "A"})
	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]string{"comment": "B"})
	hub.Broadcast("ABC123", EventPresenceChanged, map[string]int{"count": 2})

	for _, c := range []*Client{a, b} {
		assert.Equal(t, EventSnapshot, recv(t, c).Event)
		msg := recv(t, c)
		assert.Equal(t, EventFeedbackAdded, msg.Event)
		assert.JSONEq(t, `{"comment":"A"}`, string(msg.Data))
		msg = recv(t, c)
		assert.JSONEq(t, `{"comment":"B"}`, string(msg.Data))
		assert.Equal(t, EventPresenceChanged, recv(t, c).Event)
	}
}

func TestNoReplayBeforeSubscription(t *testing.T) {
	hub := newTestHub()
	early := newTestClient("early", "ABC123", 16)
	require.NoError(t, hub.Subscribe(early, emptySnapshot))

	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]string{"comment": "old"})

	late := newTestClient("late", "ABC123", 16)
	require.NoError(t, hub.Subscribe(late, emptySnapshot))
	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]string{"comment": "new"})

	assert.Equal(t, EventSnapshot, recv(t, late).Event)
	msg := recv(t, late)
	assert.JSONEq(t, `{"comment":"new"}`, string(msg.Data), "history before subscribe is not replayed")
	select {
	case extra := <-late.send:
		t.Fatalf("unexpected extra message: %+v", extra)
	default:
	}
}

func TestNoCrossRoomDelivery(t *testing.T) {
	hub := newTestHub()
	a := newTestClient("a", "ABC123", 16)
	require.NoError(t, hub.Subscribe(a, emptySnapshot))

	hub.Broadcast("XYZ789", EventFeedbackAdded, map[string]int{"id": 1})

	assert.Equal(t, EventSnapshot, recv(t, a).Event)
	select {
	case msg := <-a.send:
		t.Fatalf("event from another room delivered: %+v", msg)
	default:
	}
}

func TestSnapshotThenSubscribeHasNoGap(t *testing.T) {
	hub := newTestHub()

	// One goroutine broadcasts a strictly increasing sequence while others
	// subscribe mid-stream. Every subscriber must observe a contiguous
	// suffix: snapshot first, then consecutive sequence numbers.
	const total = 200
	var wg sync.WaitGroup
	clients := make([]*Client, 10)
	for i := range clients {
		c := newTestClient(string(rune('a'+i)), "ABC123", total+1)
		clients[i] = c
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Subscribe(c, emptySnapshot))
		}()
	}
	for seq := 0; seq < total; seq++ {
		hub.Broadcast("ABC123", EventFeedbackAdded, map[string]int{"seq": seq})
	}
	wg.Wait()

	for _, c := range clients {
		require.Equal(t, EventSnapshot, recv(t, c).Event, "snapshot always arrives first")
		prev := -1
		for {
			var msg WSMessage
			select {
			case msg = <-c.send:
			default:
				msg = WSMessage{}
			}
			if msg.Event == "" {
				break
			}
			var payload struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &payload))
			if prev >= 0 {
				assert.Equal(t, prev+1, payload.Seq, "no gaps once subscribed")
			}
			prev = payload.Seq
		}
	}
}

func TestSlowSubscriberIsDisconnectedNotSkipped(t *testing.T) {
	hub := newTestHub()
	slow := newTestClient("slow", "ABC123", 1)
	require.NoError(t, hub.Subscribe(slow, emptySnapshot))
	// Buffer now holds the snapshot; the next broadcast cannot be queued.
	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]int{"id": 1})

	select {
	case <-slow.done:
	default:
		t.Fatal("slow subscriber was not closed")
	}
	assert.Equal(t, 0, hub.SubscriberCount("ABC123"))
}

func TestUnsubscribeCleansUpRoom(t *testing.T) {
	hub := newTestHub()
	a := newTestClient("a", "ABC123", 16)
	b := newTestClient("b", "ABC123", 16)
	require.NoError(t, hub.Subscribe(a, emptySnapshot))
	require.NoError(t, hub.Subscribe(b, emptySnapshot))
	assert.Equal(t, 2, hub.SubscriberCount("ABC123"))

	hub.Unsubscribe(a)
	assert.Equal(t, 1, hub.SubscriberCount("ABC123"))
	hub.Unsubscribe(b)
	assert.Equal(t, 0, hub.SubscriberCount("ABC123"))

	// Broadcasting into an empty room is harmless.
	hub.Broadcast("ABC123", EventPresenceChanged, map[string]int{"count": 0})
}

func TestSubscribeSnapshotErrorDoesNotRegister(t *testing.T) {
	hub := newTestHub()
	c := newTestClient("c", "ABC123", 16)
	err := hub.Subscribe(c, func() (interface{}, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 0, hub.SubscriberCount("ABC123"))
}

// Wires a tracker to the hub the way the server does: count changes
// broadcast presence_changed, snapshots read the count back. Joins and
// leaves racing subscribes must all run to completion.
func TestPresenceEventsConcurrentWithSubscribe(t *testing.T) {
	hub := newTestHub()
	tr := presence.NewTracker(time.Minute, zap.NewNop())
	tr.SetChangeHandler(func(roomCode string, count int) {
		hub.Broadcast(roomCode, EventPresenceChanged, map[string]int{"count": count})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				tr.Join("ABC123", "conn-1")
				tr.Leave("ABC123", "conn-1")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c := newTestClient("sub", "ABC123", 2048)
				err := hub.Subscribe(c, func() (interface{}, error) {
					return Snapshot{RoomCode: "ABC123", ActiveUsers: tr.Count("ABC123")}, nil
				})
				assert.NoError(t, err)
				hub.Unsubscribe(c)
			}
		}()
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("joins and subscribes never completed")
	}
}

func TestSubscribeRacingCommitDeliversExactlyOnce(t *testing.T) {
	hub := newTestHub()
	var entries []int // mutated and snapshotted under the room lock

	const total = 300
	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		c := newTestClient(fmt.Sprintf("c%d", i), "ABC123", total+2)
		clients[i] = c
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Subscribe(c, func() (interface{}, error) {
				return map[string]interface{}{"entries": append([]int(nil), entries...)}, nil
			}))
		}()
	}
	for seq := 0; seq < total; seq++ {
		seq := seq
		err := hub.Commit("ABC123", EventFeedbackAdded, func() (interface{}, error) {
			entries = append(entries, seq)
			return map[string]int{"seq": seq}, nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	// Every entry is either in the snapshot or arrives as an event,
	// never both, never neither.
	for _, c := range clients {
		snap := recv(t, c)
		require.Equal(t, EventSnapshot, snap.Event)
		var snapPayload struct {
			Entries []int `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(snap.Data, &snapPayload))
		seen := make(map[int]int)
		for _, seq := range snapPayload.Entries {
			seen[seq]++
		}
		for {
			var msg WSMessage
			select {
			case msg = <-c.send:
			default:
			}
			if msg.Event == "" {
				break
			}
			require.Equal(t, EventFeedbackAdded, msg.Event)
			var ev struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			seen[ev.Seq]++
		}
		for seq := 0; seq < total; seq++ {
			assert.Equal(t, 1, seen[seq], "entry %d delivered exactly once", seq)
		}
	}
}

func TestCommitFailureDeliversNothing(t *testing.T) {
	hub := newTestHub()
	c := newTestClient("c", "ABC123", 16)
	require.NoError(t, hub.Subscribe(c, emptySnapshot))
	assert.Equal(t, EventSnapshot, recv(t, c).Event)

	err := hub.Commit("ABC123", EventFeedbackAdded, func() (interface{}, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)
	select {
	case msg := <-c.send:
		t.Fatalf("event delivered for a failed commit: %+v", msg)
	default:
	}
}

func TestCommitWithoutSubscribersLeavesNoState(t *testing.T) {
	hub := newTestHub()
	for i := 0; i < 5; i++ {
		seq := i
		require.NoError(t, hub.Commit("ABC123", EventFeedbackAdded, func() (interface{}, error) {
			return map[string]int{"seq": seq}, nil
		}))
	}

	hub.mu.RLock()
	held := len(hub.rooms)
	hub.mu.RUnlock()
	assert.Equal(t, 0, held, "commits into quiet rooms retain no per-room state")
}

func TestDuplicateConnectionIDsDoNotCollide(t *testing.T) {
	hub := newTestHub()
	a := newTestClient("same-id", "ABC123", 16)
	b := newTestClient("same-id", "ABC123", 16)
	require.NoError(t, hub.Subscribe(a, emptySnapshot))
	require.NoError(t, hub.Subscribe(b, emptySnapshot))
	assert.Equal(t, 2, hub.SubscriberCount("ABC123"))

	hub.Broadcast("ABC123", EventFeedbackAdded, map[string]int{"id": 1})
	for _, c := range []*Client{a, b} {
		assert.Equal(t, EventSnapshot, recv(t, c).Event)
		assert.Equal(t, EventFeedbackAdded, recv(t, c).Event)
	}

	// Tearing down one socket leaves the other attached.
	hub.Unsubscribe(a)
	assert.Equal(t, 1, hub.SubscriberCount("ABC123"))
	hub.Broadcast("ABC123", EventPresenceChanged, map[string]int{"count": 1})
	assert.Equal(t, EventPresenceChanged, recv(t, b).Event)
}
