// ABOUTME: Tests for the connection Hub fan-out
// ABOUTME: Covers register/unregister, rooms, broadcast targeting, failed senders

package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender collects delivered events, optionally failing every send.
type recordingSender struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *recordingSender) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New("connection closed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSender) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

func TestHub_Broadcast(t *testing.T) {
	h := New(nil)

	s1 := &recordingSender{}
	s2 := &recordingSender{}
	h.Register("conn-1", s1)
	h.Register("conn-2", s2)

	h.Broadcast(Event{Name: "onlineUsers", Payload: []string{"alice"}})

	require.Len(t, s1.received(), 1)
	require.Len(t, s2.received(), 1)
	assert.Equal(t, "onlineUsers", s1.received()[0].Name)
}

func TestHub_EmitToRoom(t *testing.T) {
	h := New(nil)

	member := &recordingSender{}
	outsider := &recordingSender{}
	h.Register("conn-member", member)
	h.Register("conn-outsider", outsider)
	h.Subscribe("conn-member", "room-1")

	h.EmitToRoom("room-1", Event{Name: "message", Payload: "hi"})

	require.Len(t, member.received(), 1)
	assert.Empty(t, outsider.received(), "unsubscribed connection must receive nothing")
}

func TestHub_EmitToRoom_EmptyRoom(t *testing.T) {
	h := New(nil)

	s := &recordingSender{}
	h.Register("conn-1", s)

	// No members, no panic, no delivery
	h.EmitToRoom("no-such-room", Event{Name: "message"})
	assert.Empty(t, s.received())
}

func TestHub_EmitExcluding(t *testing.T) {
	h := New(nil)

	sender := &recordingSender{}
	other := &recordingSender{}
	h.Register("conn-sender", sender)
	h.Register("conn-other", other)

	h.EmitExcluding("conn-sender", Event{Name: "typing", Payload: "alice"})

	assert.Empty(t, sender.received(), "originating connection must be excluded")
	require.Len(t, other.received(), 1)
	assert.Equal(t, "typing", other.received()[0].Name)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New(nil)

	s := &recordingSender{}
	h.Register("conn-1", s)
	h.Subscribe("conn-1", "room-1")
	h.Unsubscribe("conn-1", "room-1")

	h.EmitToRoom("room-1", Event{Name: "message"})
	assert.Empty(t, s.received())
}

func TestHub_UnregisterRemovesRoomMemberships(t *testing.T) {
	h := New(nil)

	s := &recordingSender{}
	h.Register("conn-1", s)
	h.Subscribe("conn-1", "room-1")
	h.Subscribe("conn-1", "room-2")

	require.True(t, h.Unregister("conn-1"))
	assert.Equal(t, 0, h.Connections())

	h.EmitToRoom("room-1", Event{Name: "message"})
	h.EmitToRoom("room-2", Event{Name: "message"})
	assert.Empty(t, s.received())
}

func TestHub_UnregisterExactlyOnce(t *testing.T) {
	h := New(nil)

	h.Register("conn-1", &recordingSender{})

	assert.True(t, h.Unregister("conn-1"), "first unregister reports presence")
	assert.False(t, h.Unregister("conn-1"), "second unregister is a no-op")
	assert.False(t, h.Unregister("never-registered"))
}

func TestHub_SubscribeUnknownConnectionIgnored(t *testing.T) {
	h := New(nil)

	h.Subscribe("ghost", "room-1")

	s := &recordingSender{}
	h.Register("conn-1", s)
	h.Subscribe("conn-1", "room-1")
	h.EmitToRoom("room-1", Event{Name: "message"})

	assert.Len(t, s.received(), 1)
}

func TestHub_FailedSendDoesNotFailBatch(t *testing.T) {
	h := New(nil)

	dead := &recordingSender{fail: true}
	alive := &recordingSender{}
	h.Register("conn-dead", dead)
	h.Register("conn-alive", alive)

	h.Broadcast(Event{Name: "onlineUsers"})

	assert.Len(t, alive.received(), 1, "healthy connection still receives")
}

func TestHub_ConcurrentBroadcastAndUnregister(t *testing.T) {
	h := New(nil)

	const conns = 32
	senders := make([]*recordingSender, conns)
	for i := 0; i < conns; i++ {
		senders[i] = &recordingSender{}
		h.Register(connID(i), senders[i])
		h.Subscribe(connID(i), "room-1")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.EmitToRoom("room-1", Event{Name: "message"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < conns; i += 2 {
			h.Unregister(connID(i))
		}
	}()
	wg.Wait()

	// Connections that stayed registered got every event that was emitted
	// after their registration; the point here is no deadlock and no panic.
	assert.Equal(t, conns/2, h.Connections())
}

func connID(i int) string {
	return "conn-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
