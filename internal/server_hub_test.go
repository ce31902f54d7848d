package internal

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskchat/internal/logging"
)

func bareClient(id, roomKey string) *Client {
	return newClient(id, roomKey, nil, WebSocketOptions{}, logging.Nop())
}

func TestHubJoinLeave(t *testing.T) {
	hub := NewHub()
	a := bareClient("a", "chat_lobby")
	b := bareClient("b", "chat_lobby")

	assert.False(t, hub.Exists("chat_lobby"))
	assert.Empty(t, hub.Members("chat_lobby"))

	hub.Join("chat_lobby", a)
	hub.Join("chat_lobby", a)
	hub.Join("chat_lobby", b)
	assert.True(t, hub.Exists("chat_lobby"))
	assert.Equal(t, 2, hub.Size("chat_lobby"), "joining twice is idempotent")
	assert.ElementsMatch(t, []*Client{a, b}, hub.Members("chat_lobby"))

	hub.Leave("chat_lobby", a)
	hub.Leave("chat_lobby", a)
	assert.Equal(t, []*Client{b}, hub.Members("chat_lobby"))

	hub.Leave("chat_lobby", b)
	assert.False(t, hub.Exists("chat_lobby"), "empty rooms are removed")
	assert.Equal(t, 0, hub.RoomCount())
}

func TestHubLeaveUnknownRoomIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Leave("chat_nowhere", bareClient("a", "chat_nowhere"))
	assert.Equal(t, 0, hub.RoomCount())
}

func TestHubRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	a := bareClient("a", "chat_one")
	b := bareClient("b", "chat_two")
	hub.Join("chat_one", a)
	hub.Join("chat_two", b)

	assert.Equal(t, []*Client{a}, hub.Members("chat_one"))
	assert.Equal(t, []*Client{b}, hub.Members("chat_two"))
	assert.Equal(t, 2, hub.RoomCount())
	assert.ElementsMatch(t, []*Client{a, b}, hub.all())
}

func TestHubMembersIsSnapshot(t *testing.T) {
	hub := NewHub()
	a := bareClient("a", "chat_lobby")
	hub.Join("chat_lobby", a)

	snapshot := hub.Members("chat_lobby")
	hub.Leave("chat_lobby", a)
	require.Len(t, snapshot, 1, "later membership changes do not touch an earlier snapshot")
}

func TestHubConcurrentMembership(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("chat_%d", i%5)
			client := bareClient(fmt.Sprint(i), key)
			hub.Join(key, client)
			_ = hub.Members(key)
			hub.Leave(key, client)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.RoomCount())
}
