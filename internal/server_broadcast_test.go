package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskchat/internal/logging"
)

type fakeRelay struct {
	mu         sync.Mutex
	published  []string
	publishErr error
	remote     chan [2]string
}

func (f *fakeRelay) Publish(_ context.Context, roomKey string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, roomKey+"|"+string(payload))
	return f.publishErr
}

func (f *fakeRelay) Subscribe(ctx context.Context, deliver func(string, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.remote:
			deliver(msg[0], []byte(msg[1]))
		}
	}
}

func (f *fakeRelay) Close() error { return nil }

func newTestBroadcaster(relay Relay) (*Broadcaster, *Hub, *Metrics) {
	hub := NewHub()
	metrics := NewMetrics()
	return NewBroadcaster(hub, metrics, relay, logging.Nop()), hub, metrics
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	b, _, metrics := newTestBroadcaster(nil)
	assert.Equal(t, 0, b.Broadcast(context.Background(), "chat_empty", []byte(`{}`)))
	assert.EqualValues(t, 0, metrics.broadcasts.Load())
}

func TestBroadcastSkipsClosedMember(t *testing.T) {
	b, hub, metrics := newTestBroadcaster(nil)
	live := bareClient("live", "chat_lobby")
	gone := bareClient("gone", "chat_lobby")
	hub.Join("chat_lobby", live)
	hub.Join("chat_lobby", gone)
	require.True(t, gone.close())

	delivered := b.Broadcast(context.Background(), "chat_lobby", []byte("frame"))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []byte("frame"), nextFrame(t, live))
	assert.EqualValues(t, 1, metrics.pushFailures.Load())
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	b, hub, metrics := newTestBroadcaster(nil)
	slow := newClient("slow", "chat_lobby", nil, WebSocketOptions{SendBuffer: 2}, logging.Nop())
	hub.Join("chat_lobby", slow)

	for _, frame := range []string{"one", "two", "three"} {
		b.Broadcast(context.Background(), "chat_lobby", []byte(frame))
	}

	assert.Equal(t, []byte("two"), nextFrame(t, slow))
	assert.Equal(t, []byte("three"), nextFrame(t, slow))
	requireNoFrame(t, slow)
	assert.EqualValues(t, 1, metrics.framesDropped.Load())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := bareClient("a", "chat_lobby")
	assert.Equal(t, StateConnecting, client.State())
	client.markOpen()
	assert.Equal(t, StateOpen, client.State())

	assert.True(t, client.close())
	assert.False(t, client.close())
	assert.Equal(t, StateClosed, client.State())
	client.markOpen()
	assert.Equal(t, StateClosed, client.State(), "closed is terminal")

	_, err := client.enqueue([]byte("late"))
	assert.ErrorIs(t, err, errClientClosed)
}

func TestConcurrentBroadcastAndClose(t *testing.T) {
	b, hub, _ := newTestBroadcaster(nil)
	clients := make([]*Client, 10)
	for i := range clients {
		clients[i] = bareClient(string(rune('a'+i)), "chat_lobby")
		hub.Join("chat_lobby", clients[i])
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Broadcast(context.Background(), "chat_lobby", []byte("x"))
		}()
	}
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.Leave("chat_lobby", c)
			c.close()
		}(client)
	}
	wg.Wait()
	assert.False(t, hub.Exists("chat_lobby"))
}

func TestBroadcastPublishesToRelay(t *testing.T) {
	relay := &fakeRelay{publishErr: errors.New("redis down")}
	b, hub, metrics := newTestBroadcaster(relay)
	local := bareClient("a", "chat_lobby")
	hub.Join("chat_lobby", local)

	assert.Equal(t, 1, b.Broadcast(context.Background(), "chat_lobby", []byte("hi")))
	assert.Equal(t, []byte("hi"), nextFrame(t, local), "relay failures do not block local delivery")
	assert.Equal(t, []string{"chat_lobby|hi"}, relay.published)
	assert.EqualValues(t, 1, metrics.relayFailures.Load())
}

func TestRunRelayDeliversRemotePayloads(t *testing.T) {
	relay := &fakeRelay{remote: make(chan [2]string, 1)}
	b, hub, _ := newTestBroadcaster(relay)
	local := bareClient("a", "chat_lobby")
	hub.Join("chat_lobby", local)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunRelay(ctx) }()

	relay.remote <- [2]string{"chat_lobby", "from-elsewhere"}
	assert.Equal(t, []byte("from-elsewhere"), nextFrame(t, local))
	relay.mu.Lock()
	assert.Empty(t, relay.published, "remote payloads are not re-published")
	relay.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay loop did not stop")
	}
}

func TestRunRelayWithoutRelayReturns(t *testing.T) {
	b, _, _ := newTestBroadcaster(nil)
	assert.NoError(t, b.RunRelay(context.Background()))
}

func TestRelayEnvelope(t *testing.T) {
	data, err := encodeRelayEnvelope("node-a", "chat_lobby", []byte(`{"type":"message"}`))
	require.NoError(t, err)

	room, payload, ok := decodeRelayEnvelope("node-b", data)
	require.True(t, ok)
	assert.Equal(t, "chat_lobby", room)
	assert.JSONEq(t, `{"type":"message"}`, string(payload))

	_, _, ok = decodeRelayEnvelope("node-a", data)
	assert.False(t, ok, "own frames are skipped")

	_, _, ok = decodeRelayEnvelope("node-b", []byte("not json"))
	assert.False(t, ok)
}
