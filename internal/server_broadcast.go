package internal

import (
	"context"

	"github.com/rs/zerolog"
)

// Relay forwards room payloads between server processes sharing a backplane.
type Relay interface {
	Publish(ctx context.Context, roomKey string, payload []byte) error
	// Subscribe blocks until ctx is done, calling deliver for every payload
	// published by another process.
	Subscribe(ctx context.Context, deliver func(roomKey string, payload []byte)) error
	Close() error
}

// Broadcaster fans a payload out to every member of a room.
type Broadcaster struct {
	hub     *Hub
	metrics *Metrics
	relay   Relay
	logger  zerolog.Logger
}

func NewBroadcaster(hub *Hub, metrics *Metrics, relay Relay, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, metrics: metrics, relay: relay, logger: logger}
}

// Broadcast pushes payload to the room's current members and, when a relay is
// configured, publishes it for other processes. It returns the number of
// local members the payload was queued for. An empty room is a no-op.
func (b *Broadcaster) Broadcast(ctx context.Context, roomKey string, payload []byte) int {
	delivered := b.deliverLocal(roomKey, payload)
	if b.relay != nil {
		if err := b.relay.Publish(ctx, roomKey, payload); err != nil {
			b.metrics.IncRelayFailure()
			b.logger.Warn().Err(err).Str("room", roomKey).Msg("relay publish failed")
		}
	}
	return delivered
}

func (b *Broadcaster) deliverLocal(roomKey string, payload []byte) int {
	members := b.hub.Members(roomKey)
	if len(members) == 0 {
		return 0
	}
	delivered := 0
	for _, client := range members {
		dropped, err := client.enqueue(payload)
		if err != nil {
			// the member is tearing down; the rest of the room still gets the frame
			b.metrics.IncPushFailure()
			b.logger.Debug().Str("client_id", client.id).Str("room", roomKey).Err(err).Msg("push skipped")
			continue
		}
		if dropped {
			b.metrics.IncDropped()
			b.logger.Warn().Str("client_id", client.id).Str("room", roomKey).Msg("send queue full, dropped oldest frame")
		}
		delivered++
	}
	b.metrics.ObserveBroadcast(delivered)
	return delivered
}

// RunRelay delivers remote payloads locally until ctx is done. It returns
// immediately when no relay is configured.
func (b *Broadcaster) RunRelay(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Subscribe(ctx, func(roomKey string, payload []byte) {
		b.deliverLocal(roomKey, payload)
	})
}
