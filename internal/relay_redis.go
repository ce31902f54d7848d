package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRelayChannel = "taskchat:rooms"

type RedisRelayOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisRelay shares room payloads over a single redis pub/sub channel. Each
// process tags what it publishes so it can skip its own echoes.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

func NewRedisRelay(ctx context.Context, opts RedisRelayOptions, logger zerolog.Logger) (*RedisRelay, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis relay: address is required")
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultRelayChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis relay: ping %s: %w", opts.Addr, err)
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, roomKey string, payload []byte) error {
	data, err := encodeRelayEnvelope(r.origin, roomKey, payload)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(roomKey string, payload []byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis relay: subscribe %s: %w", r.channel, err)
	}
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			room, payload, ok := decodeRelayEnvelope(r.origin, []byte(msg.Payload))
			if !ok {
				r.logger.Debug().Str("channel", msg.Channel).Msg("relay frame ignored")
				continue
			}
			deliver(room, payload)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func encodeRelayEnvelope(origin, roomKey string, payload []byte) ([]byte, error) {
	return json.Marshal(relayEnvelope{Origin: origin, Room: roomKey, Payload: payload})
}

// decodeRelayEnvelope rejects malformed frames and frames this process sent.
func decodeRelayEnvelope(origin string, data []byte) (string, []byte, bool) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, false
	}
	if env.Origin == origin || env.Room == "" || len(env.Payload) == 0 {
		return "", nil, false
	}
	return env.Room, []byte(env.Payload), true
}
