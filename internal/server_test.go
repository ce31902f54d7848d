package internal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

// faultyStore wraps the real store and fails selected calls.
type faultyStore struct {
	*storage.Store
	createErr error
	lookupErr error
}

func (f *faultyStore) CreateMessage(ctx context.Context, msg storage.NewMessage) (storage.ChatMessage, error) {
	if f.createErr != nil {
		return storage.ChatMessage{}, f.createErr
	}
	return f.Store.CreateMessage(ctx, msg)
}

func (f *faultyStore) GetUserByID(ctx context.Context, id int64) (*storage.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.Store.GetUserByID(ctx, id)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.NewStore("sqlite://file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testOptions() Options {
	opts := DefaultOptions()
	logger := logging.Nop()
	opts.Logger = &logger
	return opts
}

func newTestServer(t *testing.T, store Store, mutate ...func(*Options)) *Server {
	t.Helper()
	opts := testOptions()
	for _, fn := range mutate {
		fn(&opts)
	}
	return NewServer(store, opts)
}

func createUser(t *testing.T, store *storage.Store, username, first, last, role string) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := store.CreateUser(context.Background(), storage.NewUser{
		Username:     username,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         role,
	})
	require.NoError(t, err)
	return id
}

// attach registers an in-memory client (no socket) with the server.
func attach(t *testing.T, s *Server, id, room string) *Client {
	t.Helper()
	client := newClient(id, s.RoomKey(room), nil, s.opts.WebSocket, logging.Nop())
	s.connect(client)
	return client
}

func nextFrame(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case frame, ok := <-client.send:
		require.True(t, ok, "send queue closed")
		return frame
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", client.id)
		return nil
	}
}

func requireNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case frame := <-client.send:
		t.Fatalf("client %s got unexpected frame %s", client.id, frame)
	default:
	}
}

func decodeOutbound(t *testing.T, frame []byte) OutboundMessage {
	t.Helper()
	var out OutboundMessage
	require.NoError(t, json.Unmarshal(frame, &out))
	require.Equal(t, outboundTypeMessage, out.Type)
	return out
}

func decodeErrorFrame(t *testing.T, frame []byte) string {
	t.Helper()
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame, &payload))
	require.NotEmpty(t, payload.Error)
	return payload.Error
}

func countMessages(t *testing.T, store *storage.Store) int {
	t.Helper()
	records, err := store.QueryMessages(context.Background(), storage.MessageFilter{})
	require.NoError(t, err)
	return len(records)
}
