package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskchat/internal/storage"
)

func startTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Routes(DefaultWSPath))
	t.Cleanup(func() {
		s.Shutdown()
		srv.Close()
	})
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return payload
}

func requireSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", payload)
}

func waitForMembers(t *testing.T, s *Server, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.hub.Size(s.RoomKey(room)) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRoomFanOut(t *testing.T) {
	store := newTestStore(t)
	alice := createUser(t, store, "alice", "Alice", "Doe", "")
	s := newTestServer(t, store)
	srv := startTestServer(t, s)

	first := dialRoom(t, srv, "/ws/chat/lobby/")
	second := dialRoom(t, srv, "/ws/chat?room=lobby")
	outsider := dialRoom(t, srv, "/ws/chat/other/")
	waitForMembers(t, s, "lobby", 2)
	waitForMembers(t, s, "other", 1)

	msg := fmt.Sprintf(`{"message":"hello","sender_id":%d}`, alice)
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte(msg)))

	frameA := readFrame(t, first)
	frameB := readFrame(t, second)
	assert.Equal(t, frameA, frameB)
	requireSilent(t, outsider)

	out := decodeOutbound(t, frameA)
	assert.Equal(t, "Alice Doe", out.Message.SenderName)
	assert.Equal(t, "hello", out.Message.Content)
}

func TestWebSocketErrorGoesToSenderOnly(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, store)
	srv := startTestServer(t, s)

	sender := dialRoom(t, srv, "/ws/chat/lobby/")
	peer := dialRoom(t, srv, "/ws/chat/lobby/")
	waitForMembers(t, s, "lobby", 2)

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "invalid message format", decodeErrorFrame(t, readFrame(t, sender)))
	requireSilent(t, peer)

	// the sender's connection survives the error; a read timeout is final in
	// gorilla, so a fresh peer checks the fan-out
	alice := createUser(t, store, "alice", "", "", "")
	latecomer := dialRoom(t, srv, "/ws/chat/lobby/")
	waitForMembers(t, s, "lobby", 3)
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"message":"ok","sender_id":%d}`, alice))))
	assert.Equal(t, "ok", decodeOutbound(t, readFrame(t, sender)).Message.Content)
	assert.Equal(t, "ok", decodeOutbound(t, readFrame(t, latecomer)).Message.Content)
}

func TestWebSocketDisconnectLeavesRoom(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, store)
	srv := startTestServer(t, s)

	conn := dialRoom(t, srv, "/ws/chat/lobby/")
	waitForMembers(t, s, "lobby", 1)
	assert.EqualValues(t, 1, s.metrics.ActiveConns())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return !s.hub.Exists(s.RoomKey("lobby"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, s.metrics.ActiveConns())
}

func TestWebSocketMissingRoom(t *testing.T) {
	s := newTestServer(t, newTestStore(t))
	srv := startTestServer(t, s)

	resp, err := http.Get(srv.URL + "/ws/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketTokenBindsUser(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, store)
	srv := startTestServer(t, s)

	signup(t, srv, `{"username":"carol","password":"secret","first_name":"Carol","role":"observer"}`)
	token, user := login(t, srv, "carol", "secret")

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat/lobby/?token=bogus", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn := dialRoom(t, srv, "/ws/chat/lobby/?token="+token)
	waitForMembers(t, s, "lobby", 1)
	assert.True(t, s.presence.Online(user.ID))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"hi"}`)))
	out := decodeOutbound(t, readFrame(t, conn))
	assert.Equal(t, user.ID, out.Message.Sender)
	assert.Equal(t, storage.RoleObserver, out.Message.SenderRole)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !s.presence.Online(user.ID) }, 2*time.Second, 10*time.Millisecond)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t, newTestStore(t))
	srv := startTestServer(t, s)

	conn := dialRoom(t, srv, "/ws/chat/lobby/")
	waitForMembers(t, s, "lobby", 1)

	s.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func signup(t *testing.T, srv *httptest.Server, body string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/signup", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func login(t *testing.T, srv *httptest.Server, username, password string) (string, userDTO) {
	t.Helper()
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token, out.User
}
