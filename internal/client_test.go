package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskchat/internal/storage"
)

func TestBuildJoinURL(t *testing.T) {
	got, err := buildJoinURL("ws://localhost:8080/ws/chat/", "lobby", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/chat/lobby/?token=tok", got)

	got, err = buildJoinURL("wss://example.com/ws/chat?room=old", "dev", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/ws/chat/dev/", got)

	_, err = buildJoinURL("http://example.com/ws/chat/", "lobby", "")
	assert.Error(t, err)
	_, err = buildJoinURL("ws://example.com/ws/chat/", "  ", "")
	assert.Error(t, err)
	_, err = buildJoinURL("ws://example.com/ws/chat/", "a/b", "")
	assert.Error(t, err)
}

func TestBuildExistsURL(t *testing.T) {
	got, err := buildExistsURL("wss://example.com/ws/chat/", "lobby")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/exists?room=lobby", got)

	_, err = buildExistsURL("ftp://example.com", "lobby")
	assert.Error(t, err)
}

func TestHTTPBaseFromJoinURL(t *testing.T) {
	got, err := httpBaseFromJoinURL("ws://127.0.0.1:9000/ws/chat/?token=x")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", got)

	got, err = httpBaseFromJoinURL("wss://chat.example.com/ws/chat/")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", got)

	_, err = httpBaseFromJoinURL("tcp://nope")
	assert.Error(t, err)
}

func TestParseChatInput(t *testing.T) {
	action, msg, err := parseChatInput("  hello there ")
	require.NoError(t, err)
	assert.Equal(t, inputSend, action)
	require.NotNil(t, msg)
	assert.Equal(t, "hello there", *msg.Message)
	assert.Equal(t, storage.ChatTypeGroup, msg.ChatType)
	assert.Nil(t, msg.RecipientID)

	action, msg, err = parseChatInput("/pm 7 see you at  noon")
	require.NoError(t, err)
	assert.Equal(t, inputSend, action)
	require.NotNil(t, msg)
	assert.Equal(t, "see you at  noon", *msg.Message)
	assert.Equal(t, storage.ChatTypePrivate, msg.ChatType)
	require.NotNil(t, msg.RecipientID)
	assert.Equal(t, int64(7), *msg.RecipientID)

	for input, want := range map[string]inputAction{
		"/quit":  inputQuit,
		"/EXIT":  inputQuit,
		"/leave": inputLeave,
		"/users": inputUsers,
		"/help":  inputHelp,
	} {
		action, msg, err := parseChatInput(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, action, input)
		assert.Nil(t, msg, input)
	}

	for _, bad := range []string{"", "   ", "/pm", "/pm 7", "/pm abc hi", "/pm -1 hi", "/dance"} {
		_, _, err := parseChatInput(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodeServerFrame(t *testing.T) {
	recipientName := "Tom Green"
	recipient := int64(4)
	view := MessageView{
		ID:            1,
		Sender:        2,
		SenderName:    "Jane Smith",
		Recipient:     &recipient,
		RecipientName: &recipientName,
		Content:       "hi",
		ChatType:      storage.ChatTypePrivate,
		Timestamp:     time.Now(),
	}
	payload, err := json.Marshal(OutboundMessage{Type: outboundTypeMessage, Message: view})
	require.NoError(t, err)

	line, err := decodeServerFrame(payload, 4)
	require.NoError(t, err)
	assert.False(t, line.system)
	assert.Equal(t, "Jane Smith", line.sender)
	assert.Equal(t, "Tom Green", line.recipient)
	assert.True(t, line.private)
	assert.Equal(t, "hi", line.body)

	line, err = decodeServerFrame(payload, 2)
	require.NoError(t, err)
	assert.Equal(t, "you", line.sender)

	line, err = decodeServerFrame([]byte(`{"error":"sender 9 not found"}`), 2)
	require.NoError(t, err)
	assert.True(t, line.system)
	assert.Equal(t, "Server: sender 9 not found", line.body)

	_, err = decodeServerFrame([]byte(`{"type":"typing"}`), 2)
	assert.Error(t, err)
	_, err = decodeServerFrame([]byte(`not json`), 2)
	assert.Error(t, err)
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	session := sessionFile{UserID: 3, Username: "jane", Token: "abc", Expires: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, saveSessionToDisk(path, session))

	loaded, err := loadSessionFromDisk(path)
	require.NoError(t, err)
	assert.Equal(t, "jane", loaded.Username)
	assert.Equal(t, "abc", loaded.Token)
	assert.Equal(t, int64(3), loaded.UserID)

	expired := session
	expired.Expires = time.Now().Add(-time.Minute)
	require.NoError(t, saveSessionToDisk(path, expired))
	_, err = loadSessionFromDisk(path)
	assert.Error(t, err)

	require.NoError(t, deleteSessionFile(path))
	require.NoError(t, deleteSessionFile(path), "deleting twice is fine")
	_, err = loadSessionFromDisk(path)
	assert.Error(t, err)
}

func TestClientAPIAgainstServer(t *testing.T) {
	store := newTestStore(t)
	srv := startTestServer(t, newTestServer(t, store))

	require.NoError(t, apiSignup(srv.URL, "jane", "secret1"))
	assert.Error(t, apiSignup(srv.URL, "jane", "secret1"), "duplicate usernames are rejected")

	_, err := apiLogin(srv.URL, "jane", "wrong")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errUnauthorized), "a failed login is not an expired session")

	resp, err := apiLogin(srv.URL, "jane", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)

	me, err := apiCurrentUser(srv.URL, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "jane", me.Username)

	users, err := apiListUsers(srv.URL, resp.Token)
	require.NoError(t, err)
	require.Len(t, users, 1)

	for _, content := range []string{"first", "second"} {
		_, err := store.CreateMessage(t.Context(), storage.NewMessage{SenderID: me.ID, Content: content, ChatType: storage.ChatTypeGroup})
		require.NoError(t, err)
	}
	history, err := apiGroupHistory(srv.URL, resp.Token, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content, "history is oldest first")

	require.NoError(t, apiLogout(srv.URL, resp.Token))
	_, err = apiCurrentUser(srv.URL, resp.Token)
	assert.ErrorIs(t, err, errUnauthorized)
}

func TestTUIAuthFlow(t *testing.T) {
	t.Setenv("TASKCHAT_SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	model := NewTUIModel("ws://127.0.0.1:1/ws/chat/", "", "jane")
	assert.Equal(t, "http://127.0.0.1:1", model.httpBase)
	assert.Contains(t, model.View(), "Log in")

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	assert.Equal(t, modeAuthUsername, model.mode)
	assert.Equal(t, authIntentSignup, model.authIntent)
	assert.Equal(t, "jane", model.textInput.Value(), "username is prefilled")

	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeAuthPassword, model.mode)
	assert.Contains(t, model.View(), "password")

	model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeAuthMenu, model.mode)

	session := sessionFile{UserID: 1, Username: "jane", Token: "tok", Expires: time.Now().Add(time.Hour)}
	model.Update(authDoneMsg{session: session})
	assert.Equal(t, modeLobby, model.mode)
	assert.Equal(t, "tok", model.token())

	saved, err := loadSessionFromDisk(model.sessionPath)
	require.NoError(t, err)
	assert.Equal(t, "tok", saved.Token)

	model.Update(usersLoadedMsg{users: []userDTO{{ID: 1, Username: "jane", Role: storage.RoleEmployee, Online: true}}})
	assert.Contains(t, model.View(), "Users online: 1 of 1")

	model.Update(authFailedMsg{err: errUnauthorized})
	assert.Equal(t, modeAuthMenu, model.mode)
	assert.Nil(t, model.session)
	_, err = loadSessionFromDisk(model.sessionPath)
	assert.Error(t, err, "a rejected session is forgotten")
}

func TestTUIChatLines(t *testing.T) {
	t.Setenv("TASKCHAT_SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	model := NewTUIModel("ws://127.0.0.1:1/ws/chat/", "lobby", "jane")
	model.session = &sessionFile{UserID: 1, Username: "jane", Token: "tok"}
	model.mode = modeChat

	model.Update(incomingMsg(chatLine{at: time.Now(), senderID: 2, sender: "Bob Wilson", body: "morning"}))
	model.Update(historyMsg{lines: []chatLine{{at: time.Now(), senderID: 1, sender: "you", body: "earlier"}}})
	require.Len(t, model.lines, 2)
	assert.Equal(t, "earlier", model.lines[0].body)

	view := model.View()
	assert.Contains(t, view, "Room lobby")
	assert.Contains(t, view, "morning")

	model.textInput.SetValue("/help")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, strings.Contains(model.lines[len(model.lines)-1].body, "/pm"))

	model.textInput.SetValue("hello")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, model.lines[len(model.lines)-1].body, "Not connected")

	model.Update(connectFailedMsg{err: errors.New("gone")})
	assert.Equal(t, 1, model.reconnects)

	model.textInput.SetValue("/leave")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeLobby, model.mode)
	assert.Empty(t, model.roomName)
}

func TestTUIReaderSurvivesBadFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"sender 9 not found"}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	t.Setenv("TASKCHAT_SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	model := NewTUIModel("ws://127.0.0.1:1/ws/chat/", "lobby", "jane")
	model.mode = modeChat
	model.websocketConn = conn
	model.isConnected = true

	msg := readOnceCmd(conn, 1)()
	require.IsType(t, badFrameMsg{}, msg)
	_, next := model.Update(msg)
	require.NotNil(t, next, "the reader is re-armed after a bad frame")
	assert.Contains(t, model.lines[len(model.lines)-1].body, "Unreadable frame")

	msg = next()
	require.IsType(t, incomingMsg{}, msg)
	assert.Equal(t, "Server: sender 9 not found", msg.(incomingMsg).body)

	_, next = model.Update(badFrameMsg{conn: nil, err: errors.New("stale")})
	assert.Nil(t, next, "frames from an old connection do not start a second reader")

	_, next = model.Update(noticeMsg("Unreadable wording in a plain notice"))
	assert.Nil(t, next)
}
