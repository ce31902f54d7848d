package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"taskchat/internal/storage"
)

type (
	authFailedMsg    struct{ err error }
	usersLoadedMsg   struct{ users []userDTO }
	historyMsg       struct{ lines []chatLine }
	connectedMsg     struct{ conn *websocket.Conn }
	incomingMsg      chatLine
	noticeMsg        string
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	loggedOutMsg     struct{}
)

type authDoneMsg struct {
	session sessionFile
}

// disconnectedMsg carries the conn it came from so a stale reader from an
// earlier connection can be ignored.
type disconnectedMsg struct {
	conn *websocket.Conn
	err  error
}

// badFrameMsg reports a frame that could not be decoded. The reader is
// re-armed for the conn it came from.
type badFrameMsg struct {
	conn *websocket.Conn
	err  error
}

type existsMsg struct {
	room   string
	exists bool
	err    error
}

// scheduleReconnect backs off linearly, capped at ten seconds.
func (model *TUIModel) scheduleReconnect() tea.Cmd {
	delay := time.Duration(model.reconnects+1) * time.Second
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) resumeSessionCmd(session sessionFile) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		user, err := apiCurrentUser(base, session.Token)
		if err != nil {
			return authFailedMsg{err: err}
		}
		session.UserID = user.ID
		session.Username = user.Username
		return authDoneMsg{session: session}
	}
}

func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		if intent == authIntentSignup {
			if err := apiSignup(base, username, password); err != nil {
				return authFailedMsg{err: err}
			}
		}
		resp, err := apiLogin(base, username, password)
		if err != nil {
			return authFailedMsg{err: err}
		}
		return authDoneMsg{session: sessionFile{
			UserID:   resp.User.ID,
			Username: resp.User.Username,
			Token:    resp.Token,
			Expires:  resp.ExpiresAt,
		}}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	base, token, path := model.httpBase, model.token(), model.sessionPath
	return func() tea.Msg {
		_ = apiLogout(base, token)
		_ = deleteSessionFile(path)
		return loggedOutMsg{}
	}
}

func (model *TUIModel) loadUsersCmd() tea.Cmd {
	base, token := model.httpBase, model.token()
	return func() tea.Msg {
		users, err := apiListUsers(base, token)
		if err != nil {
			return noticeMsg("Could not load users: " + err.Error())
		}
		return usersLoadedMsg{users: users}
	}
}

func (model *TUIModel) loadHistoryCmd() tea.Cmd {
	base, token, self := model.httpBase, model.token(), model.selfID()
	return func() tea.Msg {
		views, err := apiGroupHistory(base, token, historyLimit)
		if err != nil {
			return noticeMsg("Could not load history: " + err.Error())
		}
		lines := make([]chatLine, 0, len(views))
		for _, view := range views {
			lines = append(lines, chatLineFromView(view, self))
		}
		return historyMsg{lines: lines}
	}
}

// HTTP GET against /exists so the lobby can say whether anyone is in the room
func (model *TUIModel) existsCmd(room string) tea.Cmd {
	joinURL := model.serverJoinURL
	return func() tea.Msg {
		urlStr, err := buildExistsURL(joinURL, room)
		if err != nil {
			return existsMsg{room: room, err: err}
		}
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(urlStr)
		if err != nil {
			return existsMsg{room: room, err: err}
		}
		_ = resp.Body.Close()
		return existsMsg{room: room, exists: resp.StatusCode == http.StatusOK}
	}
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	joinURL, room, token := model.serverJoinURL, model.roomName, model.token()
	return func() tea.Msg {
		target, err := buildJoinURL(joinURL, room, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, resp, err := websocket.DefaultDialer.Dial(target, http.Header{})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return authFailedMsg{err: errUnauthorized}
			}
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func readOnceCmd(conn *websocket.Conn, self int64) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{conn: conn, err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			line, err := decodeServerFrame(payload, self)
			if err != nil {
				return badFrameMsg{conn: conn, err: err}
			}
			return incomingMsg(line)
		}
	}
}

func (model *TUIModel) sendCmd(msg InboundMessage) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return noticeMsg("Not connected")
		}
		encoded, err := json.Marshal(msg)
		if err != nil {
			return noticeMsg(err.Error())
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return disconnectedMsg{conn: conn, err: err}
		}
		return nil
	}
}

func (model *TUIModel) token() string {
	if model.session == nil {
		return ""
	}
	return model.session.Token
}

func (model *TUIModel) selfID() int64 {
	if model.session == nil {
		return 0
	}
	return model.session.UserID
}

// entry for bubbletea
func RunClient(serverJoinURL, roomName, username string) error {
	program := tea.NewProgram(NewTUIModel(serverJoinURL, roomName, username), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// buildJoinURL turns ws://host/ws/chat/ into ws://host/ws/chat/<room>/?token=...
func buildJoinURL(base, room, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return "", errors.New("room is required")
	}
	if strings.Contains(room, "/") {
		return "", fmt.Errorf("room %q must not contain '/'", room)
	}
	path := NormalizeWSPath(parsed.Path)
	parsed.Path = strings.TrimSuffix(path, "/") + "/" + room + "/"
	parsed.RawPath = ""
	query := parsed.Query()
	query.Del("room")
	if token != "" {
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// quick exists check for a room with http://localhost:8080/exists?room=ROOM
func buildExistsURL(wsBase string, room string) (string, error) {
	parsed, err := url.Parse(wsBase)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	parsed.Path = "/exists"
	q := url.Values{}
	q.Set("room", room)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

type inputAction int

const (
	inputSend inputAction = iota
	inputQuit
	inputLeave
	inputUsers
	inputHelp
)

const chatHelp = "/pm <user id> <text> private message • /users list people • /leave back to lobby • /quit exit"

// parseChatInput maps a line typed in the chat box to an action and, for
// sends, the frame to write.
func parseChatInput(text string) (inputAction, *InboundMessage, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		if trimmed == "" {
			return inputSend, nil, errors.New("nothing to send")
		}
		return inputSend, &InboundMessage{Message: &trimmed, ChatType: storage.ChatTypeGroup}, nil
	}
	fields := strings.Fields(trimmed)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		return inputQuit, nil, nil
	case "/leave":
		return inputLeave, nil, nil
	case "/users":
		return inputUsers, nil, nil
	case "/help":
		return inputHelp, nil, nil
	case "/pm":
		if len(fields) < 3 {
			return inputSend, nil, errors.New("usage: /pm <user id> <text>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return inputSend, nil, fmt.Errorf("invalid user id %q", fields[1])
		}
		rest := strings.TrimSpace(trimmed[len(fields[0]):])
		body := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		return inputSend, &InboundMessage{Message: &body, RecipientID: &id, ChatType: storage.ChatTypePrivate}, nil
	default:
		return inputSend, nil, fmt.Errorf("unknown command %s", fields[0])
	}
}

// decodeServerFrame understands both outbound messages and error payloads.
func decodeServerFrame(payload []byte, self int64) (chatLine, error) {
	var probe struct {
		Type    string       `json:"type"`
		Message *MessageView `json:"message"`
		Error   string       `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return chatLine{}, err
	}
	if probe.Error != "" {
		return chatLine{at: time.Now(), system: true, body: "Server: " + probe.Error}, nil
	}
	if probe.Type != outboundTypeMessage || probe.Message == nil {
		return chatLine{}, fmt.Errorf("unexpected frame type %q", probe.Type)
	}
	return chatLineFromView(*probe.Message, self), nil
}

func chatLineFromView(view MessageView, self int64) chatLine {
	line := chatLine{
		at:       view.Timestamp.Local(),
		senderID: view.Sender,
		sender:   view.SenderName,
		private:  view.ChatType == storage.ChatTypePrivate,
		body:     view.Content,
	}
	if view.Sender == self && self != 0 {
		line.sender = "you"
	}
	if view.RecipientName != nil {
		line.recipient = *view.RecipientName
	}
	return line
}
