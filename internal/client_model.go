package internal

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	lines           []chatLine
	notices         []string
	serverJoinURL   string
	httpBase        string
	roomName        string
	username        string
	session         *sessionFile
	sessionPath     string
	users           []userDTO
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	reconnects      int
	mode            appMode
	authIntent      authIntent
	loading         bool
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeLobby
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

// chatLine is one rendered row of the chat log.
type chatLine struct {
	at        time.Time
	system    bool
	senderID  int64
	sender    string
	recipient string
	private   bool
	body      string
}

const (
	historyLimit  = 50
	maxNotices    = 5
	maxChatLines  = 500
	maxReconnects = 8
)

func NewTUIModel(serverJoinURL, roomName, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = ""

	if username == "" {
		username = defaultUsername()
	}

	model := &TUIModel{
		textInput:     input,
		lines:         make([]chatLine, 0, 64),
		serverJoinURL: serverJoinURL,
		roomName:      roomName,
		username:      username,
		sessionPath:   defaultSessionPath(),
		mode:          modeAuthMenu,
	}
	if base, err := httpBaseFromJoinURL(serverJoinURL); err == nil {
		model.httpBase = base
	} else {
		model.addNotice("Invalid server URL: " + err.Error())
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("TASKCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

func (model *TUIModel) Init() tea.Cmd {
	if model.httpBase == "" || model.sessionPath == "" {
		return nil
	}
	session, err := loadSessionFromDisk(model.sessionPath)
	if err != nil {
		return nil
	}
	model.loading = true
	return model.resumeSessionCmd(*session)
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func (model *TUIModel) appendLine(line chatLine) {
	model.lines = append(model.lines, line)
	if len(model.lines) > maxChatLines {
		model.lines = model.lines[len(model.lines)-maxChatLines:]
	}
}

func (model *TUIModel) systemLine(text string) {
	model.appendLine(chatLine{at: time.Now(), system: true, body: text})
}

func (model *TUIModel) setPrompt(prompt, placeholder string) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.EchoMode = textinput.EchoNormal
	return model.textInput.Focus()
}

func (model *TUIModel) closeConnection(reason string) {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn != nil {
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = model.websocketConn.Close()
		model.websocketConn = nil
	}
	model.isConnected = false
}
