package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C always bails out, whatever the mode.
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConnection("client quit")
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			return model.updateAuthMenu(typedMessage)
		case modeAuthUsername, modeAuthPassword:
			return model.updateAuthPrompt(typedMessage)
		case modeLobby:
			return model.updateLobby(typedMessage)
		case modeChat:
			return model.updateChat(typedMessage)
		}

	case authDoneMsg:
		model.loading = false
		session := typedMessage.session
		model.session = &session
		model.username = session.Username
		model.notices = nil
		if model.sessionPath != "" {
			if err := saveSessionToDisk(model.sessionPath, session); err != nil {
				model.addNotice("Could not save session: " + err.Error())
			}
		}
		if model.roomName != "" {
			return model, model.enterChat()
		}
		return model, model.enterLobby()

	case authFailedMsg:
		model.loading = false
		model.closeConnection("auth failed")
		model.session = nil
		_ = deleteSessionFile(model.sessionPath)
		if errors.Is(typedMessage.err, errUnauthorized) {
			model.addNotice("Session expired. Please log in again.")
		} else {
			model.addNotice(typedMessage.err.Error())
		}
		model.mode = modeAuthMenu
		model.textInput.Blur()
		return model, nil

	case loggedOutMsg:
		model.session = nil
		model.users = nil
		model.mode = modeAuthMenu
		model.textInput.Blur()
		model.addNotice("Logged out.")
		return model, nil

	case usersLoadedMsg:
		model.users = typedMessage.users
		return model, nil

	case historyMsg:
		// history goes above anything that arrived live while it was loading
		model.lines = append(typedMessage.lines, model.lines...)
		return model, nil

	case noticeMsg:
		if model.mode == modeChat {
			model.systemLine(string(typedMessage))
		} else {
			model.addNotice(string(typedMessage))
		}
		return model, nil

	case badFrameMsg:
		model.systemLine("Unreadable frame from server: " + typedMessage.err.Error())
		if typedMessage.conn == nil || typedMessage.conn != model.websocketConn {
			return model, nil
		}
		return model, readOnceCmd(typedMessage.conn, model.selfID())

	case connectedMsg:
		if model.mode != modeChat {
			_ = typedMessage.conn.Close()
			return model, nil
		}
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		model.reconnects = 0
		return model, readOnceCmd(typedMessage.conn, model.selfID())

	case incomingMsg:
		model.appendLine(chatLine(typedMessage))
		if model.websocketConn == nil {
			return model, nil
		}
		return model, readOnceCmd(model.websocketConn, model.selfID())

	case disconnectedMsg:
		if typedMessage.conn == nil || typedMessage.conn != model.websocketConn {
			return model, nil
		}
		_ = typedMessage.conn.Close()
		model.websocketConn = nil
		model.isConnected = false
		model.connectionError = typedMessage.err
		if model.mode != modeChat {
			return model, nil
		}
		return model, model.retryConnect()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode != modeChat {
			return model, nil
		}
		return model, model.retryConnect()

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case existsMsg:
		switch {
		case typedMessage.err != nil:
			model.addNotice(fmt.Sprintf("Error checking room: %v", typedMessage.err))
		case typedMessage.exists:
			model.addNotice(fmt.Sprintf("Room %s has people in it.", typedMessage.room))
		default:
			model.addNotice(fmt.Sprintf("Room %s is empty. You will be the first one there.", typedMessage.room))
		}
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.loading {
		return model, nil
	}
	switch key.String() {
	case "1", "l", "L":
		model.authIntent = authIntentLogin
	case "2", "s", "S":
		model.authIntent = authIntentSignup
	case "q", "Q", "esc":
		return model, tea.Quit
	default:
		return model, nil
	}
	model.mode = modeAuthUsername
	cmd := model.setPrompt("user> ", "Username")
	model.textInput.SetValue(model.username)
	return model, cmd
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeAuthMenu
		model.textInput.Blur()
		return model, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(model.textInput.Value())
		if value == "" {
			return model, nil
		}
		if model.mode == modeAuthUsername {
			model.username = value
			model.mode = modeAuthPassword
			cmd := model.setPrompt("pass> ", "Password")
			model.textInput.EchoMode = textinput.EchoPassword
			return model, cmd
		}
		model.loading = true
		model.textInput.SetValue("")
		model.textInput.Blur()
		return model, model.authCmd(model.authIntent, model.username, value)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateLobby(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.closeConnection("client quit")
		return model, tea.Quit
	case tea.KeyCtrlL:
		return model, model.logoutCmd()
	case tea.KeyCtrlR:
		return model, model.loadUsersCmd()
	case tea.KeyEnter:
		room := strings.TrimSpace(model.textInput.Value())
		if room == "" {
			return model, nil
		}
		if strings.HasPrefix(room, "?") {
			return model, model.existsCmd(strings.TrimSpace(room[1:]))
		}
		model.roomName = room
		return model, model.enterChat()
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, model.leaveChat()
	case tea.KeyEnter:
		action, msg, err := parseChatInput(model.textInput.Value())
		if err != nil {
			if model.textInput.Value() != "" {
				model.systemLine(err.Error())
			}
			return model, nil
		}
		model.textInput.SetValue("")
		switch action {
		case inputQuit:
			model.closeConnection("client quit")
			return model, tea.Quit
		case inputLeave:
			return model, model.leaveChat()
		case inputUsers:
			model.systemLine(model.directoryLine())
			return model, model.loadUsersCmd()
		case inputHelp:
			model.systemLine(chatHelp)
			return model, nil
		}
		if !model.isConnected {
			model.systemLine("Not connected yet; message not sent.")
			return model, nil
		}
		return model, model.sendCmd(*msg)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) enterLobby() tea.Cmd {
	model.mode = modeLobby
	focus := model.setPrompt("room> ", "Room name (prefix with ? to check it)")
	return tea.Batch(focus, model.loadUsersCmd())
}

func (model *TUIModel) enterChat() tea.Cmd {
	model.mode = modeChat
	model.lines = model.lines[:0]
	model.connectionError = nil
	model.reconnects = 0
	focus := model.setPrompt("> ", "Type a message… (/help for commands)")
	return tea.Batch(focus, model.connectCmd(), model.loadHistoryCmd(), model.loadUsersCmd())
}

func (model *TUIModel) leaveChat() tea.Cmd {
	model.closeConnection("left room")
	model.roomName = ""
	return model.enterLobby()
}

func (model *TUIModel) retryConnect() tea.Cmd {
	model.reconnects++
	if model.reconnects > maxReconnects {
		model.systemLine("Giving up on the connection. /leave and join again to retry.")
		return nil
	}
	return model.scheduleReconnect()
}

func (model *TUIModel) directoryLine() string {
	if len(model.users) == 0 {
		return "No users loaded yet."
	}
	parts := make([]string, 0, len(model.users))
	for _, user := range model.users {
		parts = append(parts, fmt.Sprintf("#%d %s (%s)", user.ID, user.FullName, user.Role))
	}
	return "Users: " + strings.Join(parts, ", ")
}
