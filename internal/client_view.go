package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors// all from lipglpss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	privateStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("177")).Italic(true)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	roleStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

// how many chat lines fit in the message box
const visibleChatLines = 30

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	case modeLobby:
		return model.renderLobbyView()
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("TaskChat")
	subtitle := subtitleStyle.Render("Team chat rooms from your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authIntent == authIntentSignup {
		title = "Create an account"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
	}

	return model.renderPrompt(title, hint)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint + "  •  Esc back")

	viewSections := []string{header, hintText}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderLobbyView() string {
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", model.username))
	subtitle := subtitleStyle.Render(fmt.Sprintf("Users online: %d of %d", model.countOnlineUsers(), len(model.users)))

	viewSections := []string{title, subtitle}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	var userLines []string
	if len(model.users) == 0 {
		userLines = append(userLines, menuHintStyle.Render("No users loaded. Ctrl+R to refresh."))
	}
	for _, user := range model.users {
		name := usernameStyle.Copy().Foreground(colorForUser(user.Username)).Render(user.Username)
		if user.ID == model.selfID() {
			name = activeUserStyle.Render(user.Username)
		}
		userLines = append(userLines, fmt.Sprintf("%s #%-4d %s %s", presenceDot(user.Online), user.ID, name, roleStyle.Render(user.Role)))
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, userLines...)))
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	hints := menuHintStyle.Render("Enter join room • ?room check room • Ctrl+R refresh • Ctrl+L logout • Esc quit")
	viewSections = append(viewSections, hints)

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"TaskChat"}
	if model.roomName != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", model.roomName))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.username))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.httpBase))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render(fmt.Sprintf("Connection error: %v (retry %d/%d)", model.connectionError, model.reconnects, maxReconnects))
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	lines := model.lines
	if len(lines) > visibleChatLines {
		lines = lines[len(lines)-visibleChatLines:]
	}
	messageLines := make([]string, 0, len(lines))
	for _, line := range lines {
		messageLines = append(messageLines, model.renderChatLine(line))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("Esc or /leave to return to the lobby • /help for commands")

	sections := []string{header, statusLine, messagesView, inputView, footerHint}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *TUIModel) renderSystemNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	notices := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		notices = append(notices, systemMessageStyle.Render(notice))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderChatLine stamps the time, colors the sender and indents multi-line
// bodies so they stay legible.
func (model *TUIModel) renderChatLine(line chatLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.at.Format("15:04:05")))
	if line.system {
		body := systemMessageStyle.Render(line.body)
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", body)
	}

	var nameStyle lipgloss.Style
	if line.senderID == model.selfID() {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(line.sender))
	}

	name := nameStyle.Render(line.sender)
	if line.private {
		target := line.recipient
		if target == "" {
			target = "?"
		}
		name = lipgloss.JoinHorizontal(lipgloss.Left, name, privateStyle.Render(" → "+target))
	}
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(line.body, "\n", "\n   "))

	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

func presenceDot(online bool) string {
	if online {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
}

func (model *TUIModel) countOnlineUsers() int {
	count := 0
	for _, user := range model.users {
		if user.Online {
			count++
		}
	}
	return count
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
