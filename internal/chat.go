package internal

import (
	"time"

	"taskchat/internal/storage"
)

// InboundMessage is what a client sends over the socket. chat_type defaults
// to "group" when omitted.
type InboundMessage struct {
	Message     *string `json:"message" validate:"required"`
	SenderID    *int64  `json:"sender_id,omitempty" validate:"omitempty,gt=0"`
	RecipientID *int64  `json:"recipient_id,omitempty" validate:"omitempty,gt=0"`
	ChatType    string  `json:"chat_type,omitempty" validate:"oneof=group private"`
	ProjectID   *int64  `json:"project_id,omitempty" validate:"omitempty,gt=0"`
}

// MessageView is the serialized form of a persisted message, display fields included.
type MessageView struct {
	ID            int64     `json:"id"`
	Sender        int64     `json:"sender"`
	SenderName    string    `json:"sender_name"`
	SenderRole    string    `json:"sender_role"`
	Recipient     *int64    `json:"recipient"`
	RecipientName *string   `json:"recipient_name"`
	Project       *int64    `json:"project"`
	Content       string    `json:"content"`
	ChatType      string    `json:"chat_type"`
	Timestamp     time.Time `json:"timestamp"`
	IsRead        bool      `json:"is_read"`
}

const outboundTypeMessage = "message"

// OutboundMessage wraps a MessageView for room fan-out.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Error string `json:"error"`
}

func newMessageView(msg storage.ChatMessage, sender storage.User, recipient *storage.User) MessageView {
	view := MessageView{
		ID:         msg.ID,
		Sender:     msg.SenderID,
		SenderName: sender.FullName(),
		SenderRole: sender.Role,
		Content:    msg.Content,
		ChatType:   msg.ChatType,
		Timestamp:  msg.Timestamp,
		IsRead:     msg.IsRead,
	}
	if msg.RecipientID != 0 {
		id := msg.RecipientID
		view.Recipient = &id
	}
	if recipient != nil {
		name := recipient.FullName()
		view.RecipientName = &name
	}
	if msg.ProjectID != 0 {
		id := msg.ProjectID
		view.Project = &id
	}
	return view
}

func messageViewFromRecord(rec storage.MessageRecord) MessageView {
	return newMessageView(rec.ChatMessage, rec.Sender, rec.Recipient)
}
