package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const (
	ChatTypeGroup   = "group"
	ChatTypePrivate = "private"
)

// ChatMessage is a persisted chat record. Zero ids mean "absent".
type ChatMessage struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	ProjectID   int64
	Content     string
	ChatType    string
	Timestamp   time.Time
	IsRead      bool
}

// NewMessage carries the fields needed to insert a chat message.
type NewMessage struct {
	SenderID    int64
	RecipientID int64
	ProjectID   int64
	Content     string
	ChatType    string
}

// MessageRecord is a message joined with its sender and optional recipient.
type MessageRecord struct {
	ChatMessage
	Sender    User
	Recipient *User
}

// MessageFilter narrows QueryMessages. Zero values are ignored.
//
// ChatType "group" returns every group message. ChatType "private" with a
// PeerID returns the conversation between UserID and PeerID in both
// directions. Anything else returns messages UserID sent or received, or all
// messages when UserID is zero.
type MessageFilter struct {
	ChatType   string
	UserID     int64
	PeerID     int64
	ProjectID  int64
	Limit      int
	Descending bool
}

// CreateMessage inserts a single message and returns it with id and timestamp set.
func (s *Store) CreateMessage(ctx context.Context, msg NewMessage) (ChatMessage, error) {
	ts := s.nextTimestamp()
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO chat_messages(sender_id, recipient_id, project_id, content, chat_type, timestamp, is_read)
		VALUES(?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		msg.SenderID, nullableID(msg.RecipientID), nullableID(msg.ProjectID), msg.Content, msg.ChatType, ts, false,
	).Scan(&id)
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{
		ID:          id,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		ProjectID:   msg.ProjectID,
		Content:     msg.Content,
		ChatType:    msg.ChatType,
		Timestamp:   ts,
	}, nil
}

// QueryMessages returns matching messages ordered by (timestamp, id).
func (s *Store) QueryMessages(ctx context.Context, filter MessageFilter) ([]MessageRecord, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case filter.ChatType == ChatTypeGroup:
		where = append(where, `m.chat_type = ?`)
		args = append(args, ChatTypeGroup)
	case filter.ChatType == ChatTypePrivate && filter.PeerID != 0:
		where = append(where, `m.chat_type = ?`, `((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?))`)
		args = append(args, ChatTypePrivate, filter.UserID, filter.PeerID, filter.PeerID, filter.UserID)
	case filter.UserID != 0:
		where = append(where, `(m.sender_id = ? OR m.recipient_id = ?)`)
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.ProjectID != 0 {
		where = append(where, `m.project_id = ?`)
		args = append(args, filter.ProjectID)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT m.id, m.sender_id, m.recipient_id, m.project_id, m.content, m.chat_type, m.timestamp, m.is_read,
		s.id, s.username, s.first_name, s.last_name, s.role,
		r.id, r.username, r.first_name, r.last_name, r.role
		FROM chat_messages m
		JOIN users s ON s.id = m.sender_id
		LEFT JOIN users r ON r.id = m.recipient_id`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if filter.Descending {
		sb.WriteString(" ORDER BY m.timestamp DESC, m.id DESC")
	} else {
		sb.WriteString(" ORDER BY m.timestamp ASC, m.id ASC")
	}
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var (
			rec                  MessageRecord
			recipientID, project sql.NullInt64
			rID                  sql.NullInt64
			rUsername, rFirst    sql.NullString
			rLast, rRole         sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.SenderID, &recipientID, &project, &rec.Content, &rec.ChatType, &rec.Timestamp, &rec.IsRead,
			&rec.Sender.ID, &rec.Sender.Username, &rec.Sender.FirstName, &rec.Sender.LastName, &rec.Sender.Role,
			&rID, &rUsername, &rFirst, &rLast, &rRole,
		); err != nil {
			return nil, err
		}
		rec.RecipientID = recipientID.Int64
		rec.ProjectID = project.Int64
		rec.Timestamp = rec.Timestamp.UTC()
		if rID.Valid {
			rec.Recipient = &User{
				ID:        rID.Int64,
				Username:  rUsername.String,
				FirstName: rFirst.String,
				LastName:  rLast.String,
				Role:      rRole.String,
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkMessageRead flips is_read for a message addressed to readerID (or a
// group message). ErrNotFound when nothing matched.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, readerID int64) error {
	res, err := s.exec(ctx,
		`UPDATE chat_messages SET is_read = ? WHERE id = ? AND (recipient_id = ? OR recipient_id IS NULL)`,
		true, messageID, readerID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
