package storage

import (
	"strconv"
	"strings"
)

type dialect struct {
	name        string
	placeholder func(n int) string
	schema      []string
}

// rebind rewrites '?' placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if d.placeholder == nil {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(d.placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'employee',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			recipient_id INTEGER,
			project_id INTEGER,
			content TEXT NOT NULL,
			chat_type TEXT NOT NULL CHECK (chat_type IN ('group', 'private')),
			timestamp DATETIME NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY(sender_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(recipient_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_type_ts ON chat_messages(chat_type, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_pair ON chat_messages(sender_id, recipient_id);`,
	},
}

var postgresDialect = dialect{
	name:        DriverPostgres,
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash BYTEA NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'employee',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			recipient_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
			project_id BIGINT,
			content TEXT NOT NULL,
			chat_type TEXT NOT NULL CHECK (chat_type IN ('group', 'private')),
			timestamp TIMESTAMPTZ NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_type_ts ON chat_messages(chat_type, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_pair ON chat_messages(sender_id, recipient_id);`,
	},
}
