package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleEmployee   = "employee"
	RoleObserver   = "observer"
)

// Roles lists the accepted role values.
var Roles = []string{RoleAdmin, RoleSupervisor, RoleEmployee, RoleObserver}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	FirstName    string
	LastName     string
	Role         string
	CreatedAt    time.Time
}

// FullName is "first last", falling back to the username when both are blank.
func (u User) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// NewUser carries the fields needed to insert a user.
type NewUser struct {
	Username     string
	PasswordHash []byte
	FirstName    string
	LastName     string
	Role         string
}

// Session captures persisted logins.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

const userColumns = `id, username, password_hash, first_name, last_name, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, user NewUser) (int64, error) {
	role := user.Role
	if role == "" {
		role = RoleEmployee
	}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO users(username, password_hash, first_name, last_name, role) VALUES(?, ?, ?, ?, ?) RETURNING id`,
		user.Username, user.PasswordHash, user.FirstName, user.LastName, role,
	).Scan(&id)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// GetUserByUsername fetches a user by username. A missing user is (nil, nil).
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

// GetUserByID fetches a user by primary key. A missing user is (nil, nil).
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

// ListUsers returns every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateSession stores a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// GetSession returns a session if it exists.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.queryRow(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session token (used for logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.exec(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}
