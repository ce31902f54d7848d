package app

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

type seedUser struct {
	username  string
	password  string
	firstName string
	lastName  string
	role      string
}

var demoUsers = []seedUser{
	{"admin", "admin123", "Admin", "User", storage.RoleAdmin},
	{"jane", "password123", "Jane", "Smith", storage.RoleSupervisor},
	{"bob", "password123", "Bob", "Wilson", storage.RoleSupervisor},
	{"tom", "password123", "Tom", "Green", storage.RoleEmployee},
	{"sarah", "password123", "Sarah", "Johnson", storage.RoleEmployee},
}

// SeedResult reports what Seed created.
type SeedResult struct {
	UsersCreated    int
	MessagesCreated int
}

// Seed inserts the demo users and a couple of messages. Users that already
// exist are left alone; messages are only written on the first run.
func Seed(ctx context.Context, store *storage.Store) (SeedResult, error) {
	var result SeedResult
	ids := make(map[string]int64, len(demoUsers))
	for _, u := range demoUsers {
		existing, err := store.GetUserByUsername(ctx, u.username)
		if err != nil {
			return result, err
		}
		if existing != nil {
			ids[u.username] = existing.ID
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return result, err
		}
		id, err := store.CreateUser(ctx, storage.NewUser{
			Username:     u.username,
			PasswordHash: hash,
			FirstName:    u.firstName,
			LastName:     u.lastName,
			Role:         u.role,
		})
		if err != nil {
			return result, fmt.Errorf("create %s: %w", u.username, err)
		}
		ids[u.username] = id
		result.UsersCreated++
	}

	existing, err := store.QueryMessages(ctx, storage.MessageFilter{Limit: 1})
	if err != nil {
		return result, err
	}
	if len(existing) > 0 {
		return result, nil
	}
	messages := []storage.NewMessage{
		{SenderID: ids["admin"], Content: "Welcome everyone to the taskchat platform!", ChatType: storage.ChatTypeGroup},
		{SenderID: ids["jane"], RecipientID: ids["tom"], Content: "Great work on the site assessment!", ChatType: storage.ChatTypePrivate},
	}
	for _, msg := range messages {
		if _, err := store.CreateMessage(ctx, msg); err != nil {
			return result, err
		}
		result.MessagesCreated++
	}
	logger := logging.Ctx(ctx)
	logger.Info().Int("users", result.UsersCreated).Int("messages", result.MessagesCreated).Msg("seed complete")
	return result, nil
}
