package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

const (
	DefaultRoomPrefix = "chat_"
	DefaultWSPath     = "/ws/chat/"

	defaultSendBuffer = 256
)

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg storage.NewMessage) (storage.ChatMessage, error)
	QueryMessages(ctx context.Context, filter storage.MessageFilter) ([]storage.MessageRecord, error)
	MarkMessageRead(ctx context.Context, messageID, readerID int64) error
}

// UserDirectory resolves user ids to display data.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	ListUsers(ctx context.Context) ([]storage.User, error)
}

// SessionStore backs signup and bearer tokens.
type SessionStore interface {
	CreateUser(ctx context.Context, user storage.NewUser) (int64, error)
	CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	GetSession(ctx context.Context, token string) (*storage.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Store is everything the server needs from persistence. *storage.Store
// satisfies it.
type Store interface {
	MessageStore
	UserDirectory
	SessionStore
}

// WebSocketOptions tune a single connection. Zero durations disable the
// matching deadline.
type WebSocketOptions struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

type Options struct {
	RoomPrefix string
	// RequirePrivateRecipient rejects private messages without recipient_id.
	RequirePrivateRecipient bool
	WebSocket               WebSocketOptions
	TokenTTL                time.Duration
	AuthRateLimit           int
	AuthRateWindow          time.Duration
	Relay                   Relay
	Logger                  *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		RoomPrefix: DefaultRoomPrefix,
		WebSocket: WebSocketOptions{
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 8192,
			SendBuffer:     defaultSendBuffer,
		},
		TokenTTL:       24 * time.Hour,
		AuthRateLimit:  10,
		AuthRateWindow: time.Minute,
	}
}

// Server owns the hub, the broadcaster and every HTTP and websocket handler.
type Server struct {
	store       Store
	hub         *Hub
	broadcaster *Broadcaster
	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	validate    *validator.Validate
	upgrader    websocket.Upgrader
	opts        Options
	tokenTTL    time.Duration
	logger      zerolog.Logger

	// encode serializes outbound frames
	encode func(v any) ([]byte, error)
}

func NewServer(store Store, opts Options) *Server {
	logger := logging.L()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	defaults := DefaultOptions()
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaults.TokenTTL
	}
	if opts.AuthRateWindow <= 0 {
		opts.AuthRateWindow = defaults.AuthRateWindow
	}
	if opts.WebSocket.SendBuffer <= 0 {
		opts.WebSocket.SendBuffer = defaultSendBuffer
	}

	hub := NewHub()
	metrics := NewMetrics()
	presence := NewPresenceTracker()
	metrics.rooms = hub.RoomCount
	metrics.onlineUsers = presence.ActiveCount
	return &Server{
		store:       store,
		hub:         hub,
		broadcaster: NewBroadcaster(hub, metrics, opts.Relay, logger),
		metrics:     metrics,
		presence:    presence,
		authLimiter: NewRateLimiter(opts.AuthRateLimit, opts.AuthRateWindow),
		validate:    newValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		opts:     opts,
		tokenTTL: opts.TokenTTL,
		logger:   logger,
		encode:   json.Marshal,
	}
}

func (s *Server) Hub() *Hub                    { return s.hub }
func (s *Server) Broadcaster() *Broadcaster    { return s.broadcaster }
func (s *Server) Metrics() *Metrics            { return s.metrics }
func (s *Server) MetricsHandler() http.Handler { return s.metrics }

// loggerFor prefers the logger carried by ctx and otherwise uses the one the
// server was built with.
func (s *Server) loggerFor(ctx context.Context) zerolog.Logger {
	if l, ok := logging.FromContext(ctx); ok {
		return l
	}
	return s.logger
}

// RoomKey namespaces a room name. Connections only ever share traffic with
// the same key.
func (s *Server) RoomKey(name string) string {
	return s.opts.RoomPrefix + name
}

// Routes registers every handler on a fresh mux. wsPath is the websocket
// prefix; both "/prefix/{room}/" and "/prefix?room=" are served.
func (s *Server) Routes(wsPath string) http.Handler {
	mux := http.NewServeMux()
	prefix := strings.TrimSuffix(NormalizeWSPath(wsPath), "/")
	mux.HandleFunc(prefix+"/{room}", s.ServeWS)
	mux.HandleFunc(prefix+"/{room}/", s.ServeWS)
	mux.HandleFunc(prefix, s.ServeWS)

	mux.HandleFunc("/signup", s.HandleSignup)
	mux.HandleFunc("/login", s.HandleLogin)
	mux.HandleFunc("/logout", s.HandleLogout)
	mux.HandleFunc("/api/users/me", s.HandleCurrentUser)
	mux.HandleFunc("/api/users", s.HandleListUsers)
	mux.HandleFunc("/api/chat/messages", s.HandleListMessages)
	mux.HandleFunc("/api/chat/messages/{id}/read", s.HandleMarkRead)
	mux.HandleFunc("/exists", s.HandleRoomExists)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.Handle("/metrics", s.MetricsHandler())

	return logging.HTTPMiddleware(s.logger)(mux)
}

// Shutdown closes every live connection. Each writer sends a close frame and
// the readers tear down through the normal disconnect path.
func (s *Server) Shutdown() {
	for _, client := range s.hub.all() {
		client.close()
	}
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws/chat/ when empty.
func NormalizeWSPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return DefaultWSPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
