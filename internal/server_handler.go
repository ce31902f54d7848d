package internal

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"taskchat/internal/logging"
)

// ServeWS upgrades a request for /ws/chat/{room}/ (or ?room=) and attaches
// the connection to the namespaced room. An optional ?token= binds the
// connection to a logged-in user.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	roomName := strings.TrimSpace(request.PathValue("room"))
	if roomName == "" {
		roomName = strings.TrimSpace(request.URL.Query().Get("room"))
	}
	if roomName == "" {
		http.Error(writer, "missing room", http.StatusBadRequest)
		return
	}

	var authCtx *authContext
	if token := request.URL.Query().Get("token"); token != "" {
		ctx, err := s.authenticateToken(request.Context(), token)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, errUnauthorized) {
				status = http.StatusUnauthorized
			}
			http.Error(writer, http.StatusText(status), status)
			return
		}
		authCtx = ctx
	}

	websocketConn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// the upgrader already wrote the http error
		s.logger.Warn().Err(err).Str(logging.FieldClientIP, s.clientIP(request)).Msg("websocket upgrade failed")
		return
	}

	roomKey := s.RoomKey(roomName)
	clientID := uuid.NewString()
	logger := s.logger.With().Str(logging.FieldRoom, roomKey).Str(logging.FieldClientID, clientID).Logger()
	client := newClient(clientID, roomKey, websocketConn, s.opts.WebSocket, logger)
	if authCtx != nil {
		client.bindUser(authCtx.UserID, authCtx.Username)
		logger = logger.With().Int64(logging.FieldUserID, authCtx.UserID).Logger()
		client.logger = logger
	}
	// the request context ends when this handler returns
	ctx := logging.WithLogger(context.Background(), logger)

	s.connect(client)
	go client.writePump()
	go client.readPump(
		func(payload []byte) { s.handleInbound(ctx, client, payload) },
		func() { s.disconnect(client) },
	)
}

func (s *Server) connect(client *Client) {
	s.hub.Join(client.roomKey, client)
	client.markOpen()
	s.metrics.IncConn()
	if client.userID != 0 {
		s.presence.Increment(client.userID)
	}
	client.logger.Info().Int(logging.FieldMembers, s.hub.Size(client.roomKey)).Msg("client connected")
}

// disconnect runs once per connection, from the reader. It leaves the room
// before closing so a fresh snapshot never holds a closed client.
func (s *Server) disconnect(client *Client) {
	s.hub.Leave(client.roomKey, client)
	client.close()
	s.metrics.DecConn()
	if client.userID != 0 {
		s.presence.Decrement(client.userID)
	}
	client.logger.Info().Int(logging.FieldMembers, s.hub.Size(client.roomKey)).Msg("client disconnected")
}
