package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

type signupRequest struct {
	Username  string `json:"username" validate:"required,max=150"`
	Password  string `json:"password" validate:"required,min=4"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Role      string `json:"role" validate:"omitempty,oneof=admin supervisor employee observer"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userDTO   `json:"user"`
}

type userDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Online    bool   `json:"online"`
}

type authContext struct {
	Token    string
	UserID   int64
	Username string
}

func (s *Server) newUserDTO(user storage.User) userDTO {
	return userDTO{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		FullName:  user.FullName(),
		Role:      user.Role,
		Online:    s.presence.Online(user.ID),
	}
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.store.CreateUser(r.Context(), storage.NewUser{
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	logger := s.loggerFor(r.Context())
	logger.Info().Int64(logging.FieldUserID, id).Str(logging.FieldUsername, req.Username).Msg("user signed up")
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": req.Username})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL).UTC()
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: s.newUserDTO(*user)})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	user, err := s.store.GetUserByID(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.newUserDTO(*user))
}

func (s *Server) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, user := range users {
		out = append(out, s.newUserDTO(user))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleListMessages returns message history visible to the caller, newest
// first. chat_type=group lists group traffic; chat_type=private&recipient=N
// lists the conversation with N; otherwise everything the caller sent or
// received.
func (s *Server) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := storage.MessageFilter{
		ChatType:   query.Get("chat_type"),
		UserID:     authCtx.UserID,
		Descending: true,
	}
	if filter.ChatType != "" && filter.ChatType != storage.ChatTypeGroup && filter.ChatType != storage.ChatTypePrivate {
		writeError(w, http.StatusBadRequest, errors.New("chat_type must be group or private"))
		return
	}
	var err error
	if filter.PeerID, err = parseIDParam(query.Get("recipient")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("recipient must be a positive integer"))
		return
	}
	if filter.ProjectID, err = parseIDParam(query.Get("project")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("project must be a positive integer"))
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	records, err := s.store.QueryMessages(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]MessageView, 0, len(records))
	for _, rec := range records {
		out = append(out, messageViewFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r.PathValue("id"))
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid message id"))
		return
	}
	if err := s.store.MarkMessageRead(r.Context(), id, authCtx.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "marked as read"})
}

func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if s.hub.Exists(s.RoomKey(room)) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// requireAuth writes 401/500 itself and reports whether the handler may continue.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return authCtx, true
}

func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return nil, errUnauthorized
	}
	return s.authenticateToken(r.Context(), strings.TrimSpace(token))
}

func (s *Server) authenticateToken(ctx context.Context, token string) (*authContext, error) {
	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil || time.Now().After(session.ExpiresAt) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{Token: token, UserID: user.ID, Username: user.Username}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	return logging.ClientIP(r)
}

// parseIDParam accepts "" as zero and rejects anything that is not a positive integer.
func parseIDParam(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
