package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taskchat/internal/storage"
)

var (
	httpTimeout = 5 * time.Second
)

type sessionFile struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Token    string    `json:"token"`
	Expires  time.Time `json:"expires_at"`
}

func apiSignup(baseURL, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	return doJSONRequest(http.MethodPost, baseURL+"/signup", "", payload, nil)
}

func apiLogin(baseURL, username, password string) (*loginResponse, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := doJSONRequest(http.MethodPost, baseURL+"/login", "", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiLogout(baseURL, token string) error {
	return doJSONRequest(http.MethodPost, baseURL+"/logout", token, nil, nil)
}

func apiCurrentUser(baseURL, token string) (*userDTO, error) {
	var user userDTO
	if err := doJSONRequest(http.MethodGet, baseURL+"/api/users/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func apiListUsers(baseURL, token string) ([]userDTO, error) {
	var users []userDTO
	err := doJSONRequest(http.MethodGet, baseURL+"/api/users", token, nil, &users)
	return users, err
}

// apiGroupHistory returns the latest group messages, oldest first.
func apiGroupHistory(baseURL, token string, limit int) ([]MessageView, error) {
	query := url.Values{}
	query.Set("chat_type", storage.ChatTypeGroup)
	query.Set("limit", strconv.Itoa(limit))
	var views []MessageView
	if err := doJSONRequest(http.MethodGet, baseURL+"/api/chat/messages?"+query.Encode(), token, nil, &views); err != nil {
		return nil, err
	}
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views, nil
}

func doJSONRequest(method, endpoint, token string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// defaultSessionPath is where the TUI remembers the last login.
func defaultSessionPath() string {
	if env := os.Getenv("TASKCHAT_SESSION_FILE"); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "taskchat", "session.json")
}

func loadSessionFromDisk(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session sessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if session.Username == "" || session.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	if !session.Expires.IsZero() && time.Now().After(session.Expires) {
		return nil, errors.New("session expired")
	}
	return &session, nil
}

func saveSessionToDisk(path string, session sessionFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
