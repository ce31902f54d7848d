package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	intrnl "taskchat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return fmt.Errorf("server URL: %w", err)
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.RoomKey, cfg.Username)
}

// WebsocketURL builds the ws:// base URL the client dials for a server
// listening on addr. Wildcard hosts are rewritten to loopback.
func WebsocketURL(addr, wsPath string) string {
	path := intrnl.NormalizeWSPath(wsPath)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}
