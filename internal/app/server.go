package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	intrnl "taskchat/internal"
	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	chat   *intrnl.Server
	store  *storage.Store
	relay  intrnl.Relay
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Chat exposes the chat server, mainly for tests.
func (h *ServerHandle) Chat() *intrnl.Server {
	return h.chat
}

// Stop triggers a graceful shutdown and waits for it until ctx expires.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	h.cancel()
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the store, runs migrations, connects the optional relay and
// starts serving in the background. Cancel ctx or call Stop to shut down.
func RunServer(ctx context.Context, cfg *Config) (*ServerHandle, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.L()

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	opts := cfg.ServerOptions()
	opts.Logger = &logger
	var relay intrnl.Relay
	if cfg.Relay.Driver == RelayDriverRedis {
		redisRelay, err := intrnl.NewRedisRelay(ctx, intrnl.RedisRelayOptions{
			Addr:     cfg.Relay.Redis.Address,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
			Channel:  cfg.Relay.Redis.Channel,
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		relay = redisRelay
		opts.Relay = redisRelay
	}

	chat := intrnl.NewServer(store, opts)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           chat.Routes(cfg.Server.WSPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		closeQuietly(relay)
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		chat:   chat,
		store:  store,
		relay:  relay,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger.Info().
		Str("addr", handle.addr).
		Str("ws_path", intrnl.NormalizeWSPath(cfg.Server.WSPath)).
		Str("db_driver", store.Driver()).
		Str("relay", cfg.Relay.Driver).
		Msg("server listening")

	go handle.serve(runCtx, listener)
	return handle, nil
}

func (h *ServerHandle) serve(ctx context.Context, listener net.Listener) {
	defer close(h.done)
	logger := logging.L()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return h.chat.Broadcaster().RunRelay(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		h.chat.Shutdown()
		if err := h.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	h.cancel()
	closeQuietly(h.relay)
	if closeErr := h.store.Close(); closeErr != nil {
		logger.Error().Err(closeErr).Msg("store close failed")
	}
	if err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	} else {
		logger.Info().Msg("server stopped")
	}
	h.err = err
}

// OpenStore opens and migrates the configured database. An empty sqlite DSN
// falls back to DefaultDBPath.
func OpenStore(ctx context.Context, cfg DatabaseConfig) (*storage.Store, error) {
	dsn := cfg.DSN
	if cfg.Driver == "" || cfg.Driver == storage.DriverSQLite {
		if dsn == "" {
			dsn = DefaultDBPath()
		}
		if isPlainPath(dsn) {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	store, err := storage.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func isPlainPath(dsn string) bool {
	return !strings.HasPrefix(dsn, "file:") && !strings.HasPrefix(dsn, "sqlite://") && !strings.HasPrefix(dsn, ":memory:")
}

func closeQuietly(relay intrnl.Relay) {
	if relay != nil {
		_ = relay.Close()
	}
}
