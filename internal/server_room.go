package internal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the lifecycle of a single connection: Connecting, Open, Closed.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Client is one accepted websocket connection bound to a single room key.
type Client struct {
	id      string
	roomKey string
	conn    *websocket.Conn
	opts    WebSocketOptions
	logger  zerolog.Logger

	// send is bounded; mu and closed guard both enqueue and close so a push
	// never races the channel close.
	send   chan []byte
	mu     sync.Mutex
	closed bool
	state  atomic.Int32

	userID   int64
	username string
}

func newClient(id, roomKey string, conn *websocket.Conn, opts WebSocketOptions, logger zerolog.Logger) *Client {
	buffer := opts.SendBuffer
	if buffer < 1 {
		buffer = defaultSendBuffer
	}
	return &Client{
		id:      id,
		roomKey: roomKey,
		conn:    conn,
		opts:    opts,
		logger:  logger,
		send:    make(chan []byte, buffer),
	}
}

func (client *Client) ID() string      { return client.id }
func (client *Client) RoomKey() string { return client.roomKey }
func (client *Client) UserID() int64   { return client.userID }

func (client *Client) State() ConnState {
	return ConnState(client.state.Load())
}

func (client *Client) bindUser(userID int64, username string) {
	client.userID = userID
	client.username = username
}

func (client *Client) markOpen() {
	client.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// enqueue queues a frame for the writer. A full queue drops its oldest frame
// to make room; dropped reports whether that happened.
func (client *Client) enqueue(payload []byte) (dropped bool, err error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return false, errClientClosed
	}
	select {
	case client.send <- payload:
		return false, nil
	default:
	}
	select {
	case <-client.send:
		dropped = true
	default:
	}
	// only enqueue sends, and it holds mu, so there is room now
	client.send <- payload
	return dropped, nil
}

// close moves the client to Closed and stops the writer. Safe to call twice.
func (client *Client) close() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return false
	}
	client.closed = true
	client.state.Store(int32(StateClosed))
	close(client.send)
	return true
}

// readPump hands every text frame to onMessage until the transport fails,
// then runs onDisconnect exactly once.
func (client *Client) readPump(onMessage func(payload []byte), onDisconnect func()) {
	defer func() {
		onDisconnect()
		client.conn.Close()
	}()
	if client.opts.MaxMessageSize > 0 {
		client.conn.SetReadLimit(client.opts.MaxMessageSize)
	}
	if client.opts.PongWait > 0 {
		_ = client.conn.SetReadDeadline(time.Now().Add(client.opts.PongWait))
		client.conn.SetPongHandler(func(string) error {
			return client.conn.SetReadDeadline(time.Now().Add(client.opts.PongWait))
		})
	}
	for {
		messageType, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				client.logger.Debug().Err(err).Msg("read failed")
			}
			// read error ends the loop so the deferred cleanup can fire.
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onMessage(payload)
	}
}

func (client *Client) writePump() {
	var tick <-chan time.Time
	if client.opts.PingInterval > 0 {
		ticker := time.NewTicker(client.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer client.conn.Close()
	for {
		select {
		case message, ok := <-client.send:
			client.setWriteDeadline()
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				client.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-tick:
			client.setWriteDeadline()
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (client *Client) setWriteDeadline() {
	if client.opts.WriteWait > 0 {
		_ = client.conn.SetWriteDeadline(time.Now().Add(client.opts.WriteWait))
	}
}
