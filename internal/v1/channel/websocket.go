package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameBytes bounds one inbound frame. File payloads ride inside
	// response envelopes, so the limit is generous.
	maxFrameBytes = 4 << 20
	// sendQueueSize is the outbound buffer per connection.
	sendQueueSize = 256
)

// wsConn is the slice of *websocket.Conn the channel needs. Tests inject
// mock implementations.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocket adapts a gorilla connection to the Channel contract: a single
// writer goroutine preserves outbound order, a single reader goroutine
// preserves inbound order, and close hooks fire exactly once.
type WebSocket struct {
	conn  wsConn
	sendq chan []byte

	mu         sync.RWMutex
	closed     bool
	serving    bool
	hooks      []func()
	hooksFired bool

	closeOnce sync.Once
	hookOnce  sync.Once

	// remote tags log lines; typically the client address.
	remote string
}

var _ Channel = (*WebSocket)(nil)

// NewWebSocket wraps an upgraded connection. The write pump starts
// immediately so envelopes queued before Serve (handshake errors, join
// notifications) still flush.
func NewWebSocket(conn wsConn, remote string) *WebSocket {
	ws := &WebSocket{
		conn:   conn,
		sendq:  make(chan []byte, sendQueueSize),
		remote: remote,
	}
	metrics.IncConnection()
	go ws.writePump()
	return ws
}

// Send queues one frame. Closed channels report ErrClosed; a full queue
// drops the frame rather than stalling the caller.
func (ws *WebSocket) Send(data []byte) (err error) {
	ws.mu.RLock()
	closed := ws.closed
	ws.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// The queue can close between the check above and the send below.
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()

	select {
	case ws.sendq <- data:
		return nil
	default:
		logging.Warn(context.Background(), "send queue full, dropping frame",
			zap.String("remote", ws.remote))
		return nil
	}
}

// Serve starts the read pump.
func (ws *WebSocket) Serve(onMessage MessageFunc) {
	ws.mu.Lock()
	if ws.serving || ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.serving = true
	ws.mu.Unlock()

	go ws.readPump(onMessage)
}

// OnClose registers a teardown hook. Hooks registered after the channel
// already died run immediately, so late subscribers never miss teardown.
func (ws *WebSocket) OnClose(fn func()) {
	ws.mu.Lock()
	fired := ws.hooksFired
	if !fired {
		ws.hooks = append(ws.hooks, fn)
	}
	ws.mu.Unlock()
	if fired {
		fn()
	}
}

// Close stops accepting sends and lets the write pump drain, emit a close
// frame, and drop the connection. Safe to call repeatedly and concurrently
// with Send.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.closed = true
		serving := ws.serving
		ws.mu.Unlock()

		close(ws.sendq)
		metrics.DecConnection()

		// Without a read pump nothing else will fire the hooks.
		if !serving {
			ws.fireHooks()
		}
	})
	return nil
}

func (ws *WebSocket) readPump(onMessage MessageFunc) {
	defer func() {
		_ = ws.Close()
		ws.fireHooks()
	}()

	ws.conn.SetReadLimit(maxFrameBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug(context.Background(), "connection dropped",
					zap.String("remote", ws.remote), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onMessage(data)
	}
}

func (ws *WebSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
	}()

	for {
		select {
		case data, ok := <-ws.sendq:
			if !ok {
				_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = ws.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug(context.Background(), "write failed",
					zap.String("remote", ws.remote), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *WebSocket) fireHooks() {
	ws.hookOnce.Do(func() {
		ws.mu.Lock()
		ws.hooksFired = true
		hooks := make([]func(), len(ws.hooks))
		copy(hooks, ws.hooks)
		ws.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}
