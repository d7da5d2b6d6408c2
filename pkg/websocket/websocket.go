package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"transflow/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Period of sending Ping messages
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512

	sendBuffer = 64
)

var (
	ErrConnectionClosed = errors.New("websocket connection closed")
	ErrSendBufferFull   = errors.New("websocket send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection is one subscriber socket. Writes go through a buffered queue
// drained by a single writer goroutine.
type Connection struct {
	conn       *websocket.Conn
	log        logger.Logger
	key        string
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	writeMutex sync.Mutex
}

func newConnection(conn *websocket.Conn, log logger.Logger, key string) *Connection {
	return &Connection{
		conn: conn,
		log:  log.WithFields(logger.LogFields{"subscriber": key}),
		key:  key,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Key identifies what the connection subscribed to.
func (c *Connection) Key() string { return c.key }

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Error("websocket_write", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Error("websocket_ping", err)
				return
			}
		case <-c.done:
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Connection) write(mt int, payload []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(mt, payload)
}

// WriteJSON queues v for delivery without blocking.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.log.Error("websocket_send_buffer_full", errors.New("dropping message"))
		return ErrSendBufferFull
	}
}

// ReadPump drains client frames until the peer goes away. Subscribers only
// listen, so incoming text is passed to onMessage and otherwise ignored.
func (c *Connection) ReadPump(onMessage func(msgType int, p []byte), onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("websocket_read_error", err)
			} else {
				c.log.Info("websocket_disconnect", "Client disconnected")
			}
			return
		}
		if onMessage != nil {
			onMessage(msgType, msg)
		}
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			// Give writePump a moment to send the close frame.
			time.Sleep(100 * time.Millisecond)
			c.conn.Close()
		}()
	})
}

// KeyFunc extracts the subscription key from the upgrade request.
type KeyFunc func(r *http.Request) (string, error)

type Handler struct {
	log       logger.Logger
	keyFunc   KeyFunc
	onConnect func(conn *Connection)
}

func NewHandler(log logger.Logger, keyFunc KeyFunc, onConnect func(conn *Connection)) *Handler {
	return &Handler{
		log:       log,
		keyFunc:   keyFunc,
		onConnect: onConnect,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := h.keyFunc(r)
	if err != nil {
		h.log.Error("websocket_bad_subscription", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket_upgrade_failed", err)
		return
	}

	h.log.WithFields(logger.LogFields{"subscriber": key}).Info("websocket_subscribed", "Client subscribed")
	wsConn := newConnection(conn, h.log, key)
	go wsConn.writePump()
	h.onConnect(wsConn)
}
