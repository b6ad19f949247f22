package chatws

import (
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 64
)

// Client is one authenticated gateway connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	role   string
	connID string
	send   chan []byte
	// rooms is owned by the hub goroutine.
	rooms map[int64]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, role string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		role:   role,
		connID: uuid.NewString(),
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[int64]struct{}),
	}
}

func (c *Client) UserID() int64  { return c.userID }
func (c *Client) Role() string   { return c.role }
func (c *Client) ConnID() string { return c.connID }

// ReadPump blocks reading frames and hands each one to handle. It returns
// when the connection fails or is closed by the peer.
func (c *Client) ReadPump(handle func(payload []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(payload)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
// It exits once the hub closes the queue.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
