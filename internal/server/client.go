package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/studyhub/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 256
)

// Client is a native websocket connection speaking JSON
// {"event": ..., "data": ...} frames.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         "ws:" + uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, sendQueueSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) User() types.User { return c.user }

func (c *Client) Send(msg *ServerMessage) bool { return c.queueMessage(msg) }

func (c *Client) Close() { c.stopClient() }

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Event {
	case EventJoinRoom:
		room, err := parseRoom(msg.Data)
		if err != nil {
			c.queueMessage(ErrInvalidMessage())
			return
		}
		c.chatServer.Join(c, room)
	case EventLeaveRoom:
		room, err := parseRoom(msg.Data)
		if err != nil {
			c.queueMessage(ErrInvalidMessage())
			return
		}
		c.chatServer.Leave(c, room)
	case EventSendMessage:
		var payload SendMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.queueMessage(ErrInvalidMessage())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		// failures are logged by the bus and not reported to the sender
		c.chatServer.Publish(ctx, c, payload)
	case EventTyping:
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.queueMessage(ErrInvalidMessage())
			return
		}
		if err := c.chatServer.Typing(c, payload); err != nil {
			c.queueMessage(ErrInvalidMessage())
		}
	default:
		c.queueMessage(ErrUnknownEvent(msg.Event))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.Disconnect(c)
	c.stopClient()
}
