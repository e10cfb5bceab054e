package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/npezzotti/studyhub/internal/types"
)

// Authenticator resolves the user behind a connection attempt from its
// request headers and query string.
type Authenticator func(header http.Header, query url.Values) (types.User, error)

// sioConn adapts a socket.io connection to Conn. Writes go through a
// bounded queue drained by its own goroutine so the bus never blocks on a
// slow client.
type sioConn struct {
	id       string
	conn     socketio.Conn
	user     types.User
	log      *log.Logger
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func newSioConn(conn socketio.Conn, user types.User, l *log.Logger) *sioConn {
	return &sioConn{
		id:   "sio:" + conn.ID(),
		conn: conn,
		user: user,
		log:  l,
		send: make(chan *ServerMessage, sendQueueSize),
		stop: make(chan struct{}),
	}
}

func (c *sioConn) ID() string { return c.id }

func (c *sioConn) User() types.User { return c.user }

func (c *sioConn) Send(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *sioConn) Close() {
	c.stopWriter()
	// closing fires the disconnect handler, which must not run on the bus goroutine
	go c.conn.Close()
}

func (c *sioConn) stopWriter() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *sioConn) write() {
	for {
		select {
		case msg := <-c.send:
			c.conn.Emit(msg.Event, msg.Data)
		case <-c.stop:
			return
		}
	}
}

// SocketIOHandler serves the socket.io transport on top of a ChatServer.
type SocketIOHandler struct {
	log          *log.Logger
	chatServer   *ChatServer
	authenticate Authenticator
	server       *socketio.Server
}

func NewSocketIOHandler(logger *log.Logger, cs *ChatServer, auth Authenticator, allowedOrigins []string) *SocketIOHandler {
	checkOrigin := CheckOrigin(allowedOrigins)
	srv := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{CheckOrigin: checkOrigin},
			&websocket.Transport{CheckOrigin: checkOrigin},
		},
	})

	h := &SocketIOHandler{
		log:          logger,
		chatServer:   cs,
		authenticate: auth,
		server:       srv,
	}

	srv.OnConnect("/", h.onConnect)
	srv.OnDisconnect("/", h.onDisconnect)
	srv.OnError("/", h.onError)
	srv.OnEvent("/", EventJoinRoom, h.onJoinRoom)
	srv.OnEvent("/", EventLeaveRoom, h.onLeaveRoom)
	srv.OnEvent("/", EventSendMessage, h.onSendMessage)
	srv.OnEvent("/", EventTyping, h.onTyping)

	return h
}

func (h *SocketIOHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// Serve runs the socket.io event loop until Close is called.
func (h *SocketIOHandler) Serve() error {
	return h.server.Serve()
}

func (h *SocketIOHandler) Close() error {
	return h.server.Close()
}

func (h *SocketIOHandler) onConnect(conn socketio.Conn) error {
	u := conn.URL()
	user, err := h.authenticate(conn.RemoteHeader(), u.Query())
	if err != nil {
		h.log.Printf("socket.io: rejecting %q: %v", conn.ID(), err)
		conn.Emit(EventError, errorPayload{Message: "authentication required"})
		go conn.Close()
		return err
	}

	c := newSioConn(conn, user, h.log)
	conn.SetContext(c)
	go c.write()
	h.chatServer.Register(c)
	return nil
}

func (h *SocketIOHandler) onDisconnect(conn socketio.Conn, reason string) {
	c, ok := connFor(conn)
	if !ok {
		return
	}

	h.log.Printf("socket.io: %q disconnected: %s", c.ID(), reason)
	c.stopWriter()
	h.chatServer.Disconnect(c)
}

func (h *SocketIOHandler) onError(conn socketio.Conn, err error) {
	if conn == nil {
		h.log.Printf("socket.io: %v", err)
		return
	}
	h.log.Printf("socket.io: %q: %v", conn.ID(), err)
}

func (h *SocketIOHandler) onJoinRoom(conn socketio.Conn, room string) {
	c, ok := connFor(conn)
	if !ok {
		return
	}
	if room = strings.TrimSpace(room); room != "" {
		h.chatServer.Join(c, room)
	}
}

func (h *SocketIOHandler) onLeaveRoom(conn socketio.Conn, room string) {
	c, ok := connFor(conn)
	if !ok {
		return
	}
	if room = strings.TrimSpace(room); room != "" {
		h.chatServer.Leave(c, room)
	}
}

func (h *SocketIOHandler) onSendMessage(conn socketio.Conn, msg SendMessage) {
	c, ok := connFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	h.chatServer.Publish(ctx, c, msg)
}

func (h *SocketIOHandler) onTyping(conn socketio.Conn, data map[string]interface{}) {
	c, ok := connFor(conn)
	if !ok {
		return
	}
	if err := h.chatServer.Typing(c, data); err != nil {
		h.log.Printf("socket.io: typing from %q: %v", c.ID(), err)
	}
}

func connFor(conn socketio.Conn) (*sioConn, bool) {
	c, ok := conn.Context().(*sioConn)
	return c, ok
}

// CheckOrigin allows requests without an Origin header, requests from one of
// allowed, and any origin when allowed contains "*".
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
