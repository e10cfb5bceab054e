package server

import (
	"context"
	"log"
	"strings"

	"github.com/npezzotti/studyhub/internal/chat"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
	"github.com/npezzotti/studyhub/internal/types"
)

// Conn is a live real-time connection, independent of its transport.
type Conn interface {
	ID() string
	User() types.User
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg *ServerMessage) bool
	Close()
}

type MessageRecorder interface {
	RecordMessage(ctx context.Context, params chat.RecordParams) (database.Message, error)
}

type member struct {
	conn  Conn
	rooms map[string]struct{}
}

type roomReq struct {
	conn Conn
	room string
}

type broadcastReq struct {
	room string
	msg  *ServerMessage
	// skip is the id of a connection that must not receive msg.
	skip string
}

type stopReq struct {
	done chan struct{}
}

// ChatServer is the room registry and broadcast bus. All of its state is
// owned by the Run goroutine.
type ChatServer struct {
	log            *log.Logger
	chat           MessageRecorder
	stats          stats.StatsProvider
	conns          map[string]*member
	rooms          map[string]map[string]Conn
	registerChan   chan Conn
	deRegisterChan chan Conn
	joinChan       chan roomReq
	leaveChan      chan roomReq
	broadcastChan  chan *broadcastReq
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, recorder MessageRecorder, su stats.StatsProvider) *ChatServer {
	su.RegisterMetric(stats.NumActiveConnections)

	return &ChatServer{
		log:            logger,
		chat:           recorder,
		stats:          su,
		conns:          make(map[string]*member),
		rooms:          make(map[string]map[string]Conn),
		registerChan:   make(chan Conn),
		deRegisterChan: make(chan Conn),
		joinChan:       make(chan roomReq),
		leaveChan:      make(chan roomReq),
		broadcastChan:  make(chan *broadcastReq, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.addConn(c)
		case c := <-cs.deRegisterChan:
			cs.removeConn(c)
		case req := <-cs.joinChan:
			cs.joinRoom(req.conn, req.room)
		case req := <-cs.leaveChan:
			cs.leaveRoom(req.conn, req.room)
		case req := <-cs.broadcastChan:
			cs.broadcast(req)
		case req := <-cs.stop:
			cs.log.Println("closing connections")
			cs.closeAll()
			close(req.done)
			return
		}
	}
}

// Shutdown stops the bus and closes every connection.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) Register(c Conn) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

// Disconnect removes c from the registry and from every room it joined.
func (cs *ChatServer) Disconnect(c Conn) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) Join(c Conn, room string) {
	select {
	case cs.joinChan <- roomReq{conn: c, room: room}:
	case <-cs.done:
	}
}

func (cs *ChatServer) Leave(c Conn, room string) {
	select {
	case cs.leaveChan <- roomReq{conn: c, room: room}:
	case <-cs.done:
	}
}

// Broadcast delivers msg to every connection in room except the one with id
// skip. An empty skip delivers to all of them.
func (cs *ChatServer) Broadcast(room string, msg *ServerMessage, skip string) {
	select {
	case cs.broadcastChan <- &broadcastReq{room: room, msg: msg, skip: skip}:
	case <-cs.done:
	}
}

// Publish stores msg on behalf of c and, once stored, broadcasts it to the
// whole room including the sender. Nothing is broadcast when storing fails.
func (cs *ChatServer) Publish(ctx context.Context, c Conn, msg SendMessage) error {
	user := c.User()
	userName := strings.TrimSpace(msg.UserName)
	if userName == "" {
		userName = user.Name
	}

	stored, err := cs.chat.RecordMessage(ctx, chat.RecordParams{
		Room:       strings.TrimSpace(msg.Room),
		SenderId:   user.Id,
		SenderName: userName,
		Content:    msg.Message,
	})
	if err != nil {
		cs.log.Printf("save message from %q: %v", user.Id, err)
		return err
	}

	cs.Broadcast(stored.Room, ReceiveMessage(types.NewMessage(stored)), "")
	return nil
}

// Typing relays a typing indicator to everyone else in the room.
func (cs *ChatServer) Typing(c Conn, data map[string]any) error {
	room, err := typingRoom(data)
	if err != nil {
		return err
	}

	cs.Broadcast(room, UserTyping(data), c.ID())
	return nil
}

func (cs *ChatServer) addConn(c Conn) {
	if _, ok := cs.conns[c.ID()]; ok {
		return
	}

	cs.conns[c.ID()] = &member{conn: c, rooms: make(map[string]struct{})}
	cs.stats.Incr(stats.NumActiveConnections)
	cs.log.Printf("connection %q from user %q registered", c.ID(), c.User().Id)
}

func (cs *ChatServer) removeConn(c Conn) {
	m, ok := cs.conns[c.ID()]
	if !ok {
		return
	}

	for room := range m.rooms {
		cs.removeFromRoom(c.ID(), room)
	}

	delete(cs.conns, c.ID())
	cs.stats.Decr(stats.NumActiveConnections)
	cs.log.Printf("connection %q removed", c.ID())
}

func (cs *ChatServer) joinRoom(c Conn, room string) {
	m, ok := cs.conns[c.ID()]
	if !ok {
		cs.log.Printf("join %q from unregistered connection %q", room, c.ID())
		return
	}

	members, ok := cs.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		cs.rooms[room] = members
	}

	members[c.ID()] = c
	m.rooms[room] = struct{}{}
	cs.log.Printf("connection %q joined room %q", c.ID(), room)
}

func (cs *ChatServer) leaveRoom(c Conn, room string) {
	m, ok := cs.conns[c.ID()]
	if !ok {
		return
	}

	delete(m.rooms, room)
	cs.removeFromRoom(c.ID(), room)
	cs.log.Printf("connection %q left room %q", c.ID(), room)
}

func (cs *ChatServer) removeFromRoom(id, room string) {
	members, ok := cs.rooms[room]
	if !ok {
		return
	}

	delete(members, id)
	if len(members) == 0 {
		delete(cs.rooms, room)
	}
}

func (cs *ChatServer) broadcast(req *broadcastReq) {
	for id, c := range cs.rooms[req.room] {
		if id == req.skip {
			continue
		}
		if !c.Send(req.msg) {
			cs.log.Printf("dropped %s for connection %q, send queue full", req.msg.Event, id)
		}
	}
}

func (cs *ChatServer) closeAll() {
	for id, m := range cs.conns {
		m.conn.Close()
		delete(cs.conns, id)
		cs.stats.Decr(stats.NumActiveConnections)
	}

	clear(cs.rooms)
}
