package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/npezzotti/studyhub/internal/chat"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
	"github.com/npezzotti/studyhub/internal/testutil"
	"github.com/npezzotti/studyhub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type emitted struct {
	event string
	args  []interface{}
}

// fakeSocket implements the parts of socketio.Conn the handler uses.
type fakeSocket struct {
	socketio.Conn
	id      string
	url     url.URL
	header  http.Header
	mu      sync.Mutex
	ctx     interface{}
	emits   chan emitted
	closed  chan struct{}
	closeMu sync.Once
}

func newFakeSocket(id, rawQuery string, header http.Header) *fakeSocket {
	return &fakeSocket{
		id:     id,
		url:    url.URL{Path: "/socket.io/", RawQuery: rawQuery},
		header: header,
		emits:  make(chan emitted, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ID() string                { return s.id }
func (s *fakeSocket) URL() url.URL              { return s.url }
func (s *fakeSocket) RemoteHeader() http.Header { return s.header }

func (s *fakeSocket) Context() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *fakeSocket) SetContext(ctx interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

func (s *fakeSocket) Emit(event string, v ...interface{}) {
	s.emits <- emitted{event: event, args: v}
}

func (s *fakeSocket) Close() error {
	s.closeMu.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) expectEmit(t *testing.T) emitted {
	t.Helper()
	select {
	case e := <-s.emits:
		return e
	case <-time.After(time.Second):
		t.Fatalf("expected an emit on socket %q", s.id)
		return emitted{}
	}
}

func testAuthenticator(header http.Header, query url.Values) (types.User, error) {
	if query.Get("token") == "valid" || header.Get("Authorization") == "valid" {
		return types.User{Id: "u1", Name: "Alice"}, nil
	}
	return types.User{}, errors.New("invalid token")
}

func newTestSocketIOHandler(t *testing.T, recorder MessageRecorder) *SocketIOHandler {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumActiveConnections)
	su.On("Decr", stats.NumActiveConnections)

	cs := newTestChatServer(t, recorder, su)
	go cs.Run()
	t.Cleanup(func() { cs.Shutdown(context.Background()) })

	return NewSocketIOHandler(testutil.TestLogger(t), cs, testAuthenticator, []string{"*"})
}

func TestSocketIOConnect(t *testing.T) {
	tcases := []struct {
		name     string
		query    string
		header   http.Header
		accepted bool
	}{
		{name: "query token", query: "token=valid", accepted: true},
		{name: "header token", header: http.Header{"Authorization": {"valid"}}, accepted: true},
		{name: "no token", header: http.Header{}},
		{name: "bad token", query: "token=nope"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestSocketIOHandler(t, &mockRecorder{})
			sock := newFakeSocket("s1", tc.query, tc.header)

			err := h.onConnect(sock)
			if !tc.accepted {
				assert.Error(t, err)
				e := sock.expectEmit(t)
				assert.Equal(t, EventError, e.event)
				select {
				case <-sock.closed:
				case <-time.After(time.Second):
					t.Error("expected rejected socket to be closed")
				}
				return
			}

			assert.NoError(t, err)
			c, ok := connFor(sock)
			assert.True(t, ok, "expected connection in socket context")
			assert.Equal(t, "sio:s1", c.ID())
			assert.Equal(t, "u1", c.User().Id)

			h.onDisconnect(sock, "client namespace disconnect")
		})
	}
}

func TestSocketIOEvents(t *testing.T) {
	stored := database.Message{
		Id:         "m1",
		Room:       "general",
		SenderId:   "u1",
		SenderName: "Alice",
		Content:    "hello",
		CreatedAt:  database.Now(),
	}

	recorder := &mockRecorder{}
	defer recorder.AssertExpectations(t)
	recorder.On("RecordMessage", mock.Anything, chat.RecordParams{
		Room:       "general",
		SenderId:   "u1",
		SenderName: "Alice",
		Content:    "hello",
	}).Return(stored, nil).Once()

	h := newTestSocketIOHandler(t, recorder)

	alice := newFakeSocket("a", "token=valid", nil)
	bob := newFakeSocket("b", "token=valid", nil)
	assert.NoError(t, h.onConnect(alice))
	assert.NoError(t, h.onConnect(bob))

	h.onJoinRoom(alice, "general")
	h.onJoinRoom(bob, " general ")
	h.onJoinRoom(bob, "   ")

	h.onTyping(alice, map[string]interface{}{"room": "general", "userName": "Alice"})
	e := bob.expectEmit(t)
	assert.Equal(t, EventUserTyping, e.event)
	assert.Equal(t, []interface{}{map[string]interface{}{"room": "general", "userName": "Alice"}}, e.args)

	h.onSendMessage(alice, SendMessage{Room: "general", UserName: "Alice", Message: "hello"})
	for _, sock := range []*fakeSocket{alice, bob} {
		e := sock.expectEmit(t)
		assert.Equal(t, EventReceiveMessage, e.event)
		assert.Equal(t, []interface{}{types.NewMessage(stored)}, e.args)
	}

	h.onLeaveRoom(bob, "general")
	h.onTyping(alice, map[string]interface{}{"room": "general"})
	select {
	case e := <-bob.emits:
		t.Errorf("expected no emit after leaving, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSioConnSend(t *testing.T) {
	c := newSioConn(newFakeSocket("s1", "", nil), types.User{Id: "u1"}, testutil.TestLogger(t))
	for i := 0; i < sendQueueSize; i++ {
		assert.True(t, c.Send(&ServerMessage{}))
	}
	assert.False(t, c.Send(&ServerMessage{}), "expected full queue to reject message")

	c.Close()
	assert.NotPanics(t, c.Close, "expected closing twice to be safe")
}

func TestEventsWithoutConnection(t *testing.T) {
	h := newTestSocketIOHandler(t, &mockRecorder{})
	sock := newFakeSocket("s1", "", nil)

	assert.NotPanics(t, func() {
		h.onJoinRoom(sock, "general")
		h.onLeaveRoom(sock, "general")
		h.onSendMessage(sock, SendMessage{Room: "general", Message: "hi"})
		h.onTyping(sock, map[string]interface{}{"room": "general"})
		h.onDisconnect(sock, "transport close")
	})
}
