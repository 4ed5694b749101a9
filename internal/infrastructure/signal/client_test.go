package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	pwebrtc "pyrite/internal/infrastructure/webrtc"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testOptions = Options{
	HandshakeTimeout: time.Second,
	PingInterval:     time.Second,
	PongTimeout:      5 * time.Second,
	WriteTimeout:     time.Second,
}

type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

// accept takes the next connection and completes the handshake.
func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := <-fs.conns
	var hello message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "handshake", hello.Type)
	require.Equal(t, []string{protocolVersion}, hello.Version)
	require.NotEmpty(t, hello.ID)
	require.NoError(t, conn.WriteJSON(message{Type: "handshake", Version: []string{protocolVersion}}))
	t.Cleanup(func() { conn.Close() })
	return conn
}

type recorder struct {
	mu     sync.Mutex
	events []string
	joined []domain.Permissions
	dirs   []domain.Directive
	chats  []domain.ChatMessage
	downs  []ports.DownStream
	closed chan struct{}
	code   int
	reason string
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan struct{})}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handlers() ports.SignalingHandlers {
	return ports.SignalingHandlers{
		OnConnected: func() { r.add("connected") },
		OnClose: func(code int, reason string) {
			r.mu.Lock()
			r.code, r.reason = code, reason
			r.events = append(r.events, "close")
			r.mu.Unlock()
			close(r.closed)
		},
		OnDownStream: func(d ports.DownStream) {
			r.mu.Lock()
			r.downs = append(r.downs, d)
			r.mu.Unlock()
			d.OnClose(func(replace bool) {
				if replace {
					r.add("down replaced " + string(d.ID()))
				} else {
					r.add("down closed " + string(d.ID()))
				}
			})
			r.add("down " + string(d.ID()))
		},
		OnUser: func(id string, action domain.UserAction, username string) {
			r.add("user " + string(action) + " " + id + " " + username)
		},
		OnJoined: func(kind domain.JoinKind, group string, perms domain.Permissions, msg string) {
			r.mu.Lock()
			r.joined = append(r.joined, perms)
			r.events = append(r.events, "joined "+string(kind)+" "+group+" "+msg)
			r.mu.Unlock()
		},
		OnUserMessage: func(d domain.Directive) {
			r.mu.Lock()
			r.dirs = append(r.dirs, d)
			r.mu.Unlock()
		},
		OnChat: func(m domain.ChatMessage) {
			r.mu.Lock()
			r.chats = append(r.chats, m)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("connection never reported close")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code, r.reason
}

func newTestDialer(t *testing.T) *Dialer {
	engine, err := pwebrtc.NewEngine(pwebrtc.Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return NewDialer(engine, testOptions, zap.NewNop().Sugar())
}

func connectClient(t *testing.T, fs *fakeServer, rec *recorder) (ports.SignalingConnection, *websocket.Conn) {
	t.Helper()
	client := newTestDialer(t).NewConnection(rec.handlers())

	serverConn := make(chan *websocket.Conn, 1)
	go func() { serverConn <- fs.accept(t) }()

	require.NoError(t, client.Connect(context.Background(), fs.url()))
	return client, <-serverConn
}

func TestClient_HandshakeAndJoin(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	client, server := connectClient(t, fs, rec)
	defer client.Close()

	assert.Equal(t, []string{"connected"}, rec.list())

	require.NoError(t, client.Join("lobby", "alice", domain.Credentials{Password: "pw"}))
	var join message
	require.NoError(t, server.ReadJSON(&join))
	assert.Equal(t, message{Type: "join", Kind: "join", Group: "lobby", Username: "alice", Password: "pw"}, join)

	require.NoError(t, client.Request(domain.AcceptAudio))
	var req message
	require.NoError(t, server.ReadJSON(&req))
	assert.Equal(t, "request", req.Type)
	assert.Equal(t, map[string][]string{"": {"audio"}}, req.Request)

	require.NoError(t, server.WriteJSON(message{
		Type: "joined", Kind: "join", Group: "lobby", Permissions: []string{"present", "op"},
	}))
	require.NoError(t, server.WriteJSON(message{Type: "ping"}))

	var pong message
	require.NoError(t, server.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	assert.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "joined join lobby ", rec.list()[1])
	assert.Equal(t, domain.Permissions{Present: true, Op: true}, client.Permissions())
}

func TestClient_RosterMessagesAndChat(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	client, server := connectClient(t, fs, rec)
	defer client.Close()

	require.NoError(t, server.WriteJSON(message{Type: "joined", Kind: "redirect", Value: json.RawMessage(`"https://elsewhere/"`)}))
	require.NoError(t, server.WriteJSON(message{Type: "user", Kind: "add", ID: "u1", Username: "bob"}))
	require.NoError(t, server.WriteJSON(message{
		Type: "usermessage", Kind: "mute", Source: "op1", Username: "admin", Privileged: true,
		Time: json.RawMessage(`1700000000000`),
	}))
	require.NoError(t, server.WriteJSON(message{
		Type: "usermessage", Kind: "error", Value: json.RawMessage(`"not allowed"`),
	}))
	require.NoError(t, server.WriteJSON(message{
		Type: "chat", Source: "u1", Username: "bob", Value: json.RawMessage(`"hello"`),
		Time: json.RawMessage(`"2024-01-02T03:04:05Z"`),
	}))

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.chats) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"connected", "joined redirect  https://elsewhere/", "user add u1 bob"}, rec.list())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.dirs, 2)
	assert.Equal(t, domain.DirectiveMute, rec.dirs[0].Kind)
	assert.True(t, rec.dirs[0].Privileged)
	assert.Equal(t, time.UnixMilli(1700000000000), rec.dirs[0].Time)
	assert.Equal(t, domain.DirectiveError, rec.dirs[1].Kind)
	assert.Equal(t, "not allowed", rec.dirs[1].Message)
	assert.Equal(t, "The Server", rec.dirs[1].From())

	assert.Equal(t, "hello", rec.chats[0].Value)
	assert.Equal(t, 2024, rec.chats[0].Time.Year())
}

func TestClient_CloseCodes(t *testing.T) {
	t.Run("server close frame", func(t *testing.T) {
		fs := newFakeServer(t)
		rec := newRecorder()
		_, server := connectClient(t, fs, rec)

		msg := websocket.FormatCloseMessage(4001, "kicked")
		require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

		code, reason := rec.waitClosed(t)
		assert.Equal(t, 4001, code)
		assert.Equal(t, "kicked", reason)
	})

	t.Run("dropped socket", func(t *testing.T) {
		fs := newFakeServer(t)
		rec := newRecorder()
		_, server := connectClient(t, fs, rec)

		server.UnderlyingConn().Close()

		code, _ := rec.waitClosed(t)
		assert.Equal(t, websocket.CloseAbnormalClosure, code)
	})

	t.Run("client close", func(t *testing.T) {
		fs := newFakeServer(t)
		rec := newRecorder()
		client, _ := connectClient(t, fs, rec)

		require.NoError(t, client.Close())
		require.NoError(t, client.Close())

		code, reason := rec.waitClosed(t)
		assert.Equal(t, domain.NormalClosure, code)
		assert.Empty(t, reason)
	})
}

func TestClient_HandshakeTimeout(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	dialer := newTestDialer(t)
	dialer.opts.HandshakeTimeout = 100 * time.Millisecond
	client := dialer.NewConnection(rec.handlers())

	go func() {
		conn := <-fs.conns
		var hello message
		_ = conn.ReadJSON(&hello)
		time.Sleep(time.Second)
		conn.Close()
	}()

	err := client.Connect(context.Background(), fs.url())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)

	select {
	case <-client.(*Client).done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	assert.NotContains(t, rec.list(), "connected")
	assert.NotContains(t, rec.list(), "close")
}

func TestClient_DroppedBeforeHandshake(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	client := newTestDialer(t).NewConnection(rec.handlers())

	go func() {
		conn := <-fs.conns
		var hello message
		_ = conn.ReadJSON(&hello)
		conn.Close()
	}()

	err := client.Connect(context.Background(), fs.url())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, rec.list())
}

func TestClient_ConnectRefused(t *testing.T) {
	client := newTestDialer(t).NewConnection(newRecorder().handlers())
	err := client.Connect(context.Background(), "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
	assert.ErrorIs(t, client.Join("g", "u", domain.Credentials{}), ErrNotConnected)
}

// serverOffer builds an offer carrying one video track, as the group server
// would for a down-stream.
func serverOffer(t *testing.T) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "v", "s")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return offer.SDP
}

func TestClient_DownStreamLifecycle(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	_, server := connectClient(t, fs, rec)

	sdp := serverOffer(t)
	require.NoError(t, server.WriteJSON(message{Type: "offer", ID: "d1", Source: "peer", Username: "bob", SDP: sdp}))

	var answer message
	for {
		require.NoError(t, server.ReadJSON(&answer))
		if answer.Type == "answer" {
			break
		}
	}
	assert.Equal(t, "d1", answer.ID)
	assert.Contains(t, answer.SDP, "a=recvonly")

	require.NoError(t, server.WriteJSON(message{Type: "offer", ID: "d2", Replace: "d1", Source: "peer", Username: "bob", SDP: sdp}))
	require.NoError(t, server.WriteJSON(message{Type: "offer", ID: "d3", Source: "peer", Username: "carol", SDP: sdp}))
	require.NoError(t, server.WriteJSON(message{Type: "close", ID: "d3"}))

	assert.Eventually(t, func() bool {
		for _, e := range rec.list() {
			if e == "down closed d3" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	server.UnderlyingConn().Close()
	rec.waitClosed(t)

	events := rec.list()
	assert.Equal(t, []string{
		"connected",
		"down d1",
		"down replaced d1",
		"down d2",
		"down d3",
		"down closed d3",
		"down closed d2",
		"close",
	}, events)
}
