package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	pwebrtc "pyrite/internal/infrastructure/webrtc"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNotConnected     = errors.New("signaling connection is not open")
	ErrHandshakeTimeout = errors.New("server handshake timed out")
)

type Options struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration

	// MessagesPerSecond limits outbound messages; zero disables the limit.
	MessagesPerSecond float64
	Burst             int
}

// Dialer creates group server connections that share one peer connection engine.
type Dialer struct {
	engine *pwebrtc.Engine
	opts   Options
	logger *zap.SugaredLogger
}

func NewDialer(engine *pwebrtc.Engine, opts Options, logger *zap.SugaredLogger) *Dialer {
	return &Dialer{engine: engine, opts: opts, logger: logger}
}

func (d *Dialer) NewConnection(handlers ports.SignalingHandlers) ports.SignalingConnection {
	return newClient(d.engine, d.opts, handlers, d.logger)
}

// Client speaks the group server protocol over one websocket. Each up- and
// down-stream gets its own peer connection.
type Client struct {
	id       domain.ConnectionID
	engine   *pwebrtc.Engine
	opts     Options
	handlers ports.SignalingHandlers
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	ups      map[domain.StreamID]*pwebrtc.UpStream
	downs    map[domain.StreamID]*pwebrtc.DownStream
	perms    domain.Permissions
	username string
	closing  bool

	handshakeOnce sync.Once
	handshake     chan struct{}
	done          chan struct{}
}

func newClient(engine *pwebrtc.Engine, opts Options, handlers ports.SignalingHandlers, logger *zap.SugaredLogger) *Client {
	id := domain.ConnectionID(uuid.NewString())
	c := &Client{
		id:        id,
		engine:    engine,
		opts:      opts,
		handlers:  handlers,
		logger:    logger.With("connection_id", id),
		ups:       make(map[domain.StreamID]*pwebrtc.UpStream),
		downs:     make(map[domain.StreamID]*pwebrtc.DownStream),
		handshake: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst)
	}
	return c
}

func (c *Client) ID() domain.ConnectionID { return c.id }

func (c *Client) Permissions() domain.Permissions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perms
}

// Connect dials url, announces the client and waits for the server's
// handshake. OnConnected fires before Connect returns.
func (c *Client) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	if err := c.send(&message{Type: "handshake", Version: []string{protocolVersion}, ID: string(c.id)}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send handshake: %w", err)
	}

	go c.readLoop(conn)

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-c.handshake:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-timer.C:
		_ = c.Close()
		return ErrHandshakeTimeout
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

func (c *Client) Join(group, username string, creds domain.Credentials) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return c.send(&message{
		Type:     "join",
		Kind:     "join",
		Group:    group,
		Username: username,
		Password: creds.Password,
		Token:    creds.Token,
	})
}

func (c *Client) Request(mode domain.AcceptMode) error {
	return c.send(&message{Type: "request", Request: mode.Request()})
}

func (c *Client) NewUpStream(id domain.StreamID) (ports.UpStream, error) {
	if id == "" {
		id = domain.StreamID(uuid.NewString())
	}
	up, err := c.engine.NewUpStream(id, c)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ups[id] = up
	c.mu.Unlock()
	return up, nil
}

// Close sends a normal closure. The close event is reported by the reader.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// SendOffer, SendAnswer, SendICE and SendClose implement the stream signaler.

func (c *Client) SendOffer(id domain.StreamID, labels map[domain.TrackID]string, sdp string) error {
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()

	wire := make(map[string]string, len(labels))
	for k, v := range labels {
		wire[string(k)] = v
	}
	return c.send(&message{
		Type:     "offer",
		ID:       string(id),
		Label:    streamLabel(labels),
		Labels:   wire,
		Source:   string(c.id),
		Username: username,
		SDP:      sdp,
	})
}

func (c *Client) SendAnswer(id domain.StreamID, sdp string) error {
	return c.send(&message{Type: "answer", ID: string(id), SDP: sdp})
}

func (c *Client) SendICE(id domain.StreamID, candidate webrtc.ICECandidateInit) error {
	return c.send(&message{Type: "ice", ID: string(id), Candidate: &candidate})
}

func (c *Client) SendClose(id domain.StreamID) error {
	c.mu.Lock()
	delete(c.ups, id)
	delete(c.downs, id)
	c.mu.Unlock()
	return c.send(&message{Type: "close", ID: string(id)})
}

func (c *Client) send(m *message) error {
	if c.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
		err := c.limiter.Wait(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(m)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	stopPing := make(chan struct{})
	go c.pingLoop(conn, stopPing)

	var err error
	for {
		var m message
		if err = conn.ReadJSON(&m); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		c.dispatch(&m)
	}
	close(stopPing)
	_ = conn.Close()
	c.teardown(err)
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debugw("error sending ping", "error", err)
				return
			}
		}
	}
}

// teardown closes every stream, down-streams first, then reports the close
// if the connection ever completed its handshake.
func (c *Client) teardown(err error) {
	code, reason := websocket.CloseAbnormalClosure, ""
	if err != nil {
		reason = err.Error()
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code, reason = closeErr.Code, closeErr.Text
	}

	c.mu.Lock()
	if c.closing && code == websocket.CloseAbnormalClosure {
		code, reason = websocket.CloseNormalClosure, ""
	}
	downs := c.downs
	ups := c.ups
	c.downs = make(map[domain.StreamID]*pwebrtc.DownStream)
	c.ups = make(map[domain.StreamID]*pwebrtc.UpStream)
	c.mu.Unlock()

	for _, d := range downs {
		d.Closed(false)
	}
	for _, u := range ups {
		_ = u.Close()
	}

	c.logger.Infow("connection closed", "code", code, "reason", reason)
	close(c.done)

	// Connect reports failures before the handshake itself.
	select {
	case <-c.handshake:
	default:
		return
	}
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(code, reason)
	}
}

func (c *Client) dispatch(m *message) {
	switch m.Type {
	case "handshake":
		c.handshakeOnce.Do(func() {
			if c.handlers.OnConnected != nil {
				c.handlers.OnConnected()
			}
			close(c.handshake)
		})
	case "ping":
		if err := c.send(&message{Type: "pong"}); err != nil {
			c.logger.Debugw("couldn't answer ping", "error", err)
		}
	case "pong":
	case "joined":
		perms := domain.PermissionsFromList(m.Permissions)
		c.mu.Lock()
		c.perms = perms
		c.mu.Unlock()
		if c.handlers.OnJoined != nil {
			c.handlers.OnJoined(domain.JoinKind(m.Kind), m.Group, perms, m.text())
		}
	case "user":
		if c.handlers.OnUser != nil {
			c.handlers.OnUser(m.ID, domain.UserAction(m.Kind), m.Username)
		}
	case "offer":
		c.handleOffer(m)
	case "answer":
		if up := c.up(m.ID); up != nil {
			if err := up.HandleAnswer(m.SDP); err != nil {
				c.logger.Warnw("couldn't apply answer", "stream_id", m.ID, "error", err)
			}
		}
	case "renegotiate":
		c.logger.Debugw("renegotiation requested", "stream_id", m.ID)
	case "ice":
		c.handleICE(m)
	case "close":
		c.mu.Lock()
		down := c.downs[domain.StreamID(m.ID)]
		delete(c.downs, domain.StreamID(m.ID))
		c.mu.Unlock()
		if down != nil {
			down.Closed(false)
		}
	case "abort":
		if up := c.up(m.ID); up != nil {
			up.Abort()
		}
	case "usermessage":
		if c.handlers.OnUserMessage != nil {
			c.handlers.OnUserMessage(m.directive())
		}
	case "chat", "chathistory":
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(m.chat())
		}
	default:
		c.logger.Debugw("unexpected message", "type", m.Type)
	}
}

func (c *Client) up(id string) *pwebrtc.UpStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ups[domain.StreamID(id)]
}

func (c *Client) handleOffer(m *message) {
	id := domain.StreamID(m.ID)

	c.mu.Lock()
	var replaced *pwebrtc.DownStream
	if m.Replace != "" {
		replaced = c.downs[domain.StreamID(m.Replace)]
		delete(c.downs, domain.StreamID(m.Replace))
	}
	down, existing := c.downs[id]
	c.mu.Unlock()

	if replaced != nil {
		replaced.Closed(true)
	}

	if !existing {
		var err error
		down, err = c.engine.NewDownStream(id, m.Source, m.Username, c)
		if err != nil {
			c.logger.Errorw("couldn't create down-stream", "stream_id", id, "error", err)
			_ = c.send(&message{Type: "abort", ID: m.ID})
			return
		}
		c.mu.Lock()
		c.downs[id] = down
		c.mu.Unlock()
		if c.handlers.OnDownStream != nil {
			c.handlers.OnDownStream(down)
		}
	}

	if err := down.HandleOffer(m.SDP); err != nil {
		c.logger.Warnw("couldn't answer offer", "stream_id", id, "error", err)
		c.mu.Lock()
		delete(c.downs, id)
		c.mu.Unlock()
		_ = c.send(&message{Type: "abort", ID: m.ID})
		down.Closed(false)
	}
}

func (c *Client) handleICE(m *message) {
	if m.Candidate == nil {
		return
	}
	id := domain.StreamID(m.ID)

	c.mu.Lock()
	up := c.ups[id]
	down := c.downs[id]
	c.mu.Unlock()

	var err error
	switch {
	case up != nil:
		err = up.AddRemoteCandidate(*m.Candidate)
	case down != nil:
		err = down.AddRemoteCandidate(*m.Candidate)
	default:
		c.logger.Debugw("candidate for unknown stream", "stream_id", id)
	}
	if err != nil {
		c.logger.Debugw("couldn't add candidate", "stream_id", id, "error", err)
	}
}
