package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	"pyrite/internal/core/state"
	"pyrite/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// callLog records cross-object call order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      domain.TrackID
	kind    domain.TrackKind
	enabled bool
	stopped int
	hint    string
	onEnded func()
	log     *callLog
}

func newTrack(id string, kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{id: domain.TrackID(id), kind: kind, enabled: true}
}

func (t *fakeTrack) ID() domain.TrackID { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
	t.log.add("stop %s", t.id)
}

func (t *fakeTrack) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *fakeTrack) End() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTrack) SetContentHint(hint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hint = hint
}

type fakeMedia struct {
	tracks []ports.Track
}

func newMedia(tracks ...*fakeTrack) *fakeMedia {
	m := &fakeMedia{}
	for _, t := range tracks {
		m.tracks = append(m.tracks, t)
	}
	return m
}

func (m *fakeMedia) Tracks() []ports.Track { return m.tracks }

type fakeSender struct {
	mu      sync.Mutex
	kind    domain.TrackKind
	params  domain.SendParameters
	err     error
	commits []domain.SendParameters
}

func (s *fakeSender) Kind() domain.TrackKind { return s.kind }

func (s *fakeSender) Parameters() domain.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SendParameters{Encodings: append([]domain.Encoding(nil), s.params.Encodings...)}
}

func (s *fakeSender) SetParameters(_ context.Context, p domain.SendParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, p)
	if s.err != nil {
		return s.err
	}
	s.params = p
	return nil
}

func (s *fakeSender) Commits() []domain.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SendParameters(nil), s.commits...)
}

type fakeUpStream struct {
	mu       sync.Mutex
	id       domain.StreamID
	tracks   []ports.Track
	labels   map[domain.TrackID]string
	senders  []ports.Sender
	addErr   error
	closed   int
	onError  func(error)
	onAbort  func()
	onNegoti func()
	log      *callLog
}

func (u *fakeUpStream) ID() domain.StreamID { return u.id }

func (u *fakeUpStream) AddTrack(t ports.Track) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.addErr != nil {
		return u.addErr
	}
	u.tracks = append(u.tracks, t)
	u.senders = append(u.senders, &fakeSender{kind: t.Kind()})
	return nil
}

func (u *fakeUpStream) SetLabel(id domain.TrackID, label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.labels[id] = label
}

func (u *fakeUpStream) Senders() []ports.Sender {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ports.Sender(nil), u.senders...)
}

func (u *fakeUpStream) OnError(fn func(error)) {
	u.mu.Lock()
	u.onError = fn
	u.mu.Unlock()
}

func (u *fakeUpStream) OnAbort(fn func()) {
	u.mu.Lock()
	u.onAbort = fn
	u.mu.Unlock()
}

func (u *fakeUpStream) OnNegotiationCompleted(fn func()) {
	u.mu.Lock()
	u.onNegoti = fn
	u.mu.Unlock()
}

func (u *fakeUpStream) Close() error {
	u.mu.Lock()
	u.closed++
	u.mu.Unlock()
	u.log.add("close %s", u.id)
	return nil
}

func (u *fakeUpStream) Closed() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *fakeUpStream) Label(id domain.TrackID) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.labels[id]
}

func (u *fakeUpStream) fireError(err error) {
	u.mu.Lock()
	fn := u.onError
	u.mu.Unlock()
	fn(err)
}

func (u *fakeUpStream) fireAbort() {
	u.mu.Lock()
	fn := u.onAbort
	u.mu.Unlock()
	fn()
}

func (u *fakeUpStream) fireNegotiated() {
	u.mu.Lock()
	fn := u.onNegoti
	u.mu.Unlock()
	fn()
}

type fakeDownStream struct {
	mu      sync.Mutex
	id      domain.StreamID
	closed  int
	onClose func(bool)
	onError func(error)
	onTrack func(domain.TrackKind)
}

func (d *fakeDownStream) ID() domain.StreamID { return d.id }
func (d *fakeDownStream) Source() string { return "peer-" + string(d.id) }
func (d *fakeDownStream) Username() string { return "bob" }

func (d *fakeDownStream) OnClose(fn func(bool)) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

func (d *fakeDownStream) OnError(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

func (d *fakeDownStream) OnTrack(fn func(domain.TrackKind)) {
	d.mu.Lock()
	d.onTrack = fn
	d.mu.Unlock()
}

func (d *fakeDownStream) fireClose(replace bool) {
	d.mu.Lock()
	fn := d.onClose
	d.mu.Unlock()
	fn(replace)
}

func (d *fakeDownStream) fireTrack(kind domain.TrackKind) {
	d.mu.Lock()
	fn := d.onTrack
	d.mu.Unlock()
	fn(kind)
}

func (d *fakeDownStream) fireError(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	fn(err)
}

func (d *fakeDownStream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDownStream) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeConn struct {
	mu         sync.Mutex
	handlers   ports.SignalingHandlers
	id         domain.ConnectionID
	connectErr error
	joins      []string
	requests   []domain.AcceptMode
	closed     int
	nextUp     int
	ups        []*fakeUpStream
	upErr      error
	addErr     error
	log        *callLog
}

func (c *fakeConn) Connect(context.Context, string) error { return c.connectErr }
func (c *fakeConn) ID() domain.ConnectionID { return c.id }
func (c *fakeConn) Permissions() domain.Permissions { return domain.Permissions{} }

func (c *fakeConn) Join(group, username string, _ domain.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, group+"/"+username)
	return nil
}

func (c *fakeConn) Request(mode domain.AcceptMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, mode)
	return nil
}

func (c *fakeConn) NewUpStream(id domain.StreamID) (ports.UpStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upErr != nil {
		return nil, c.upErr
	}
	if id == "" {
		c.nextUp++
		id = domain.StreamID(fmt.Sprintf("up-%d", c.nextUp))
	}
	up := &fakeUpStream{id: id, labels: make(map[domain.TrackID]string), addErr: c.addErr, log: c.log}
	c.ups = append(c.ups, up)
	return up, nil
}

// Close behaves like a socket: the close event follows.
func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	onClose := c.handlers.OnClose
	c.mu.Unlock()
	if onClose != nil {
		onClose(domain.NormalClosure, "")
	}
	return nil
}

func (c *fakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Ups() []*fakeUpStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeUpStream(nil), c.ups...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  func() *fakeConn
}

func (d *fakeDialer) NewConnection(h ports.SignalingHandlers) ports.SignalingConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{id: domain.ConnectionID(fmt.Sprintf("conn-%d", len(d.conns)+1))}
	if d.next != nil {
		c = d.next()
	}
	c.handlers = h
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeProvider struct {
	mu           sync.Mutex
	devices      []domain.DeviceInfo
	enumErr      error
	userMedia    func() ports.MediaStream
	userErr      error
	userCalls    int
	constraints  []domain.MediaConstraints
	gate         chan struct{}
	display      bool
	displayMedia ports.MediaStream
	fileMedia    ports.MediaStream
}

func (p *fakeProvider) EnumerateDevices(context.Context) ([]domain.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DeviceInfo(nil), p.devices...), p.enumErr
}

func (p *fakeProvider) GetUserMedia(_ context.Context, c domain.MediaConstraints) (ports.MediaStream, error) {
	p.mu.Lock()
	p.userCalls++
	p.constraints = append(p.constraints, c)
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if p.userErr != nil {
		return nil, p.userErr
	}
	return p.userMedia(), nil
}

func (p *fakeProvider) UserCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userCalls
}

func (p *fakeProvider) GetDisplayMedia(context.Context) (ports.MediaStream, error) {
	return p.displayMedia, nil
}

func (p *fakeProvider) SupportsDisplayCapture() bool { return p.display }

func (p *fakeProvider) OpenFile(_ context.Context, source string) (ports.MediaStream, error) {
	if p.fileMedia == nil {
		return nil, fmt.Errorf("no such file %s", source)
	}
	return p.fileMedia, nil
}

type mockNavigator struct {
	mock.Mock
}

func (m *mockNavigator) Navigate(target string) {
	m.Called(target)
}

// recordingRegistry logs the mutating calls of the wrapped registry.
type recordingRegistry struct {
	ports.StreamRegistry
	log *callLog
}

func (r *recordingRegistry) Unindex(kind domain.KindName, id domain.StreamID) error {
	r.log.add("unindex %s", id)
	return r.StreamRegistry.Unindex(kind, id)
}

func (r *recordingRegistry) Remove(id domain.StreamID) error {
	r.log.add("remove %s", id)
	return r.StreamRegistry.Remove(id)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	logger    *zap.SugaredLogger
	loop      *EventLoop
	bus       *EventBus
	notifier  *NotificationService
	registry  *memory.StreamRegistry
	store     *state.Store
	devices   *DeviceService
	bandwidth *BandwidthService
	upstream  *UpstreamService
	session   *SessionService
	dialer    *fakeDialer
	provider  *fakeProvider
	navigator *mockNavigator
	log       *callLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:         t,
		ctx:       ctx,
		logger:    zap.NewNop().Sugar(),
		dialer:    &fakeDialer{},
		navigator: &mockNavigator{},
		log:       &callLog{},
	}
	h.provider = &fakeProvider{
		devices: []domain.DeviceInfo{
			{DeviceID: "cam0", Kind: domain.DeviceVideoInput},
			{DeviceID: "mic0", Kind: domain.DeviceAudioInput, Label: "Built-in"},
		},
		userMedia: func() ports.MediaStream {
			return newMedia(newTrack("a", domain.TrackAudio), newTrack("v", domain.TrackVideo))
		},
	}

	h.loop = NewEventLoop(h.logger)
	go func() { _ = h.loop.Run(ctx) }()

	h.bus = NewEventBus(h.logger)
	h.notifier = NewNotificationService(h.bus, NoopMetrics{}, h.logger, time.Minute)
	h.registry = memory.NewStreamRegistry(h.logger)
	h.store = state.NewStore("public", "alice", domain.Credentials{Password: "secret"})
	h.devices = NewDeviceService(h.provider, h.notifier, h.logger)
	h.bandwidth = NewBandwidthService(h.notifier, NoopMetrics{}, h.logger)
	h.upstream = NewUpstreamService(&recordingRegistry{StreamRegistry: h.registry, log: h.log},
		h.bandwidth, h.notifier, h.bus, h.loop, NoopMetrics{}, h.logger)
	h.session = NewSessionService(h.loop, h.store, h.registry, h.upstream, h.devices, h.notifier, h.bus,
		h.dialer, h.provider, h.navigator, NoopMetrics{}, h.logger, SessionOptions{
			Accept:     domain.AcceptEverything,
			Tier:       domain.TierNormal,
			Resolution: domain.ResolutionDefault,
			Presence:   domain.Presence{Camera: true, Microphone: true},
		})

	t.Cleanup(func() {
		h.session.Close()
		h.notifier.Close()
		cancel()
	})
	return h
}

// sync waits until everything posted so far has run.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(h.ctx, func() {}))
}

// onLoop runs fn on the loop and waits for it.
func (h *harness) onLoop(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(h.ctx, fn))
}

// connect dials a fresh fake connection and delivers the connected event.
func (h *harness) connect() *fakeConn {
	h.t.Helper()
	require.NoError(h.t, h.session.Connect(h.ctx, "ws://galene.test/ws"))
	conn := h.dialer.last()
	conn.log = h.log
	conn.handlers.OnConnected()
	h.sync()
	return conn
}

func (h *harness) messages() []string {
	var out []string
	for _, n := range h.notifier.Active() {
		out = append(out, n.Message)
	}
	return out
}
