package services

import (
	"context"
	"fmt"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	"pyrite/internal/core/state"
	apperrors "pyrite/pkg/errors"
	"pyrite/pkg/tracing"

	"go.uber.org/zap"
)

// SessionOptions are the user preferences the session starts with.
type SessionOptions struct {
	Accept     domain.AcceptMode
	Tier       domain.UpstreamTier
	Resolution domain.Resolution
	Presence   domain.Presence
}

// SessionSnapshot is a consistent copy of everything the UI shows.
type SessionSnapshot struct {
	State         state.Snapshot                        `json:"state"`
	Streams       []*domain.StreamRecord                `json:"streams"`
	UpMedia       map[domain.KindName][]domain.StreamID `json:"up_media"`
	Notifications []domain.Notification                 `json:"notifications"`
	Tier          domain.UpstreamTier                   `json:"tier"`
}

// SessionService owns the signaling connection and reacts to its events.
// Event handlers run on the event loop; the exported methods may be called
// from any goroutine other than the loop itself.
type SessionService struct {
	loop      *EventLoop
	store     *state.Store
	registry  ports.StreamRegistry
	upstream  *UpstreamService
	devices   *DeviceService
	notifier  *NotificationService
	bus       *EventBus
	dialer    ports.SignalingDialer
	provider  ports.MediaCaptureProvider
	navigator ports.Navigator
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned
	accept      domain.AcceptMode
	conn        ports.SignalingConnection
	generation  uint64
	acquireSeq  uint64
	localMedia  ports.MediaStream
	downs       map[domain.StreamID]ports.DownStream
	recorderIDs map[string]bool
}

func NewSessionService(
	loop *EventLoop,
	store *state.Store,
	registry ports.StreamRegistry,
	upstream *UpstreamService,
	devices *DeviceService,
	notifier *NotificationService,
	bus *EventBus,
	dialer ports.SignalingDialer,
	provider ports.MediaCaptureProvider,
	navigator ports.Navigator,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	opts SessionOptions,
) *SessionService {
	ctx, cancel := context.WithCancel(context.Background())

	upstream.SetTier(opts.Tier)
	upstream.SetResolution(opts.Resolution)
	upstream.SetMicrophoneEnabled(opts.Presence.Microphone)
	_ = devices.SetResolution(opts.Resolution)
	_ = devices.SetEnabled(domain.DeviceVideoInput, opts.Presence.Camera)
	_ = devices.SetEnabled(domain.DeviceAudioInput, opts.Presence.Microphone)

	accept := opts.Accept
	if accept == "" {
		accept = domain.AcceptEverything
	}

	return &SessionService{
		loop:        loop,
		store:       store,
		registry:    registry,
		upstream:    upstream,
		devices:     devices,
		notifier:    notifier,
		bus:         bus,
		dialer:      dialer,
		provider:    provider,
		navigator:   navigator,
		metrics:     metrics,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		accept:      accept,
		downs:       make(map[domain.StreamID]ports.DownStream),
		recorderIDs: make(map[string]bool),
	}
}

// Close cancels background work started by the session.
func (s *SessionService) Close() {
	s.cancel()
}

// Connect replaces any prior connection with a new one to url and waits for
// the handshake. Failures are notified and returned; there is no retry.
func (s *SessionService) Connect(ctx context.Context, url string) error {
	ctx, span := tracing.TraceSignaling(ctx, "connect", s.store.Group())
	defer span.End()

	var (
		conn ports.SignalingConnection
		gen  uint64
	)
	if err := s.loop.Call(ctx, func() {
		s.closePrior()
		s.generation++
		gen = s.generation
		conn = s.dialer.NewConnection(s.handlers(gen))
		s.conn = conn
		s.upstream.SetConnection(conn)
	}); err != nil {
		return err
	}

	s.logger.Infow("connecting", "url", url)
	if err := conn.Connect(ctx, url); err != nil {
		transportErr := apperrors.NewTransportError(fmt.Sprintf("Couldn't connect to %s", url), err)
		tracing.RecordError(ctx, transportErr)
		s.logger.Warnw("connect failed", "url", url, "error", err)
		s.notifier.Error(fmt.Sprintf("%s: %v", transportErr.Message, err))
		s.metrics.RecordConnectionState(false)
		return transportErr
	}
	return nil
}

// closePrior drops every trace of the previous connection.
func (s *SessionService) closePrior() {
	if s.conn == nil {
		return
	}
	s.logger.Debugw("closing previous connection", "connection_id", s.conn.ID())
	s.acquireSeq++
	s.upstream.DelUpMediaKind("")
	s.dropDownStreams()
	if err := s.conn.Close(); err != nil {
		s.logger.Warnw("closing previous connection failed", "error", err)
	}
	s.conn = nil
	s.upstream.SetConnection(nil)
	s.store.SetConnected(false)
}

// handlers binds signaling callbacks to connection generation gen. Events
// from an older connection are dropped on the loop.
func (s *SessionService) handlers(gen uint64) ports.SignalingHandlers {
	post := func(event string, fn func()) {
		s.loop.Post(func() {
			if gen != s.generation {
				s.logger.Debugw("dropping event from stale connection", "event", event, "generation", gen)
				return
			}
			fn()
		})
	}

	return ports.SignalingHandlers{
		OnConnected: func() {
			post("connected", s.onConnected)
		},
		OnClose: func(code int, reason string) {
			post("close", func() { s.onClose(code, reason) })
		},
		OnDownStream: func(down ports.DownStream) {
			post("downstream", func() { s.onDownStream(down) })
		},
		OnUser: func(id string, action domain.UserAction, username string) {
			post("user", func() { s.onUser(id, action, username) })
		},
		OnJoined: func(kind domain.JoinKind, group string, perms domain.Permissions, message string) {
			post("joined", func() { s.onJoined(kind, group, perms, message) })
		},
		OnUserMessage: func(d domain.Directive) {
			post("usermessage", func() { s.onUserMessage(d) })
		},
		OnChat: func(m domain.ChatMessage) {
			post("chat", func() { s.store.AppendChat(m) })
		},
	}
}

func (s *SessionService) onConnected() {
	s.store.SetConnectionID(s.conn.ID())
	group := s.store.Group()
	username, creds := s.store.Login()

	s.logger.Infow("joining group", "group", group, "connection_id", s.conn.ID())
	if err := s.conn.Join(group, username, creds); err != nil {
		s.logger.Errorw("join failed", "group", group, "error", err)
		s.notifier.Error(apperrors.NewTransportError("couldn't join "+group, err).Message)
		return
	}
	s.store.SetConnected(true)
	s.metrics.RecordConnectionState(true)
	s.bus.Publish(domain.ConnectionEvent{Connected: true, Group: group})
}

func (s *SessionService) onJoined(kind domain.JoinKind, group string, perms domain.Permissions, message string) {
	s.logger.Infow("joined", "kind", kind, "group", group, "permissions", perms)
	s.metrics.RecordJoin(kind)

	switch kind {
	case domain.JoinFail:
		s.notifier.Error("The server said: " + message)
		s.closeConnection()
		return
	case domain.JoinRedirect:
		s.closeConnection()
		s.navigator.Navigate(message)
		return
	case domain.JoinLeave:
		s.closeConnection()
		return
	case domain.JoinChange:
		s.store.SetPermissions(perms)
		s.bus.Publish(domain.ConnectionEvent{Connected: true, Joined: kind, Group: group, Perms: perms})
		return
	case domain.JoinJoin:
		s.store.SetPermissions(perms)
		s.bus.Publish(domain.ConnectionEvent{Connected: true, Joined: kind, Group: group, Perms: perms})
	default:
		protoErr := apperrors.NewProtocolError("Unknown join message").WithContext("kind", string(kind))
		s.logger.Warnw("unknown join kind", "kind", kind, "error", protoErr)
		s.notifier.Error(protoErr.Message)
		s.closeConnection()
		return
	}

	s.logger.Infow("acceptable media types", "accept", s.accept)
	if err := s.conn.Request(s.accept); err != nil {
		s.logger.Warnw("media request failed", "error", err)
	}

	if perms.Present {
		if _, exists := s.upstream.FindUpMedia(domain.KindNameLocal); !exists {
			presence := s.devices.Presence()
			seq, gen := s.beginAcquisition()
			go func() {
				_, _ = s.acquire(s.ctx, seq, gen, &presence)
			}()
		}
	}
}

// closeConnection closes the socket; teardown follows from the close event.
// In-flight acquisitions are invalidated right away.
func (s *SessionService) closeConnection() {
	s.acquireSeq++
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warnw("closing connection failed", "error", err)
	}
}

func (s *SessionService) onClose(code int, reason string) {
	s.logger.Infow("connection closed", "code", code, "reason", reason)
	s.acquireSeq++
	s.store.SetConnected(false)
	s.upstream.DelUpMediaKind("")
	s.dropDownStreams()
	s.metrics.RecordConnectionState(false)

	s.notifier.Error("Disconnected")
	if code != domain.NormalClosure {
		s.notifier.Error(fmt.Sprintf("Socket close %d: %s", code, reason))
	}
	s.bus.Publish(domain.ConnectionEvent{Connected: false, Code: code, Reason: reason})
}

func (s *SessionService) onDownStream(down ports.DownStream) {
	id := down.ID()
	s.logger.Infow("new downstream", "stream_id", id, "source", down.Source(), "username", down.Username())

	if err := s.registry.Add(domain.NewStreamRecord(id, domain.DirectionDown, domain.RemoteKind{})); err != nil {
		_ = down.Close()
		return
	}
	s.downs[id] = down

	down.OnClose(func(replace bool) {
		s.loop.Post(func() {
			if s.downs[id] != down {
				return
			}
			// A replaced stream's successor arrives under its own id.
			s.logger.Debugw("downstream closed", "stream_id", id, "replaced", replace)
			s.removeDownStream(id)
		})
	})
	down.OnError(func(err error) {
		s.loop.Post(func() {
			message := fmt.Sprintf("[onerror] downstream %s", id)
			s.logger.Infow(message, "error", err)
			s.notifier.Error(message)
		})
	})
	down.OnTrack(func(kind domain.TrackKind) {
		s.loop.Post(func() {
			if s.downs[id] != down {
				return
			}
			_ = s.registry.Update(id, func(r *domain.StreamRecord) {
				switch kind {
				case domain.TrackAudio:
					r.HasAudio = true
				case domain.TrackVideo:
					r.HasVideo = true
				}
			})
		})
	})

	s.metrics.RecordStreamOpened(domain.DirectionDown, domain.KindNameRemote)
	s.bus.Publish(domain.StreamEvent{StreamID: id, Direction: domain.DirectionDown, Kind: domain.KindNameRemote})
}

func (s *SessionService) removeDownStream(id domain.StreamID) {
	delete(s.downs, id)
	if err := s.registry.Remove(id); err != nil {
		return
	}
	s.metrics.RecordStreamClosed(domain.DirectionDown, domain.KindNameRemote)
	s.bus.Publish(domain.StreamEvent{Removed: true, StreamID: id, Direction: domain.DirectionDown, Kind: domain.KindNameRemote})
}

func (s *SessionService) dropDownStreams() {
	for id, down := range s.downs {
		_ = down.Close()
		s.removeDownStream(id)
	}
}

func (s *SessionService) onUser(id string, action domain.UserAction, username string) {
	user := domain.User{ID: id, Username: username}

	switch action {
	case domain.UserAdd:
		if username == domain.RecordingUsername {
			s.recorderIDs[id] = true
			s.store.SetRecording(true)
			return
		}
		s.store.AddUser(user)
	case domain.UserChange:
		if !s.store.UpdateUser(user) {
			s.logger.Debugw("change for unknown user", "user_id", id)
			return
		}
	case domain.UserDelete:
		if s.recorderIDs[id] || username == domain.RecordingUsername {
			delete(s.recorderIDs, id)
			s.store.SetRecording(len(s.recorderIDs) > 0)
			return
		}
		if !s.store.RemoveUser(id) {
			s.logger.Debugw("delete for unknown user", "user_id", id)
			return
		}
	default:
		s.logger.Warnw("unknown user action", "action", action, "user_id", id)
		return
	}
	s.bus.Publish(domain.UserEvent{Action: action, User: user})
}

// onUserMessage applies a directive. Only server-asserted privileged
// messages have any effect.
func (s *SessionService) onUserMessage(d domain.Directive) {
	s.metrics.RecordDirective(d.Kind, d.Privileged)
	if d.Kind != domain.DirectiveUnknown && !d.Privileged {
		s.logger.Debugw("ignoring unprivileged directive", "kind", d.Kind, "source", d.Source)
		return
	}

	switch d.Kind {
	case domain.DirectiveError:
		s.notifier.Notify(domain.LevelError, fmt.Sprintf("%s said: %s", d.From(), d.Message), 0)
	case domain.DirectiveWarning:
		s.notifier.Notify(domain.LevelWarning, fmt.Sprintf("%s said: %s", d.From(), d.Message), 0)
	case domain.DirectiveInfo:
		s.notifier.Notify(domain.LevelInfo, fmt.Sprintf("%s said: %s", d.From(), d.Message), 0)
	case domain.DirectiveMute:
		s.upstream.MuteLocalTracks(true)
		s.upstream.SetMicrophoneEnabled(false)
		_ = s.devices.SetEnabled(domain.DeviceAudioInput, false)
		message := "You have been muted"
		if d.Username != "" {
			message += " by " + d.Username
		}
		s.notifier.Warning(message)
	case domain.DirectiveClearChat:
		s.store.ClearChat()
	case domain.DirectiveUnknown:
		s.logger.Debugw("unhandled user message", "kind", d.RawKind, "source", d.Source)
	}
}

// beginAcquisition claims a new acquisition sequence number on the loop.
func (s *SessionService) beginAcquisition() (seq, gen uint64) {
	s.acquireSeq++
	return s.acquireSeq, s.generation
}

// AcquireLocalMedia captures camera/microphone media according to presence
// (nil uses the stored preference) and publishes it when connected. It
// returns an empty id when nothing was requested or nothing was published.
func (s *SessionService) AcquireLocalMedia(ctx context.Context, presence *domain.Presence) (domain.StreamID, error) {
	var seq, gen uint64
	if err := s.loop.Call(ctx, func() {
		seq, gen = s.beginAcquisition()
	}); err != nil {
		return "", err
	}
	if presence == nil {
		p := s.devices.Presence()
		presence = &p
	}
	return s.acquire(ctx, seq, gen, presence)
}

// acquire runs off the loop. Its continuation re-checks that no newer
// acquisition, disconnect or reconnect happened while capture was pending.
func (s *SessionService) acquire(ctx context.Context, seq, gen uint64, presence *domain.Presence) (domain.StreamID, error) {
	ctx, span := tracing.TraceCapture(ctx, "user_media")
	defer span.End()

	if err := s.devices.Refresh(ctx); err != nil {
		return "", err
	}
	constraints, ok := s.devices.BuildConstraints(presence)
	if !ok {
		return "", nil
	}

	media, err := s.provider.GetUserMedia(ctx, constraints)
	if err != nil {
		capErr := apperrors.NewCaptureError("couldn't access camera or microphone", err)
		tracing.RecordError(ctx, capErr)
		s.logger.Warnw("capture failed", "error", err)
		s.notifier.Error(err.Error())
		s.metrics.RecordCaptureFailure("user_media")
		return "", capErr
	}

	var (
		id      domain.StreamID
		pubErr  error
		applied bool
	)
	callErr := s.loop.Call(ctx, func() {
		if seq != s.acquireSeq || gen != s.generation {
			s.logger.Debugw("dropping superseded capture", "seq", seq, "current", s.acquireSeq)
			return
		}
		applied = true
		if s.localMedia != nil && s.localMedia != media {
			ports.StopAll(s.localMedia)
		}
		s.localMedia = media
		if !s.store.Connected() {
			return
		}
		id, pubErr = s.upstream.CreateLocal(media)
	})
	if callErr != nil || !applied {
		ports.StopAll(media)
		if callErr != nil {
			return "", callErr
		}
		return "", domain.ErrAcquisitionSuperseded
	}
	return id, pubErr
}

// AddShareMedia publishes a screen share. Missing display capture fails
// before anything is registered.
func (s *SessionService) AddShareMedia(ctx context.Context) (domain.StreamID, error) {
	if !s.provider.SupportsDisplayCapture() {
		capErr := apperrors.NewCaptureError("Your system does not support screen sharing", domain.ErrNoDisplayCapture)
		s.notifier.Error(capErr.Message)
		s.metrics.RecordCaptureFailure("display")
		return "", capErr
	}

	ctx, span := tracing.TraceCapture(ctx, "display")
	defer span.End()

	media, err := s.provider.GetDisplayMedia(ctx)
	if err != nil {
		s.notifier.Error(err.Error())
		s.metrics.RecordCaptureFailure("display")
		return "", apperrors.NewCaptureError("couldn't capture display", err)
	}
	return s.publish(ctx, media, func() (domain.StreamID, error) {
		return s.upstream.CreateScreenShare(media)
	})
}

// AddFileMedia publishes the media file at source.
func (s *SessionService) AddFileMedia(ctx context.Context, source string) (domain.StreamID, error) {
	ctx, span := tracing.TraceCapture(ctx, "file")
	defer span.End()

	media, err := s.provider.OpenFile(ctx, source)
	if err != nil {
		s.notifier.Error(err.Error())
		s.metrics.RecordCaptureFailure("file")
		return "", apperrors.NewCaptureError("couldn't open "+source, err)
	}
	return s.publish(ctx, media, func() (domain.StreamID, error) {
		return s.upstream.CreateFileSource(source, media)
	})
}

// publish runs create on the loop if the session is still connected and
// releases media otherwise.
func (s *SessionService) publish(ctx context.Context, media ports.MediaStream, create func() (domain.StreamID, error)) (domain.StreamID, error) {
	var (
		id  domain.StreamID
		err error
	)
	callErr := s.loop.Call(ctx, func() {
		if !s.store.Connected() {
			err = domain.ErrNotConnected
			return
		}
		id, err = create()
	})
	if callErr != nil {
		err = callErr
	}
	if err != nil && id == "" {
		ports.StopAll(media)
	}
	return id, err
}

// RemoveStream tears one up-stream down.
func (s *SessionService) RemoveStream(ctx context.Context, id domain.StreamID) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = s.upstream.DelUpMedia(id) }); callErr != nil {
		return callErr
	}
	return err
}

// RemoveTrack stops the kind tracks of an up-stream.
func (s *SessionService) RemoveTrack(ctx context.Context, id domain.StreamID, kind domain.TrackKind) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = s.upstream.RemoveTrack(id, kind) }); callErr != nil {
		return callErr
	}
	return err
}

// SetMicrophoneEnabled mutes or unmutes local audio and remembers the choice.
func (s *SessionService) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return s.loop.Call(ctx, func() {
		_ = s.devices.SetEnabled(domain.DeviceAudioInput, enabled)
		s.upstream.SetMicrophoneEnabled(enabled)
		s.upstream.MuteLocalTracks(!enabled)
	})
}

// SetUpstreamTier changes the bandwidth tier and re-caps live up-streams.
func (s *SessionService) SetUpstreamTier(ctx context.Context, tier domain.UpstreamTier) error {
	return s.loop.Call(ctx, func() {
		s.logger.Infow("upstream tier changed", "tier", tier, "bps", MaxThroughputFor(tier))
		s.upstream.SetTier(tier)
	})
}

// SetResolution changes the camera resolution used by the next acquisition.
func (s *SessionService) SetResolution(ctx context.Context, r domain.Resolution) error {
	if err := s.devices.SetResolution(r); err != nil {
		return err
	}
	return s.loop.Call(ctx, func() { s.upstream.SetResolution(r) })
}

// Disconnect leaves the group and releases all media. Calling it again is harmless.
func (s *SessionService) Disconnect(ctx context.Context) error {
	return s.loop.Call(ctx, func() {
		s.logger.Infow("disconnecting", "group", s.store.Group())
		wasConnected := s.store.Connected()
		// events still in flight from the old socket are ignored from here on
		s.generation++
		s.acquireSeq++
		s.upstream.DelUpMediaKind("")
		for id, down := range s.downs {
			_ = down.Close()
			delete(s.downs, id)
		}
		s.registry.Clear()
		s.store.ClearUsers()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warnw("closing connection failed", "error", err)
			}
			s.conn = nil
			s.upstream.SetConnection(nil)
		}
		if s.localMedia != nil {
			ports.StopAll(s.localMedia)
			s.localMedia = nil
		}
		s.store.SetConnected(false)
		if wasConnected {
			s.metrics.RecordConnectionState(false)
			s.bus.Publish(domain.ConnectionEvent{Connected: false, Code: domain.NormalClosure})
		}
	})
}

// Snapshot may be called from any goroutine.
func (s *SessionService) Snapshot(ctx context.Context) (SessionSnapshot, error) {
	snap := SessionSnapshot{
		State:         s.store.Snapshot(),
		Streams:       s.registry.List(),
		UpMedia:       make(map[domain.KindName][]domain.StreamID),
		Notifications: s.notifier.Active(),
	}
	for _, k := range domain.UpKindNames {
		snap.UpMedia[k] = s.registry.Indexed(k)
	}
	err := s.loop.Call(ctx, func() { snap.Tier = s.upstream.Tier() })
	return snap, err
}
