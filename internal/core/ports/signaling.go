package ports

import (
	"context"

	"pyrite/internal/core/domain"
)

// SignalingHandlers receives events from a signaling connection. Callbacks are
// invoked from the connection's reader goroutine, one at a time and in
// arrival order.
type SignalingHandlers struct {
	OnConnected   func()
	OnClose       func(code int, reason string)
	OnDownStream  func(down DownStream)
	OnUser        func(id string, action domain.UserAction, username string)
	OnJoined      func(kind domain.JoinKind, group string, perms domain.Permissions, message string)
	OnUserMessage func(d domain.Directive)
	OnChat        func(m domain.ChatMessage)
}

// SignalingConnection is one session with the group server.
type SignalingConnection interface {
	// Connect dials url and completes the handshake.
	Connect(ctx context.Context, url string) error
	ID() domain.ConnectionID
	Join(group, username string, creds domain.Credentials) error
	Request(mode domain.AcceptMode) error
	// NewUpStream allocates an outbound stream. An empty id asks for a fresh one.
	NewUpStream(id domain.StreamID) (UpStream, error)
	Permissions() domain.Permissions
	Close() error
}

// SignalingDialer builds connections bound to a set of handlers.
type SignalingDialer interface {
	NewConnection(handlers SignalingHandlers) SignalingConnection
}

// UpStream is the transport handle of an outbound stream.
type UpStream interface {
	ID() domain.StreamID
	AddTrack(track Track) error
	SetLabel(trackID domain.TrackID, label string)
	Senders() []Sender
	OnError(func(err error))
	OnAbort(func())
	OnNegotiationCompleted(func())
	Close() error
}

// Sender is one outbound RTP sender of an up-stream.
type Sender interface {
	// Kind of the attached track, empty when no track is attached.
	Kind() domain.TrackKind
	Parameters() domain.SendParameters
	SetParameters(ctx context.Context, params domain.SendParameters) error
}

// DownStream is the transport handle of an inbound stream.
type DownStream interface {
	ID() domain.StreamID
	Source() string
	Username() string
	OnClose(func(replace bool))
	OnError(func(err error))
	OnTrack(func(kind domain.TrackKind))
	Close() error
}
