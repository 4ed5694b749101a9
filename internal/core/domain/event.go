package domain

// EventType names an event on the session bus.
type EventType string

const (
	EventUserAdded           EventType = "user.added"
	EventUserChanged         EventType = "user.changed"
	EventUserDeleted         EventType = "user.deleted"
	EventStreamAdded         EventType = "stream.added"
	EventStreamRemoved       EventType = "stream.removed"
	EventNotificationPosted  EventType = "notification.posted"
	EventNotificationExpired EventType = "notification.expired"
	EventSessionConnected    EventType = "session.connected"
	EventSessionJoined       EventType = "session.joined"
	EventSessionClosed       EventType = "session.closed"
)

// Event is the closed set of session events. Only the variants below satisfy it.
type Event interface {
	Type() EventType
	isEvent()
}

type UserEvent struct {
	Action UserAction `json:"action"`
	User   User       `json:"user"`
}

type StreamEvent struct {
	Removed   bool      `json:"removed"`
	StreamID  StreamID  `json:"stream_id"`
	Direction Direction `json:"direction"`
	Kind      KindName  `json:"kind"`
}

type NotificationEvent struct {
	Expired      bool         `json:"expired"`
	Notification Notification `json:"notification"`
}

type ConnectionEvent struct {
	Connected bool        `json:"connected"`
	Joined    JoinKind    `json:"joined,omitempty"`
	Group     string      `json:"group,omitempty"`
	Perms     Permissions `json:"permissions"`
	Code      int         `json:"code,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

func (e UserEvent) Type() EventType {
	switch e.Action {
	case UserAdd:
		return EventUserAdded
	case UserDelete:
		return EventUserDeleted
	}
	return EventUserChanged
}

func (e StreamEvent) Type() EventType {
	if e.Removed {
		return EventStreamRemoved
	}
	return EventStreamAdded
}

func (e NotificationEvent) Type() EventType {
	if e.Expired {
		return EventNotificationExpired
	}
	return EventNotificationPosted
}

func (e ConnectionEvent) Type() EventType {
	switch {
	case !e.Connected:
		return EventSessionClosed
	case e.Joined != "":
		return EventSessionJoined
	}
	return EventSessionConnected
}

func (UserEvent) isEvent() {}
func (StreamEvent) isEvent() {}
func (NotificationEvent) isEvent() {}
func (ConnectionEvent) isEvent() {}
