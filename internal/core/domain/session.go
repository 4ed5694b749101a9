package domain

import "time"

// ConnectionID is the identity the client announces in the handshake.
type ConnectionID string

// NormalClosure is the websocket close code of an orderly shutdown.
const NormalClosure = 1000

// RecordingUsername marks the server-side recorder in the roster.
const RecordingUsername = "RECORDING"

type Credentials struct {
	Password string
	Token    string
}

// Permissions granted by the server on join.
type Permissions struct {
	Present bool `json:"present"` // may publish media
	Op      bool `json:"op"`      // privileged operator
	Record  bool `json:"record"`
}

// PermissionsFromList decodes the permission names sent by the server.
func PermissionsFromList(perms []string) Permissions {
	var p Permissions
	for _, name := range perms {
		switch name {
		case "present":
			p.Present = true
		case "op":
			p.Op = true
		case "record":
			p.Record = true
		}
	}
	return p
}

// JoinKind is the outcome carried by a joined event.
type JoinKind string

const (
	JoinFail     JoinKind = "fail"
	JoinRedirect JoinKind = "redirect"
	JoinLeave    JoinKind = "leave"
	JoinJoin     JoinKind = "join"
	JoinChange   JoinKind = "change"
)

type UserAction string

const (
	UserAdd    UserAction = "add"
	UserChange UserAction = "change"
	UserDelete UserAction = "delete"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type ChatMessage struct {
	Source   string    `json:"source"`
	Username string    `json:"username"`
	Dest     string    `json:"dest,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Value    string    `json:"value"`
	Time     time.Time `json:"time"`
}

// AcceptMode selects which remote media the client asks the server to send.
type AcceptMode string

const (
	AcceptEverything  AcceptMode = "everything"
	AcceptAudio       AcceptMode = "audio"
	AcceptScreenShare AcceptMode = "screenshare"
	AcceptNothing     AcceptMode = "nothing"
)

// Request expands the mode into the per-label media request sent to the server.
func (a AcceptMode) Request() map[string][]string {
	switch a {
	case AcceptAudio:
		return map[string][]string{"": {"audio"}}
	case AcceptScreenShare:
		return map[string][]string{"": {"audio"}, "screenshare": {"audio", "video"}}
	case AcceptNothing:
		return map[string][]string{}
	default:
		return map[string][]string{"": {"audio", "video"}}
	}
}
