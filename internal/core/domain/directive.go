package domain

import "time"

// DirectiveKind is the closed set of user-message kinds the session reacts to.
type DirectiveKind int

const (
	DirectiveUnknown DirectiveKind = iota
	DirectiveError
	DirectiveWarning
	DirectiveInfo
	DirectiveMute
	DirectiveClearChat
)

func ParseDirectiveKind(s string) DirectiveKind {
	switch s {
	case "error":
		return DirectiveError
	case "warning":
		return DirectiveWarning
	case "info":
		return DirectiveInfo
	case "mute":
		return DirectiveMute
	case "clearchat":
		return DirectiveClearChat
	}
	return DirectiveUnknown
}

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveError:
		return "error"
	case DirectiveWarning:
		return "warning"
	case DirectiveInfo:
		return "info"
	case DirectiveMute:
		return "mute"
	case DirectiveClearChat:
		return "clearchat"
	}
	return "unknown"
}

// Directive is a user message as delivered by the signaling layer.
type Directive struct {
	// Source is the sender's connection id; empty when the server itself speaks.
	Source     string
	Dest       string
	Username   string
	Time       time.Time
	Privileged bool
	Kind       DirectiveKind
	RawKind    string
	Message    string
}

// From names the sender the way it is shown to the user.
func (d Directive) From() string {
	if d.Source == "" {
		return "The Server"
	}
	if d.Username == "" {
		return "Anonymous"
	}
	return d.Username
}
