package signal

import (
	"encoding/json"
	"strconv"
	"time"

	"pyrite/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

const protocolVersion = "2"

// message is the JSON envelope of the group server protocol. Every message
// type uses a subset of the fields.
type message struct {
	Type        string                   `json:"type"`
	Version     []string                 `json:"version,omitempty"`
	Kind        string                   `json:"kind,omitempty"`
	ID          string                   `json:"id,omitempty"`
	Replace     string                   `json:"replace,omitempty"`
	Source      string                   `json:"source,omitempty"`
	Dest        string                   `json:"dest,omitempty"`
	Username    string                   `json:"username,omitempty"`
	Password    string                   `json:"password,omitempty"`
	Token       string                   `json:"token,omitempty"`
	Privileged  bool                     `json:"privileged,omitempty"`
	Permissions []string                 `json:"permissions,omitempty"`
	Group       string                   `json:"group,omitempty"`
	Value       json.RawMessage          `json:"value,omitempty"`
	NoEcho      bool                     `json:"noecho,omitempty"`
	Time        json.RawMessage          `json:"time,omitempty"`
	SDP         string                   `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Label       string                   `json:"label,omitempty"`
	Labels      map[string]string        `json:"labels,omitempty"`
	Request     map[string][]string      `json:"request,omitempty"`
}

// text returns Value as a string; non-string values are returned as JSON.
func (m *message) text() string {
	if len(m.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s
	}
	return string(m.Value)
}

// timestamp accepts both millisecond numbers and RFC 3339 strings.
func (m *message) timestamp() time.Time {
	if len(m.Time) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(m.Time, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Time{}
	}
	ms, err := strconv.ParseInt(string(m.Time), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (m *message) directive() domain.Directive {
	return domain.Directive{
		Source:     m.Source,
		Dest:       m.Dest,
		Username:   m.Username,
		Time:       m.timestamp(),
		Privileged: m.Privileged,
		Kind:       domain.ParseDirectiveKind(m.Kind),
		RawKind:    m.Kind,
		Message:    m.text(),
	}
}

func (m *message) chat() domain.ChatMessage {
	return domain.ChatMessage{
		Source:   m.Source,
		Username: m.Username,
		Dest:     m.Dest,
		Kind:     m.Kind,
		Value:    m.text(),
		Time:     m.timestamp(),
	}
}

// streamLabel names an outbound stream after its track labels.
func streamLabel(labels map[domain.TrackID]string) string {
	for _, l := range labels {
		if l == "screenshare" {
			return "screenshare"
		}
	}
	return "camera"
}
