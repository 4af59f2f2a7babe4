package types

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is the state of a single request lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Kind classifies failures surfaced by the client core.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidationRejected
	KindTransportFailure
	KindMalformedResponse
	KindChannelDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindValidationRejected:
		return "validation_rejected"
	case KindTransportFailure:
		return "transport_failure"
	case KindMalformedResponse:
		return "malformed_response"
	case KindChannelDisconnected:
		return "channel_disconnected"
	}
	return "unknown"
}

// Error is a classified failure. Raw holds the undecodable payload for
// MalformedResponse errors.
type Error struct {
	Kind Kind
	Msg  string
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Event is a notification received from the push channel.
type Event struct {
	ID         int64
	Message    string
	Category   string
	ReceivedAt time.Time
}

// ConnState is the state of the notification connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Profile is the locally stored student profile sent as user_profile.
type Profile struct {
	Name        string `json:"name"`
	University  string `json:"university,omitempty"`
	HomeCountry string `json:"home_country,omitempty"`
	HostCountry string `json:"host_country,omitempty"`
	Major       string `json:"major,omitempty"`
	Habits      string `json:"habits,omitempty"`
	Interests   string `json:"interests,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Fields returns the profile as a flat field map, used to prefill forms.
func (p Profile) Fields() map[string]string {
	return map[string]string{
		"name":         p.Name,
		"university":   p.University,
		"home_country": p.HomeCountry,
		"host_country": p.HostCountry,
		"major":        p.Major,
		"habits":       p.Habits,
		"interests":    p.Interests,
		"language":     p.Language,
	}
}

// Set assigns a single profile field by its wire name.
func (p *Profile) Set(key, value string) error {
	switch key {
	case "name":
		p.Name = value
	case "university":
		p.University = value
	case "home_country":
		p.HomeCountry = value
	case "host_country":
		p.HostCountry = value
	case "major":
		p.Major = value
	case "habits":
		p.Habits = value
	case "interests":
		p.Interests = value
	case "language":
		p.Language = value
	default:
		return fmt.Errorf("unknown profile field %q", key)
	}
	return nil
}

// Truncate shortens s to at most n bytes without splitting a UTF-8
// sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
