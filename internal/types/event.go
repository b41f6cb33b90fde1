package types

import (
	"strconv"
	"time"
)

// EventKind identifies what triggered an inbound event.
type EventKind string

const (
	EventStart  EventKind = "start"  // /start command
	EventText   EventKind = "text"   // any other text message
	EventButton EventKind = "button" // inline button press
)

// ActionStartInvestigation is the callback data of the start button.
const ActionStartInvestigation = "START_INVESTIGATION"

// Sender is the profile of the user who produced an event.
type Sender struct {
	ID        int64
	IsBot     bool
	FirstName string
	LastName  string
	Username  string
	Locale    string
}

// Chat describes where the event happened.
type Chat struct {
	ID    int64
	Type  string // "private", "group", ...
	Title string
}

// Event is a transport-neutral inbound event.
//
// Channels (telegram) build these from their native updates; the gateway
// consumes them without knowing which transport produced them.
type Event struct {
	Kind      EventKind
	Sender    Sender
	Chat      Chat
	MessageID int
	SentAt    time.Time
	Text      string
	Action    string // button callback data, only for EventButton
}

// UserKey is the session/lock key for the event's user.
func (e *Event) UserKey() string {
	return strconv.FormatInt(e.Sender.ID, 10)
}
