// Package session owns per-user conversation state and derives the
// conversation phase from it.
package session

import (
	"fmt"
	"time"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Phase is the coarse conversation stage.
type Phase string

const (
	PhaseProbing    Phase = "PROBING"
	PhaseConcluding Phase = "CONCLUDING"
)

// DefaultConcludeAfter is the user-turn count at which probing ends.
const DefaultConcludeAfter = 6

// Session is one user's conversation. Values handed out by the Manager are
// copies; mutating them has no effect on the stored session.
type Session struct {
	UserID    string
	Turns     []types.Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserTurns counts the turns sent by the user.
func (s Session) UserTurns() int {
	return types.CountRole(s.Turns, types.RoleUser)
}

func (s *Session) clone() Session {
	c := *s
	c.Turns = types.CloneTurns(s.Turns)
	return c
}

// NoSessionError is returned when a user sends input before starting.
type NoSessionError struct {
	UserID string
}

func (e *NoSessionError) Error() string {
	return fmt.Sprintf("no session for user %s", e.UserID)
}

// PhaseFor maps a user-turn count to a phase: below threshold is probing,
// anything else concluding. There is no third phase.
func PhaseFor(userTurns, threshold int) Phase {
	if threshold <= 0 {
		threshold = DefaultConcludeAfter
	}
	if userTurns < threshold {
		return PhaseProbing
	}
	return PhaseConcluding
}
