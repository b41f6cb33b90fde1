// Package history turns a session's turns into a provider-safe message list.
package history

import (
	"strings"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

const (
	// DefaultMaxTurns bounds the number of messages sent per request.
	DefaultMaxTurns = 20
	// DefaultMaxChars bounds a single message, in runes.
	DefaultMaxChars = 4000
	// Separator joins merged same-role messages.
	Separator = "\n\n"
	// TruncationMarker is appended to a cut message.
	TruncationMarker = " …[truncated]"
)

// Options controls normalization for one target provider.
type Options struct {
	// UserFirst requires the first non-system message to be a user turn.
	UserFirst bool
	MaxTurns  int // 0 means DefaultMaxTurns
	MaxChars  int // 0 means DefaultMaxChars
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.MaxTurns < 2 {
		o.MaxTurns = 2
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	return o
}

// Normalize returns a request-ready copy of turns. It is pure and
// idempotent: Normalize(Normalize(x)) == Normalize(x) for the same options.
//
// Steps, in order: coerce roles, fold every turn ahead of the first user
// turn into one system preamble when an assistant is among them (UserFirst
// only), merge same-role runs, keep the last MaxTurns messages with the
// leading system preamble pinned, merge again at the window edge, truncate
// each message.
func Normalize(turns []types.Turn, opts Options) []types.Turn {
	opts = opts.withDefaults()

	out := coerce(turns)
	if opts.UserFirst {
		out = foldLeadingAssistant(out)
	}
	out = collapse(out)
	out = window(out, opts.MaxTurns, opts.UserFirst)
	out = collapse(out)
	for i := range out {
		out[i].Content = Truncate(out[i].Content, opts.MaxChars)
	}
	return out
}

// coerce copies turns with roles trimmed and lower-cased. Unknown roles
// become user.
func coerce(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	for _, t := range turns {
		role := types.Role(strings.ToLower(strings.TrimSpace(string(t.Role))))
		if !role.Valid() {
			role = types.RoleUser
		}
		out = append(out, types.Turn{Role: role, Content: t.Content})
	}
	return out
}

// foldLeadingAssistant folds everything before the first user turn into a
// single system preamble when that prefix holds an assistant turn. System
// turns keep their place in the preamble; each assistant run becomes an
// "opened the conversation" note.
func foldLeadingAssistant(turns []types.Turn) []types.Turn {
	first := len(turns)
	hasAssistant := false
	for i, t := range turns {
		if t.Role == types.RoleUser {
			first = i
			break
		}
		if t.Role == types.RoleAssistant {
			hasAssistant = true
		}
	}
	if !hasAssistant {
		return turns
	}

	var (
		preamble string
		folded   []string
	)
	flush := func() {
		if len(folded) > 0 {
			preamble = joinContent(preamble, "You opened the conversation by saying: "+strings.Join(folded, Separator))
			folded = nil
		}
	}
	for _, t := range turns[:first] {
		if t.Role == types.RoleAssistant {
			if t.Content != "" {
				folded = append(folded, t.Content)
			}
			continue
		}
		flush()
		preamble = joinContent(preamble, t.Content)
	}
	flush()

	out := make([]types.Turn, 0, len(turns)-first+1)
	out = append(out, types.SystemTurn(preamble))
	return append(out, turns[first:]...)
}

// collapse merges runs of same-role turns.
func collapse(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	for _, t := range turns {
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content = joinContent(out[n-1].Content, t.Content)
			continue
		}
		out = append(out, t)
	}
	return out
}

func joinContent(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + Separator + b
	}
}

// window keeps the last max turns. A leading system turn is pinned and
// counts toward max. For user-first providers, assistant turns ahead of the
// first user turn in the window are dropped; system turns there are kept.
func window(turns []types.Turn, max int, userFirst bool) []types.Turn {
	var head []types.Turn
	body := turns
	if len(turns) > 0 && turns[0].Role == types.RoleSystem {
		head, body = turns[:1], turns[1:]
	}

	if len(head)+len(body) > max {
		body = body[len(body)-(max-len(head)):]
	}
	if userFirst {
		body = dropLeadingAssistant(body)
	}

	out := make([]types.Turn, 0, len(head)+len(body))
	out = append(out, head...)
	return append(out, body...)
}

// dropLeadingAssistant removes assistant turns that precede the first user
// turn.
func dropLeadingAssistant(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	seenUser := false
	for _, t := range turns {
		if t.Role == types.RoleUser {
			seenUser = true
		}
		if !seenUser && t.Role == types.RoleAssistant {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Truncate cuts s to max runes plus TruncationMarker. A string of exactly
// max runes is returned unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}
