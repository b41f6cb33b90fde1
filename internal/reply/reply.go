// Package reply cleans model output for display and picks out the control
// directives the persona prompt asks the model to emit.
package reply

import (
	"fmt"
	"regexp"
	"strings"
)

// Directive is a control instruction embedded in a model reply.
type Directive string

const (
	DirectiveNone     Directive = ""
	DirectiveReset    Directive = "reset_accepted"   // send the scripted plan, end the session
	DirectiveComplete Directive = "session_complete" // send the closing notice, end the session
	DirectiveRestart  Directive = "restart"          // end the session, offer the start button
)

// DefaultConclusionMarker appears in the reply that delivers the final
// outcome. Once such a reply is shown the session is over.
const DefaultConclusionMarker = "7-Day Tactical Reset"

// sentinel matches [[NAME]] with any case and inner whitespace.
var sentinel = regexp.MustCompile(`(?i)\[\[\s*(reset_accepted|session_complete|restart)\s*\]\]`)

// directives in precedence order when a reply carries several.
var directives = []Directive{DirectiveReset, DirectiveComplete, DirectiveRestart}

type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
	// replace, when set, is used instead of replacement.
	replace func(match string) string
}

func (r rule) apply(text string) string {
	if r.replace != nil {
		return r.pattern.ReplaceAllStringFunc(text, r.replace)
	}
	return r.pattern.ReplaceAllString(text, r.replacement)
}

// rules run in order over the raw text.
var rules = []rule{
	{"sentinels", sentinel, "", nil},
	{"command echo", regexp.MustCompile(`(?im)^[ \t]*command:.*$\n?`), "", nil},
	{"bold", regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1", nil},
	{"underline bold", regexp.MustCompile(`__([^_\n]+)__`), "$1", nil},
	{"italic", regexp.MustCompile(`\*([^*\n]+)\*`), "$1", nil},
	{"stray asterisks", regexp.MustCompile(`\*+`), "", nil},
	{"bracket citations", regexp.MustCompile(`[ \t]*\[\d{1,3}\]`), "", nil},
	{"paren citations", regexp.MustCompile(`[ \t]*\(\d{1,3}\)`), "", nil},
	{"sentence breaks", sentenceEnd, "", breakSentence},
	{"space runs", regexp.MustCompile(`(\S)[ \t]{2,}`), "$1 ", nil},
	{"trailing spaces", regexp.MustCompile(`(?m)[ \t]+$`), "", nil},
	{"blank runs", regexp.MustCompile(`\n{3,}`), "\n\n", nil},
}

// sentenceEnd captures the word before the punctuation, the punctuation and
// the capital that opens the next sentence.
var sentenceEnd = regexp.MustCompile(`(\S*[a-z0-9)"”’'])([.!?]+)[ \t]+([A-Z"“‘])`)

// abbreviations never end a sentence when followed by a single period.
var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "mx": true, "prof": true,
	"st": true, "jr": true, "sr": true, "vs": true, "etc": true, "approx": true,
	"e.g": true, "i.e": true, "no": true, "min": true, "hr": true, "hrs": true,
}

// breakSentence starts a new paragraph after a sentence end, leaving
// abbreviations and list numbers ("Day 1. Walk") alone.
func breakSentence(match string) string {
	m := sentenceEnd.FindStringSubmatch(match)
	word, punct, next := m[1], m[2], m[3]
	if punct == "." && !endsSentence(word) {
		return match
	}
	return word + punct + "\n\n" + next
}

func endsSentence(word string) bool {
	word = strings.ToLower(strings.TrimLeft(word, `("“‘'`))
	if abbreviations[word] {
		return false
	}
	if n := len(word); n > 0 && n <= 2 && strings.Trim(word, "0123456789") == "" {
		return false
	}
	return true
}

// Result is a processed reply.
type Result struct {
	Text      string
	Directive Directive
	// Terminal is set when the reply delivers the conclusion: show it, then
	// end the session.
	Terminal bool
}

// EmptyReplyError is returned when nothing displayable is left and no
// directive was found.
type EmptyReplyError struct {
	RawLength int
}

func (e *EmptyReplyError) Error() string {
	return fmt.Sprintf("empty reply after cleanup (%d raw bytes)", e.RawLength)
}

// Processor applies the cleanup rules and directive detection.
type Processor struct {
	conclusionMarker string
}

// New creates a processor. An empty marker uses DefaultConclusionMarker.
func New(conclusionMarker string) *Processor {
	if conclusionMarker == "" {
		conclusionMarker = DefaultConclusionMarker
	}
	return &Processor{conclusionMarker: conclusionMarker}
}

var defaultProcessor = New("")

// Process runs the default processor.
func Process(raw string) (Result, error) {
	return defaultProcessor.Process(raw)
}

// Process cleans raw and detects directives. A directive wins over the
// text, which callers should then not display.
func (p *Processor) Process(raw string) (Result, error) {
	res := Result{
		Directive: Detect(raw),
		Text:      Clean(raw),
	}
	if res.Directive != DirectiveNone {
		return res, nil
	}
	if res.Text == "" {
		return res, &EmptyReplyError{RawLength: len(raw)}
	}
	res.Terminal = strings.Contains(strings.ToLower(res.Text), strings.ToLower(p.conclusionMarker))
	return res, nil
}

// Detect returns the highest-precedence directive in raw.
func Detect(raw string) Directive {
	found := make(map[Directive]bool)
	for _, m := range sentinel.FindAllStringSubmatch(raw, -1) {
		found[Directive(strings.ToLower(m[1]))] = true
	}
	for _, d := range directives {
		if found[d] {
			return d
		}
	}
	return DirectiveNone
}

// Clean applies every rule in order and trims the result.
func Clean(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	for _, r := range rules {
		text = r.apply(text)
	}
	return strings.TrimSpace(text)
}

// Rules lists the rule names in application order.
func Rules() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}
