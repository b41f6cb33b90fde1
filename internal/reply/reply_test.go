package reply

import (
	"errors"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Why now?", "Why now?"},
		{"bold and sentence break", "**Stop** hiding. What are you avoiding?", "Stop hiding.\n\nWhat are you avoiding?"},
		{"underline bold", "__Enough__ excuses.", "Enough excuses."},
		{"italic stage direction", "*leans in* Why?", "leans in Why?"},
		{"stray asterisk", "Face it * now", "Face it now"},
		{"citations", "Fear is data [1] and you ignore it (2).", "Fear is data and you ignore it."},
		{"year kept", "Since (2019) you waited.", "Since (2019) you waited."},
		{"command line", "Command: /ask\nWhy now?", "Why now?"},
		{"command line mid text", "One.\ncommand: next\nTwo.", "One.\nTwo."},
		{"abbreviation kept", "Ask Dr. Smith first. Then decide.", "Ask Dr. Smith first.\n\nThen decide."},
		{"day number kept", "Day 1. Walk for ten minutes.", "Day 1. Walk for ten minutes."},
		{"example abbreviation kept", "Pick one, e.g. Running works.", "Pick one, e.g. Running works."},
		{"question then question", "Really? Who told you that?", "Really?\n\nWho told you that?"},
		{"existing breaks kept", "First.\n\nSecond.", "First.\n\nSecond."},
		{"blank runs collapsed", "First.\n\n\n\nSecond.", "First.\n\nSecond."},
		{"crlf", "A line.\r\nNext line.", "A line.\nNext line."},
		{"sentinel removed", "Done. [[SESSION_COMPLETE]]", "Done."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"**Stop** hiding. What are you avoiding?",
		"Fear is data [1] and you ignore it (2). Move.",
		"Command: x\n*sigh* Fine.   Go.",
		"Confrontation: You hide.\n\nRoot Fear: Being seen.",
	}
	for _, in := range inputs {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		in   string
		want Directive
	}{
		{"no directive here", DirectiveNone},
		{"Great. [[RESET_ACCEPTED]]", DirectiveReset},
		{"[[ session_complete ]]", DirectiveComplete},
		{"ok [[Restart]]", DirectiveRestart},
		{"[[RESTART]] [[SESSION_COMPLETE]]", DirectiveComplete},
		{"[[RESTART]] [[RESET_ACCEPTED]] [[SESSION_COMPLETE]]", DirectiveReset},
		{"[RESET_ACCEPTED]", DirectiveNone},
		{"RESET_ACCEPTED", DirectiveNone},
	}
	for _, tt := range tests {
		if got := Detect(tt.in); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProcessDirectiveWins(t *testing.T) {
	res, err := Process("Here is your plan: **nothing**. [[RESET_ACCEPTED]]")
	if err != nil {
		t.Fatal(err)
	}
	if res.Directive != DirectiveReset {
		t.Errorf("directive = %q", res.Directive)
	}
	if res.Terminal {
		t.Error("directive replies are not marked terminal")
	}
}

func TestProcessDirectiveOnly(t *testing.T) {
	res, err := Process("[[SESSION_COMPLETE]]")
	if err != nil {
		t.Fatalf("directive-only reply should not be an error: %v", err)
	}
	if res.Directive != DirectiveComplete || res.Text != "" {
		t.Errorf("res = %+v", res)
	}
}

func TestProcessEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "** **", "[1] (2)", "Command: noop"} {
		_, err := Process(in)
		var empty *EmptyReplyError
		if !errors.As(err, &empty) {
			t.Errorf("Process(%q) error = %v, want *EmptyReplyError", in, err)
			continue
		}
		if empty.RawLength != len(in) {
			t.Errorf("RawLength = %d, want %d", empty.RawLength, len(in))
		}
	}
}

func TestProcessTerminal(t *testing.T) {
	res, err := Process("Confrontation: You hide.\n\n7-Day Tactical Reset: Day 1 write it down.")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Terminal || res.Directive != DirectiveNone {
		t.Errorf("res = %+v", res)
	}

	res, _ = Process("Your 7-day tactical reset starts now.")
	if !res.Terminal {
		t.Error("marker match should ignore case")
	}

	res, _ = Process("What keeps you up at night?")
	if res.Terminal {
		t.Error("ordinary question marked terminal")
	}
}

func TestCustomConclusionMarker(t *testing.T) {
	p := New("THE END")
	res, err := p.Process("That is the end.")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Terminal {
		t.Error("custom marker not detected")
	}
	res, _ = p.Process("7-Day Tactical Reset")
	if res.Terminal {
		t.Error("default marker should not apply to a custom processor")
	}
}

func TestRulesOrder(t *testing.T) {
	names := Rules()
	if len(names) == 0 || names[0] != "sentinels" {
		t.Errorf("rules = %v", names)
	}
}
