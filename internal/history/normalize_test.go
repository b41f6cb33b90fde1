package history

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

func sys(s string) types.Turn  { return types.SystemTurn(s) }
func usr(s string) types.Turn  { return types.UserTurn(s) }
func asst(s string) types.Turn { return types.AssistantTurn(s) }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input []types.Turn
		opts  Options
		want  []types.Turn
	}{
		{
			name:  "session seed kept for lenient provider",
			input: []types.Turn{sys("persona"), asst("opener"), usr("hi"), sys("steer")},
			want:  []types.Turn{sys("persona"), asst("opener"), usr("hi"), sys("steer")},
		},
		{
			name:  "leading assistant folded for user-first provider",
			input: []types.Turn{sys("persona"), asst("opener"), usr("hi")},
			opts:  Options{UserFirst: true},
			want: []types.Turn{
				sys("persona" + Separator + "You opened the conversation by saying: opener"),
				usr("hi"),
			},
		},
		{
			name:  "fold creates system turn when none exists",
			input: []types.Turn{asst("opener"), usr("hi")},
			opts:  Options{UserFirst: true},
			want:  []types.Turn{sys("You opened the conversation by saying: opener"), usr("hi")},
		},
		{
			name:  "assistant runs split by system turns folded into one preamble",
			input: []types.Turn{sys("p"), asst(""), sys("rules"), asst("hello"), asst("again"), usr("hi"), asst("ok")},
			opts:  Options{UserFirst: true},
			want: []types.Turn{
				sys("p" + Separator + "rules" + Separator + "You opened the conversation by saying: hello" + Separator + "again"),
				usr("hi"),
				asst("ok"),
			},
		},
		{
			name:  "only assistant and system turns fold away entirely",
			input: []types.Turn{asst("a"), sys("p")},
			opts:  Options{UserFirst: true},
			want:  []types.Turn{sys("You opened the conversation by saying: a" + Separator + "p")},
		},
		{
			name:  "consecutive same-role turns merged in order",
			input: []types.Turn{sys("p"), usr("a"), usr("b"), asst("c"), asst("d"), usr("e")},
			want:  []types.Turn{sys("p"), usr("a" + Separator + "b"), asst("c" + Separator + "d"), usr("e")},
		},
		{
			name:  "roles coerced",
			input: []types.Turn{{Role: " System ", Content: "p"}, {Role: "USER", Content: "x"}, {Role: "tool", Content: "y"}},
			want:  []types.Turn{sys("p"), usr("x" + Separator + "y")},
		},
		{
			name:  "empty input",
			input: nil,
			want:  []types.Turn{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input, tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() =\n  %#v\nwant\n  %#v", got, tt.want)
			}
		})
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	input := []types.Turn{sys("persona"), asst("opener"), usr("a"), usr("b")}
	snapshot := types.CloneTurns(input)
	Normalize(input, Options{UserFirst: true})
	if !reflect.DeepEqual(input, snapshot) {
		t.Errorf("input mutated: %#v", input)
	}
}

func TestWindowKeepsLastTurnsAndPinsPreamble(t *testing.T) {
	input := []types.Turn{sys("persona")}
	for i := 0; i < 15; i++ {
		input = append(input, usr(fmt.Sprintf("u%d", i)), asst(fmt.Sprintf("a%d", i)))
	}
	input = append(input, usr("last"))

	got := Normalize(input, Options{MaxTurns: 20})
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0] != sys("persona") {
		t.Errorf("preamble not pinned: %#v", got[0])
	}
	if got[len(got)-1] != usr("last") {
		t.Errorf("last turn = %#v", got[len(got)-1])
	}
	// relative order preserved: u6 a6 ... u14 a14 last
	if got[1] != usr("u6") {
		t.Errorf("window start = %#v, want u6", got[1])
	}
}

func TestWindowDropsLeadingAssistantForUserFirst(t *testing.T) {
	input := []types.Turn{sys("persona")}
	for i := 0; i < 5; i++ {
		input = append(input, usr(fmt.Sprintf("u%d", i)), asst(fmt.Sprintf("a%d", i)))
	}
	got := Normalize(input, Options{UserFirst: true, MaxTurns: 4})
	want := []types.Turn{sys("persona"), usr("u4"), asst("a4")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestWindowDropsAssistantBehindSystemAtEdge(t *testing.T) {
	input := []types.Turn{sys("persona"), usr("u0"), asst("a0"), sys("steer"), asst("a1"), usr("u1"), asst("a2")}
	got := Normalize(input, Options{UserFirst: true, MaxTurns: 5})
	want := []types.Turn{sys("persona" + Separator + "steer"), usr("u1"), asst("a2")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

// firstNonSystem returns the role of the first non-system turn, or "".
func firstNonSystem(turns []types.Turn) types.Role {
	for _, t := range turns {
		if t.Role != types.RoleSystem {
			return t.Role
		}
	}
	return ""
}

func TestNormalizeRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	roles := []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant}
	optsList := []Options{
		{},
		{UserFirst: true},
		{UserFirst: true, MaxTurns: 5, MaxChars: 3},
		{MaxTurns: 3, MaxChars: 4},
		{UserFirst: true, MaxTurns: 2, MaxChars: 2},
	}

	for i := 0; i < 5000; i++ {
		n := rng.IntN(9)
		in := make([]types.Turn, n)
		for k := range in {
			content := strings.Repeat(string(rune('a'+rng.IntN(3))), rng.IntN(8))
			in[k] = types.Turn{Role: roles[rng.IntN(len(roles))], Content: content}
		}
		for _, opts := range optsList {
			once := Normalize(in, opts)
			twice := Normalize(once, opts)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("not idempotent for %#v %+v\n once: %#v\ntwice: %#v", in, opts, once, twice)
			}
			if opts.UserFirst && firstNonSystem(once) == types.RoleAssistant {
				t.Fatalf("assistant first for %#v %+v: %#v", in, opts, once)
			}
		}
	}
}

func TestTruncateBoundary(t *testing.T) {
	const max = 10
	exact := strings.Repeat("x", max)
	if got := Truncate(exact, max); got != exact {
		t.Errorf("message at max was changed: %q", got)
	}

	long := strings.Repeat("y", max+5)
	want := strings.Repeat("y", max) + TruncationMarker
	if got := Truncate(long, max); got != want {
		t.Errorf("Truncate = %q, want %q", got, want)
	}

	// counted in runes, never splitting a character
	emoji := strings.Repeat("😀", max+1)
	if got := Truncate(emoji, max); got != strings.Repeat("😀", max)+TruncationMarker {
		t.Errorf("rune truncation = %q", got)
	}
}

func TestNormalizeTruncatesEachMessage(t *testing.T) {
	long := strings.Repeat("z", 50)
	got := Normalize([]types.Turn{sys("p"), usr(long)}, Options{MaxChars: 20})
	if got[1].Content != strings.Repeat("z", 20)+TruncationMarker {
		t.Errorf("content = %q", got[1].Content)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	long := strings.Repeat("w", 30)
	var many []types.Turn
	many = append(many, sys("p"))
	for i := 0; i < 30; i++ {
		many = append(many, usr(fmt.Sprint("u", i)), asst(long))
	}

	inputs := [][]types.Turn{
		{sys("persona"), asst("opener"), usr("hi"), sys("steer")},
		{asst("a"), asst("b"), usr("c"), usr(long), asst(long)},
		{sys("a"), sys("b"), usr(long + long)},
		{usr("only")},
		{sys("p"), asst(""), sys("abaa"), asst("cacbcb"), asst("abbcb"), usr("bcbbbab"), asst("abccacc")},
		{sys("p"), usr("u"), asst("a"), sys("steer"), asst("b"), usr("v"), asst("c")},
		many,
		append(types.CloneTurns(many), sys("steer")),
	}
	optsList := []Options{
		{},
		{UserFirst: true},
		{MaxTurns: 2, MaxChars: 8},
		{UserFirst: true, MaxTurns: 5, MaxChars: 16},
	}

	for i, in := range inputs {
		for j, opts := range optsList {
			t.Run(fmt.Sprintf("input%d/opts%d", i, j), func(t *testing.T) {
				once := Normalize(in, opts)
				twice := Normalize(once, opts)
				if !reflect.DeepEqual(once, twice) {
					t.Errorf("not idempotent\n once: %#v\ntwice: %#v", once, twice)
				}
			})
		}
	}
}
