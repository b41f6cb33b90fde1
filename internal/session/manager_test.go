package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

type stubPrompts struct{}

func (stubPrompts) Persona() string { return "persona" }
func (stubPrompts) Opener() string  { return "opener?" }
func (stubPrompts) Steering(p Phase) string {
	return "steer:" + string(p)
}

func newTestManager() *Manager {
	return NewManager(stubPrompts{}, 0)
}

func TestStartSeedsSession(t *testing.T) {
	m := newTestManager()
	s := m.Start("42")

	if len(s.Turns) != 2 {
		t.Fatalf("expected 2 seed turns, got %d", len(s.Turns))
	}
	if s.Turns[0] != types.SystemTurn("persona") {
		t.Errorf("first turn = %+v", s.Turns[0])
	}
	if s.Turns[1] != types.AssistantTurn("opener?") {
		t.Errorf("second turn = %+v", s.Turns[1])
	}
	if !m.Exists("42") || m.Count() != 1 {
		t.Error("session not stored")
	}
}

func TestStartReplacesExisting(t *testing.T) {
	m := newTestManager()
	m.Start("42")
	if _, err := m.AppendUser("42", "hello"); err != nil {
		t.Fatal(err)
	}

	s := m.Start("42")
	if len(s.Turns) != 2 {
		t.Errorf("restart should discard history, got %d turns", len(s.Turns))
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestAppendWithoutSession(t *testing.T) {
	m := newTestManager()

	_, err := m.AppendUser("7", "hi")
	var nse *NoSessionError
	if !errors.As(err, &nse) || nse.UserID != "7" {
		t.Fatalf("AppendUser error = %v, want *NoSessionError", err)
	}
	if err := m.AppendAssistant("7", "hi"); !errors.As(err, &nse) {
		t.Fatalf("AppendAssistant error = %v, want *NoSessionError", err)
	}
}

func TestPhaseForEveryCount(t *testing.T) {
	for c := 0; c <= 12; c++ {
		want := PhaseProbing
		if c >= 6 {
			want = PhaseConcluding
		}
		if got := PhaseFor(c, DefaultConcludeAfter); got != want {
			t.Errorf("PhaseFor(%d) = %s, want %s", c, got, want)
		}
	}
	if got := PhaseFor(2, 3); got != PhaseProbing {
		t.Errorf("custom threshold: got %s", got)
	}
	if got := PhaseFor(3, 3); got != PhaseConcluding {
		t.Errorf("custom threshold: got %s", got)
	}
}

func TestComputePhaseTransitions(t *testing.T) {
	m := newTestManager()
	m.Start("1")

	var s Session
	for i := 1; i <= 7; i++ {
		var err error
		s, err = m.AppendUser("1", fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatal(err)
		}
		want := PhaseProbing
		if i >= 6 {
			want = PhaseConcluding
		}
		if got := m.ComputePhase(s); got != want {
			t.Errorf("after %d user turns phase = %s, want %s", i, got, want)
		}
		if err := m.AppendAssistant("1", "question"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuildModelInputAppendsSteering(t *testing.T) {
	m := newTestManager()
	m.Start("1")
	s, _ := m.AppendUser("1", "I fear failing")

	input := m.BuildModelInput(s, PhaseProbing)
	if len(input) != len(s.Turns)+1 {
		t.Fatalf("input length %d, want %d", len(input), len(s.Turns)+1)
	}
	last := input[len(input)-1]
	if last != types.SystemTurn("steer:PROBING") {
		t.Errorf("last turn = %+v", last)
	}

	// stored history must not contain the steering turn
	stored, _ := m.Get("1")
	if len(stored.Turns) != 3 {
		t.Errorf("stored turns = %d, want 3", len(stored.Turns))
	}
}

// Five answers in, the sixth user message flips the steering to concluding.
func TestSixthAnswerConcludes(t *testing.T) {
	m := newTestManager()
	m.Start("9")
	for i := 0; i < 5; i++ {
		m.AppendUser("9", "answer")
		m.AppendAssistant("9", "question")
	}
	s, err := m.AppendUser("9", "sixth")
	if err != nil {
		t.Fatal(err)
	}
	input := m.BuildModelInput(s, m.ComputePhase(s))
	if got := input[len(input)-1].Content; got != "steer:CONCLUDING" {
		t.Errorf("steering = %q", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := newTestManager()
	m.Start("1")

	s, _ := m.Get("1")
	s.Turns[0].Content = "tampered"
	s.Turns = append(s.Turns, types.UserTurn("x"))

	again, _ := m.Get("1")
	if again.Turns[0].Content != "persona" || len(again.Turns) != 2 {
		t.Errorf("stored session mutated: %+v", again.Turns)
	}
}

func TestTerminate(t *testing.T) {
	m := newTestManager()
	m.Start("1")
	m.Terminate("1")
	m.Terminate("1")
	m.Terminate("never")

	if m.Exists("1") {
		t.Error("session still exists")
	}
	if _, ok := m.Get("1"); ok {
		t.Error("Get found terminated session")
	}
}

func TestSweepRemovesIdle(t *testing.T) {
	m := newTestManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Start("old")
	now = now.Add(2 * time.Hour)
	m.Start("fresh")
	now = now.Add(30 * time.Minute)

	if n := m.Sweep(0); n != 0 {
		t.Errorf("Sweep(0) removed %d", n)
	}
	if n := m.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if m.Exists("old") || !m.Exists("fresh") {
		t.Error("wrong session evicted")
	}
}

func TestConcurrentUsers(t *testing.T) {
	m := newTestManager()
	var wg sync.WaitGroup
	for u := 0; u < 20; u++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Start(id)
			for i := 0; i < 10; i++ {
				m.AppendUser(id, "a")
				m.AppendAssistant(id, "q")
			}
		}(fmt.Sprint(u))
	}
	wg.Wait()

	if m.Count() != 20 {
		t.Fatalf("Count() = %d", m.Count())
	}
	s, _ := m.Get("3")
	if got := s.UserTurns(); got != 10 {
		t.Errorf("user turns = %d, want 10", got)
	}
}
