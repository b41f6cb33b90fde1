// Package prompts holds every text the bot sends or feeds to the model, with
// an optional YAML file to override them.
package prompts

import (
	"errors"
	"fmt"

	"dario.cat/mergo"

	"github.com/kaundiverse/fear-investigator/internal/session"
)

// Steering holds the per-phase instruction appended after the history.
type Steering struct {
	Probing    string `yaml:"probing"`
	Concluding string `yaml:"concluding"`
}

// Set is one complete collection of texts.
type Set struct {
	Persona          string   `yaml:"persona"`
	Opener           string   `yaml:"opener"`
	StartButton      string   `yaml:"start_button"`
	Welcome          string   `yaml:"welcome"`
	Acknowledge      string   `yaml:"acknowledge"`
	Steering         Steering `yaml:"steering"`
	Busy             string   `yaml:"busy"`
	Apology          string   `yaml:"apology"`
	ResetPlan        string   `yaml:"reset_plan"`
	Closing          string   `yaml:"closing"`
	Restart          string   `yaml:"restart"`
	ConclusionMarker string   `yaml:"conclusion_marker"`
}

// SteeringFor returns the steering text for phase.
func (s *Set) SteeringFor(phase session.Phase) string {
	if phase == session.PhaseConcluding {
		return s.Steering.Concluding
	}
	return s.Steering.Probing
}

// Validate reports every empty text.
func (s *Set) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"persona", s.Persona},
		{"opener", s.Opener},
		{"start_button", s.StartButton},
		{"welcome", s.Welcome},
		{"acknowledge", s.Acknowledge},
		{"steering.probing", s.Steering.Probing},
		{"steering.concluding", s.Steering.Concluding},
		{"busy", s.Busy},
		{"apology", s.Apology},
		{"reset_plan", s.ResetPlan},
		{"closing", s.Closing},
		{"restart", s.Restart},
		{"conclusion_marker", s.ConclusionMarker},
	}
	var errs []error
	for _, f := range fields {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("prompt %s is empty", f.name))
		}
	}
	return errors.Join(errs...)
}

// withDefaults fills every text the override leaves empty from Default.
func withDefaults(override Set) (*Set, error) {
	merged := override
	if err := mergo.Merge(&merged, Default()); err != nil {
		return nil, fmt.Errorf("failed to merge prompts: %w", err)
	}
	return &merged, nil
}

// Default returns the built-in texts.
func Default() Set {
	return Set{
		Persona:     persona,
		Opener:      "What keeps you restless, no matter how much you push it aside?",
		StartButton: "🚨 Start Investigation",
		Welcome: "👋 Hey there! Welcome onboard\n\n" +
			"This bot will help you destroy your fears\n\n" +
			"Rules of Engagement:\n" +
			"1. Bot will ask one hard question at a time to unlock the root cause of your fear\n" +
			"2. Answer one question with a single reply.\n" +
			"3. Only your true answers will help you\n" +
			"4. After 6–9 answers → Bot will provide Confrontation | Root Fear | Life Rule | 7-Days Fear Reset Plan\n\n" +
			"⚠️ Disclaimer: Bot will be brutally honest\n\n" +
			"Click \"🚨 Start Investigation\" below ⬇️ to begin your journey.",
		Acknowledge: "Awesome! You’ve chosen to face your fear ",
		Steering: Steering{
			Probing:    "Continue asking only sharp investigative questions. Do NOT reveal confrontation, fear, rule, or reset yet.",
			Concluding: "Now it’s time to deliver the final outcome. Provide Confrontation, Root Fear, Rule to Live By, and the full 7-Day Tactical Reset plan.",
		},
		Busy:             "⏳ Slow down, still finishing the last step. Wait a moment and reply again.",
		Apology:          "⚠️ Something went wrong. Try again in a moment.",
		ResetPlan:        resetPlan,
		Closing:          "Investigation closed. You know what the fear is now. Act on it.\n\nSend /start when you want a new investigation.",
		Restart:          "Investigation wiped. Tap below when you are ready to start over.",
		ConclusionMarker: "7-Day Tactical Reset",
	}
}

const persona = `You are Agent K, a no-nonsense executive coach working for the Fear Behavior Investigation Bureau (FBI). Your job is to question ambitious but stuck people and expose what’s holding them back.

You mix the tough love of:
- Jerry Colonna’s deep questions
- David Goggins’ mental toughness
- Benjamin Hardy’s future-self vision
- Andrew Huberman’s science-backed focus
- Dr. Julie Smith’s emotional sharpness

Your tone:
- 70% truth, 30% empathy
- No flattery
- No comforting
- Always challenge
- No therapy-talk. No motivational fluff.

RULES:
- Ask one strong question at a time, as if the user’s life depends on it.
- Always wait for the user’s answer before asking the next.
- After each answer, go deeper with a sharper follow-up.
- Never repeat old questions.
- Keep questions in simple, layman’s language, easy to understand at first read.
- No long speeches. Be clear, direct and real.
- Never use asterisks, markdown or stage directions.

Your job is to:
1. Start with a bold question
2. Ask deeper questions for 6–9 replies
3. Then deliver, each on a new line:
    - Confrontation: [One punchy sentence calling them out]
    - Root Fear: [One sentence naming the fear]
    - Rule to Live By: [One clear new standard]
    - 7-Day Tactical Reset: [Give the full plan directly]
Do NOT deliver confrontation, root fear, rule, or 7-Day Reset until AFTER the user has answered at least 6 times. Before that, ONLY ask sharp questions.

Control tokens, used alone in a reply:
- If the user asks for the standard reset plan instead of answering, reply [[RESET_ACCEPTED]].
- If the user says they are done and wants to stop, reply [[SESSION_COMPLETE]].
- If the user wants to start the investigation over, reply [[RESTART]].

You are not a chatbot. You are here to wake them up.
Begin.`

const resetPlan = `7-Day Tactical Reset

Day 1: Write the fear down in one sentence. Read it out loud.
Day 2: List three things the fear has cost you this year.
Day 3: Do the smallest version of the thing you avoid. Ten minutes, no more.
Day 4: Tell one person what you are working on and when it will be done.
Day 5: Remove one excuse from your environment. Delete it, block it or move it.
Day 6: Repeat Day 3 at twice the size.
Day 7: Review the week. Write the rule you will live by and the next move.

Rule to Live By: Action first, feelings later.`
