// Package gateway turns inbound transport events into outbound actions. It
// owns the per-user state and drives one exchange from guard to audit.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/kaundiverse/fear-investigator/internal/audit"
	"github.com/kaundiverse/fear-investigator/internal/guard"
	"github.com/kaundiverse/fear-investigator/internal/llm"
	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/prompts"
	"github.com/kaundiverse/fear-investigator/internal/session"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Replier sends outbound actions on the transport.
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendWithButton(ctx context.Context, chatID int64, text, label, action string) error
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// Typer is implemented by repliers that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, chatID int64) error
}

// Invoker produces a model reply for a message sequence.
type Invoker interface {
	Invoke(ctx context.Context, messages []types.Turn, chain []string, maxAttemptsPerModel int) (*llm.Result, error)
}

// Options are the gateway's static settings.
type Options struct {
	Chain               []string
	MaxAttemptsPerModel int
	ConcludeAfter       int
	// HardCeiling ends a session once this many user turns got an ordinary
	// reply. 0 disables.
	HardCeiling int
	LockTimeout time.Duration
}

// Gateway is the conversation orchestrator.
type Gateway struct {
	opts      Options
	sessions  *session.Manager
	guard     *guard.Guard
	invoker   Invoker
	prompts   *prompts.Store
	audit     *audit.Logger
	replier   Replier
	now       func() time.Time
	startTime time.Time
}

// New creates a gateway. Sessions and locks live for as long as it does.
func New(opts Options, invoker Invoker, store *prompts.Store, auditLog *audit.Logger, replier Replier) *Gateway {
	if opts.MaxAttemptsPerModel < 1 {
		opts.MaxAttemptsPerModel = 1
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(nil)
	}
	return &Gateway{
		opts:      opts,
		sessions:  session.NewManager(store, opts.ConcludeAfter),
		guard:     guard.New(opts.LockTimeout),
		invoker:   invoker,
		prompts:   store,
		audit:     auditLog,
		replier:   replier,
		now:       time.Now,
		startTime: time.Now(),
	}
}

// SetReplier attaches the transport. Used when the transport is built
// after the gateway.
func (g *Gateway) SetReplier(r Replier) {
	g.replier = r
}

// Sessions returns the session table.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// Guard returns the per-user lock table.
func (g *Gateway) Guard() *guard.Guard {
	return g.guard
}

// Handle dispatches ev by kind.
func (g *Gateway) Handle(ctx context.Context, ev *types.Event) error {
	MetricInc("gateway", "event_"+string(ev.Kind))
	switch ev.Kind {
	case types.EventStart:
		return g.HandleStart(ctx, ev)
	case types.EventButton:
		return g.HandleButton(ctx, ev)
	case types.EventText:
		return g.HandleText(ctx, ev)
	default:
		L_warn("gateway: unknown event kind", "kind", ev.Kind, "user", ev.UserKey())
		return nil
	}
}

// HandleStart begins a fresh investigation and sends the opener.
func (g *Gateway) HandleStart(ctx context.Context, ev *types.Event) error {
	s := g.start(ev)
	return g.replier.SendText(ctx, ev.Chat.ID, s.Turns[len(s.Turns)-1].Content)
}

// HandleButton handles an inline button press. The start button replaces
// the welcome text with the acknowledgement, then behaves like /start.
func (g *Gateway) HandleButton(ctx context.Context, ev *types.Event) error {
	if ev.Action != types.ActionStartInvestigation {
		L_debug("gateway: ignoring unknown button", "action", ev.Action, "user", ev.UserKey())
		return nil
	}

	var errs []error
	if ev.MessageID != 0 {
		if err := g.replier.EditText(ctx, ev.Chat.ID, ev.MessageID, g.prompts.Current().Acknowledge); err != nil {
			L_debug("gateway: failed to edit welcome message", "user", ev.UserKey(), "error", err)
		}
	}
	s := g.start(ev)
	if err := g.replier.SendText(ctx, ev.Chat.ID, s.Turns[len(s.Turns)-1].Content); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (g *Gateway) start(ev *types.Event) session.Session {
	user := ev.UserKey()
	g.guard.Reset(user)
	s := g.sessions.Start(user)
	L_info("gateway: investigation started", "user", user, "username", ev.Sender.Username)
	return s
}

// HandleText runs one exchange for a user message.
func (g *Gateway) HandleText(ctx context.Context, ev *types.Event) error {
	user := ev.UserKey()
	texts := g.prompts.Current()

	if !g.sessions.Exists(user) {
		return g.offerStart(ctx, ev, texts.Welcome)
	}

	lease, ok := g.guard.TryAcquire(user)
	if !ok {
		return g.replier.SendText(ctx, ev.Chat.ID, texts.Busy)
	}
	defer lease.Release()

	start := time.Now()
	shown, err := g.exchange(ctx, ev, texts)
	MetricSince("gateway", "exchange", start)

	var nse *session.NoSessionError
	if errors.As(err, &nse) {
		return g.offerStart(ctx, ev, texts.Welcome)
	}
	if shown != "" {
		g.audit.Append(audit.NewRecord(ev, shown, g.now()))
	}
	return err
}

// exchange returns the text shown to the user.
func (g *Gateway) exchange(ctx context.Context, ev *types.Event, texts *prompts.Set) (string, error) {
	user := ev.UserKey()
	chatID := ev.Chat.ID

	s, err := g.sessions.AppendUser(user, ev.Text)
	if err != nil {
		return "", err
	}
	phase := g.sessions.ComputePhase(s)
	input := g.sessions.BuildModelInput(s, phase)
	L_debug("gateway: exchange", "user", user, "userTurns", s.UserTurns(), "phase", phase)

	if t, ok := g.replier.(Typer); ok {
		if err := t.Typing(ctx, chatID); err != nil {
			L_trace("gateway: typing indicator failed", "error", err)
		}
	}

	res, err := g.invoker.Invoke(ctx, input, g.opts.Chain, g.opts.MaxAttemptsPerModel)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		MetricFail("gateway", "exchange")
		L_error("gateway: no reply from any model", "user", user, "error", err)
		return texts.Apology, g.replier.SendText(ctx, chatID, texts.Apology)
	}

	out, err := newProcessor(texts).Process(res.Text)
	if err != nil {
		MetricFailWithReason("gateway", "exchange", "empty_reply")
		L_error("gateway: unusable reply", "user", user, "model", res.ModelUsed, "error", err)
		return texts.Apology, g.replier.SendText(ctx, chatID, texts.Apology)
	}
	MetricSuccess("gateway", "exchange")

	if out.Directive != "" {
		return g.applyDirective(ctx, ev, out.Directive, texts)
	}

	if err := g.sessions.AppendAssistant(user, out.Text); err != nil {
		// terminated or restarted while the model was answering
		L_debug("gateway: session gone before reply was recorded", "user", user)
	}
	if err := g.replier.SendText(ctx, chatID, out.Text); err != nil {
		return out.Text, err
	}

	switch {
	case out.Terminal:
		g.sessions.Terminate(user)
		MetricOutcome("gateway", "session_end", "concluded")
		L_info("gateway: investigation concluded", "user", user, "model", res.ModelUsed, "userTurns", s.UserTurns())
	case g.opts.HardCeiling > 0 && s.UserTurns() >= g.opts.HardCeiling:
		g.sessions.Terminate(user)
		MetricOutcome("gateway", "session_end", "ceiling")
		L_info("gateway: turn ceiling reached", "user", user, "userTurns", s.UserTurns())
		return out.Text + "\n\n" + texts.Closing, g.replier.SendText(ctx, chatID, texts.Closing)
	}
	return out.Text, nil
}

func (g *Gateway) offerStart(ctx context.Context, ev *types.Event, text string) error {
	texts := g.prompts.Current()
	return g.replier.SendWithButton(ctx, ev.Chat.ID, text, texts.StartButton, types.ActionStartInvestigation)
}
