package gateway

import (
	"context"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/prompts"
	"github.com/kaundiverse/fear-investigator/internal/reply"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

func newProcessor(texts *prompts.Set) *reply.Processor {
	return reply.New(texts.ConclusionMarker)
}

// AcceptReply rejects model replies that leave nothing to show. Wire it as
// the orchestrator's acceptance hook so an empty reply moves to the next
// model instead of reaching the user.
func AcceptReply(text string) error {
	_, err := reply.Process(text)
	return err
}

// applyDirective ends the session and sends the directive's scripted text
// in place of the model's reply.
func (g *Gateway) applyDirective(ctx context.Context, ev *types.Event, d reply.Directive, texts *prompts.Set) (string, error) {
	user := ev.UserKey()
	chatID := ev.Chat.ID

	g.sessions.Terminate(user)
	MetricOutcome("gateway", "session_end", string(d))
	L_info("gateway: directive", "user", user, "directive", d)

	switch d {
	case reply.DirectiveReset:
		return texts.ResetPlan, g.replier.SendText(ctx, chatID, texts.ResetPlan)
	case reply.DirectiveComplete:
		return texts.Closing, g.replier.SendText(ctx, chatID, texts.Closing)
	case reply.DirectiveRestart:
		return texts.Restart, g.replier.SendWithButton(ctx, chatID, texts.Restart, texts.StartButton, types.ActionStartInvestigation)
	default:
		L_warn("gateway: unhandled directive", "directive", d)
		return "", nil
	}
}
