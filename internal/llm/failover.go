package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/kaundiverse/fear-investigator/internal/history"
	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/tokens"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Backoff holds the waits between attempts on the same model.
type Backoff struct {
	Base         time.Duration
	RateLimitCap time.Duration
	ServerCap    time.Duration
	Jitter       time.Duration // upper bound (exclusive) of random jitter on rate limits
}

// DefaultBackoff returns 1s doubling per attempt, capped at 30s for rate
// limits (plus up to 300ms jitter) and 20s for server errors.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:         time.Second,
		RateLimitCap: 30 * time.Second,
		ServerCap:    20 * time.Second,
		Jitter:       300 * time.Millisecond,
	}
}

func exponential(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// RateLimitDelay is the wait after a rate-limited attempt. A provider hint
// wins; otherwise base·2^attempt capped, plus jitter.
func (b Backoff) RateLimitDelay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := exponential(b.Base, b.RateLimitCap, attempt)
	if b.Jitter > 0 {
		d += rand.N(b.Jitter)
	}
	return d
}

// ServerDelay is the wait after a server-side failure, without jitter.
func (b Backoff) ServerDelay(attempt int) time.Duration {
	return exponential(b.Base, b.ServerCap, attempt)
}

// Attempt records one call against one model.
type Attempt struct {
	Model   string
	Attempt int       // 1-based, per model
	Reason  ErrorType // empty on success
	Skipped bool      // model abandoned without using its remaining attempts
}

// Result is a successful invocation.
type Result struct {
	Text       string
	ModelUsed  string
	Attempts   []Attempt
	FailedOver bool
}

// Options configures an Orchestrator.
type Options struct {
	Backoff           Backoff
	RequestsPerMinute int // per model, 0 = unlimited
	History           history.Options
	// Accept can reject a reply the provider returned successfully. A
	// rejection counts as a format failure: the chain moves to the next model.
	Accept func(text string) error
}

// Orchestrator walks the model chain with per-model retries.
type Orchestrator struct {
	registry *Registry
	client   *Client
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(registry *Registry, client *Client, opts Options) *Orchestrator {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	return &Orchestrator{
		registry: registry,
		client:   client,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Invoke returns the first successful reply along chain, trying each model
// up to maxAttemptsPerModel times. Chain order is the only priority signal.
// When every model fails the error is *AllProvidersFailedError; when ctx is
// cancelled it is ctx.Err().
func (o *Orchestrator) Invoke(ctx context.Context, messages []types.Turn, chain []string, maxAttemptsPerModel int) (*Result, error) {
	if maxAttemptsPerModel < 1 {
		maxAttemptsPerModel = 1
	}
	start := time.Now()
	res := &Result{}
	var lastErr error

	for i, model := range chain {
		text, err := o.tryModel(ctx, model, messages, maxAttemptsPerModel, res)
		if err == nil {
			res.Text = text
			res.ModelUsed = model
			res.FailedOver = i > 0
			MetricSuccess("llm/failover", "invoke")
			MetricSince("llm/failover", "invoke", start)
			if res.FailedOver {
				L_info("failover: succeeded on fallback model", "model", model, "attempts", len(res.Attempts))
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if i < len(chain)-1 {
			L_warn("failover: trying next model", "failed", model, "next", chain[i+1], "reason", TypeOf(err), "error", err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("empty model chain")
	}
	MetricFailWithReason("llm/failover", "invoke", string(TypeOf(lastErr)))
	L_error("failover: all models failed", "models", len(chain), "attempts", len(res.Attempts), "last", lastErr)
	return nil, &AllProvidersFailedError{Attempts: res.Attempts, Last: lastErr}
}

func (o *Orchestrator) tryModel(ctx context.Context, model string, messages []types.Turn, maxAttempts int, res *Result) (string, error) {
	a := o.registry.Lookup(model)

	hopts := o.opts.History
	hopts.UserFirst = a.UserFirst()
	prepared := history.Normalize(messages, hopts)

	req, err := a.BuildRequest(model, prepared)
	if err != nil {
		return "", &ProviderError{Model: model, Type: ErrorTypeClient, Err: err}
	}
	estimate := tokens.EstimateTurns(prepared)
	MetricSet("llm/"+model, "prompt_tokens_estimate", int64(estimate))
	L_debug("llm: calling model", "model", model, "adapter", a.Kind(), "messages", len(prepared), "tokens", estimate, "timeout", a.Timeout())

	var (
		text    string
		attempt int
		delay   time.Duration
	)
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	}))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := o.throttle(ctx, model); err != nil {
			return err
		}

		completion, err := o.client.Call(ctx, a, req)
		if err == nil && o.opts.Accept != nil {
			if rejectErr := o.opts.Accept(completion.Text); rejectErr != nil {
				err = &ProviderError{Model: model, Status: 200, Type: ErrorTypeFormat, Err: rejectErr}
			}
		}
		if err == nil {
			res.Attempts = append(res.Attempts, Attempt{Model: model, Attempt: attempt})
			text = completion.Text
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		typ := TypeOf(err)
		switch typ {
		case ErrorTypeRateLimit:
			var pe *ProviderError
			errors.As(err, &pe)
			delay = o.opts.Backoff.RateLimitDelay(attempt, pe.RetryAfter)
		case ErrorTypeServer:
			delay = o.opts.Backoff.ServerDelay(attempt)
		default:
			res.Attempts = append(res.Attempts, Attempt{Model: model, Attempt: attempt, Reason: typ, Skipped: attempt < maxAttempts})
			L_warn("failover: abandoning model", "model", model, "reason", typ, "attempt", attempt, "error", err)
			return err
		}

		res.Attempts = append(res.Attempts, Attempt{Model: model, Attempt: attempt, Reason: typ})
		if attempt < maxAttempts {
			L_warn("failover: retrying model", "model", model, "reason", typ, "attempt", attempt, "wait", delay)
		}
		return retry.RetryableError(err)
	})
	return text, err
}

// throttle waits for the model's outbound token bucket.
func (o *Orchestrator) throttle(ctx context.Context, model string) error {
	if o.opts.RequestsPerMinute <= 0 {
		return nil
	}
	o.mu.Lock()
	lim, ok := o.limiters[model]
	if !ok {
		rpm := o.opts.RequestsPerMinute
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1+rpm/10)
		o.limiters[model] = lim
	}
	o.mu.Unlock()

	if lim.Tokens() < 1 {
		L_debug("llm: throttling outbound request", "model", model)
		MetricInc("llm/"+model, "throttled")
	}
	return lim.Wait(ctx)
}
