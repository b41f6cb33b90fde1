package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
)

// Client performs single provider calls. It never retries; that is the
// orchestrator's job.
type Client struct {
	http           *resty.Client
	url            string
	retryAfterUnit time.Duration
	now            func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryAfterUnit scales delta-seconds Retry-After hints. Tests use a
// millisecond unit to keep waits short.
func WithRetryAfterUnit(unit time.Duration) ClientOption {
	return func(c *Client) {
		if unit > 0 {
			c.retryAfterUnit = unit
		}
	}
}

// WithDump trace-logs every raw response body.
func WithDump(enabled bool) ClientOption {
	return func(c *Client) {
		if !enabled {
			return
		}
		c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			L_trace("llm: response dump",
				"url", resp.Request.URL,
				"status", resp.StatusCode(),
				"body", truncate(string(resp.Body()), 2000))
			return nil
		})
	}
}

// NewClient creates a client posting to url (the chat completions endpoint).
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "fear-investigator"),
		url:            url,
		retryAfterUnit: time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends req and normalizes the response with a. Every failure is a
// *ProviderError except cancellation of ctx itself, which is returned as is.
func (c *Client) Call(ctx context.Context, a Adapter, req *Request) (*Completion, error) {
	topic := "llm/" + req.Model
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetHeaders(req.Headers).
		SetBody(req.Body).
		Post(c.url)
	MetricDuration(topic, "request", time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		typ := ErrorTypeUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			typ = ErrorTypeTimeout
		} else if t := ClassifyError(err.Error()); t != ErrorTypeUnknown {
			typ = t
		}
		MetricFailWithReason(topic, "request", string(typ))
		return nil, &ProviderError{Model: req.Model, Type: typ, Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if status < 200 || status >= 300 {
		msg := errorMessage(body)
		pe := &ProviderError{
			Model:  req.Model,
			Status: status,
			Type:   classify(status, msg),
			Err:    fmt.Errorf("%s: %s", http.StatusText(status), msg),
		}
		if pe.Type == ErrorTypeRateLimit {
			pe.RetryAfter = ParseRetryAfter(resp.Header().Get("Retry-After"), c.retryAfterUnit, c.now())
		}
		MetricFailWithReason(topic, "request", string(pe.Type))
		return nil, pe
	}

	// Some providers report failures inside a 200 body.
	if e := gjson.GetBytes(body, "error"); e.Exists() && e.Type != gjson.Null {
		code := int(e.Get("code").Int())
		msg := errorMessage(body)
		typ := classify(code, msg)
		if typ == ErrorTypeUnknown {
			typ = ErrorTypeClient
		}
		MetricFailWithReason(topic, "request", string(typ))
		return nil, &ProviderError{Model: req.Model, Status: code, Type: typ, Err: fmt.Errorf("error in response body: %s", msg)}
	}

	completion, err := a.Normalize(body)
	if err != nil {
		MetricFailWithReason(topic, "request", string(ErrorTypeFormat))
		return nil, &ProviderError{Model: req.Model, Status: status, Type: ErrorTypeFormat, Err: err}
	}

	MetricSuccess(topic, "request")
	if completion.PromptTokens > 0 {
		MetricAdd(topic, "prompt_tokens", int64(completion.PromptTokens))
		MetricAdd(topic, "completion_tokens", int64(completion.CompletionTokens))
	}
	return completion, nil
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return truncate(string(body), 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
