package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

// AdapterKind tags one provider quirk. The set is closed.
type AdapterKind string

const (
	KindDefault     AdapterKind = "default"
	KindCoder       AdapterKind = "coder"        // qwen coder: mode hint, low temperature
	KindLongContext AdapterKind = "long_context" // quasar: context window hint, long timeout
	KindPlainText   AdapterKind = "plain_text"   // glm: bare {role, content} messages
	KindAlternating AdapterKind = "alternating"  // strict user/assistant alternation
)

// DefaultTimeout applies to any adapter without a specific timeout.
const DefaultTimeout = 20 * time.Second

// Request is a provider call ready to be sent.
type Request struct {
	Model   string
	Body    []byte
	Headers map[string]string
	Timeout time.Duration
}

// Completion is a normalized provider response.
type Completion struct {
	Text             string
	ID               string
	PromptTokens     int
	CompletionTokens int
}

// Adapter shapes requests for one kind of model and normalizes its responses.
type Adapter interface {
	Kind() AdapterKind
	// UserFirst reports whether the first non-system message must be a user turn.
	UserFirst() bool
	Timeout() time.Duration
	BuildRequest(model string, messages []types.Turn) (*Request, error)
	Normalize(body []byte) (*Completion, error)
}

// Credentials are the auth and identification headers sent with every call.
type Credentials struct {
	APIKey  string
	Referer string
	Title   string
}

type bodyField struct {
	path  string
	value any
}

// adapter is the single implementation behind every kind; the kind's quirks
// live in its fields.
type adapter struct {
	kind        AdapterKind
	temperature float32
	extras      []bodyField
	plain       bool
	userFirst   bool
	timeout     time.Duration
	creds       Credentials
}

// variants lists the known kinds with their defaults.
var variants = map[AdapterKind]adapter{
	KindDefault: {
		kind:        KindDefault,
		temperature: 0.7,
		timeout:     DefaultTimeout,
	},
	KindCoder: {
		kind:        KindCoder,
		temperature: 0.15,
		extras:      []bodyField{{"mode", "coder"}},
		timeout:     15 * time.Second,
	},
	KindLongContext: {
		kind:        KindLongContext,
		temperature: 0.2,
		extras:      []bodyField{{"context_window", 1000000}},
		timeout:     60 * time.Second,
	},
	KindPlainText: {
		kind:        KindPlainText,
		temperature: 0.7,
		plain:       true,
		timeout:     25 * time.Second,
	},
	KindAlternating: {
		kind:        KindAlternating,
		temperature: 0.7,
		userFirst:   true,
		timeout:     DefaultTimeout,
	},
}

func (a *adapter) Kind() AdapterKind      { return a.kind }
func (a *adapter) UserFirst() bool        { return a.userFirst }
func (a *adapter) Timeout() time.Duration { return a.timeout }

// plainMessage always carries content, even when empty.
type plainMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type plainRequest struct {
	Model       string         `json:"model"`
	Messages    []plainMessage `json:"messages"`
	Temperature float32        `json:"temperature,omitempty"`
}

func (a *adapter) BuildRequest(model string, messages []types.Turn) (*Request, error) {
	var (
		body []byte
		err  error
	)
	if a.plain {
		req := plainRequest{Model: model, Temperature: a.temperature}
		for _, m := range messages {
			req.Messages = append(req.Messages, plainMessage{Role: string(m.Role), Content: m.Content})
		}
		body, err = json.Marshal(req)
	} else {
		req := openai.ChatCompletionRequest{
			Model:       model,
			Messages:    toOpenAI(messages),
			Temperature: a.temperature,
		}
		body, err = json.Marshal(req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", model, err)
	}

	for _, f := range a.extras {
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, fmt.Errorf("failed to set %s for %s: %w", f.path, model, err)
		}
	}

	return &Request{
		Model:   model,
		Body:    body,
		Headers: a.headers(),
		Timeout: a.timeout,
	}, nil
}

func (a *adapter) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + a.creds.APIKey,
		"Content-Type":  "application/json",
	}
	if a.creds.Referer != "" {
		h["HTTP-Referer"] = a.creds.Referer
	}
	if a.creds.Title != "" {
		h["X-Title"] = a.creds.Title
	}
	return h
}

func toOpenAI(messages []types.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Alternate locations of the reply text for responses that are not
// chat-shaped, tried in order after choices[0].message.content.
var alternatePaths = []string{"choices.0.text", "output.text", "result"}

func (a *adapter) Normalize(body []byte) (*Completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed response body (%d bytes)", len(body))
	}

	out := &Completion{}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		out.ID = resp.ID
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
		if len(resp.Choices) > 0 {
			out.Text = strings.TrimSpace(messageText(resp.Choices[0].Message))
		}
	}
	if out.Text == "" {
		// content given as an array of parts
		var parts []string
		for _, p := range gjson.GetBytes(body, `choices.0.message.content.#(type=="text")#.text`).Array() {
			parts = append(parts, p.String())
		}
		out.Text = strings.TrimSpace(strings.Join(parts, "\n"))
	}
	if out.Text != "" {
		return out, nil
	}

	for _, path := range alternatePaths {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			out.Text = strings.TrimSpace(r.Str)
			return out, nil
		}
	}
	return nil, ErrEmptyReply
}

func messageText(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	var parts []string
	for _, p := range msg.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}
