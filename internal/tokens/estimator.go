// Package tokens estimates prompt sizes using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

// DefaultEncoding is cl100k_base, close enough for every model in the chain.
const DefaultEncoding = "cl100k_base"

// Chat framing overhead as documented for OpenAI chat models.
const (
	perMessageOverhead = 4
	replyPriming       = 3
)

// Estimator provides token estimation using tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the global token estimator (singleton)
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: failed to load encoding, using chars/4", "error", err)
			globalEstimator = &Estimator{}
		}
	})
	return globalEstimator
}

// New creates a new token estimator
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for a string.
// Falls back to chars/4 if tiktoken is unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// CountTurns estimates the prompt tokens of a chat request.
func (e *Estimator) CountTurns(turns []types.Turn) int {
	if len(turns) == 0 {
		return 0
	}
	total := replyPriming
	for _, t := range turns {
		total += perMessageOverhead + e.Count(string(t.Role)) + e.Count(t.Content)
	}
	return total
}

// EstimateTurns is a convenience function using the global estimator.
func EstimateTurns(turns []types.Turn) int {
	return Get().CountTurns(turns)
}
