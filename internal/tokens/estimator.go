// Package tokens provides token estimation utilities using tiktoken.
// Providers that report exact usage take precedence; the estimator covers
// stubs and providers that omit usage fields.
package tokens

import (
	"sync"

	. "github.com/grunted/grunts/internal/logging"
	"github.com/pkoukk/tiktoken-go"
)

// Estimator provides token estimation using tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// DefaultEncoding is cl100k_base, used by GPT-4 and Claude models
const DefaultEncoding = "cl100k_base"

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
			L_warn("tokens: failed to create estimator, using fallback", "error", err)
			globalEstimator = &Estimator{} // fallback to char-based estimation
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
// Falls back to chars/4 if tiktoken unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	toks := e.encoding.Encode(text, nil, nil)
	return len(toks)
}

// PerMessageOverhead approximates the framing tokens each chat message
// costs on top of its content (role, separators).
const PerMessageOverhead = 4

// CountMessage returns the token count for one chat message including
// framing overhead.
func (e *Estimator) CountMessage(content string) int {
	return e.Count(content) + PerMessageOverhead
}

// Estimate is a convenience function using the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

// SafetyMargin accounts for tokenizer inaccuracies across different models.
// tiktoken (cl100k_base) may undercount tokens for non-OpenAI models.
const SafetyMargin = 1.2

// FitsContext reports whether an estimated input of estimatedInput tokens
// plus reserve fits a context window, applying SafetyMargin to the input.
func FitsContext(contextWindow, estimatedInput, reserve int) bool {
	if contextWindow <= 0 {
		return true // no context info, assume it fits
	}
	safeInput := int(float64(estimatedInput) * SafetyMargin)
	return safeInput+reserve <= contextWindow
}
