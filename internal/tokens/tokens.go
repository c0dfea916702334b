// Package tokens estimates token counts for file selections and built contexts.
package tokens

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "cl100k_base"

// DefaultBytesPerToken is the byte-to-token ratio used for size estimates.
const DefaultBytesPerToken = 4.0

// Estimator converts sizes and text to token counts.
type Estimator interface {
	// Estimate returns the approximate token count for a byte size.
	Estimate(bytes int64) int
	// Count returns the token count for text.
	Count(text string) int
}

// Config configures the estimator.
type Config struct {
	Encoding      string  `json:"encoding" koanf:"encoding"`
	BytesPerToken float64 `json:"bytes_per_token" koanf:"bytes_per_token"`
}

// DefaultConfig returns the default estimator configuration.
func DefaultConfig() Config {
	return Config{Encoding: DefaultEncoding, BytesPerToken: DefaultBytesPerToken}
}

// Validate checks the configuration. Unknown encodings are not an error;
// the tokenizer falls back to the heuristic.
func (c Config) Validate() error {
	if c.BytesPerToken <= 0 {
		return fmt.Errorf("bytes_per_token must be positive, got %v", c.BytesPerToken)
	}
	return nil
}

// Tokenizer counts tokens with tiktoken and falls back to a character
// heuristic when the encoding cannot be loaded (e.g. offline without a BPE
// cache).
type Tokenizer struct {
	encoder       *tiktoken.Tiktoken
	encoding      string
	bytesPerToken float64
	mu            sync.Mutex
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// Default returns a process-wide tokenizer for DefaultEncoding.
func Default() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = New(DefaultConfig())
	})
	return defaultTokenizer
}

// New creates a Tokenizer. Loading failures are not errors; see IsPrecise.
func New(cfg Config) *Tokenizer {
	t := NewHeuristic(cfg.BytesPerToken)
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultEncoding
	}
	t.encoding = cfg.Encoding
	if enc, err := tiktoken.GetEncoding(cfg.Encoding); err == nil {
		t.encoder = enc
	}
	return t
}

// NewHeuristic creates a Tokenizer that never loads an encoding.
func NewHeuristic(bytesPerToken float64) *Tokenizer {
	if bytesPerToken <= 0 {
		bytesPerToken = DefaultBytesPerToken
	}
	return &Tokenizer{bytesPerToken: bytesPerToken}
}

// Estimate implements Estimator.
func (t *Tokenizer) Estimate(bytes int64) int {
	if bytes <= 0 {
		return 0
	}
	n := int(float64(bytes) / t.bytesPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// Count implements Estimator.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.encoder == nil {
		return heuristicCount(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise reports whether a tiktoken encoding is in use.
func (t *Tokenizer) IsPrecise() bool {
	return t.encoder != nil
}

// Encoding returns the configured encoding name.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// heuristicCount approximates ~4 ASCII chars per token and ~1.5 tokens per
// CJK character.
func heuristicCount(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)*1.5 + float64(other)*0.25)
	if n < 1 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
