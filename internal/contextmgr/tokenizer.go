package contextmgr

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"cockpit/internal/chat"
)

// Tokenizer counts prompt tokens with tiktoken, falling back to a
// heuristic when the BPE data is unavailable (offline environments).
type Tokenizer struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.RWMutex
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// DefaultTokenizer returns the shared cl100k_base tokenizer.
func DefaultTokenizer() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = NewTokenizer("cl100k_base")
	})
	return defaultTokenizer
}

func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{encodingName: encodingName}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

// NewTokenizerForModel picks the encoding matching the model family.
func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

// Count returns the total token estimate for a message log.
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.countMessage(msg)
	}
	return total
}

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return heuristicTokenCount(text)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise reports whether tiktoken counting is in effect.
func (t *Tokenizer) IsPrecise() bool {
	return !t.fallback
}

func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}

func (t *Tokenizer) countMessage(msg chat.Message) int {
	// ~4 tokens of per-message framing overhead.
	tokens := 4
	tokens += t.CountText(msg.Content)
	tokens += t.CountText(msg.Role)
	for _, att := range msg.Attachments {
		if att.IsImage {
			// Flat estimate for an inlined preview image.
			tokens += 850
			continue
		}
		tokens += t.CountText(att.RelativePath) + 4
	}
	return tokens
}

func heuristicTokenCount(text string) int {
	if text == "" {
		return 0
	}
	// CJK runs ~1.5 tokens per character, ASCII ~4 chars per token.
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5 + float64(asciiCount)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "cl100k_base"
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
