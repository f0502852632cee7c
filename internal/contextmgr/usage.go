package contextmgr

import "cockpit/internal/chat"

// Usage summarizes how much of the model context a thread occupies.
type Usage struct {
	Tokens  int
	Limit   int
	Percent float64
	Precise bool
}

// Meter computes context usage for the status line.
type Meter struct {
	tokenizer *Tokenizer
	limit     int
}

const defaultContextLimit = 128000

func NewMeter(model string, limit int) *Meter {
	if limit <= 0 {
		limit = defaultContextLimit
	}
	return &Meter{tokenizer: NewTokenizerForModel(model), limit: limit}
}

func (m *Meter) Measure(messages []chat.Message) Usage {
	tokens := m.tokenizer.Count(messages)
	percent := float64(tokens) / float64(m.limit) * 100
	if percent > 100 {
		percent = 100
	}
	return Usage{
		Tokens:  tokens,
		Limit:   m.limit,
		Percent: percent,
		Precise: m.tokenizer.IsPrecise(),
	}
}
