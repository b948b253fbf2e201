// Package tokens provides token-accurate message counting. The agent core
// holds a Counter, but its context-limit recovery (spec §4.5) trims one
// message per retry and does not count tokens. Grounded on the teacher's
// tiktoken-go-backed counter
// (_examples/kadirpekel-hector/pkg/utils/tokens.go): a cached per-model
// encoding, a per-message overhead constant mirroring OpenAI's chat
// formatting, and a floor-truncation helper.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/corteximus/agentcore/pkg/state"
)

// perMessageOverhead approximates the fixed token cost OpenAI-style chat
// APIs add per message for role/name framing, matching the teacher's own
// constant.
const perMessageOverhead = 4

// Counter counts tokens for a given model's tokenizer, caching the
// encoding (tiktoken-go's encoding construction is not free).
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter returns a ready-to-use Counter.
func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fall back to a generic encoding rather than failing outright —
		// counting should degrade gracefully, not crash, when
		// a model name tiktoken-go doesn't recognize.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodings[model] = enc
	return enc, nil
}

// CountMessage counts the tokens in a single Message, including per-message
// framing overhead.
func (c *Counter) CountMessage(model string, m state.Message) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	n := perMessageOverhead + len(enc.Encode(m.Content, nil, nil))
	for _, tc := range m.ToolCalls {
		n += len(enc.Encode(tc.Tool, nil, nil))
	}
	return n, nil
}

// CountMessages sums CountMessage across a sequence.
func (c *Counter) CountMessages(model string, msgs []state.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		n, err := c.CountMessage(model, m)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// FitsWithin reports whether msgs' total token count is within limit for
// model.
func (c *Counter) FitsWithin(model string, msgs []state.Message, limit int) (bool, error) {
	n, err := c.CountMessages(model, msgs)
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}
