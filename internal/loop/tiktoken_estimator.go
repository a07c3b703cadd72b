package loop

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator is an accurate TokenEstimator backed by tiktoken-go,
// substitutable for CharEstimator per §4.3's and §9's note that the
// divisor-4 heuristic may be replaced without changing the soft-budget
// contract. Mirrors the per-message accounting OpenAI documents: a fixed
// per-message overhead plus a constant reply-priming cost.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// NewTiktokenEstimator resolves an encoding for model, falling back to
// cl100k_base when the model is unrecognised.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("resolve tiktoken encoding: %w", err)
		}
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// EstimateMessages implements TokenEstimator.
func (t *TiktokenEstimator) EstimateMessages(msgs []ChatMessage) int {
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage + len(t.enc.Encode(contentText(m.Content), nil, nil))
	}
	return total
}
