package llm

import (
	"math"
	"strings"
)

// ModelCostConfig holds per-million-token USD pricing for a single model.
type ModelCostConfig struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultModelCosts contains default OpenAI-compatible pricing, keyed by
// model name. Prices are USD per million tokens.
var DefaultModelCosts = map[string]ModelCostConfig{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.0},
	"gpt-4o-2024-11-20":  {InputPer1M: 2.50, OutputPer1M: 10.0},
	"gpt-4o-mini":        {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":        {InputPer1M: 10.0, OutputPer1M: 30.0},
	"gpt-4":              {InputPer1M: 30.0, OutputPer1M: 60.0},
	"gpt-3.5-turbo":      {InputPer1M: 0.50, OutputPer1M: 1.50},
	"o1":                 {InputPer1M: 15.0, OutputPer1M: 60.0},
	"o1-mini":            {InputPer1M: 3.0, OutputPer1M: 12.0},
	"o1-preview":         {InputPer1M: 15.0, OutputPer1M: 60.0},
}

// ResolveModelCostConfig looks up pricing for model, falling back to a
// prefix match for dated/versioned model names (e.g. "gpt-4o-2024-08-06"
// matches the "gpt-4o" entry) before giving up and reporting unknown.
func ResolveModelCostConfig(model string) (ModelCostConfig, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		return ModelCostConfig{}, false
	}
	if cost, ok := DefaultModelCosts[model]; ok {
		return cost, true
	}
	if strings.HasPrefix(model, "gpt-4o-mini") {
		return DefaultModelCosts["gpt-4o-mini"], true
	}
	if strings.HasPrefix(model, "gpt-4o") {
		return DefaultModelCosts["gpt-4o"], true
	}
	if strings.HasPrefix(model, "o1-mini") {
		return DefaultModelCosts["o1-mini"], true
	}
	if strings.HasPrefix(model, "o1") {
		return DefaultModelCosts["o1"], true
	}
	for known, cost := range DefaultModelCosts {
		if strings.HasPrefix(model, known) {
			return cost, true
		}
	}
	return ModelCostConfig{}, false
}

// EstimateUsageCost converts prompt/completion token counts into a USD
// figure. Unknown models cost 0 rather than erroring, since cost accounting
// is advisory telemetry, not a billing source of truth.
func EstimateUsageCost(promptTokens, completionTokens int, cost ModelCostConfig) float64 {
	total := (float64(promptTokens)*cost.InputPer1M + float64(completionTokens)*cost.OutputPer1M) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}
