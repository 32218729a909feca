package outreach

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/pkg/anthropic"
)

// Generator turns a prompt into outreach copy.
type Generator interface {
	Generate(ctx context.Context, prompt string, tone model.Tone) (string, error)
}

// toneTemperature keeps professional copy conservative and lets friendlier
// tones vary more.
var toneTemperature = map[model.Tone]float64{
	model.ToneProfessional: 0.5,
	model.ToneFriendly:     0.8,
	model.ToneUrgent:       0.6,
}

// AnthropicGenerator generates copy with a Claude model.
type AnthropicGenerator struct {
	llm       anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator creates a Generator backed by llm.
func NewAnthropicGenerator(llm anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{llm: llm, model: model, maxTokens: maxTokens}
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, tone model.Tone) (string, error) {
	temp, ok := toneTemperature[tone]
	if !ok {
		temp = toneTemperature[model.ToneProfessional]
	}
	resp, err := g.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		System:      anthropic.CachedSystem(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "outreach: generate")
	}
	resp.Usage.LogCost(g.model, "outreach")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.Errorf("outreach: empty generation (stop reason %q)", resp.StopReason)
	}
	return text, nil
}
