package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"adaptivememory/internal/config"
	"adaptivememory/internal/observability"
	"adaptivememory/internal/resilience"
)

const systemPrompt = `You classify a piece of text for a memory store. Respond with a
single JSON object: {"category":"decision|fact|preference|outcome|brainstorming",
"should_save":true|false,"confidence":0.0-1.0,"reasoning":"short explanation"}.
should_save must be true for every category except brainstorming.`

// AnthropicClassifier implements Classifier via the Anthropic messages API.
type AnthropicClassifier struct {
	sdk       anthropic.Client
	model     string
	upstream  *resilience.Upstream
	retry     resilience.Config
}

func NewAnthropicClassifier(cfg config.ClassifierConfig) *AnthropicClassifier {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicClassifier{
		sdk:      anthropic.NewClient(opts...),
		model:    model,
		upstream: resilience.New(resilience.DefaultConfig("classifier")),
		retry:    resilience.DefaultConfig("classifier"),
	}
}

type classifyPayload struct {
	Category   string  `json:"category"`
	ShouldSave bool    `json:"should_save"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *AnthropicClassifier) Classify(ctx context.Context, text string, hint string) (Result, error) {
	prompt := text
	if hint != "" {
		prompt = fmt.Sprintf("context: %s\n\ntext: %s", hint, text)
	}

	var raw string
	err := c.upstream.Call(ctx, c.retry, func(cctx context.Context) error {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 256,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		log := observability.LoggerWithTrace(cctx)
		if reqJSON, marshalErr := json.Marshal(params); marshalErr == nil {
			log.Debug().RawJSON("request", observability.RedactJSON(reqJSON)).Msg("classifier_call")
		}
		resp, err := c.sdk.Messages.New(cctx, params)
		if err != nil {
			log.Error().Err(err).Msg("classifier_call_error")
			return err
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				raw = block.Text
				return nil
			}
		}
		return fmt.Errorf("classifier: no text block in response")
	})
	if err != nil {
		return Result{}, err
	}

	var payload classifyPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		if rawJSON, marshalErr := json.Marshal(raw); marshalErr == nil {
			observability.LoggerWithTrace(ctx).Error().
				RawJSON("response", observability.RedactJSON(rawJSON)).
				Msg("classifier_response_parse_failed")
		}
		return Result{}, fmt.Errorf("classifier: parse response: %w", err)
	}
	cat := Category(payload.Category)
	shouldSave := payload.ShouldSave || cat != CategoryBrainstorming
	return Result{
		Category:   cat,
		ShouldSave: shouldSave,
		Confidence: payload.Confidence,
		Reasoning:  payload.Reasoning,
	}, nil
}

// extractJSON trims any leading/trailing prose the model adds around the
// JSON object, taking the outermost {...} span.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
