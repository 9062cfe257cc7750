package analysis

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Rewriter rewrites post text in the target channel's voice using an
// OpenAI chat model.
type Rewriter struct {
	client openai.Client
	model  string
	voice  string
}

// NewRewriter creates a rewriter. voice is the system prompt describing
// the target channel's tone.
func NewRewriter(apiKey, model, voice string) *Rewriter {
	return &Rewriter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		voice:  voice,
	}
}

// Rewrite returns the rewritten text. Empty input is returned as is.
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.voice),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite text: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("rewrite returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
