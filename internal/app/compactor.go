package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
)

const summarizerPrompt = "You are an assistant that summarizes reflective journal conversations."

// Completer is the completion gateway as seen by the chat services.
type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, sampling ai.Sampling) (string, error)
}

// Compactor folds an overflowing message log into one summary.
type Compactor struct {
	completer Completer
	llm       ai.ChatConfig
	sampling  ai.Sampling
}

func NewCompactor(completer Completer, llm ai.ChatConfig, sampling ai.Sampling) *Compactor {
	return &Compactor{completer: completer, llm: llm, sampling: sampling}
}

func (c *Compactor) Compact(ctx context.Context, messages []model.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: nothing to summarize", ErrInvalidInput)
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	prompt := []ai.ChatMessage{
		{Role: string(model.RoleSystem), Content: summarizerPrompt},
		{Role: string(model.RoleUser), Content: "Summarize this conversation briefly:\n\n" + strings.Join(lines, "\n")},
	}

	summary, err := c.completer.Complete(ctx, c.llm, prompt, c.sampling)
	if err != nil {
		return "", fmt.Errorf("summarize conversation failed: %w", err)
	}
	return summary, nil
}

// Merge folds a prior summary and a fresh one into a single replacement summary.
func (c *Compactor) Merge(ctx context.Context, prior, fresh string) (string, error) {
	return c.Compact(ctx, []model.Message{
		{Role: model.RoleUser, Content: "Earlier summary:\n" + prior},
		{Role: model.RoleUser, Content: "New context:\n" + fresh},
	})
}
