package ai

import (
	"context"
	"regexp"
	"strings"
)

const keyPhrasePrompt = "Extract the key phrases of the following journal note. " +
	"Reply with one phrase per line and nothing else.\n\n"

// KeyPhraseExtractor tags notes by asking the completion engine for key phrases.
type KeyPhraseExtractor struct {
	client     *OpenAICompatibleClient
	cfg        ChatConfig
	maxPhrases int
}

func NewKeyPhraseExtractor(client *OpenAICompatibleClient, cfg ChatConfig, maxPhrases int) *KeyPhraseExtractor {
	if maxPhrases <= 0 {
		maxPhrases = 10
	}
	return &KeyPhraseExtractor{client: client, cfg: cfg, maxPhrases: maxPhrases}
}

func (e *KeyPhraseExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}
	reply, err := e.client.Complete(ctx, e.cfg, []ChatMessage{
		{Role: "user", Content: keyPhrasePrompt + text},
	}, Sampling{Temperature: 0, MaxTokens: 120})
	if err != nil {
		return nil, err
	}
	return parsePhrases(reply, e.maxPhrases), nil
}

// listMarker matches a bullet or an ordinal such as "3." or "3)" ending in space or end of line.
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])(?:\s+|$)`)

// parsePhrases accepts one phrase per line or a comma separated list,
// strips list markers and drops case-insensitive duplicates.
func parsePhrases(reply string, limit int) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == '\n' || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	phrases := make([]string, 0, len(fields))
	for _, f := range fields {
		p := listMarker.ReplaceAllString(f, "")
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), "\"'"))
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		phrases = append(phrases, p)
		if len(phrases) == limit {
			break
		}
	}
	return phrases
}
