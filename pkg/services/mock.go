package services

import (
	"context"
	"strings"

	"LimedAI/pkg/vector"
)

// LocalProvider is a deterministic stand-in for the generative backend, used
// when Gemini is disabled and in tests.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Rewrite returns the utterance unchanged; without a model there is nothing
// to resolve, and a self-contained question must pass through untouched.
func (LocalProvider) Rewrite(ctx context.Context, history []ChatMessage, utterance string) (string, error) {
	return strings.TrimSpace(utterance), nil
}

// Synthesize stitches a bounded answer from the top fragment. It never
// returns an empty answer.
func (LocalProvider) Synthesize(ctx context.Context, history []ChatMessage, query string, fragments []vector.Fragment) (string, []vector.Fragment, error) {
	if len(fragments) == 0 {
		return unknownAnswer, nil, nil
	}
	excerpt := fragments[0].Text
	if runes := []rune(excerpt); len(runes) > 120 {
		excerpt = string(runes[:120]) + "…"
	}
	b := &strings.Builder{}
	b.WriteString("根据教材内容：")
	b.WriteString(excerpt)
	return b.String(), fragments, nil
}
