package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"LimedAI/pkg/vector"
)

// ChatMessage is one prior conversational turn fed to the model.
type ChatMessage struct {
	Role string // "user" or "model"
	Text string
}

// QueryRewriter turns an utterance that may reference earlier turns into a
// standalone retrieval query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, history []ChatMessage, utterance string) (string, error)
}

// AnswerSynthesizer grounds an answer in the retrieved fragments.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, history []ChatMessage, query string, fragments []vector.Fragment) (string, []vector.Fragment, error)
}

// ErrGeneration marks model-call failures; the turn halts with the user
// message already persisted.
var ErrGeneration = errors.New("generation failed")

var ErrGeminiDisabled = errors.New("gemini is disabled via config")

const contextualizeSystemPrompt = `
鉴于聊天记录和用户的最新提问（可能引用了聊天记录中的内容），
请用中文重新表述一个独立的问题，使其在没有聊天记录的情况下也能被理解。
请不要回答问题，只需在需要时重新表述，否则按原样返回。`

const qaSystemPrompt = `
你是一个负责问答任务的助手。请使用以下检索到的上下文来回答问题。
你的回答应该使用中文。
如果你不知道答案，只需说“我不知道”。
请尽量简洁，用不超过三句话来回答。

%s`

// unknownAnswer is the bounded fallback when nothing applies.
const unknownAnswer = "我不知道。"

// GeminiProvider implements QueryRewriter and AnswerSynthesizer over the
// Gemini generateContent API.
type GeminiProvider struct {
	apiKey  string
	model   string
	enabled bool
}

func NewGeminiProvider(apiKey, model string, enabled bool) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: model, enabled: enabled}
}

// Rewrite resolves references against history so retrieval operates on a
// self-contained query. With no history the utterance already stands alone
// and is returned unchanged without a model call.
func (p *GeminiProvider) Rewrite(ctx context.Context, history []ChatMessage, utterance string) (string, error) {
	if len(history) == 0 {
		return utterance, nil
	}
	contents := chatContents(history)
	contents = append(contents, geminiTurn("user", utterance))

	text, err := p.generate(ctx, contextualizeSystemPrompt, contents, 0.2, 256)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return utterance, nil
	}
	return strings.TrimSpace(text), nil
}

// Synthesize answers the standalone query from the retrieved fragments. The
// fragments actually used keep their retrieval order; no re-ranking happens
// here.
func (p *GeminiProvider) Synthesize(ctx context.Context, history []ChatMessage, query string, fragments []vector.Fragment) (string, []vector.Fragment, error) {
	if len(fragments) == 0 {
		return unknownAnswer, nil, nil
	}

	var ctxBlock strings.Builder
	for _, f := range fragments {
		ctxBlock.WriteString(f.Text)
		ctxBlock.WriteString("\n\n")
	}
	system := fmt.Sprintf(qaSystemPrompt, ctxBlock.String())

	contents := chatContents(history)
	contents = append(contents, geminiTurn("user", query))

	text, err := p.generate(ctx, system, contents, 0.2, 1024)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = unknownAnswer
	}
	return text, fragments, nil
}

func chatContents(history []ChatMessage) []any {
	contents := make([]any, 0, len(history)+1)
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "model" {
			role = "user"
		}
		contents = append(contents, geminiTurn(role, m.Text))
	}
	return contents
}

func geminiTurn(role, text string) map[string]any {
	return map[string]any{
		"role":  role,
		"parts": []any{map[string]any{"text": text}},
	}
}

func (p *GeminiProvider) generate(ctx context.Context, system string, contents []any, temperature float64, maxTokens int) (string, error) {
	if !p.enabled {
		return "", ErrGeminiDisabled
	}
	if strings.TrimSpace(p.apiKey) == "" {
		return "", fmt.Errorf("GEMINI_API_KEY is not set")
	}

	reqBody := map[string]any{
		"systemInstruction": map[string]any{
			"parts": []any{map[string]any{"text": system}},
		},
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     temperature,
			"maxOutputTokens": maxTokens,
		},
	}
	bodyBytes, _ := json.Marshal(reqBody)

	text, err := p.callGenerateContent(ctx, p.model, bodyBytes)
	if err != nil && isRetriable(err) {
		sleepWithContext(ctx, 2*time.Second)
		text, err = p.callGenerateContent(ctx, p.model, bodyBytes)
	}
	return text, err
}

func (p *GeminiProvider) callGenerateContent(ctx context.Context, model string, body []byte) (string, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", model, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return strings.TrimSpace(string(respBytes)), nil
	}
	if cands, ok := parsed["candidates"].([]any); ok && len(cands) > 0 {
		if first, ok := cands[0].(map[string]any); ok {
			if content, ok := first["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					for _, pt := range parts {
						if pm, ok := pt.(map[string]any); ok {
							if txt, ok := pm["text"].(string); ok && strings.TrimSpace(txt) != "" {
								return txt, nil
							}
						}
					}
				}
			}
		}
	}
	return strings.TrimSpace(string(respBytes)), nil
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "http error")
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
