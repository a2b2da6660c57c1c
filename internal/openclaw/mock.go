package openclaw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockCompleter provides deterministic local replies when OpenClaw is not
// configured. Prompts that ask for JSON get a small valid object back so the
// run side effects can be exercised offline.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	select {
	case <-ctx.Done():
		return CompletionResponse{}, ctx.Err()
	default:
	}
	if strings.TrimSpace(req.Text) == "" {
		return CompletionResponse{}, ErrEmptyPrompt
	}

	text := buildMockReply(req)
	raw, _ := json.Marshal(map[string]string{"output_text": text})
	return CompletionResponse{Raw: raw, Text: text}, nil
}

func buildMockReply(req CompletionRequest) string {
	prompt := strings.TrimSpace(req.Text)
	firstLine := prompt
	if i := strings.IndexByte(prompt, '\n'); i >= 0 {
		firstLine = strings.TrimSpace(prompt[:i])
	}
	if !strings.Contains(prompt, "JSON") {
		return fmt.Sprintf("Noted: %s", firstLine)
	}
	reply := map[string]any{
		"summary": fmt.Sprintf("Offline reply for session %s", req.SessionKey),
	}
	return "```json\n" + mustJSON(reply) + "\n```"
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
