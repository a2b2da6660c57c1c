package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CompletionRequest is one prompt sent to OpenClaw under a conversation key.
type CompletionRequest struct {
	SessionKey string
	AgentID    string
	Text       string
	Model      string
}

// CompletionResponse carries the provider body as received plus the text
// extracted from it.
type CompletionResponse struct {
	Raw  json.RawMessage
	Text string
}

// Completer turns a prompt plus session identity into generated text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

var ErrEmptyPrompt = errors.New("openclaw: empty prompt")

// Config controls client construction.
type Config struct {
	Mode       string
	HTTPURL    string
	Token      string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// New builds the Completer for cfg.Mode. "auto" talks HTTP when a URL is
// configured and answers from the deterministic mock otherwise.
func New(cfg Config) (Completer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClient(cfg), nil
		}
		return NewMockCompleter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("openclaw HTTP url is required for http mode")
		}
		return NewHTTPClient(cfg), nil
	case "mock":
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported openclaw mode %q", cfg.Mode)
	}
}
