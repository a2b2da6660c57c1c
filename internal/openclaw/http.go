package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/clawboard/internal/policy"
	"github.com/ent0n29/clawboard/internal/reliability"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

const (
	HeaderSessionKey = "x-openclaw-session-key"
	HeaderAgentID    = "x-openclaw-agent-id"

	maxResponseBytes = 8 << 20
)

// HTTPClient posts prompts to an OpenClaw-compatible responses endpoint.
type HTTPClient struct {
	url        string
	token      string
	model      string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "openclaw"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPClient{
		url:        strings.TrimSpace(cfg.HTTPURL),
		token:      strings.TrimSpace(cfg.Token),
		model:      model,
		maxRetries: maxRetries,
		backoff:    250 * time.Millisecond,
		client:     &http.Client{Timeout: timeout},
	}
}

type requestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (resp CompletionResponse, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return CompletionResponse{}, ErrEmptyPrompt
	}
	model := c.model
	if m := strings.TrimSpace(req.Model); m != "" {
		model = m
	}
	payload, err := json.Marshal(requestBody{Model: model, Input: req.Text})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, span := telemetry.StartClientSpan(ctx, "openclaw.Complete",
		telemetry.AttrSession.String(req.SessionKey),
		telemetry.AttrAgentID.String(req.AgentID),
		attribute.String("openclaw.model", model),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	var body []byte
	err = reliability.Retry(ctx, c.maxRetries, c.backoff, 4*c.backoff, func(int) error {
		var attemptErr error
		body, attemptErr = c.post(ctx, req, payload)
		return attemptErr
	})
	if err != nil {
		return CompletionResponse{}, err
	}

	text := ResponseText(body)
	raw := json.RawMessage(body)
	if !json.Valid(body) {
		raw, _ = json.Marshal(string(body))
	}
	return CompletionResponse{Raw: raw, Text: text}, nil
}

func (c *HTTPClient) post(ctx context.Context, req CompletionRequest, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderSessionKey, req.SessionKey)
	if agent := strings.TrimSpace(req.AgentID); agent != "" {
		httpReq.Header.Set(HeaderAgentID, agent)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		return nil, reliability.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		detail, _ := policy.RedactSecrets(strings.TrimSpace(string(excerpt)))
		statusErr := fmt.Errorf("openclaw http status %d: %s", res.StatusCode, detail)
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, reliability.Retryable(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
