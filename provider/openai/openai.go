package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/models"
	"github.com/mohammad-safakhou/chatplan/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxSSELine     = 1 << 20
)

// client streams chat completions from an OpenAI-compatible API
type client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the chat completions endpoint
type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// streamChunk is one SSE data payload
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new streaming client. timeout bounds the wait for
// response headers only; the body is bounded by the caller's context.
func NewOpenAIClient(baseURL, apiKey, model string, temperature float64, maxTokens int, timeout time.Duration, logger *zap.Logger) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		tr.ResponseHeaderTimeout = timeout
	}
	return &client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Transport: tr},
		logger:      logger.Named("openai"),
	}
}

// Stream implements provider.Streamer
func (c *client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := request{
		Model:       model,
		Messages:    convertMessages(req),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// chat completions has no multi-step budget; the value is only traced
	c.logger.Debug("stream request",
		zap.String("model", model),
		zap.Int("messages", len(body.Messages)),
		zap.Int("max_iterations", req.MaxIterations))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &provider.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.logger.Warn("stream rejected", zap.Int("status", resp.StatusCode), zap.ByteString("body", snippet))
		return nil, &provider.TransportError{StatusCode: resp.StatusCode}
	}

	out := make(chan provider.Chunk, 16)
	go c.parseSSE(ctx, resp.Body, out)
	return out, nil
}

// parseSSE relays content deltas until [DONE], EOF or cancellation
func (c *client) parseSSE(ctx context.Context, body io.ReadCloser, out chan<- provider.Chunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed sse payload", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		// reasoning tokens are not part of the answer
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if !provider.Send(ctx, out, provider.Chunk{Data: []byte(delta)}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		provider.Send(ctx, out, provider.Chunk{Err: &provider.TransportError{Err: err}})
	}
}

func convertMessages(req provider.Request) []message {
	out := make([]message, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, message{Role: string(models.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		out = append(out, message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
