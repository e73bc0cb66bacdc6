// Package httpstream relays the raw response body of an upstream planner
// endpoint as stream fragments.
package httpstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/models"
	"github.com/mohammad-safakhou/chatplan/provider"
)

const readSize = 4096

type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// plannerRequest is the body the upstream planner endpoint accepts.
// searchMode mirrors a multi-step iteration budget.
type plannerRequest struct {
	UserPrompt    string           `json:"userPrompt"`
	SearchMode    bool             `json:"searchMode"`
	System        string           `json:"system,omitempty"`
	Messages      []models.Message `json:"messages"`
	MaxIterations int              `json:"maxIterations"`
	Model         string           `json:"model,omitempty"`
}

func New(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		tr.ResponseHeaderTimeout = timeout
	}
	return &Client{url: url, httpClient: &http.Client{Transport: tr}, logger: logger.Named("httpstream")}
}

// Stream implements provider.Streamer.
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	body, err := json.Marshal(plannerRequest{
		UserPrompt:    lastUserContent(req.Messages),
		SearchMode:    req.MaxIterations > 1,
		System:        req.System,
		Messages:      req.Messages,
		MaxIterations: req.MaxIterations,
		Model:         req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &provider.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		c.logger.Warn("planner endpoint rejected request", zap.Int("status", resp.StatusCode))
		return nil, &provider.TransportError{StatusCode: resp.StatusCode}
	}

	out := make(chan provider.Chunk, 16)
	go c.relay(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) relay(ctx context.Context, body io.ReadCloser, out chan<- provider.Chunk) {
	defer close(out)
	defer body.Close()

	buf := make([]byte, readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !provider.Send(ctx, out, provider.Chunk{Data: data}) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				provider.Send(ctx, out, provider.Chunk{Err: &provider.TransportError{Err: err}})
			}
			return
		}
	}
}

func lastUserContent(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
