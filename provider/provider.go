package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/chatplan/models"
)

// Client names the wire protocol used to reach a language model
type Client string

const (
	OpenAI Client = "openai"
	HTTP   Client = "http"
)

// Request is the descriptor handed to a Streamer: a system instruction, the
// conversation history and an iteration budget the model side may use.
type Request struct {
	System        string           `json:"system"`
	Messages      []models.Message `json:"messages"`
	MaxIterations int              `json:"maxIterations"`
	Model         string           `json:"model,omitempty"`
}

// Chunk is one fragment of streamed model output. A chunk with a non-nil Err
// is the last one sent; a closed channel signals a clean end of stream.
type Chunk struct {
	Data []byte
	Err  error
}

// Streamer is the interface that all streaming LLM implementations must satisfy
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// TransportError reports a network failure or a non-2xx response.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("request failed: %d", e.StatusCode)
	}
	if e.Err == nil {
		return "request failed"
	}
	return "request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Send delivers c on ch unless ctx is done first.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
