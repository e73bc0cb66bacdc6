// Package stream rebuilds a single JSON value from model output that arrives
// as arbitrarily split text fragments.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/mohammad-safakhou/chatplan/provider"
)

// ErrIncompleteOutput is returned when the stream ended without ever
// producing a parseable JSON value.
var ErrIncompleteOutput = errors.New("model output ended before a complete JSON value was received")

// Observer receives per-fragment progress. Implementations must not block.
type Observer interface {
	Fragment(size int)
	ParseAttempt(ok bool)
}

// Reconstructor accumulates fragments and re-parses the whole buffer after
// every append. A successful parse replaces the candidate and clears the
// buffer; a failed parse is not an error, it only means "not yet".
//
// A Reconstructor is owned by one request and is not safe for concurrent use.
type Reconstructor struct {
	buf       bytes.Buffer
	candidate any
	have      bool
	observer  Observer
}

type Option func(*Reconstructor)

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(r *Reconstructor) { r.observer = o }
}

func New(opts ...Option) *Reconstructor {
	r := &Reconstructor{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write appends a fragment and attempts a parse. It reports the new candidate
// when this fragment completed a JSON value.
func (r *Reconstructor) Write(fragment []byte) (any, bool) {
	r.buf.Write(fragment)
	if r.observer != nil {
		r.observer.Fragment(len(fragment))
	}
	v, ok := r.tryParse(false)
	if ok {
		r.candidate, r.have = v, true
		r.buf.Reset()
	}
	return v, ok
}

// Finish is called at end of stream. It makes one last attempt on whatever
// is buffered, then returns the latest candidate or ErrIncompleteOutput.
func (r *Reconstructor) Finish() (any, error) {
	if r.buf.Len() > 0 {
		if v, ok := r.tryParse(true); ok {
			r.candidate, r.have = v, true
		}
	}
	r.buf.Reset()
	if !r.have {
		return nil, ErrIncompleteOutput
	}
	return r.candidate, nil
}

// Reset drops the buffer and any candidate.
func (r *Reconstructor) Reset() {
	r.buf.Reset()
	r.candidate, r.have = nil, false
}

// Buffered returns the number of bytes waiting for a successful parse.
func (r *Reconstructor) Buffered() int {
	return r.buf.Len()
}

// Candidate returns the latest successfully parsed value, if any.
func (r *Reconstructor) Candidate() (any, bool) {
	return r.candidate, r.have
}

func (r *Reconstructor) tryParse(final bool) (any, bool) {
	data := r.buf.Bytes()
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	var v any
	err := json.Unmarshal(data, &v)
	ok := err == nil
	// "12" fed as "1","2" would otherwise yield a premature 1: a number that
	// runs to the end of the buffer is only accepted at end of stream.
	if ok && !final && endsInBareNumber(data) {
		ok = false
	}
	if r.observer != nil {
		r.observer.ParseAttempt(ok)
	}
	if !ok {
		return nil, false
	}
	return v, true
}

func endsInBareNumber(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	c := trimmed[0]
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	last := data[len(data)-1]
	return last >= '0' && last <= '9'
}

// Reconstruct drives r (or a fresh Reconstructor when r is nil) from a chunk
// channel. Cancellation is checked before every fragment; once observed the
// buffer and candidate are discarded and ctx.Err() is returned. A chunk
// carrying an error aborts with that error. A closed channel ends the stream.
func Reconstruct(ctx context.Context, chunks <-chan provider.Chunk, r *Reconstructor) (any, error) {
	if r == nil {
		r = New()
	}
	for {
		select {
		case <-ctx.Done():
			r.Reset()
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if err := ctx.Err(); err != nil {
					r.Reset()
					return nil, err
				}
				return r.Finish()
			}
			if err := ctx.Err(); err != nil {
				r.Reset()
				return nil, err
			}
			if c.Err != nil {
				r.Reset()
				return nil, c.Err
			}
			r.Write(c.Data)
		}
	}
}
