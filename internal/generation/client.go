// Package generation wraps a language model behind a blocking and a
// streaming call with explicit terminal status.
package generation

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/navigatord/internal/prompt"
)

var (
	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrGenerationFailed indicates the model call failed after retries.
	ErrGenerationFailed = errors.New("generation failed")
)

// FinishReason is the terminal status of a generation.
type FinishReason string

const (
	// FinishCompleted means the model finished its answer.
	FinishCompleted FinishReason = "completed"
	// FinishLengthLimited means the model stopped at the output cap.
	FinishLengthLimited FinishReason = "length_limited"
	// FinishCancelled means the caller cancelled mid-stream.
	FinishCancelled FinishReason = "cancelled"
	// FinishFailed means the model call failed after retries.
	FinishFailed FinishReason = "failed"
)

// Response is a completed generation.
type Response struct {
	Text   string
	Reason FinishReason
}

// StreamHandle delivers text increments as they arrive. The Increments
// channel closes when the stream ends; Wait then returns the terminal
// response. Text accumulated before a failure or cancellation is
// preserved in the response.
type StreamHandle struct {
	Increments <-chan string

	done chan struct{}
	resp *Response
	err  error
}

func newStreamHandle(increments <-chan string) *StreamHandle {
	return &StreamHandle{Increments: increments, done: make(chan struct{})}
}

// finish records the terminal state. Called exactly once by the producer.
func (h *StreamHandle) finish(resp *Response, err error) {
	h.resp = resp
	h.err = err
	close(h.done)
}

// Wait blocks until the stream terminates and returns the final response.
func (h *StreamHandle) Wait() (*Response, error) {
	<-h.done
	return h.resp, h.err
}

// Client generates answers from composed prompt requests.
type Client interface {
	// Generate blocks and collects the full answer.
	Generate(ctx context.Context, req *prompt.Request) (*Response, error)

	// Stream delivers the answer incrementally. The returned handle's
	// channel receives increments until terminal status is reached.
	Stream(ctx context.Context, req *prompt.Request) (*StreamHandle, error)
}
