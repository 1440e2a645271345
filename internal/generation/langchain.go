package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/navigatord/internal/prompt"
)

var tracer = otel.Tracer("navigatord/generation")

// Config holds generation client tuning.
type Config struct {
	// Temperature for sampling. Default: 0.7
	Temperature float64

	// TopP nucleus sampling parameter. Default: 0.9
	TopP float64

	// MaxAttempts for the blocking call, including the first.
	// Streams are not retried once increments have been delivered.
	// Default: 2
	MaxAttempts int

	// BaseBackoff between attempts, doubled each retry. Default: 500ms
	BaseBackoff time.Duration

	// RequestsPerSecond throttles model calls across all sessions.
	// Default: 5
	RequestsPerSecond float64

	// Burst for the rate limiter. Default: 10
	Burst int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 2
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
}

// LangchainClient implements Client on top of a langchaingo model.
type LangchainClient struct {
	config  Config
	model   llms.Model
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLangchainClient creates a generation client around the given model.
func NewLangchainClient(config Config, model llms.Model, logger *zap.Logger) (*LangchainClient, error) {
	config.ApplyDefaults()
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LangchainClient{
		config:  config,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}, nil
}

// Generate blocks until the model produces a full answer.
func (c *LangchainClient) Generate(ctx context.Context, req *prompt.Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "LangchainClient.Generate")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.config.BaseBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.model.GenerateContent(ctx, toMessages(req), c.callOptions(req)...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("model call failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("model returned no choices")
			continue
		}

		choice := resp.Choices[0]
		reason := mapStopReason(choice.StopReason)
		span.SetAttributes(attribute.String("finish_reason", string(reason)))
		span.SetStatus(codes.Ok, "success")
		return &Response{Text: choice.Content, Reason: reason}, nil
	}

	err := fmt.Errorf("%w: %d attempts exhausted: %v", ErrGenerationFailed, c.config.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// Stream starts an incremental generation. Increments arrive on the
// handle's channel; cancellation of ctx stops delivery and yields the
// Cancelled terminal status with the text received so far.
func (c *LangchainClient) Stream(ctx context.Context, req *prompt.Request) (*StreamHandle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	increments := make(chan string, 16)
	handle := newStreamHandle(increments)

	go func() {
		ctx, span := tracer.Start(ctx, "LangchainClient.Stream")
		defer span.End()

		var collected strings.Builder
		opts := append(c.callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			collected.Write(chunk)
			select {
			case increments <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		resp, err := c.model.GenerateContent(ctx, toMessages(req), opts...)
		close(increments)

		switch {
		case ctx.Err() != nil:
			span.SetStatus(codes.Ok, "cancelled")
			handle.finish(&Response{Text: collected.String(), Reason: FinishCancelled}, nil)
		case err != nil:
			wrapped := fmt.Errorf("%w: %v", ErrGenerationFailed, err)
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			handle.finish(&Response{Text: collected.String(), Reason: FinishFailed}, wrapped)
		case len(resp.Choices) == 0:
			wrapped := fmt.Errorf("%w: model returned no choices", ErrGenerationFailed)
			handle.finish(&Response{Text: collected.String(), Reason: FinishFailed}, wrapped)
		default:
			reason := mapStopReason(resp.Choices[0].StopReason)
			text := resp.Choices[0].Content
			if text == "" {
				text = collected.String()
			}
			span.SetStatus(codes.Ok, "success")
			handle.finish(&Response{Text: text, Reason: reason}, nil)
		}
	}()

	return handle, nil
}

func (c *LangchainClient) callOptions(req *prompt.Request) []llms.CallOption {
	return []llms.CallOption{
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(c.config.Temperature),
		llms.WithTopP(c.config.TopP),
	}
}

func toMessages(req *prompt.Request) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	return messages
}

// mapStopReason translates provider stop reasons into finish statuses.
func mapStopReason(stop string) FinishReason {
	switch stop {
	case "max_tokens", "length":
		return FinishLengthLimited
	default:
		return FinishCompleted
	}
}

var _ Client = (*LangchainClient)(nil)
