// Package assistant orchestrates one user query end to end: session
// serialization, retrieval, prompt composition, generation, escalation
// and turn persistence.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/escalation"
	"github.com/fyrsmithlabs/navigatord/internal/generation"
	"github.com/fyrsmithlabs/navigatord/internal/prompt"
	"github.com/fyrsmithlabs/navigatord/internal/retrieval"
	"github.com/fyrsmithlabs/navigatord/internal/session"
)

var tracer = otel.Tracer("navigatord/assistant")

// ErrInvalidConfig indicates invalid service wiring.
var ErrInvalidConfig = errors.New("invalid config")

// degradedSupportNotice is appended when an escalation ticket could not
// be handed off.
const degradedSupportNotice = "\n\nNote: I was unable to notify the support team automatically. If you need help urgently, please contact support directly."

// escalationNotice is the answer when policy blocks generation for a
// sensitive topic.
const escalationNotice = "This topic needs a human touch. I've forwarded your message to the support team, who will follow up with you directly."

// Config holds assistant flow settings.
type Config struct {
	// HistoryTurns is how many prior turns feed the prompt and the
	// escalation context window. Default: 6
	HistoryTurns int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HistoryTurns == 0 {
		c.HistoryTurns = 6
	}
}

// Request is one user query.
type Request struct {
	// SessionID continues an existing conversation; empty creates one.
	SessionID string
	Role      string
	Language  string
	Message   string
}

// Response is the completed answer for one query.
type Response struct {
	SessionID  string
	Text       string
	Citations  []session.Citation
	Groundable bool
	Escalated  bool
	Reason     escalation.Reason
	Confidence session.Confidence
}

// Service wires the answering flow together.
type Service struct {
	config    Config
	sessions  *session.Manager
	retriever *retrieval.Orchestrator
	composer  *prompt.Composer
	generator generation.Client
	policy    *escalation.Policy
	sink      escalation.Sink
	logger    *zap.Logger
}

// New creates the assistant service.
func New(config Config, sessions *session.Manager, retriever *retrieval.Orchestrator, composer *prompt.Composer, generator generation.Client, policy *escalation.Policy, sink escalation.Sink, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if sessions == nil || retriever == nil || composer == nil || generator == nil || policy == nil || sink == nil {
		return nil, fmt.Errorf("%w: all collaborators are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:    config,
		sessions:  sessions,
		retriever: retriever,
		composer:  composer,
		generator: generator,
		policy:    policy,
		sink:      sink,
		logger:    logger,
	}, nil
}

// Answer handles one query and blocks until the full answer is ready.
//
// SessionExpired, SessionBusy and InputTooLong surface to the caller;
// everything else degrades to a fallback answer. Every query produces
// either a real answer, a degraded fallback, or an explicit caller error.
func (s *Service) Answer(ctx context.Context, req Request) (*Response, error) {
	return s.answer(ctx, req, nil)
}

// AnswerStream handles one query, forwarding text increments to emit as
// they arrive. A failing emit cancels delivery and marks the turn
// Cancelled. The returned response carries the terminal state.
func (s *Service) AnswerStream(ctx context.Context, req Request, emit func(chunk string) error) (*Response, error) {
	if emit == nil {
		return nil, fmt.Errorf("%w: emit callback is required", ErrInvalidConfig)
	}
	return s.answer(ctx, req, emit)
}

func (s *Service) answer(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Service.Answer")
	defer span.End()

	sessionID := req.SessionID
	if sessionID == "" {
		created, err := s.sessions.Create(ctx, req.Role, req.Language)
		if err != nil {
			return nil, err
		}
		sessionID = created
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	// Serialize turns on this session. A second in-flight message is
	// rejected rather than queued.
	release, err := s.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := s.sessions.RecentTurns(ctx, sessionID, s.config.HistoryTurns)
	if err != nil {
		return nil, err
	}

	sensitive := s.policy.MatchSensitive(req.Message)
	humanRequested := s.policy.MatchHumanRequest(req.Message)

	var (
		text       string
		confidence = session.ConfidenceNormal
		groundable bool
		citations  []session.Citation
	)

	if sensitive && s.policy.BlocksGeneration() {
		// Sensitive topics never reach the model when policy says so.
		text = escalationNotice
	} else {
		result, err := s.retriever.Retrieve(ctx, req.Message, req.Role, req.Language)
		if err != nil {
			return nil, err
		}
		groundable = result.Groundable
		citations = citationsFrom(result.Hits)

		composed, err := s.composer.Compose(req.Role, req.Language, result.Hits, toPromptHistory(history), req.Message)
		if err != nil {
			return nil, err
		}

		fallback := prompt.FallbackMessage(req.Role)
		if !groundable {
			fallback = prompt.NoInformationMessage
		}
		text, confidence, err = s.generate(ctx, composed, fallback, emit)
		if err != nil {
			return nil, err
		}
	}
	if confidence != session.ConfidenceNormal {
		citations = nil
	}

	failures := trailingFailures(history)
	if confidence == session.ConfidenceDegraded || !groundable {
		failures++
	}

	decision := escalation.Decision{}
	if confidence != session.ConfidenceCancelled {
		decision = s.policy.Decide(escalation.Inputs{
			UserRequested:       humanRequested,
			Degraded:            confidence == session.ConfidenceDegraded,
			Groundable:          groundable,
			ConsecutiveFailures: failures,
			SensitiveMatch:      sensitive,
		})
	}

	userTurn := session.Turn{
		Role:      "user",
		Text:      req.Message,
		Timestamp: time.Now().UTC(),
	}

	if decision.Escalate {
		ticket := escalation.BuildTicket(sessionID, decision, userTurn, history, s.config.HistoryTurns)
		if err := s.sink.Submit(ctx, ticket); err != nil {
			s.logger.Error("escalation hand-off failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			text += degradedSupportNotice
		}
	}

	// Persist in submission order: the user's message, then the answer.
	if err := s.sessions.AppendTurn(ctx, sessionID, userTurn); err != nil {
		return nil, err
	}
	assistantTurn := session.Turn{
		Role:       "assistant",
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Citations:  citations,
		Confidence: confidence,
		Groundable: groundable,
	}
	if err := s.sessions.AppendTurn(ctx, sessionID, assistantTurn); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("groundable", groundable),
		attribute.Bool("escalated", decision.Escalate),
		attribute.String("confidence", string(confidence)),
	)
	span.SetStatus(codes.Ok, "success")

	return &Response{
		SessionID:  sessionID,
		Text:       text,
		Citations:  citations,
		Groundable: groundable,
		Escalated:  decision.Escalate,
		Reason:     decision.Reason,
		Confidence: confidence,
	}, nil
}

// generate runs the model call, substituting the fallback answer on
// failure and classifying cancellation.
func (s *Service) generate(ctx context.Context, composed *prompt.Request, fallback string, emit func(string) error) (string, session.Confidence, error) {
	if emit == nil {
		resp, err := s.generator.Generate(ctx, composed)
		switch {
		case err == nil:
			return resp.Text, session.ConfidenceNormal, nil
		case errors.Is(err, context.Canceled):
			return "", "", err
		default:
			s.logger.Warn("generation failed, substituting fallback", zap.Error(err))
			return fallback, session.ConfidenceDegraded, nil
		}
	}

	handle, err := s.generator.Stream(ctx, composed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", "", err
		}
		s.logger.Warn("stream start failed, substituting fallback", zap.Error(err))
		return fallback, session.ConfidenceDegraded, nil
	}

	emitFailed := false
	for chunk := range handle.Increments {
		if emitFailed {
			continue
		}
		if err := emit(chunk); err != nil {
			// Client went away; drain and mark the turn cancelled.
			emitFailed = true
		}
	}
	resp, err := handle.Wait()

	switch {
	case emitFailed:
		return resp.Text, session.ConfidenceCancelled, nil
	case resp != nil && resp.Reason == generation.FinishCancelled:
		return resp.Text, session.ConfidenceCancelled, nil
	case err != nil:
		s.logger.Warn("stream failed, substituting fallback", zap.Error(err))
		return fallback, session.ConfidenceDegraded, nil
	default:
		return resp.Text, session.ConfidenceNormal, nil
	}
}

// trailingFailures counts consecutive degraded or ungroundable assistant
// turns at the tail of the history.
func trailingFailures(history []session.Turn) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role != "assistant" {
			continue
		}
		if turn.Confidence == session.ConfidenceDegraded || !turn.Groundable {
			count++
			continue
		}
		break
	}
	return count
}

func citationsFrom(hits []retrieval.Hit) []session.Citation {
	seen := make(map[string]bool, len(hits))
	var out []session.Citation
	for _, hit := range hits {
		if hit.DocumentID == "" || seen[hit.DocumentID] {
			continue
		}
		seen[hit.DocumentID] = true
		out = append(out, session.Citation{
			DocumentID: hit.DocumentID,
			Source:     hit.Source,
		})
	}
	return out
}

func toPromptHistory(turns []session.Turn) []prompt.Message {
	out := make([]prompt.Message, 0, len(turns))
	for _, turn := range turns {
		out = append(out, prompt.Message{Role: turn.Role, Content: turn.Text})
	}
	return out
}
