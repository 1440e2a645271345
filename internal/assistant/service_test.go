package assistant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/assistant"
	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/escalation"
	"github.com/fyrsmithlabs/navigatord/internal/generation"
	"github.com/fyrsmithlabs/navigatord/internal/prompt"
	"github.com/fyrsmithlabs/navigatord/internal/retrieval"
	"github.com/fyrsmithlabs/navigatord/internal/session"
	"github.com/fyrsmithlabs/navigatord/internal/vectorstore"
)

const testModel = "test-embed-v1"

// fixedProvider maps known texts to vectors; unknown texts get a far-off
// default so they never match.
type fixedProvider struct {
	vectors map[string][]float32
}

func (p *fixedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.lookup(text)
	}
	return out, nil
}

func (p *fixedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.lookup(text), nil
}

func (p *fixedProvider) lookup(text string) []float32 {
	if v, ok := p.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (p *fixedProvider) Model() string  { return testModel }
func (p *fixedProvider) Dimension() int { return 3 }

var _ embeddings.Provider = (*fixedProvider)(nil)

// scriptedGenerator returns canned answers, optionally failing or
// stalling first.
type scriptedGenerator struct {
	text  string
	err   error
	delay time.Duration
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *prompt.Request) (*generation.Response, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &generation.Response{Text: g.text, Reason: generation.FinishCompleted}, nil
}

func (g *scriptedGenerator) Stream(ctx context.Context, req *prompt.Request) (*generation.StreamHandle, error) {
	return nil, errors.New("not scripted")
}

var _ generation.Client = (*scriptedGenerator)(nil)

// recordingSink captures submitted tickets.
type recordingSink struct {
	mu      sync.Mutex
	tickets []escalation.Ticket
	err     error
}

func (s *recordingSink) Submit(ctx context.Context, ticket escalation.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tickets = append(s.tickets, ticket)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

type fixture struct {
	service  *assistant.Service
	sessions *session.Manager
	store    *vectorstore.ChromemStore
	sink     *recordingSink
}

func newFixture(t *testing.T, provider embeddings.Provider, generator generation.Client, policyCfg escalation.PolicyConfig) *fixture {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		VectorSize:   3,
		ModelVersion: testModel,
	}, nil)
	require.NoError(t, err)

	retriever, err := retrieval.New(retrieval.Config{}, provider, store, nil)
	require.NoError(t, err)

	composer, err := prompt.NewComposer(prompt.Config{}, nil)
	require.NoError(t, err)

	sessions, err := session.NewManager(session.Config{}, session.NewMemoryStore(), nil)
	require.NoError(t, err)

	policy, err := escalation.NewPolicy(policyCfg)
	require.NoError(t, err)

	sink := &recordingSink{}
	service, err := assistant.New(assistant.Config{}, sessions, retriever, composer, generator, policy, sink, nil)
	require.NoError(t, err)

	return &fixture{service: service, sessions: sessions, store: store, sink: sink}
}

func seedHandbook(t *testing.T, f *fixture, queryVector []float32) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), []vectorstore.Entry{{
		ID:           "handbook@v1#0",
		Vector:       queryVector,
		Content:      "Instructors must complete an 8-hour course and pass an 80% exam.",
		ModelVersion: testModel,
		Metadata: map[string]string{
			vectorstore.MetaDocumentID: "handbook",
			vectorstore.MetaSource:     "handbook.txt",
			vectorstore.MetaChunkIndex: "0",
		},
	}}))
}

func TestAnswer_GroundedWithCitations(t *testing.T) {
	provider := &fixedProvider{vectors: map[string][]float32{
		"What score do I need to pass?": {1, 0, 0},
	}}
	f := newFixture(t, provider,
		&scriptedGenerator{text: "According to Document 1, you need 80% to pass."},
		escalation.PolicyConfig{})
	seedHandbook(t, f, []float32{1, 0, 0})

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:     prompt.RoleInstructor,
		Language: "en",
		Message:  "What score do I need to pass?",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID, "session created when absent")
	assert.Contains(t, resp.Text, "80%")
	assert.True(t, resp.Groundable)
	assert.False(t, resp.Escalated)
	assert.Equal(t, session.ConfidenceNormal, resp.Confidence)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "handbook", resp.Citations[0].DocumentID)
	assert.Equal(t, "handbook.txt", resp.Citations[0].Source)

	// Turns persisted in submission order.
	turns, err := f.sessions.RecentTurns(context.Background(), resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.True(t, turns[1].Groundable)
}

func TestAnswer_EmptyIndexFallsBackWithoutEscalating(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{text: "I don't have information on that, but in general..."},
		escalation.PolicyConfig{})

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:    prompt.RoleGeneral,
		Message: "What is the parking situation?",
	})
	require.NoError(t, err)

	assert.False(t, resp.Groundable)
	assert.False(t, resp.Escalated, "empty index alone never forces escalation")
	assert.Empty(t, resp.Citations, "no fabricated citations for ungroundable queries")
	assert.Equal(t, session.ConfidenceNormal, resp.Confidence)
	assert.Equal(t, 0, f.sink.count())
}

func TestAnswer_UserRequestedEscalation(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{text: "Of course, connecting you with our team."},
		escalation.PolicyConfig{})

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:    prompt.RoleGeneral,
		Message: "I want to talk to a person",
	})
	require.NoError(t, err)

	assert.True(t, resp.Escalated)
	assert.Equal(t, escalation.ReasonUserRequested, resp.Reason)
	require.Equal(t, 1, f.sink.count())
	assert.Equal(t, "I want to talk to a person", f.sink.tickets[0].Triggering.Text)
	assert.Equal(t, resp.SessionID, f.sink.tickets[0].ConversationID)
}

func TestAnswer_GenerationFailureDegrades(t *testing.T) {
	provider := &fixedProvider{vectors: map[string][]float32{
		"What score do I need to pass?": {1, 0, 0},
	}}
	f := newFixture(t, provider,
		&scriptedGenerator{err: generation.ErrGenerationFailed},
		escalation.PolicyConfig{})
	seedHandbook(t, f, []float32{1, 0, 0})

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:    prompt.RoleInstructor,
		Message: "What score do I need to pass?",
	})
	require.NoError(t, err, "generation failure never surfaces to the user")

	assert.Equal(t, session.ConfidenceDegraded, resp.Confidence)
	assert.Contains(t, resp.Text, "technical difficulties")
	assert.Empty(t, resp.Citations, "degraded answers carry no citations")
	assert.False(t, resp.Escalated, "grounded but degraded is not low confidence")
}

func TestAnswer_RepeatedFailuresEscalate(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{err: generation.ErrGenerationFailed},
		escalation.PolicyConfig{FailureThreshold: 3})

	ctx := context.Background()
	var resp *assistant.Response
	var err error
	sessionID := ""
	for i := 0; i < 3; i++ {
		resp, err = f.service.Answer(ctx, assistant.Request{
			SessionID: sessionID,
			Role:      prompt.RoleGeneral,
			Message:   "unanswerable question",
		})
		require.NoError(t, err)
		sessionID = resp.SessionID
	}

	assert.True(t, resp.Escalated)
	assert.Equal(t, escalation.ReasonRepeatedFailure, resp.Reason)
}

func TestAnswer_SensitiveTopicEscalatesBeforeGeneration(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{text: "should never be used"},
		escalation.PolicyConfig{
			SensitivePatterns: []string{`(?i)\bcrisis\b`},
			BlockGeneration:   true,
		})

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:    prompt.RoleGeneral,
		Message: "I am in a crisis",
	})
	require.NoError(t, err)

	assert.True(t, resp.Escalated)
	assert.Equal(t, escalation.ReasonSensitiveTopic, resp.Reason)
	assert.NotContains(t, resp.Text, "should never be used",
		"blocked generation keeps the message away from the model")
	require.Equal(t, 1, f.sink.count())
	assert.Equal(t, escalation.PriorityHigh, f.sink.tickets[0].Priority)
}

func TestAnswer_SinkFailureStillAnswers(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{text: "Connecting you with support."},
		escalation.PolicyConfig{})
	f.sink.err = errors.New("broker down")

	resp, err := f.service.Answer(context.Background(), assistant.Request{
		Role:    prompt.RoleGeneral,
		Message: "please let me speak with a human",
	})
	require.NoError(t, err, "hand-off failure never drops the user-facing turn")
	assert.True(t, resp.Escalated)
	assert.Contains(t, resp.Text, "unable to notify the support team")
}

func TestAnswer_ConcurrentSameSessionRejected(t *testing.T) {
	f := newFixture(t, &fixedProvider{},
		&scriptedGenerator{text: "slow answer", delay: 200 * time.Millisecond},
		escalation.PolicyConfig{})
	ctx := context.Background()

	sessionID, err := f.sessions.Create(ctx, prompt.RoleGeneral, "en")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Answer(ctx, assistant.Request{
				SessionID: sessionID,
				Role:      prompt.RoleGeneral,
				Message:   "message",
			})
		}(i)
	}
	wg.Wait()

	busy := 0
	for _, err := range errs {
		if errors.Is(err, session.ErrSessionBusy) {
			busy++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, busy, "second concurrent message is rejected")

	// The accepted turn persisted in order, never interleaved.
	turns, err := f.sessions.RecentTurns(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestAnswer_ExpiredSessionSurfaces(t *testing.T) {
	f := newFixture(t, &fixedProvider{}, &scriptedGenerator{text: "x"}, escalation.PolicyConfig{})

	_, err := f.service.Answer(context.Background(), assistant.Request{
		SessionID: "long-gone",
		Role:      prompt.RoleGeneral,
		Message:   "hello",
	})
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}
