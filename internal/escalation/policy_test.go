package escalation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/navigatord/internal/escalation"
)

func newPolicy(t *testing.T, config escalation.PolicyConfig) *escalation.Policy {
	t.Helper()
	p, err := escalation.NewPolicy(config)
	require.NoError(t, err)
	return p
}

func TestDecide(t *testing.T) {
	p := newPolicy(t, escalation.PolicyConfig{FailureThreshold: 3})

	tests := []struct {
		name       string
		in         escalation.Inputs
		wantEscal  bool
		wantReason escalation.Reason
	}{
		{
			name: "nothing triggers",
			in:   escalation.Inputs{Groundable: true},
		},
		{
			name:       "explicit user request",
			in:         escalation.Inputs{UserRequested: true, Groundable: true},
			wantEscal:  true,
			wantReason: escalation.ReasonUserRequested,
		},
		{
			name:       "sensitive outranks user request",
			in:         escalation.Inputs{UserRequested: true, SensitiveMatch: true},
			wantEscal:  true,
			wantReason: escalation.ReasonSensitiveTopic,
		},
		{
			name: "ungroundable alone does not escalate",
			in:   escalation.Inputs{Groundable: false},
		},
		{
			name: "degraded but grounded does not escalate",
			in:   escalation.Inputs{Degraded: true, Groundable: true},
		},
		{
			name:       "degraded and ungroundable is low confidence",
			in:         escalation.Inputs{Degraded: true, Groundable: false},
			wantEscal:  true,
			wantReason: escalation.ReasonLowConfidence,
		},
		{
			name:       "failures at threshold",
			in:         escalation.Inputs{ConsecutiveFailures: 3, Groundable: true},
			wantEscal:  true,
			wantReason: escalation.ReasonRepeatedFailure,
		},
		{
			name: "failures below threshold",
			in:   escalation.Inputs{ConsecutiveFailures: 2, Groundable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.in)
			assert.Equal(t, tt.wantEscal, got.Escalate)
			if tt.wantEscal {
				assert.Equal(t, tt.wantReason, got.Reason)
			}
		})
	}
}

func TestDecide_RepeatedFailureIsDeterministic(t *testing.T) {
	p := newPolicy(t, escalation.PolicyConfig{FailureThreshold: 3})

	// Regardless of what else the current turn looks like, the counter
	// at threshold forces escalation.
	variants := []escalation.Inputs{
		{ConsecutiveFailures: 3},
		{ConsecutiveFailures: 3, Groundable: true},
		{ConsecutiveFailures: 3, Degraded: true},
		{ConsecutiveFailures: 5, Groundable: true, Degraded: false},
	}
	for _, in := range variants {
		got := p.Decide(in)
		assert.True(t, got.Escalate)
		assert.Equal(t, escalation.ReasonRepeatedFailure, got.Reason)
	}
}

func TestMatchHumanRequest(t *testing.T) {
	p := newPolicy(t, escalation.PolicyConfig{})

	assert.True(t, p.MatchHumanRequest("I want to talk to a person"))
	assert.True(t, p.MatchHumanRequest("Can I speak with a human?"))
	assert.True(t, p.MatchHumanRequest("Get me a REAL PERSON please"))
	assert.False(t, p.MatchHumanRequest("How do people register for the course?"))
	assert.False(t, p.MatchHumanRequest("What is a personal development plan?"))
}

func TestMatchSensitive(t *testing.T) {
	p := newPolicy(t, escalation.PolicyConfig{
		SensitivePatterns: []string{`(?i)\bself[- ]harm\b`, `(?i)\bcrisis\b`},
	})

	assert.True(t, p.MatchSensitive("I need help, this is a crisis"))
	assert.True(t, p.MatchSensitive("resources about self-harm"))
	assert.False(t, p.MatchSensitive("When is the next course?"))
	assert.False(t, p.BlocksGeneration(), "generation proceeds by default")
}

func TestNewPolicy_BadPattern(t *testing.T) {
	_, err := escalation.NewPolicy(escalation.PolicyConfig{
		SensitivePatterns: []string{"("},
	})
	assert.ErrorIs(t, err, escalation.ErrInvalidConfig)
}
