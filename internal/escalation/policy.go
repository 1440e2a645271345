// Package escalation decides when a conversation needs a human and hands
// tickets to the external ticketing collaborator.
package escalation

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidConfig indicates invalid policy configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrSinkUnavailable indicates ticket hand-off failed after retries.
	ErrSinkUnavailable = errors.New("escalation sink unavailable")
)

// Reason codes for an escalation decision.
type Reason string

const (
	ReasonUserRequested   Reason = "user_requested"
	ReasonLowConfidence   Reason = "low_confidence"
	ReasonRepeatedFailure Reason = "repeated_failure"
	ReasonSensitiveTopic  Reason = "sensitive_topic"
)

// Priority of an escalation ticket.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Inputs are the facts the policy decides over.
type Inputs struct {
	// UserRequested is true when the message explicitly asks for a human.
	UserRequested bool

	// Degraded is true when this turn's answer is a fallback for a
	// failed generation.
	Degraded bool

	// Groundable is the retrieval classification for this query.
	Groundable bool

	// ConsecutiveFailures counts prior degraded or ungroundable turns
	// in this session, including the current one.
	ConsecutiveFailures int

	// SensitiveMatch is true when the message matched a sensitive
	// topic pattern.
	SensitiveMatch bool
}

// Decision is the policy outcome.
type Decision struct {
	Escalate bool
	Reason   Reason
	Priority Priority
}

// PolicyConfig holds escalation thresholds and patterns.
type PolicyConfig struct {
	// FailureThreshold is the consecutive-failure count at which
	// RepeatedFailure fires. Default: 3
	FailureThreshold int

	// SensitivePatterns are regular expressions matched against the
	// raw user message before generation.
	SensitivePatterns []string

	// BlockGeneration, when true, suppresses model generation entirely
	// for sensitive-topic matches; the user gets the escalation notice
	// only. Default false: generation proceeds alongside the ticket.
	BlockGeneration bool
}

// ApplyDefaults sets default values for unset fields.
func (c *PolicyConfig) ApplyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
}

// Policy evaluates escalation decisions. Decide is a pure function of
// its inputs; the compiled matchers are immutable after construction.
type Policy struct {
	config    PolicyConfig
	sensitive []*regexp.Regexp
	human     []*regexp.Regexp
}

// humanRequestPatterns detect an explicit ask for a person.
var humanRequestPatterns = []string{
	`(?i)\btalk (to|with) (a |an |some)?(real )?(person|human|agent)\b`,
	`(?i)\bspeak (to|with) (a |an |some)?(real )?(person|human|agent)\b`,
	`(?i)\bhuman (agent|support|being)\b`,
	`(?i)\breal person\b`,
	`(?i)\bconnect me (to|with)\b`,
}

// NewPolicy compiles the configured patterns.
func NewPolicy(config PolicyConfig) (*Policy, error) {
	config.ApplyDefaults()

	p := &Policy{config: config}
	for _, pattern := range config.SensitivePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: sensitive pattern %q: %v", ErrInvalidConfig, pattern, err)
		}
		p.sensitive = append(p.sensitive, re)
	}
	for _, pattern := range humanRequestPatterns {
		p.human = append(p.human, regexp.MustCompile(pattern))
	}
	return p, nil
}

// MatchSensitive reports whether the message hits a sensitive pattern.
// Evaluated before generation so policy can keep such messages away from
// the model entirely.
func (p *Policy) MatchSensitive(message string) bool {
	for _, re := range p.sensitive {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// MatchHumanRequest reports whether the message explicitly asks for a
// human.
func (p *Policy) MatchHumanRequest(message string) bool {
	for _, re := range p.human {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// BlocksGeneration reports whether sensitive matches suppress generation.
func (p *Policy) BlocksGeneration() bool {
	return p.config.BlockGeneration
}

// Decide returns the escalation outcome for one turn.
//
// Precedence: SensitiveTopic, then UserRequested, then RepeatedFailure,
// then LowConfidence. An ungroundable query alone never escalates; low
// confidence requires a degraded generation on top of it.
func (p *Policy) Decide(in Inputs) Decision {
	switch {
	case in.SensitiveMatch:
		return Decision{Escalate: true, Reason: ReasonSensitiveTopic, Priority: PriorityHigh}
	case in.UserRequested:
		return Decision{Escalate: true, Reason: ReasonUserRequested, Priority: PriorityHigh}
	case in.ConsecutiveFailures >= p.config.FailureThreshold:
		return Decision{Escalate: true, Reason: ReasonRepeatedFailure, Priority: PriorityNormal}
	case in.Degraded && !in.Groundable:
		return Decision{Escalate: true, Reason: ReasonLowConfidence, Priority: PriorityNormal}
	default:
		return Decision{}
	}
}
