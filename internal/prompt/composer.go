package prompt

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/retrieval"
)

var (
	// ErrInvalidConfig indicates invalid composer configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrEmptyMessage indicates a blank user message.
	ErrEmptyMessage = errors.New("empty message")
)

// Message is one conversation turn in a generation request.
type Message struct {
	// Role is "user" or "assistant".
	Role    string
	Content string
}

// Request is a fully composed generation request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Config holds prompt budget parameters.
type Config struct {
	// TokenBudget bounds the estimated input size of system prompt,
	// context, history and user message combined. Default: 6000
	TokenBudget int

	// MaxOutputTokens caps the generated reply. Default: 2048
	MaxOutputTokens int

	// CharsPerToken is the estimation divisor. Default: 4
	CharsPerToken int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TokenBudget == 0 {
		c.TokenBudget = 6000
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 2048
	}
	if c.CharsPerToken == 0 {
		c.CharsPerToken = 4
	}
}

// Composer assembles generation requests under the token budget.
//
// Trim order under budget pressure is a hard invariant: conversation
// history goes first (oldest turns dropped first), then retrieved chunks
// (lowest similarity dropped first), and the live user message is never
// truncated.
type Composer struct {
	config Config
	logger *zap.Logger
}

// NewComposer creates a prompt composer.
func NewComposer(config Config, logger *zap.Logger) (*Composer, error) {
	config.ApplyDefaults()
	if config.TokenBudget < 0 || config.CharsPerToken < 1 {
		return nil, fmt.Errorf("%w: budget and chars-per-token must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{config: config, logger: logger}, nil
}

// EstimateTokens returns the estimated token cost of text.
func (c *Composer) EstimateTokens(text string) int {
	return (len(text) + c.config.CharsPerToken - 1) / c.config.CharsPerToken
}

// Compose builds a generation request for the user message.
//
// hits must be ordered by descending score, as the retrieval orchestrator
// returns them. For an ungroundable query pass no hits: the request then
// carries no source tags and no citation guidance.
func (c *Composer) Compose(role, language string, hits []retrieval.Hit, history []Message, userMessage string) (*Request, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, ErrEmptyMessage
	}

	system := InstructionsFor(role, len(hits) > 0, language)

	// Fixed cost: system prompt and the live user message are always kept.
	fixed := c.EstimateTokens(system) + c.EstimateTokens(userMessage)
	remaining := c.config.TokenBudget - fixed

	keptHistory, keptHits := c.trim(remaining, history, hits)
	if len(keptHistory) < len(history) || len(keptHits) < len(hits) {
		c.logger.Debug("trimmed prompt to fit budget",
			zap.Int("history_kept", len(keptHistory)),
			zap.Int("history_total", len(history)),
			zap.Int("chunks_kept", len(keptHits)),
			zap.Int("chunks_total", len(hits)),
		)
	}

	messages := make([]Message, 0, len(keptHistory)+1)
	messages = append(messages, keptHistory...)
	messages = append(messages, Message{
		Role:    "user",
		Content: c.userContent(keptHits, userMessage),
	})

	return &Request{
		System:    system,
		Messages:  messages,
		MaxTokens: c.config.MaxOutputTokens,
	}, nil
}

// Framing emitted by userContent around retrieved documents. The trim
// pass charges these exact strings, keeping the budget estimate an
// upper bound on the assembled message.
const (
	contextPreamble = "Answer the user's question using the following documents from the knowledge base.\n\nDocuments:\n"
	questionLabel   = "\nUser Question: "
	citationFooter  = "\n\nCite which document(s) you are referring to. If the documents do not contain relevant information, say so and provide general guidance if possible."
)

// trim fits history and hits into the remaining budget. History is
// sacrificed before chunks; within history the oldest turn goes first,
// within chunks the lowest-scoring one.
//
// Costs are estimated per section; each section rounds up on its own,
// so the sum never undershoots the estimate of the concatenation.
func (c *Composer) trim(remaining int, history []Message, hits []retrieval.Hit) ([]Message, []retrieval.Hit) {
	hitCost := func(i int, h retrieval.Hit) int {
		return c.EstimateTokens(fmt.Sprintf("\nDocument %d (source: %s):\n%s\n", i+1, h.Source, h.Content))
	}
	scaffold := c.EstimateTokens(contextPreamble) + c.EstimateTokens(questionLabel) + c.EstimateTokens(citationFooter)

	cost := 0
	for _, m := range history {
		cost += c.EstimateTokens(m.Content)
	}
	if len(hits) > 0 {
		cost += scaffold
	}
	for i, h := range hits {
		cost += hitCost(i, h)
	}

	for cost > remaining && len(history) > 0 {
		cost -= c.EstimateTokens(history[0].Content)
		history = history[1:]
	}
	for cost > remaining && len(hits) > 0 {
		cost -= hitCost(len(hits)-1, hits[len(hits)-1])
		hits = hits[:len(hits)-1]
		if len(hits) == 0 {
			cost -= scaffold
		}
	}
	return history, hits
}

// userContent embeds retrieved documents and their source tags into the
// final user message, or passes the message through untouched when there
// is no context.
func (c *Composer) userContent(hits []retrieval.Hit, userMessage string) string {
	if len(hits) == 0 {
		return userMessage
	}

	var b strings.Builder
	b.WriteString(contextPreamble)
	for i, hit := range hits {
		fmt.Fprintf(&b, "\nDocument %d (source: %s):\n%s\n", i+1, hit.Source, hit.Content)
	}
	b.WriteString(questionLabel)
	b.WriteString(userMessage)
	b.WriteString(citationFooter)
	return b.String()
}
