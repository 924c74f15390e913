// Package ai turns raw feedback into a summary, sentiment, topics and a
// review status, and rewrites feedback to remove identifying details.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparseable is returned when a model response does not contain a usable
// analysis object.
var ErrUnparseable = errors.New("ai: unparseable analysis response")

// Analysis is the structured result of analysing one piece of feedback.
type Analysis struct {
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	Topics    []string `json:"topics"`
	// Status is ANALYZED or FLAGGED.
	Status string `json:"status"`
	// Raw holds the model output, kept for the processing log when parsing fails.
	Raw string `json:"-"`
}

// AnonymizeOptions controls what Anonymize removes.
type AnonymizeOptions struct {
	RedactNames bool
}

// Analyzer analyses and anonymises feedback text.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (Analysis, error)
	Anonymize(ctx context.Context, content string, opts AnonymizeOptions) (string, error)
	Name() string
}

// Config selects and tunes the analyzer implementation.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// New returns the analyzer configured by cfg. Without an API key the static
// keyword analyzer is used.
func New(ctx context.Context, cfg Config) (Analyzer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "genai", "gemini", "google":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewStaticAnalyzer(), nil
		}
		return NewGenAIAnalyzer(ctx, cfg)
	case "static", "none":
		return NewStaticAnalyzer(), nil
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Provider)
	}
}

const analysisInstruction = `You analyse anonymous employee feedback for a leadership team.
Respond with a single JSON object and nothing else, using exactly these keys:
  "summary":   one or two neutral sentences summarising the feedback without names or identifying details,
  "sentiment": one of "positive", "neutral", "negative", "mixed",
  "topics":    an array of up to 5 short lower-case topic labels,
  "status":    "FLAGGED" if the feedback reports harassment, discrimination, threats, safety risks or other conduct that needs urgent human review, otherwise "ANALYZED".`

const anonymizeInstructionBase = `Rewrite the following employee feedback so that it cannot be traced back to its author.
Remove or generalise email addresses, phone numbers, dates tied to specific events, project code names and any other identifying details.
Keep the meaning, tone and all concrete concerns. Respond with the rewritten text only.`

const redactNamesInstruction = `Replace every personal name with a role description such as "a colleague" or "my manager".`

func anonymizeInstruction(opts AnonymizeOptions) string {
	if opts.RedactNames {
		return anonymizeInstructionBase + "\n" + redactNamesInstruction
	}
	return anonymizeInstructionBase
}
