package ai

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/candorhq/candor/internal/models"
)

var (
	positiveWords = []string{
		"great", "good", "love", "appreciate", "thank", "happy", "excellent", "helpful",
		"supportive", "enjoy", "improved", "proud", "fantastic", "well done", "glad",
	}
	negativeWords = []string{
		"bad", "poor", "hate", "frustrat", "unfair", "angry", "stress", "burnout", "toxic",
		"ignored", "overwork", "disappoint", "worse", "problem", "concern", "unhappy", "lack",
	}
	flagWords = []string{
		"harass", "discriminat", "threat", "unsafe", "assault", "bully", "retaliat",
		"abuse", "violence", "weapon", "self-harm", "suicid", "racist", "sexist",
	}

	topicKeywords = map[string][]string{
		"management":    {"manager", "management", "leadership", "boss", "director"},
		"compensation":  {"pay", "salary", "compensation", "bonus", "raise"},
		"workload":      {"workload", "overtime", "hours", "burnout", "deadline", "overwork"},
		"teamwork":      {"team", "colleague", "coworker", "co-worker", "collaborat"},
		"communication": {"communicat", "meeting", "transparen", "inform"},
		"workplace":     {"office", "remote", "hybrid", "desk", "commute"},
		"career growth": {"career", "promotion", "growth", "training", "mentor"},
		"tools":         {"tool", "software", "laptop", "equipment", "system"},
		"benefits":      {"benefit", "health", "insurance", "leave", "vacation"},
		"conduct":       {"harass", "discriminat", "bully", "retaliat", "abuse", "racist", "sexist"},
	}

	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	handlePattern = regexp.MustCompile(`(^|\s)@[A-Za-z0-9_.\-]{2,}`)
	titledName    = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?\s+[A-Z][a-zA-Z'\-]+`)
	fullName      = regexp.MustCompile(`\b[A-Z][a-z'\-]+\s+[A-Z][a-z'\-]+\b`)
	sentenceEnd   = regexp.MustCompile(`[.!?](\s|$)`)

	// Capitalised words that commonly start a sentence or name a thing rather than a person.
	nameStopWords = map[string]struct{}{
		"The": {}, "This": {}, "That": {}, "These": {}, "Those": {}, "My": {}, "Our": {},
		"We": {}, "It": {}, "In": {}, "On": {}, "At": {}, "As": {}, "If": {}, "When": {},
		"But": {}, "And": {}, "Also": {}, "Every": {}, "Some": {}, "Most": {}, "All": {},
		"Monday": {}, "Tuesday": {}, "Wednesday": {}, "Thursday": {}, "Friday": {},
		"Saturday": {}, "Sunday": {}, "Human": {}, "Resources": {},
	}
)

const maxStaticSummary = 200

// StaticAnalyzer is a deterministic keyword based analyzer. It needs no
// network access and is used when no model API key is configured.
type StaticAnalyzer struct{}

// NewStaticAnalyzer returns the keyword analyzer.
func NewStaticAnalyzer() *StaticAnalyzer {
	return &StaticAnalyzer{}
}

// Name identifies the analyzer in processing logs.
func (s *StaticAnalyzer) Name() string {
	return "static"
}

// Analyze classifies content using keyword lists.
func (s *StaticAnalyzer) Analyze(ctx context.Context, content string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	lower := strings.ToLower(content)
	pos := countMatches(lower, positiveWords)
	neg := countMatches(lower, negativeWords)

	sentiment := models.SentimentNeutral
	switch {
	case pos > 0 && neg > 0:
		sentiment = models.SentimentMixed
	case pos > 0:
		sentiment = models.SentimentPositive
	case neg > 0:
		sentiment = models.SentimentNegative
	}

	status := models.FeedbackAnalyzed
	if countMatches(lower, flagWords) > 0 {
		status = models.FeedbackFlagged
		if sentiment == models.SentimentNeutral || sentiment == models.SentimentPositive {
			sentiment = models.SentimentNegative
		}
	}

	return Analysis{
		Summary:   summarize(content),
		Sentiment: sentiment,
		Topics:    NormalizeTopics(detectTopics(lower)),
		Status:    status,
	}, nil
}

// Anonymize redacts email addresses, phone numbers, handles and, when
// requested, capitalised personal names.
func (s *StaticAnalyzer) Anonymize(ctx context.Context, content string, opts AnonymizeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := emailPattern.ReplaceAllString(content, "[email]")
	out = phonePattern.ReplaceAllString(out, "[phone]")
	out = handlePattern.ReplaceAllString(out, "${1}[handle]")

	if opts.RedactNames {
		out = titledName.ReplaceAllString(out, "[name]")
		out = fullName.ReplaceAllStringFunc(out, func(match string) string {
			first := strings.Fields(match)[0]
			if _, skip := nameStopWords[first]; skip {
				return match
			}
			return "[name]"
		})
	}
	return out, nil
}

func countMatches(lower string, words []string) int {
	n := 0
	for _, word := range words {
		if strings.Contains(lower, word) {
			n++
		}
	}
	return n
}

func detectTopics(lower string) []string {
	var topics []string
	for topic, keywords := range topicKeywords {
		if countMatches(lower, keywords) > 0 {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func summarize(content string) string {
	text := strings.Join(strings.Fields(content), " ")
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[0]+1]
	}
	runes := []rune(text)
	if len(runes) > maxStaticSummary {
		cut := maxStaticSummary
		for cut > 0 && !unicode.IsSpace(runes[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxStaticSummary
		}
		text = strings.TrimSpace(string(runes[:cut])) + "..."
	}
	return text
}
