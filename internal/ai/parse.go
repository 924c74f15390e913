package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/candorhq/candor/internal/models"
)

const (
	maxTopics      = 8
	maxTopicLength = 64
	maxSummary     = 2000
)

type rawAnalysis struct {
	Summary   string          `json:"summary"`
	Sentiment string          `json:"sentiment"`
	Topics    json.RawMessage `json:"topics"`
	Status    string          `json:"status"`
}

// ParseAnalysis extracts an Analysis from a model response. Code fences and
// surrounding prose are tolerated; the first JSON object wins.
func ParseAnalysis(raw string) (Analysis, error) {
	body := stripFences(raw)
	start := strings.IndexByte(body, '{')
	if start < 0 {
		return Analysis{Raw: raw}, ErrUnparseable
	}

	var parsed rawAnalysis
	dec := json.NewDecoder(strings.NewReader(body[start:]))
	if err := dec.Decode(&parsed); err != nil {
		return Analysis{Raw: raw}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	result := Analysis{
		Summary:   truncate(strings.TrimSpace(parsed.Summary), maxSummary),
		Sentiment: NormalizeSentiment(parsed.Sentiment),
		Topics:    NormalizeTopics(decodeTopics(parsed.Topics)),
		Status:    NormalizeStatus(parsed.Status),
		Raw:       raw,
	}
	if result.Summary == "" && strings.TrimSpace(parsed.Sentiment) == "" && len(result.Topics) == 0 {
		return Analysis{Raw: raw}, ErrUnparseable
	}
	return result, nil
}

// NormalizeSentiment maps free-form sentiment labels onto the four supported values.
func NormalizeSentiment(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == models.SentimentPositive, v == models.SentimentNegative, v == models.SentimentNeutral, v == models.SentimentMixed:
		return v
	case strings.Contains(v, "mix"), strings.Contains(v, "neg") && strings.Contains(v, "pos"):
		return models.SentimentMixed
	case strings.Contains(v, "neg"):
		return models.SentimentNegative
	case strings.Contains(v, "pos"):
		return models.SentimentPositive
	default:
		return models.SentimentNeutral
	}
}

// NormalizeStatus returns FLAGGED when the label says so and ANALYZED otherwise.
func NormalizeStatus(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), models.FeedbackFlagged) {
		return models.FeedbackFlagged
	}
	return models.FeedbackAnalyzed
}

// NormalizeTopics trims, de-duplicates case-insensitively and caps the list.
func NormalizeTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = truncate(strings.Join(strings.Fields(topic), " "), maxTopicLength)
		if topic == "" {
			continue
		}
		key := strings.ToLower(topic)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, topic)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}

// decodeTopics accepts either an array of strings or a comma separated string.
func decodeTopics(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return strings.Split(joined, ",")
	}
	return nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
