package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Analysis
	}{
		{
			name: "plain object",
			raw:  `{"summary":"Too many meetings.","sentiment":"negative","topics":["meetings","workload"],"status":"ANALYZED"}`,
			want: Analysis{Summary: "Too many meetings.", Sentiment: "negative", Topics: []string{"meetings", "workload"}, Status: "ANALYZED"},
		},
		{
			name: "fenced with prose",
			raw:  "Here you go:\n```json\n{\"summary\":\"Report of harassment.\",\"sentiment\":\"Negative\",\"topics\":[\"conduct\"],\"status\":\"flagged\"}\n```",
			want: Analysis{Summary: "Report of harassment.", Sentiment: "negative", Topics: []string{"conduct"}, Status: "FLAGGED"},
		},
		{
			name: "leading prose",
			raw:  `Sure! {"summary":"Likes the new office.","sentiment":"very positive","topics":"office, Office , commute","status":"OK"} trailing`,
			want: Analysis{Summary: "Likes the new office.", Sentiment: "positive", Topics: []string{"office", "commute"}, Status: "ANALYZED"},
		},
		{
			name: "unknown sentiment defaults to neutral",
			raw:  `{"summary":"Statement.","sentiment":"meh","topics":null}`,
			want: Analysis{Summary: "Statement.", Sentiment: "neutral", Topics: []string{}, Status: "ANALYZED"},
		},
		{
			name: "mixed wording",
			raw:  `{"summary":"Both.","sentiment":"positive and negative"}`,
			want: Analysis{Summary: "Both.", Sentiment: "mixed", Topics: []string{}, Status: "ANALYZED"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAnalysis(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want.Summary, got.Summary)
			require.Equal(t, tc.want.Sentiment, got.Sentiment)
			require.Equal(t, tc.want.Topics, got.Topics)
			require.Equal(t, tc.want.Status, got.Status)
			require.Equal(t, tc.raw, got.Raw)
		})
	}
}

func TestParseAnalysisUnparseable(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		`{"summary": "unterminated`,
		`{}`,
		"```\nnot json\n```",
	} {
		_, err := ParseAnalysis(raw)
		require.ErrorIs(t, err, ErrUnparseable, raw)
	}
}

func TestNormalizeTopicsCapsAndDedups(t *testing.T) {
	in := []string{" a ", "A", "b", "", "c", "d", "e", "f", "g", "h", "i", "j"}
	out := NormalizeTopics(in)
	require.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, out)
}
