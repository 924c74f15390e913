package models

import (
	"time"

	"gorm.io/datatypes"
)

// Feedback lifecycle states.
const (
	FeedbackPending  = "PENDING"
	FeedbackAnalyzed = "ANALYZED"
	FeedbackFlagged  = "FLAGGED"
)

// Sentiment labels produced by analysis.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentMixed    = "mixed"
)

// Feedback sources.
const (
	SourceForm = "form"
	SourceChat = "chat"
)

// ProcessingLogEntry records one step of the analysis pipeline.
type ProcessingLogEntry struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// Feedback is an anonymous submission. It intentionally carries no reference
// to the submitting user.
type Feedback struct {
	BaseModel

	Content           string  `gorm:"type:text;not null" json:"content"`
	AnonymizedContent string  `gorm:"type:text" json:"anonymized_content"`
	SubmittedFromIP   string  `json:"submitted_from_ip"`
	UserAgent         string  `json:"user_agent"`
	Source            string  `gorm:"size:16;default:form" json:"source"`
	TeamID            *string `gorm:"size:64;index" json:"team_id"`
	Team              *Team   `gorm:"constraint:OnDelete:SET NULL" json:"-"`

	Status        string                                  `gorm:"size:16;not null;index" json:"status"`
	Summary       string                                  `gorm:"type:text" json:"summary"`
	Sentiment     string                                  `gorm:"size:16" json:"sentiment"`
	Topics        datatypes.JSONSlice[string]             `json:"topics"`
	ProcessingLog datatypes.JSONSlice[ProcessingLogEntry] `json:"processing_log"`
}

// TableName overrides gorm's pluralised "feedbacks".
func (Feedback) TableName() string {
	return "feedback"
}
