package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
)

const (
	// DefaultChatThreshold is the conversation length, counting the new
	// message, at which the exchange is stored as feedback.
	DefaultChatThreshold   = 6
	defaultChatMaxMessages = 50

	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

var (
	// ErrChatMessageEmpty rejects blank chat messages.
	ErrChatMessageEmpty = apperrors.New("CHAT_MESSAGE_EMPTY", "Message is required", http.StatusBadRequest)
	// ErrChatConversationInvalid rejects malformed client-echoed history.
	ErrChatConversationInvalid = apperrors.New("CHAT_CONVERSATION_INVALID", "Conversation history is invalid", http.StatusBadRequest)
)

var chatPrompts = []string{
	"Thanks for sharing that. Can you tell me a little more about what happened?",
	"That sounds important. How has it affected you or your team?",
	"Thank you. Is there anything you think would help improve the situation?",
	"I appreciate you being open about this. Is there anything else leadership should know?",
	"Got it. Anything else you'd like to add before I submit your feedback anonymously?",
}

const chatClosingReply = "Thank you. Your feedback has been submitted anonymously and will be reviewed by leadership."

// ChatMessage is one turn of the client-held conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatInput is a chat request. Conversation holds the previous turns as echoed
// back by the client; nothing is kept on the server between requests.
type ChatInput struct {
	Message      string
	Conversation []ChatMessage
	IPAddress    string
	UserAgent    string
	TeamID       *string
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Reply        string `json:"reply"`
	Complete     bool   `json:"complete"`
	FeedbackID   string `json:"feedback_id,omitempty"`
	MessageCount int    `json:"message_count"`
	Remaining    int    `json:"remaining"`
}

// ChatConfig tunes the conversational intake.
type ChatConfig struct {
	Threshold   int
	MaxMessages int
}

// ChatService turns a short scripted conversation into a feedback submission.
type ChatService struct {
	db       *gorm.DB
	feedback *FeedbackService
	analyzer ai.Analyzer
	fallback ai.Analyzer
	cfg      ChatConfig
	log      *zap.Logger
}

// NewChatService constructs a ChatService. The analyzer is used to anonymise
// the transcript before it is stored.
func NewChatService(db *gorm.DB, feedback *FeedbackService, analyzer ai.Analyzer, cfg ChatConfig) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	if feedback == nil {
		return nil, errors.New("chat service: feedback service is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultChatThreshold
	}
	if cfg.MaxMessages < cfg.Threshold {
		cfg.MaxMessages = defaultChatMaxMessages
	}
	fallback := ai.Analyzer(ai.NewStaticAnalyzer())
	if analyzer == nil {
		analyzer = fallback
	}
	return &ChatService{
		db:       db,
		feedback: feedback,
		analyzer: analyzer,
		fallback: fallback,
		cfg:      cfg,
		log:      logger.WithModule("chat"),
	}, nil
}

// Respond answers one chat message. Once the conversation reaches the
// threshold the user's messages are stored as a single feedback row.
func (s *ChatService) Respond(ctx context.Context, input ChatInput) (*ChatReply, error) {
	ctx = ensureContext(ctx)

	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, ErrChatMessageEmpty
	}

	history, err := s.validateHistory(input.Conversation)
	if err != nil {
		return nil, err
	}

	transcript := chatTranscript(history, message)
	if limit := s.feedback.cfg.MaxLength; utf8.RuneCountInString(transcript) > limit {
		return nil, ErrFeedbackTooLong.WithMessage(fmt.Sprintf("Conversation must stay within %d characters", limit))
	}

	total := len(history) + 1
	if total < s.cfg.Threshold {
		return &ChatReply{
			Reply:        chatPrompts[userTurns(history)%len(chatPrompts)],
			MessageCount: total,
			Remaining:    s.cfg.Threshold - total,
		}, nil
	}

	content, err := s.anonymize(ctx, transcript)
	if err != nil {
		return nil, err
	}

	feedback, err := s.feedback.Submit(ctx, SubmitFeedbackInput{
		Content:   content,
		Source:    models.SourceChat,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		TeamID:    input.TeamID,
	})
	if err != nil {
		return nil, err
	}

	return &ChatReply{
		Reply:        chatClosingReply,
		Complete:     true,
		FeedbackID:   feedback.ID,
		MessageCount: total,
	}, nil
}

func (s *ChatService) validateHistory(conversation []ChatMessage) ([]ChatMessage, error) {
	if len(conversation) >= s.cfg.MaxMessages {
		return nil, ErrChatConversationInvalid.WithMessage(fmt.Sprintf("Conversation may hold at most %d messages", s.cfg.MaxMessages))
	}
	history := make([]ChatMessage, 0, len(conversation))
	for _, msg := range conversation {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role != ChatRoleUser && role != ChatRoleAssistant {
			return nil, ErrChatConversationInvalid.WithMessage("Conversation roles must be user or assistant")
		}
		history = append(history, ChatMessage{Role: role, Content: strings.TrimSpace(msg.Content)})
	}
	return history, nil
}

// anonymize rewrites the transcript when the anonymity settings ask for it.
// A failing analyzer falls back to the local redaction rules so raw text is
// never stored against the setting.
func (s *ChatService) anonymize(ctx context.Context, transcript string) (string, error) {
	settings, err := loadAnonymitySettings(ctx, s.db)
	if err != nil {
		return "", err
	}
	if !settings.AnonymizeContent {
		return transcript, nil
	}

	opts := ai.AnonymizeOptions{RedactNames: settings.RedactNames}
	rewritten, err := s.analyzer.Anonymize(ctx, transcript, opts)
	if err == nil && strings.TrimSpace(rewritten) != "" {
		return rewritten, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	s.log.Warn("chat anonymization failed; using local redaction",
		zap.String("analyzer", s.analyzer.Name()),
		zap.Error(err),
	)
	return s.fallback.Anonymize(ctx, transcript, opts)
}

func userTurns(history []ChatMessage) int {
	count := 0
	for _, msg := range history {
		if msg.Role == ChatRoleUser {
			count++
		}
	}
	return count
}

func chatTranscript(history []ChatMessage, message string) string {
	parts := make([]string, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == ChatRoleUser && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	parts = append(parts, message)
	return strings.Join(parts, "\n\n")
}
