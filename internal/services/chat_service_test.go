package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

func setupChatService(t *testing.T, analyzer *scriptedAnalyzer) (*ChatService, *feedbackFixture) {
	t.Helper()

	f := setupFeedbackService(t)
	f.svc.cfg.MaxLength = DefaultFeedbackMaxLength
	svc, err := NewChatService(f.db, f.svc, analyzer, ChatConfig{})
	require.NoError(t, err)
	return svc, f
}

func conversationOf(n int) []ChatMessage {
	history := make([]ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		role := ChatRoleUser
		content := "user message"
		if i%2 == 1 {
			role = ChatRoleAssistant
			content = "assistant reply"
		}
		history = append(history, ChatMessage{Role: role, Content: content})
	}
	return history
}

func TestChatRepliesWithPromptsBeforeThreshold(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{})
	ctx := context.Background()

	first, err := svc.Respond(ctx, ChatInput{Message: "Our deploys keep failing"})
	require.NoError(t, err)
	require.False(t, first.Complete)
	require.Equal(t, chatPrompts[0], first.Reply)
	require.Equal(t, 1, first.MessageCount)
	require.Equal(t, DefaultChatThreshold-1, first.Remaining)

	second, err := svc.Respond(ctx, ChatInput{Message: "and nobody owns it", Conversation: conversationOf(2)})
	require.NoError(t, err)
	require.Equal(t, chatPrompts[1], second.Reply)

	fifth, err := svc.Respond(ctx, ChatInput{Message: "that is all", Conversation: conversationOf(4)})
	require.NoError(t, err)
	require.False(t, fifth.Complete)
	require.Equal(t, 1, fifth.Remaining)

	require.Zero(t, f.countFeedback(t))
}

func TestChatStoresAnonymizedFeedbackAtThreshold(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{})

	reply, err := svc.Respond(context.Background(), ChatInput{
		Message:      "final words",
		Conversation: conversationOf(5),
		UserAgent:    "chat-client",
	})
	require.NoError(t, err)
	require.True(t, reply.Complete)
	require.NotEmpty(t, reply.FeedbackID)
	require.Equal(t, chatClosingReply, reply.Reply)

	var stored models.Feedback
	require.NoError(t, f.db.First(&stored, "id = ?", reply.FeedbackID).Error)
	require.Equal(t, models.SourceChat, stored.Source)
	require.Equal(t, models.FeedbackPending, stored.Status)
	require.Equal(t, "[anonymized] user message\n\nuser message\n\nuser message\n\nfinal words", stored.Content)
	require.NotContains(t, stored.Content, "assistant reply")
	require.Equal(t, 1, f.notifier.Calls())

	var job models.AnalysisJob
	require.NoError(t, f.db.First(&job, "feedback_id = ?", stored.ID).Error)
	require.Equal(t, models.JobQueued, job.Status)
}

func TestChatKeepsRawTranscriptWhenAnonymizationDisabled(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{})
	require.NoError(t, f.db.Model(&models.AnonymitySettings{}).
		Where("id = ?", models.AnonymitySettingsID).
		Update("anonymize_content", false).Error)

	reply, err := svc.Respond(context.Background(), ChatInput{Message: "done", Conversation: conversationOf(5)})
	require.NoError(t, err)

	var stored models.Feedback
	require.NoError(t, f.db.First(&stored, "id = ?", reply.FeedbackID).Error)
	require.Equal(t, "user message\n\nuser message\n\nuser message\n\ndone", stored.Content)
}

func TestChatFallsBackToLocalRedaction(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{anonymizeErr: errors.New("quota exceeded")})

	conversation := []ChatMessage{
		{Role: ChatRoleUser, Content: "Email me at jo@example.com"},
		{Role: ChatRoleAssistant, Content: "ok"},
		{Role: ChatRoleUser, Content: "more"},
		{Role: ChatRoleAssistant, Content: "ok"},
		{Role: ChatRoleUser, Content: "more"},
	}
	reply, err := svc.Respond(context.Background(), ChatInput{Message: "done", Conversation: conversation})
	require.NoError(t, err)

	var stored models.Feedback
	require.NoError(t, f.db.First(&stored, "id = ?", reply.FeedbackID).Error)
	require.NotContains(t, stored.Content, "jo@example.com")
}

func TestChatValidation(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{})
	ctx := context.Background()

	_, err := svc.Respond(ctx, ChatInput{Message: "   "})
	require.ErrorIs(t, err, ErrChatMessageEmpty)
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))

	_, err = svc.Respond(ctx, ChatInput{Message: "hi", Conversation: []ChatMessage{{Role: "system", Content: "x"}}})
	require.ErrorIs(t, err, ErrChatConversationInvalid)

	_, err = svc.Respond(ctx, ChatInput{Message: "hi", Conversation: conversationOf(defaultChatMaxMessages)})
	require.ErrorIs(t, err, ErrChatConversationInvalid)

	require.Zero(t, f.countFeedback(t))
}

func TestChatRejectsOverlongConversationBeforeThreshold(t *testing.T) {
	svc, f := setupChatService(t, &scriptedAnalyzer{})
	f.svc.cfg.MaxLength = 40
	ctx := context.Background()

	reply, err := svc.Respond(ctx, ChatInput{Message: "short and fine"})
	require.NoError(t, err)
	require.False(t, reply.Complete)

	// "user message" turns from earlier requests count toward the limit.
	_, err = svc.Respond(ctx, ChatInput{Message: "this one tips it over", Conversation: conversationOf(3)})
	require.ErrorIs(t, err, ErrFeedbackTooLong)
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))
	require.Contains(t, err.Error(), "40 characters")

	require.Zero(t, f.countFeedback(t))
}
