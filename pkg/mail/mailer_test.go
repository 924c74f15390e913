package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"test@example.com"}, Subject: "Test", Body: "Hello"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func newTestMailer(fn sendFunc) *smtpMailer {
	return &smtpMailer{
		cfg: SMTPSettings{
			Enabled: true,
			Host:    "smtp.example.com",
			Port:    587,
			From:    "candor@example.com",
			Timeout: time.Second,
		},
		sendFn: fn,
	}
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	var captured *gomail.Message
	mailer := newTestMailer(func(_ SMTPSettings, msg *gomail.Message) error {
		captured = msg
		return nil
	})

	err := mailer.Send(context.Background(), Message{
		To:       []string{"a@example.com", " a@example.com ", "b@example.com"},
		Subject:  "Sign in\r\nBcc: evil@example.com",
		Body:     "Use this link",
		HTMLBody: "<p>Use this link</p>",
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.Equal(t, []string{"candor@example.com"}, captured.GetHeader("From"))
	require.Equal(t, []string{"a@example.com", "b@example.com"}, captured.GetHeader("To"))
	require.False(t, strings.ContainsAny(captured.GetHeader("Subject")[0], "\r\n"))
}

func TestSMTPMailerRejectsInvalidRecipients(t *testing.T) {
	mailer := newTestMailer(func(SMTPSettings, *gomail.Message) error { return nil })

	err := mailer.Send(context.Background(), Message{To: []string{"not an address"}})
	require.Error(t, err)

	err = mailer.Send(context.Background(), Message{})
	require.Error(t, err)
}

func TestSMTPMailerPropagatesSendErrors(t *testing.T) {
	mailer := newTestMailer(func(SMTPSettings, *gomail.Message) error { return errors.New("connection refused") })

	err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestSMTPMailerHonoursContext(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	mailer := newTestMailer(func(SMTPSettings, *gomail.Message) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mailer.Send(ctx, Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Send(context.Background(), Message{To: []string{"User@Example.com"}, Subject: "one"}))
	require.NoError(t, rec.Send(context.Background(), Message{To: []string{"user@example.com"}, Subject: "two"}))

	last, ok := rec.Last("user@example.com")
	require.True(t, ok)
	require.Equal(t, "two", last.Subject)
	require.Len(t, rec.Messages(), 2)

	_, ok = rec.Last("nobody@example.com")
	require.False(t, ok)
}
