package account_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	account "github.com/goliatone/go-account"
)

func recipient() *account.User {
	return &account.User{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func TestNotifierRendersAndSends(t *testing.T) {
	sender := &recordingSender{}
	n := account.MustNewNotifier(account.WithSender(sender), account.WithNotifierLogger(account.NopLogger()))

	ok := n.Send(context.Background(), account.NotifyVerifyEmail, recipient(), map[string]any{
		"link": "https://app.example.com/api/verify_email?token=abc",
	})
	require.True(t, ok)

	msg := sender.Last()
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Confirm email", msg.Subject)
	assert.Equal(t, "Welcome Ada, click https://app.example.com/api/verify_email?token=abc to confirm your email", msg.Body)
}

func TestNotifierRendersPlainText(t *testing.T) {
	n := account.MustNewNotifier(account.WithNotifierLogger(account.NopLogger()))

	user := recipient()
	user.FirstName = "O'Brien <Jr>"

	subject, body, err := n.Render(account.NotifyVerifyEmail, user, map[string]any{
		"link": "https://app.example.com/verify?x=1&token=t",
	})
	require.NoError(t, err)
	assert.Equal(t, "Confirm email", subject)
	assert.Equal(t, "Welcome O'Brien <Jr>, click https://app.example.com/verify?x=1&token=t to confirm your email", body)
}

func TestNotifierWithoutSenderReportsSuccess(t *testing.T) {
	n := account.MustNewNotifier(account.WithNotifierLogger(account.NopLogger()))

	assert.True(t, n.Send(context.Background(), account.NotifyUnsubscribe, recipient(), nil))
}

func TestNotifierSwallowsTransportFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	n := account.MustNewNotifier(account.WithSender(sender), account.WithNotifierLogger(account.NopLogger()))

	assert.False(t, n.Send(context.Background(), account.NotifyResetPassword, recipient(), map[string]any{"link": "x"}))
	assert.Len(t, sender.Messages(), 1)
}

func TestNotifierUnknownKindAndRecipient(t *testing.T) {
	sender := &recordingSender{}
	n := account.MustNewNotifier(account.WithSender(sender), account.WithNotifierLogger(account.NopLogger()))

	assert.False(t, n.Send(context.Background(), account.NotificationKind("welcome"), recipient(), nil))
	assert.False(t, n.Send(context.Background(), account.NotifyVerifyEmail, nil, nil))
	assert.Empty(t, sender.Messages())
}

func TestNotifierCustomMessages(t *testing.T) {
	n := account.MustNewNotifier(
		account.WithNotifierLogger(account.NopLogger()),
		account.WithMessages(map[account.NotificationKind]account.MessageTemplate{
			"welcome": {Subject: "Hi {{ first_name }}", Body: "{{ last_name|upper }} / {{ plan }}"},
		}),
	)

	subject, body, err := n.Render("welcome", recipient(), map[string]any{"plan": "pro"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", subject)
	assert.Equal(t, "LOVELACE / pro", body)
}

func TestNewNotifierRejectsBrokenTemplates(t *testing.T) {
	_, err := account.NewNotifier(account.WithMessages(map[account.NotificationKind]account.MessageTemplate{
		"broken": {Subject: "{{ unclosed", Body: "ok"},
	}))
	assert.Error(t, err)
}
