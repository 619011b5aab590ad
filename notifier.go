package account

import (
	"context"
	"fmt"
	"time"

	"github.com/flosch/pongo2/v6"
)

// NotificationKind selects a message template
type NotificationKind string

const (
	NotifyVerifyEmail   NotificationKind = "verify_email"
	NotifyResetPassword NotificationKind = "reset_password"
	NotifyUnsubscribe   NotificationKind = "unsubscribe"
)

// MessageTemplate holds pongo2 subject and body templates. Both render as
// plain text.
type MessageTemplate struct {
	Subject string
	Body    string
}

// DefaultMessages is the kind to template table used by NewNotifier.
var DefaultMessages = map[NotificationKind]MessageTemplate{
	NotifyVerifyEmail: {
		Subject: "Confirm email",
		Body:    "Welcome {{ first_name }}, click {{ link }} to confirm your email",
	},
	NotifyResetPassword: {
		Subject: "Password reset",
		Body:    "Hello {{ first_name }}, click {{ link }} to change password",
	},
	NotifyUnsubscribe: {
		Subject: "Unsubscribe confirmation",
		Body:    "Bye {{ first_name }}, you have been erased from our system",
	},
}

// Sender is the transport capability.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, to, subject, body string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// Dispatcher is what Accounts needs from a notifier.
type Dispatcher interface {
	Send(ctx context.Context, kind NotificationKind, recipient *User, extra map[string]any) bool
}

type compiledMessage struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// NotifierOption customizes a Notifier
type NotifierOption func(*Notifier)

// WithSender sets the transport. Without one the notifier logs the message
// and reports success.
func WithSender(s Sender) NotifierOption {
	return func(n *Notifier) {
		n.sender = s
	}
}

// WithMessages overrides or extends the template table.
func WithMessages(messages map[NotificationKind]MessageTemplate) NotifierOption {
	return func(n *Notifier) {
		for k, v := range messages {
			n.messages[k] = v
		}
	}
}

// WithNotifierLogger overrides the logger
func WithNotifierLogger(l Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithSendTimeout bounds each hand-off to the sender.
func WithSendTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// Notifier formats transactional messages and forwards them to a Sender.
type Notifier struct {
	sender   Sender
	messages map[NotificationKind]MessageTemplate
	compiled map[NotificationKind]compiledMessage
	logger   Logger
	timeout  time.Duration
}

var _ Dispatcher = (*Notifier)(nil)

// NewNotifier compiles the template table. It fails on malformed templates.
func NewNotifier(opts ...NotifierOption) (*Notifier, error) {
	n := &Notifier{
		messages: map[NotificationKind]MessageTemplate{},
		compiled: map[NotificationKind]compiledMessage{},
		timeout:  10 * time.Second,
	}
	for k, v := range DefaultMessages {
		n.messages[k] = v
	}

	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	if n.logger == nil {
		_, n.logger = ResolveLogger("account.notifier", nil, nil)
	}

	for kind, msg := range n.messages {
		subject, err := compilePlain(msg.Subject)
		if err != nil {
			return nil, fmt.Errorf("compile %s subject: %w", kind, err)
		}
		body, err := compilePlain(msg.Body)
		if err != nil {
			return nil, fmt.Errorf("compile %s body: %w", kind, err)
		}
		n.compiled[kind] = compiledMessage{subject: subject, body: body}
	}

	return n, nil
}

// compilePlain compiles a plain-text template, HTML escaping disabled.
func compilePlain(tpl string) (*pongo2.Template, error) {
	return pongo2.FromString("{% autoescape off %}" + tpl + "{% endautoescape %}")
}

// MustNewNotifier panics on malformed templates
func MustNewNotifier(opts ...NotifierOption) *Notifier {
	n, err := NewNotifier(opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// Render interpolates recipient and extra fields into the kind's templates.
func (n *Notifier) Render(kind NotificationKind, recipient *User, extra map[string]any) (string, string, error) {
	msg, ok := n.compiled[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", kind)
	}

	data := pongo2.Context{}
	if recipient != nil {
		data["id"] = recipient.ID.String()
		data["email"] = recipient.Email
		data["first_name"] = recipient.FirstName
		data["last_name"] = recipient.LastName
	}
	for k, v := range extra {
		data[k] = v
	}

	subject, err := msg.subject.Execute(data)
	if err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	body, err := msg.body.Execute(data)
	if err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}

	return subject, body, nil
}

// Send renders and delivers a message. It never returns an error: render
// and transport failures are logged and reported as false.
func (n *Notifier) Send(ctx context.Context, kind NotificationKind, recipient *User, extra map[string]any) bool {
	if recipient == nil || recipient.Email == "" {
		n.logger.Warn("notification skipped, no recipient", "kind", kind)
		return false
	}

	subject, body, err := n.Render(kind, recipient, extra)
	if err != nil {
		n.logger.Error("notification render failed", "kind", kind, "error", err)
		return false
	}

	if n.sender == nil {
		n.logger.Info("mock send", "kind", kind, "to", recipient.Email, "subject", subject, "body", body)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, recipient.Email, subject, body); err != nil {
		n.logger.Error("notification delivery failed", "kind", kind, "to", recipient.Email, "error", err)
		return false
	}

	n.logger.Debug("notification sent", "kind", kind, "to", recipient.Email)
	return true
}
