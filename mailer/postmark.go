// Package mailer provides account.Sender transports.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrz1836/postmark"

	account "github.com/goliatone/go-account"
)

var (
	// ErrInvalidConfig the transport is missing required settings
	ErrInvalidConfig = errors.New("invalid mailer config")
	// ErrFailedToSend delivery was rejected or could not be attempted
	ErrFailedToSend = errors.New("failed to send email")
)

// Config holds Postmark settings
type Config struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	ReplyTo      string
	Tag          string
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Postmark sends plain text transactional email through Postmark.
type Postmark struct {
	client *postmark.Client
	config Config
}

var _ account.Sender = (*Postmark)(nil)

// NewPostmark validates cfg and returns a Postmark sender
func NewPostmark(cfg Config) (*Postmark, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	return &Postmark{client: client, config: cfg}, nil
}

// MustNewPostmark panics on invalid config
func MustNewPostmark(cfg Config) *Postmark {
	p, err := NewPostmark(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Send implements account.Sender
func (p *Postmark) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("%w: recipient is required", ErrFailedToSend)
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.config.SenderEmail,
		ReplyTo:  p.config.ReplyTo,
		To:       to,
		Subject:  subject,
		Tag:      p.config.Tag,
		TextBody: body,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSend,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
