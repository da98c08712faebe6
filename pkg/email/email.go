package email

import (
	"context"
	"time"
)

// Sender delivers one message and returns the provider's message id
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type Config struct {
	APIKey     string
	WebhookURL string
	FromEmail  string
	FromName   string
	Timeout    time.Duration
}

// From formats the sender address
func (c *Config) From() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return c.FromName + " <" + c.FromEmail + ">"
}
