package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var (
	// ErrDelivery wraps every failure to hand a message to the mail system.
	ErrDelivery = errors.New("notify: delivery failed")
	// ErrInvalidRecipient marks failures that retrying cannot fix.
	ErrInvalidRecipient = errors.New("notify: invalid recipient")
)

// Sender delivers one HTML email.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// SenderFunc adapts a plain function to [Sender].
type SenderFunc func(ctx context.Context, to, subject, html string) error

func (f SenderFunc) SendEmail(ctx context.Context, to, subject, html string) error {
	return f(ctx, to, subject, html)
}

// LogSender writes the message envelope to a logger instead of sending it.
// The body is logged at debug level only, since it carries live links.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, html string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email not sent (log sender)")
	s.Logger.Debug().Str("to", to).Str("body", html).Msg("email body")
	return nil
}
