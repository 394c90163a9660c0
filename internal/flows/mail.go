package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/notify"
)

// TemplateMailer renders account emails with notify templates and hands
// them to a Sender, usually a notify.Queue.
type TemplateMailer struct {
	Templates *notify.Templates
	Sender    notify.Sender
}

func (m TemplateMailer) SendVerification(ctx context.Context, email, rawToken string, ttl time.Duration) error {
	subject, html, err := m.Templates.Verification(rawToken, ttl)
	if err != nil {
		return err
	}
	return m.Sender.SendEmail(ctx, email, subject, html)
}

func (m TemplateMailer) SendPasswordReset(ctx context.Context, email, rawToken string, ttl time.Duration) error {
	subject, html, err := m.Templates.PasswordReset(rawToken, ttl)
	if err != nil {
		return err
	}
	return m.Sender.SendEmail(ctx, email, subject, html)
}

// notifyFailed records a delivery failure. Notification is fire-and-forget
// for every flow: the token is already committed and a resend is possible.
func (d *Deps) notifyFailed(err error, kind, principalID string) {
	if err == nil {
		return
	}
	d.Metrics.Inc(metrics.NotificationFailure)
	d.Logger.Warn().
		Err(err).
		Str("email_kind", kind).
		Str("principal_id", principalID).
		Msg("account email not delivered")
}

func (d *Deps) sendVerification(ctx context.Context, principalID, email, raw string) {
	if d.Mailer == nil {
		return
	}
	d.notifyFailed(d.Mailer.SendVerification(ctx, email, raw, d.VerificationTTL), "verification", principalID)
}

func (d *Deps) sendPasswordReset(ctx context.Context, principalID, email, raw string) {
	if d.Mailer == nil {
		return
	}
	d.notifyFailed(d.Mailer.SendPasswordReset(ctx, email, raw, d.ResetTTL), "password_reset", principalID)
}
