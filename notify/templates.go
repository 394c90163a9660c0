package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

const (
	SubjectVerifyEmail   = "Verify Your Email"
	SubjectResetPassword = "Reset Your Password"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Brand}}</title>
</head>
<body style="margin:0;padding:0;background:#f4f4f7;font-family:Arial,Helvetica,sans-serif;color:#333;">
  <table width="100%" cellpadding="0" cellspacing="0" style="padding:24px 0;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;">
        <tr><td style="background:#4f46e5;padding:24px;text-align:center;color:#ffffff;">
          <h1 style="margin:0;font-size:24px;">{{.Brand}}</h1>
          <p style="margin:4px 0 0;font-size:14px;">Your authentication partner</p>
        </td></tr>
        <tr><td style="padding:32px 24px;">
          <h2 style="margin-top:0;">{{.Heading}}</h2>
          <p>{{.Intro}}</p>
          <p style="text-align:center;margin:32px 0;">
            <a href="{{.Link}}" style="background:#4f46e5;color:#ffffff;padding:12px 24px;border-radius:6px;text-decoration:none;">{{.Action}}</a>
          </p>
          <p>This link expires in {{.Expires}}. If you did not request this, you can ignore this email.</p>
        </td></tr>
        <tr><td style="background:#f4f4f7;padding:16px;text-align:center;font-size:12px;color:#888;">
          <p style="margin:0;">&copy; {{.Year}} {{.Brand}}. All rights reserved.</p>
          <p style="margin:4px 0 0;">You are receiving this email because you use {{.Brand}}.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

type page struct {
	Brand   string
	Heading string
	Intro   string
	Action  string
	Link    string
	Expires string
	Year    int
}

// Templates renders the account emails with links rooted at AppURL.
type Templates struct {
	AppURL string
	Brand  string
	now    func() time.Time
}

// NewTemplates returns renderers for links under appURL.
func NewTemplates(appURL string) *Templates {
	return &Templates{
		AppURL: strings.TrimRight(appURL, "/"),
		Brand:  "AuthHero",
		now:    time.Now,
	}
}

// Verification renders the email-verification message for a raw token.
func (t *Templates) Verification(token string, ttl time.Duration) (subject, html string, err error) {
	html, err = t.render(page{
		Heading: "Confirm your email address",
		Intro:   "Thanks for signing up. Please confirm your email address to activate your account.",
		Action:  "Verify Email",
		Link:    t.link("/verify-email", token),
		Expires: humanize(ttl),
	})
	return SubjectVerifyEmail, html, err
}

// PasswordReset renders the password-reset message for a raw token.
func (t *Templates) PasswordReset(token string, ttl time.Duration) (subject, html string, err error) {
	html, err = t.render(page{
		Heading: "Reset your password",
		Intro:   "We received a request to reset the password for your account.",
		Action:  "Reset Password",
		Link:    t.link("/reset-password", token),
		Expires: humanize(ttl),
	})
	return SubjectResetPassword, html, err
}

func (t *Templates) link(path, token string) string {
	return t.AppURL + path + "?" + url.Values{"token": {token}}.Encode()
}

func (t *Templates) render(p page) (string, error) {
	p.Brand = t.Brand
	p.Year = t.now().Year()
	var buf bytes.Buffer
	if err := layout.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

func humanize(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	switch {
	case mins <= 1:
		return "1 minute"
	case mins < 120:
		return fmt.Sprintf("%d minutes", mins)
	default:
		return fmt.Sprintf("%d hours", mins/60)
	}
}
