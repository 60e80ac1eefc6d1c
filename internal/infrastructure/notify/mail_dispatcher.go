package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/mailer"
)

type MailSender interface {
	Send(email mailer.Email) error
}

// MailDispatcher renders a notification and delivers it over SMTP.
type MailDispatcher struct {
	sender MailSender
}

func NewMailDispatcher(sender MailSender) *MailDispatcher {
	return &MailDispatcher{sender: sender}
}

func (d *MailDispatcher) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email, err := Render(n)
	if err != nil {
		return err
	}
	return d.sender.Send(email)
}

type template struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func newTemplate(subject, text, html string) template {
	return template{
		subject: subject,
		text:    texttemplate.Must(texttemplate.New("text").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New("html").Parse(html)),
	}
}

var templates = map[Kind]template{
	KindWelcome: newTemplate(
		"Welcome!",
		"Hi {{.Recipient.FirstName}}, your account is ready. Share your referral code {{index .Data \"referral_code\"}} to earn credits.",
		`<p>Hi {{.Recipient.FirstName}}, your account is ready.</p><p>Share your referral code <b>{{index .Data "referral_code"}}</b> to earn credits.</p>`,
	),
	KindReferralWelcome: newTemplate(
		"Welcome! You were referred by a friend",
		"Hi {{.Recipient.FirstName}}, {{index .Data \"referrer_name\"}} invited you. Complete your first purchase and you both earn credits.",
		`<p>Hi {{.Recipient.FirstName}}, {{index .Data "referrer_name"}} invited you.</p><p>Complete your first purchase and you both earn credits.</p>`,
	),
	KindReferralSignup: newTemplate(
		"Someone joined with your referral code",
		"Hi {{.Recipient.FirstName}}, {{index .Data \"referred_name\"}} signed up with your code. You will earn credits after their first purchase.",
		`<p>Hi {{.Recipient.FirstName}}, {{index .Data "referred_name"}} signed up with your code.</p><p>You will earn credits after their first purchase.</p>`,
	),
	KindCreditsEarned: newTemplate(
		"You earned referral credits",
		"Hi {{.Recipient.FirstName}}, {{index .Data \"referred_name\"}} completed a purchase. You earned {{index .Data \"credits\"}} credits.",
		`<p>Hi {{.Recipient.FirstName}}, {{index .Data "referred_name"}} completed a purchase.</p><p>You earned <b>{{index .Data "credits"}}</b> credits.</p>`,
	),
	KindPasswordReset: newTemplate(
		"Reset your password",
		"Hi {{.Recipient.FirstName}}, reset your password here: {{index .Data \"reset_url\"}} (valid for {{index .Data \"expires_in\"}}). Ignore this email if you did not ask for it.",
		`<p>Hi {{.Recipient.FirstName}},</p><p><a href="{{index .Data "reset_url"}}">Reset your password</a> (valid for {{index .Data "expires_in"}}).</p><p>Ignore this email if you did not ask for it.</p>`,
	),
	KindPasswordResetConfirmation: newTemplate(
		"Your password was changed",
		"Hi {{.Recipient.FirstName}}, your password was changed. If this was not you, contact support.",
		`<p>Hi {{.Recipient.FirstName}}, your password was changed.</p><p>If this was not you, contact support.</p>`,
	),
}

func Render(n Notification) (mailer.Email, error) {
	tpl, ok := templates[n.Kind]
	if !ok {
		return mailer.Email{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, n); err != nil {
		return mailer.Email{}, fmt.Errorf("failed to render %s: %w", n.Kind, err)
	}
	if err := tpl.html.Execute(&html, n); err != nil {
		return mailer.Email{}, fmt.Errorf("failed to render %s: %w", n.Kind, err)
	}
	return mailer.Email{
		To:       []string{n.Recipient.Email},
		Subject:  tpl.subject,
		Body:     text.String(),
		HTMLBody: html.String(),
	}, nil
}
