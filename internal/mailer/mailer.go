// Package mailer sends transactional email.
package mailer

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// DefaultSendGridHost is the SendGrid API host.
const DefaultSendGridHost = "https://api.sendgrid.com"

// Invite is a referral invitation email.
type Invite struct {
	ToEmail      string
	InviterName  string
	BusinessName string
	Code         string
	Link         string
}

// Mailer sends emails.
type Mailer interface {
	SendReferralInvite(ctx context.Context, invite Invite) error
}

// From identifies the sender.
type From struct {
	Name  string
	Email string
}

// SendGrid sends mail through the SendGrid v3 API.
type SendGrid struct {
	apiKey string
	host   string
	from   From
}

// NewSendGrid creates a SendGrid mailer. An empty host uses DefaultSendGridHost.
func NewSendGrid(apiKey, host string, from From) *SendGrid {
	if host == "" {
		host = DefaultSendGridHost
	}
	return &SendGrid{apiKey: apiKey, host: host, from: from}
}

// SendReferralInvite sends the invite. A non-2xx response is an error.
func (s *SendGrid) SendReferralInvite(ctx context.Context, invite Invite) error {
	subject, text, htmlBody := renderInvite(invite)
	message := mail.NewSingleEmail(
		mail.NewEmail(s.from.Name, s.from.Email),
		subject,
		mail.NewEmail("", invite.ToEmail),
		text,
		htmlBody,
	)

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to send invite email: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	slog.Info("invite email sent", "status", response.StatusCode)
	return nil
}

// Log writes emails to the log instead of sending them. Used when no API key is configured.
type Log struct{}

// SendReferralInvite logs the invite.
func (Log) SendReferralInvite(_ context.Context, invite Invite) error {
	subject, _, _ := renderInvite(invite)
	slog.Info("email not sent (no mail provider configured)",
		"to", invite.ToEmail,
		"subject", subject,
		"link", invite.Link,
	)
	return nil
}

func renderInvite(invite Invite) (subject, text, htmlBody string) {
	inviter := invite.InviterName
	if invite.BusinessName != "" {
		inviter = fmt.Sprintf("%s from %s", invite.InviterName, invite.BusinessName)
	}
	subject = fmt.Sprintf("%s invited you to CORA", invite.InviterName)
	text = fmt.Sprintf("%s uses CORA to keep business expenses tax-ready and invited you to try it.\n\n"+
		"Sign up here: %s\nReferral code: %s\n", inviter, invite.Link, invite.Code)
	htmlBody = fmt.Sprintf("<p>%s uses CORA to keep business expenses tax-ready and invited you to try it.</p>"+
		`<p><a href="%s">Create your account</a></p><p>Referral code: <strong>%s</strong></p>`,
		html.EscapeString(inviter), html.EscapeString(invite.Link), html.EscapeString(invite.Code))
	return subject, text, htmlBody
}
