package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"membership-api/internal/config"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoService sends operator notifications and purchase receipts by email
type BrevoService struct {
	client        *brevo.APIClient
	fromEmail     string
	fromName      string
	operatorEmail string
}

// NewBrevoService creates a new Brevo service instance from the app config
func NewBrevoService() *BrevoService {
	cfg := config.AppConfig
	return NewBrevoServiceWithKey(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, cfg.AdminEmail)
}

// NewBrevoServiceWithKey creates a Brevo service with explicit settings
func NewBrevoServiceWithKey(apiKey, fromEmail, fromName, operatorEmail string) *BrevoService {
	brevoCfg := brevo.NewConfiguration()
	brevoCfg.AddDefaultHeader("api-key", apiKey)

	return &BrevoService{
		client:        brevo.NewAPIClient(brevoCfg),
		fromEmail:     fromEmail,
		fromName:      fromName,
		operatorEmail: operatorEmail,
	}
}

// Notify emails the operator, and sends the buyer a receipt for new purchases
func (s *BrevoService) Notify(ctx context.Context, n Notification) error {
	if s.operatorEmail != "" {
		if err := s.sendEmail(ctx, s.operatorEmail, n.Subject(), n.Text()); err != nil {
			return err
		}
	}

	if n.Kind == NotificationNewSubscription && strings.Contains(n.Email, "@") {
		subject, text := receipt(n)
		if err := s.sendEmail(ctx, n.Email, subject, text); err != nil {
			return fmt.Errorf("failed to send receipt: %w", err)
		}
	}
	return nil
}

func receipt(n Notification) (string, string) {
	subject := fmt.Sprintf("Your %s access to %s", n.Plan, n.TenantName)
	text := fmt.Sprintf("Thank you for your purchase!\n\nPlan: %s\nAmount: $%s\n\n"+
		"Your invite link has been sent to you on Telegram. It is valid for a single use.",
		n.Plan, n.Amount.StringFixed(2))
	return subject, text
}

// sendEmail sends email via Brevo API
func (s *BrevoService) sendEmail(ctx context.Context, to, subject, text string) error {
	htmlContent := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<pre style="font-family: inherit; white-space: pre-wrap;">%s</pre>
</body>
</html>`, html.EscapeString(text))

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: to},
		},
		Subject:     subject,
		HtmlContent: htmlContent,
		TextContent: text,
	}

	_, resp, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}
	return nil
}
