// Package notify sends transactional email through Resend.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"checkout-service/internal/models"

	"github.com/resend/resend-go/v2"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(
	`<div style="font-family:Inter,Arial,sans-serif">
  <h2>Merci pour votre commande !</h2>
  <p>Vous pouvez consulter votre commande à tout moment via ce lien sécurisé :</p>
  <p><a href="{{.OrderURL}}">{{.OrderURL}}</a></p>
  <p>À bientôt,<br/>L’équipe Grem’s</p>
</div>`))

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendMailer sends order confirmations.
type ResendMailer struct {
	emails  emailSender
	from    string
	subject string
}

func NewResendMailer(apiKey, from, subject string) *ResendMailer {
	return &ResendMailer{
		emails:  resend.NewClient(apiKey).Emails,
		from:    from,
		subject: subject,
	}
}

// SendOrderConfirmation emails the retrieval link for one order.
func (m *ResendMailer) SendOrderConfirmation(ctx context.Context, c models.OrderConfirmation) error {
	body, err := renderConfirmation(c)
	if err != nil {
		return err
	}

	_, err = m.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{c.To},
		Subject: m.subject,
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", c.OrderID, err)
	}
	return nil
}

func renderConfirmation(c models.OrderConfirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}
