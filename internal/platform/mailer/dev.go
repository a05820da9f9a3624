package mailer

import (
	"github.com/bouclier/residence-access/pkg/logger"
)

// DevMailer logs mail instead of sending it. Default in local setups where
// no SMTP relay or MailerSend key is configured.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("[DEV MAIL]",
		"to", toEmail,
		"name", toName,
		"subject", subject,
		"text", text,
	)
	return "dev", nil
}

func (d *DevMailer) SendOtp(email, code string) error {
	logger.Info("[DEV MAIL] sign-in code",
		"to", email,
		"code", code,
	)
	return nil
}
