package mailer

// Service delivers transactional mail. SendOtp is the only message the access
// subsystem sends: the one-time sign-in code.
type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendOtp(email, code string) error
}
