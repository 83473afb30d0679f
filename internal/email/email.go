// internal/email/email.go
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"strings"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
)

const (
	defaultAlertRecipient = "admin@yourdomain.org"
	defaultAlertSender    = "alerts@yourdomain.org"
)

// EmailConfig holds email configuration
type EmailConfig struct {
	AlertRecipient     string
	AlertSender        string
	ConfirmationSender string
	SendConfirmations  bool
	MockMode           bool
	LogEmails          bool
}

// LoadEmailConfig loads email configuration from environment variables
func LoadEmailConfig() EmailConfig {
	return EmailConfig{
		AlertRecipient:     getEnvOrDefault("EMAIL_ALERT_RECIPIENT", defaultAlertRecipient),
		AlertSender:        getEnvOrDefault("EMAIL_ALERT_SENDER", defaultAlertSender),
		ConfirmationSender: getEnvOrDefault("EMAIL_CONFIRMATION_SENDER", "noreply@yourdomain.org"),
		SendConfirmations:  getEnvOrDefault("SEND_CONFIRMATION_EMAILS", "true") == "true",
		MockMode:           getEnvOrDefault("EMAIL_MOCK_MODE", "false") == "true",
		LogEmails:          getEnvOrDefault("EMAIL_LOG_MODE", "true") == "true",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// RegistrationConfirmationData holds data for registration confirmation emails
type RegistrationConfirmationData struct {
	RegistrationID string
	FullName       string
	Email          string
	EventName      string
	CategoryName   string
	Amount         string
	PaymentID      string
	SubmittedAt    *time.Time
	Year           int
}

var confirmationTemplate = `Subject: Registration Confirmed - {{.EventName}}

Dear {{.FullName}},

Thank you for registering! Your payment has been received and your spot at {{.EventName}} is confirmed.

**Registration Details:**
- Name: {{.FullName}}
- Email: {{.Email}}
- Category: {{.CategoryName}}
- Amount Paid: {{.Amount}}
- Registration ID: {{.RegistrationID}}
- Payment ID: {{.PaymentID}}
{{if .SubmittedAt}}- Confirmed: {{.SubmittedAt.Format "January 2, 2006 at 3:04 PM"}}{{end}}

Your attendee badge is available from the registration page using your registration ID.

If you have any questions, please don't hesitate to contact us.

Best regards,
The Organizing Team`

// SendConfirmationEmail sends the post-payment confirmation for a
// registration, loading what it needs from the database. Repeated calls for
// the same registration are no-ops.
func SendConfirmationEmail(registrationID string) error {
	config := LoadEmailConfig()
	if !config.SendConfirmations {
		logger.LogInfo("Confirmation emails disabled, skipping email for %s", registrationID)
		return nil
	}

	reg, err := data.GetRegistrationByID(registrationID)
	if err != nil {
		return fmt.Errorf("failed to load registration for email: %w", err)
	}
	if reg.ConfirmationEmailSent {
		logger.LogInfo("Confirmation email already sent for %s, skipping", registrationID)
		return nil
	}

	eventName := reg.EventID
	if event, err := data.GetEventByID(reg.EventID); err == nil {
		eventName = event.Name
	}
	categoryName := reg.CategoryID
	if category, err := data.GetCategoryByID(reg.CategoryID); err == nil {
		categoryName = category.Name
	}

	emailData := RegistrationConfirmationData{
		RegistrationID: reg.RegistrationID,
		FullName:       reg.Profile[forms.ProfileName],
		Email:          reg.Profile[forms.ProfileEmail],
		EventName:      eventName,
		CategoryName:   categoryName,
		Amount:         fmt.Sprintf("%s %d.%02d", reg.Currency, reg.AmountMinor/100, reg.AmountMinor%100),
		PaymentID:      reg.PaymentID,
		SubmittedAt:    reg.SubmittedAt,
		Year:           time.Now().Year(),
	}

	tmpl, err := template.New("confirmation").Parse(confirmationTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse confirmation template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, emailData); err != nil {
		return fmt.Errorf("failed to execute confirmation template: %w", err)
	}

	content := buf.String()
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "Subject: ") {
		return fmt.Errorf("invalid template format: missing subject line")
	}

	subject := strings.TrimPrefix(lines[0], "Subject: ")
	body := strings.Join(lines[2:], "\n")

	logger.LogInfo("Sending confirmation email to %s for registration %s", emailData.Email, registrationID)

	if err := SendMail(emailData.Email, config.ConfirmationSender, subject, body); err != nil {
		logger.LogError("Failed to send confirmation email to %s: %v", emailData.Email, err)
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}

	if err := data.NewRegistrationRepository().MarkEmailSent(registrationID, time.Now()); err != nil {
		logger.LogWarn("Failed to mark confirmation email sent for %s: %v", registrationID, err)
	}

	logger.LogInfo("Confirmation email sent successfully to %s", emailData.Email)
	return nil
}

// SendAlertEmail sends an alert email to administrators
func SendAlertEmail(subject, body string) error {
	config := LoadEmailConfig()
	return SendMail(config.AlertRecipient, config.AlertSender, subject, body)
}

// SendMail sends an email using sendmail or logs it in mock mode
func SendMail(to, from, subject, body string) error {
	config := LoadEmailConfig()

	// Mock mode - just log to console with nice formatting
	if config.MockMode {
		logger.LogInfo("📧 ========== MOCK EMAIL ==========")
		logger.LogInfo("📬 To: %s", to)
		logger.LogInfo("📮 From: %s", from)
		logger.LogInfo("📄 Subject: %s", subject)
		logger.LogInfo("📝 Body:")
		logger.LogInfo("---")

		bodyLines := strings.Split(body, "\n")
		for _, line := range bodyLines {
			logger.LogInfo("   %s", line)
		}

		logger.LogInfo("---")
		logger.LogInfo("✅ Mock email logged successfully")
		logger.LogInfo("📧 ==============================")
		return nil
	}

	if config.LogEmails {
		logger.LogInfo("Sending real email to %s with subject: %s", to, subject)
	}

	// Real email sending using sendmail
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
	}

	message := strings.Join(headers, "\r\n") + body
	cmd := exec.Command("/usr/sbin/sendmail", "-t")
	cmd.Stdin = bytes.NewBufferString(message)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sendmail command failed: %w", err)
	}

	if config.LogEmails {
		logger.LogInfo("Real email sent successfully to %s", to)
	}

	return nil
}

// SendAdminNotification alerts administrators about a completed registration.
func SendAdminNotification(config EmailConfig, emailData RegistrationConfirmationData) error {
	subject := fmt.Sprintf("New Registration: %s - %s", emailData.FullName, emailData.EventName)

	body := fmt.Sprintf(`New paid registration received:

Registration ID: %s
Name: %s
Email: %s
Event: %s
Category: %s
Amount: %s
Payment ID: %s
Confirmed: %s
`,
		emailData.RegistrationID,
		emailData.FullName,
		emailData.Email,
		emailData.EventName,
		emailData.CategoryName,
		emailData.Amount,
		emailData.PaymentID,
		func() string {
			if emailData.SubmittedAt != nil {
				return emailData.SubmittedAt.Format("January 2, 2006 at 3:04 PM")
			}
			return ""
		}(),
	)

	return SendMail(config.AlertRecipient, config.AlertSender, subject, body)
}
