package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"ea-license-server/internal/database"
	"ea-license-server/internal/logging"
	"ea-license-server/internal/vault"
)

// Service handles email sending operations
type Service struct {
	repo   *database.Repository
	vault  *vault.Client
	logger *logging.Logger
}

// NewService creates a new email service. Vault is optional; when
// present its SMTP secret wins over database settings so credentials
// stay out of the settings table.
func NewService(repo *database.Repository, vaultClient *vault.Client) *Service {
	return &Service{
		repo:   repo,
		vault:  vaultClient,
		logger: logging.WithComponent("email"),
	}
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// GetSMTPConfig resolves SMTP settings, preferring Vault credentials
// over the system_settings table
func (s *Service) GetSMTPConfig(ctx context.Context) (*SMTPConfig, error) {
	if s.vault != nil {
		if creds, err := s.vault.SMTPCredentials(ctx); err == nil && creds != nil {
			return &SMTPConfig{
				Host:     creds.Host,
				Port:     creds.Port,
				Username: creds.Username,
				Password: creds.Password,
				From:     creds.From,
				FromName: "License Server",
			}, nil
		}
	}

	settings, err := s.repo.GetSettings(ctx, "smtp_")
	if err != nil {
		return nil, fmt.Errorf("failed to get SMTP settings: %w", err)
	}

	required := []string{"smtp_host", "smtp_port", "smtp_username", "smtp_password", "smtp_from"}
	for _, key := range required {
		if settings[key] == "" {
			return nil, fmt.Errorf("SMTP not configured: missing %s", key)
		}
	}

	cfg := &SMTPConfig{
		Host:     settings["smtp_host"],
		Port:     settings["smtp_port"],
		Username: settings["smtp_username"],
		Password: settings["smtp_password"],
		From:     settings["smtp_from"],
		FromName: settings["smtp_from_name"],
	}
	if cfg.FromName == "" {
		cfg.FromName = "License Server"
	}
	return cfg, nil
}

// IsSMTPConfigured checks if SMTP is configured
func (s *Service) IsSMTPConfigured(ctx context.Context) bool {
	_, err := s.GetSMTPConfig(ctx)
	return err == nil
}

// SendEmail sends an email using the resolved SMTP settings
func (s *Service) SendEmail(ctx context.Context, to, subject, body string) error {
	cfg, err := s.GetSMTPConfig(ctx)
	if err != nil {
		return err
	}
	return s.sendWithConfig(cfg, to, subject, body)
}

func (s *Service) sendWithConfig(cfg *SMTPConfig, to, subject, body string) error {
	from := cfg.From
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.From)
	}

	message := []byte(
		"From: " + from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body + "\r\n",
	)

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	addr := cfg.Host + ":" + cfg.Port

	s.logger.Info("sending email", "to", to, "host", cfg.Host, "port", cfg.Port)

	var err error
	if cfg.Port == "465" {
		// Implicit TLS
		err = s.sendTLS(addr, auth, cfg.From, []string{to}, message)
	} else {
		// STARTTLS (587) or plain (25)
		err = smtp.SendMail(addr, auth, cfg.From, []string{to}, message)
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to send email", "to", to)
		return fmt.Errorf("SMTP error: %w", err)
	}
	return nil
}

func (s *Service) sendTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host := strings.Split(addr, ":")[0]
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err = client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err = client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to add recipient: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

// SendLicenseIssued mails a freshly issued license key to the buyer
func (s *Service) SendLicenseIssued(ctx context.Context, lic *database.License) error {
	if lic.UserEmail == "" {
		return nil
	}

	subject := "Your License Key"
	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Welcome!</h2>
  <p>Your %s license is ready. Enter this key in your trading terminal:</p>
  <p style="font-size: 20px; font-weight: bold; letter-spacing: 2px; background: #f4f4f4; padding: 16px; text-align: center;">%s</p>
  <p>Plan: %s<br>Valid until: %s</p>
  <p style="color: #666; font-size: 12px;">Keep this key private. It is bound to your trading account on first use.</p>
</div>`,
		lic.PlanName, lic.Key, lic.PlanName, lic.ExpiresAt.Format("January 2, 2006"))

	return s.SendEmail(ctx, lic.UserEmail, subject, body)
}

// SendExpiryReminder mails a renewal reminder for a license expiring
// soon
func (s *Service) SendExpiryReminder(ctx context.Context, lic *database.License) error {
	if lic.UserEmail == "" {
		return nil
	}

	days := int(time.Until(lic.ExpiresAt).Hours() / 24)
	subject := fmt.Sprintf("Your license expires in %d day(s)", days)
	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>License Expiring Soon</h2>
  <p>Your %s license expires on <b>%s</b>.</p>
  <p>Renew before then to keep your trading agent running without interruption. An expired license stops the agent on its next license check.</p>
  <p style="color: #666; font-size: 12px;">Key: %s</p>
</div>`,
		lic.PlanName, lic.ExpiresAt.Format("January 2, 2006"), lic.Key)

	return s.SendEmail(ctx, lic.UserEmail, subject, body)
}
