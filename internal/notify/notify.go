// Package notify provides the warning side-channel spec.md §4.5 calls
// "externalised" (log / email / alert) with a concrete default: SMTP.
package notify

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cloudguardian/policyguard/internal/logging"
	"gopkg.in/gomail.v2"
)

// Warner is invoked when a (resource, policy) pair enters the Warned state.
type Warner interface {
	Warn(policyID, resourceID, message string) error
}

// LogWarner simply logs the warning, the minimal always-available side
// channel — useful when no SMTP config is supplied.
type LogWarner struct{}

func (LogWarner) Warn(policyID, resourceID, message string) error {
	logging.WithComponent("notify").Warn().
		Str("policy_id", policyID).Str("resource_id", resourceID).Msg(message)
	return nil
}

// SMTPConfig configures the mailer, grounded on
// internal/notification/email.go's EmailConfig.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	To        []string
	UseTLS    bool
}

// SMTPConfigFromEnv reads POLICYGUARD_SMTP_* variables, mirroring the
// teacher's NewEmailProviderFromEnv convention.
func SMTPConfigFromEnv() SMTPConfig {
	port, _ := strconv.Atoi(getEnv("POLICYGUARD_SMTP_PORT", "587"))
	return SMTPConfig{
		Host:      getEnv("POLICYGUARD_SMTP_HOST", "localhost"),
		Port:      port,
		Username:  getEnv("POLICYGUARD_SMTP_USERNAME", ""),
		Password:  getEnv("POLICYGUARD_SMTP_PASSWORD", ""),
		FromEmail: getEnv("POLICYGUARD_SMTP_FROM", "policyguard@example.com"),
		FromName:  getEnv("POLICYGUARD_SMTP_FROM_NAME", "PolicyGuard"),
		UseTLS:    getEnv("POLICYGUARD_SMTP_TLS", "true") == "true",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SMTPWarner sends the warning side-channel as an email via gomail.v2.
type SMTPWarner struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPWarner constructs a warner that mails cfg.To on every call.
func NewSMTPWarner(cfg SMTPConfig) *SMTPWarner {
	return &SMTPWarner{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (w *SMTPWarner) Warn(policyID, resourceID, message string) error {
	if len(w.cfg.To) == 0 {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", w.cfg.FromName, w.cfg.FromEmail))
	msg.SetHeader("To", w.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[policyguard] warning: policy %s on resource %s", policyID, resourceID))
	msg.SetBody("text/plain", message)

	return w.dialer.DialAndSend(msg)
}
