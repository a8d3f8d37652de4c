package mailer

import (
	"fmt"
	"log/slog"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// New picks the sender named by cfg.Mail.Driver.
func New(cfg config.Config, log *slog.Logger) (Sender, error) {
	switch cfg.Mail.Driver {
	case "ses":
		return NewSESSender(cfg.SES, cfg.Mail.From), nil
	case "resend":
		return NewResendSender(cfg.Resend.APIKey, cfg.Mail.From), nil
	case "log":
		return &LogSender{Log: log}, nil
	}
	return nil, fmt.Errorf("mailer: unknown driver %q", cfg.Mail.Driver)
}
