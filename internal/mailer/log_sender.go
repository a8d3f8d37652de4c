package mailer

import (
	"context"
	"log/slog"
)

// LogSender only logs what it would send. Used for local runs.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, email *Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	s.Log.InfoContext(ctx, "mail_logged",
		slog.Any("to", email.To),
		slog.String("subject", email.Subject),
		slog.Any("tags", email.Tags),
		slog.Int("html_bytes", len(email.HTML)),
	)
	return nil
}
