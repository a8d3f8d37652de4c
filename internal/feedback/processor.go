package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// SubscriberStore is the subscriber write path the processor needs.
// UpdateByEmails must commit the changes for all emails or none of them.
type SubscriberStore interface {
	UpdateByEmails(ctx context.Context, emails []string, fn func(s *model.Subscriber) bool) ([]*model.Subscriber, error)
}

// CampaignStats is the campaign write path the processor needs.
type CampaignStats interface {
	IncrementStats(ctx context.Context, id int64, delta model.CampaignStats) error
}

// Outcome counts recipients touched by one notification.
type Outcome struct {
	Bounced     int
	SoftBounced int
	Complained  int
	Unknown     int
}

type Processor struct {
	Subscribers         SubscriberStore
	Campaigns           CampaignStats
	SoftBounceThreshold int
	Log                 *slog.Logger
	Now                 func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Apply runs the subscriber transitions for n and bumps the tagged campaign's
// stats. A store error is returned as is so the caller can leave the message
// on the queue for redelivery.
func (p *Processor) Apply(ctx context.Context, n Notification) (Outcome, error) {
	var (
		out   Outcome
		delta model.CampaignStats
		now   = p.now()
	)

	switch n.NotificationType {
	case NotificationBounce:
		emails := make([]string, len(n.Bounce.BouncedRecipients))
		diagnostics := make(map[string]string, len(emails))
		for i, r := range n.Bounce.BouncedRecipients {
			emails[i] = r.EmailAddress
			diagnostics[strings.ToLower(r.EmailAddress)] = r.DiagnosticCode
		}
		switch n.Bounce.BounceType {
		case BouncePermanent:
			found, err := p.update(ctx, emails, func(s *model.Subscriber) bool {
				return s.ApplyPermanentBounce(now, diagnostics[strings.ToLower(s.EmailAddress)])
			})
			if err != nil {
				return out, err
			}
			out.Bounced, out.Unknown = found, len(emails)-found
			delta.Bounced = len(emails)
		case BounceTransient:
			found, err := p.update(ctx, emails, func(s *model.Subscriber) bool {
				return s.ApplyTransientBounce(now, p.SoftBounceThreshold)
			})
			if err != nil {
				return out, err
			}
			out.SoftBounced, out.Unknown = found, len(emails)-found
		default:
			p.Log.InfoContext(ctx, "undetermined bounce ignored",
				slog.String("mail_id", n.Mail.MessageID),
				slog.String("sub_type", n.Bounce.BounceSubType))
			return out, nil
		}

	case NotificationComplaint:
		feedbackType := n.Complaint.ComplaintFeedbackType
		emails := make([]string, len(n.Complaint.ComplainedRecipients))
		for i, r := range n.Complaint.ComplainedRecipients {
			emails[i] = r.EmailAddress
		}
		found, err := p.update(ctx, emails, func(s *model.Subscriber) bool {
			return s.ApplyComplaint(now, feedbackType)
		})
		if err != nil {
			return out, err
		}
		out.Complained, out.Unknown = found, len(emails)-found
		delta.Complained = len(emails)
	}

	campaignID, ok := n.Mail.CampaignID()
	if !ok || delta.IsZero() {
		return out, nil
	}
	if err := p.Campaigns.IncrementStats(ctx, campaignID, delta); err != nil {
		if appErrors.IsCampaignNotFound(err) {
			p.Log.WarnContext(ctx, "feedback for unknown campaign", slog.Int64("campaign_id", campaignID))
			return out, nil
		}
		return out, fmt.Errorf("increment stats for campaign %d: %w", campaignID, err)
	}
	return out, nil
}

// update applies fn to every recipient in one store call and reports how
// many had a subscriber row. Direct user mail has none.
func (p *Processor) update(ctx context.Context, emails []string, fn func(s *model.Subscriber) bool) (int, error) {
	updated, err := p.Subscribers.UpdateByEmails(ctx, emails, fn)
	if err != nil {
		return 0, fmt.Errorf("update subscribers: %w", err)
	}
	for _, s := range updated {
		p.Log.DebugContext(ctx, "subscriber updated",
			slog.Int64("subscriber_id", s.ID),
			slog.String("status", string(s.GlobalStatus)),
			slog.Int("soft_bounce_count", s.SoftBounceCount))
	}
	return len(updated), nil
}
