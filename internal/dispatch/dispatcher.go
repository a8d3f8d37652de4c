// Package dispatch sends one page of a sending campaign per tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

const (
	DefaultLeaseTTL    = 2 * time.Minute
	DefaultSendTimeout = 10 * time.Second
)

// CampaignStore is the campaign lifecycle the dispatcher drives.
type CampaignStore interface {
	ClaimCampaign(ctx context.Context, owner string, ttl time.Duration) (*model.Campaign, error)
	AdvanceCursor(ctx context.Context, id int64, owner string, field model.CursorField, from, to int64) error
	CompleteCampaign(ctx context.Context, id int64, owner string) error
	ReleaseLease(ctx context.Context, id int64, owner string) error
	IncrementStats(ctx context.Context, id int64, delta model.CampaignStats) error
}

// RecipientResolver is implemented by segment.Resolver.
type RecipientResolver interface {
	Resolve(ctx context.Context, seg model.Segment, cursor int64) ([]model.Recipient, error)
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusInvalid    Status = "invalid"
	StatusDispatched Status = "dispatched"
	StatusCompleted  Status = "completed"
)

// Result describes what one Tick did.
type Result struct {
	CampaignID int64    `json:"campaign_id,omitempty"`
	Status     Status   `json:"status"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Cursor     int64    `json:"cursor"`
	Missing    []string `json:"missing,omitempty"`
}

type Dispatcher struct {
	Campaigns   CampaignStore
	Resolver    RecipientResolver
	Sender      mailer.Sender
	Owner       string
	LeaseTTL    time.Duration
	SendTimeout time.Duration
	BaseURL     string
	Log         *slog.Logger
}

// Tick claims the sending campaign, advances its cursor past the next page
// and mails that page. The cursor is persisted before any send, so a crash
// mid-page skips the rest of that page rather than mailing anyone twice.
//
// A campaign with incomplete snapshots yields StatusInvalid and an error
// wrapping ErrInvalidCampaign; it stays sending until fixed.
func (d *Dispatcher) Tick(ctx context.Context) (Result, error) {
	c, err := d.Campaigns.ClaimCampaign(ctx, d.Owner, d.leaseTTL())
	if err != nil {
		return Result{}, fmt.Errorf("claim campaign: %w", err)
	}
	if c == nil {
		return Result{Status: StatusIdle}, nil
	}
	defer d.release(ctx, c.ID)

	log := d.Log.With(slog.Int64("campaign_id", c.ID))
	res := Result{CampaignID: c.ID, Cursor: c.Cursor()}

	if missing := c.MissingSnapshotFields(); len(missing) > 0 {
		res.Status = StatusInvalid
		res.Missing = missing
		log.WarnContext(ctx, "campaign snapshot incomplete", slog.Any("missing", missing))
		return res, fmt.Errorf("%w: missing %s", appErrors.ErrInvalidCampaign, strings.Join(missing, ", "))
	}

	page, err := d.Resolver.Resolve(ctx, c.Segment, c.Cursor())
	if err != nil {
		if errors.Is(err, appErrors.ErrUnknownSegment) {
			res.Status = StatusInvalid
			log.WarnContext(ctx, "campaign segment invalid", slog.String("error", err.Error()))
			return res, fmt.Errorf("%w: %w", appErrors.ErrInvalidCampaign, err)
		}
		return res, err
	}

	if len(page) == 0 {
		if err := d.Campaigns.CompleteCampaign(ctx, c.ID, d.Owner); err != nil {
			return res, fmt.Errorf("complete campaign %d: %w", c.ID, err)
		}
		res.Status = StatusCompleted
		log.InfoContext(ctx, "campaign completed")
		return res, nil
	}

	next := page[len(page)-1].SubscriberID
	if err := d.Campaigns.AdvanceCursor(ctx, c.ID, d.Owner, c.CursorField(), c.Cursor(), next); err != nil {
		return res, fmt.Errorf("advance cursor of campaign %d: %w", c.ID, err)
	}
	res.Cursor = next
	res.Status = StatusDispatched

	for _, r := range page {
		if err := d.send(ctx, c, r); err != nil {
			res.Failed++
			log.ErrorContext(ctx, "send failed",
				slog.Int64("recipient_id", r.SubscriberID),
				slog.Bool("direct", r.IsDirectUserEmail),
				slog.String("error", err.Error()))
			continue
		}
		res.Sent++
	}

	if res.Sent > 0 {
		if err := d.Campaigns.IncrementStats(ctx, c.ID, model.CampaignStats{Sent: res.Sent}); err != nil {
			log.ErrorContext(ctx, "failed to record sent count", slog.Int("sent", res.Sent), slog.String("error", err.Error()))
		}
	}

	log.InfoContext(ctx, "campaign page dispatched",
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int64("cursor", res.Cursor))
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, c *model.Campaign, r model.Recipient) error {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return d.Sender.Send(ctx, BuildEmail(c, r, d.BaseURL))
}

// BuildEmail renders the campaign for one recipient.
func BuildEmail(c *model.Campaign, r model.Recipient, baseURL string) *mailer.Email {
	unsubscribe := UnsubscribeURL(baseURL, c.ID, r)
	data := map[string]string{UnsubscribePlaceholder: unsubscribe}

	email := &mailer.Email{
		To:      []string{mailer.Address(r.Name, r.EmailAddress)},
		Subject: c.Subject,
		HTML:    RenderTemplate(c.HTMLSnapshot, data),
		Text:    RenderTemplate(c.SnapshotPlaintext, data),
		Tags:    map[string]string{"campaign": strconv.FormatInt(c.ID, 10)},
	}
	if r.IsDirectUserEmail {
		email.Tags["is_direct_user_email"] = "true"
		return email
	}
	email.Tags["subscriber"] = strconv.FormatInt(r.SubscriberID, 10)
	email.Headers = map[string]string{
		"List-Unsubscribe":      "<" + unsubscribe + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
	return email
}

func (d *Dispatcher) leaseTTL() time.Duration {
	if d.LeaseTTL <= 0 {
		return DefaultLeaseTTL
	}
	return d.LeaseTTL
}

// release runs after the tick's own deadline may have passed.
func (d *Dispatcher) release(ctx context.Context, id int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Campaigns.ReleaseLease(ctx, id, d.Owner); err != nil {
		d.Log.WarnContext(ctx, "failed to release campaign lease", slog.Int64("campaign_id", id), slog.String("error", err.Error()))
	}
}
