package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-mailer/internal/db"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	ListCampaigns(ctx context.Context, offset, limit int, segmentKind, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error
	UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error
	StartSending(ctx context.Context, id int64) error

	// Dispatcher lifecycle
	ClaimCampaign(ctx context.Context, owner string, ttl time.Duration) (*model.Campaign, error)
	AdvanceCursor(ctx context.Context, id int64, owner string, field model.CursorField, from, to int64) error
	CompleteCampaign(ctx context.Context, id int64, owner string) error
	ReleaseLease(ctx context.Context, id int64, owner string) error
	IncrementStats(ctx context.Context, id int64, delta model.CampaignStats) error
}

type CampaignRepository struct {
	DB db.DBTX
}

const campaignColumns = `id, subject, segment_kind, segment_category, status, html_snapshot, snapshot_plaintext,
	data_snapshot, last_processed_id, last_processed_user_id, stats_sent, stats_bounced, stats_complained,
	started_at, completed_at, created_at, updated_at, lease_owner, lease_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c        model.Campaign
		kind     string
		category string
		status   string
		data     []byte
	)
	err := row.Scan(&c.ID, &c.Subject, &kind, &category, &status, &c.HTMLSnapshot, &c.SnapshotPlaintext,
		&data, &c.LastProcessedID, &c.LastProcessedUserID, &c.Stats.Sent, &c.Stats.Bounced, &c.Stats.Complained,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt, &c.LeaseOwner, &c.LeaseExpiresAt)
	if err != nil {
		return nil, err
	}
	c.Segment = model.Segment{Kind: model.SegmentKind(kind), Category: category}
	c.Status = model.CampaignStatus(status)
	if len(data) > 0 {
		c.DataSnapshot = append([]byte(nil), data...)
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if err := c.Segment.Validate(); err != nil {
		return err
	}
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	var data any
	if len(c.DataSnapshot) > 0 {
		data = string(c.DataSnapshot)
	}
	query := `
        INSERT INTO campaigns (subject, segment_kind, segment_category, status, html_snapshot,
                               snapshot_plaintext, data_snapshot, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Subject, string(c.Segment.Kind), c.Segment.Category,
		string(c.Status), c.HTMLSnapshot, c.SnapshotPlaintext, data, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW(), lease_owner='', lease_expires_at=NULL WHERE id=$2`
	res, err := r.DB.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return err
	}
	return expectOne(res, appErrors.NewCampaignNotFound(id))
}

// StartSending moves a draft to sending. The partial unique index on status
// rejects the update while another campaign is sending.
func (r *CampaignRepository) StartSending(ctx context.Context, id int64) error {
	query := `
        UPDATE campaigns
        SET status='sending', started_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status='draft'
    `
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.ErrCampaignAlreadySending
		}
		return err
	}
	return expectOne(res, appErrors.ErrCampaignNotDraft)
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, segmentKind, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if segmentKind != "" {
		where += fmt.Sprintf(" AND segment_kind=$%d", argPos)
		args = append(args, segmentKind)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ====================== Dispatcher lifecycle ======================

// ClaimCampaign leases the sending campaign to owner for ttl. It returns nil
// when no campaign is sending or another live lease holds it.
func (r *CampaignRepository) ClaimCampaign(ctx context.Context, owner string, ttl time.Duration) (*model.Campaign, error) {
	query := `
        UPDATE campaigns
        SET lease_owner=$1, lease_expires_at=NOW() + ($2::bigint * INTERVAL '1 millisecond'), updated_at=NOW()
        WHERE id = (
            SELECT id FROM campaigns
            WHERE status='sending'
              AND (lease_owner='' OR lease_owner=$1 OR lease_expires_at IS NULL OR lease_expires_at < NOW())
            ORDER BY id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + campaignColumns
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, owner, ttl.Milliseconds()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// AdvanceCursor moves the cursor from -> to, only if it still holds from and
// owner still holds the lease.
func (r *CampaignRepository) AdvanceCursor(ctx context.Context, id int64, owner string, field model.CursorField, from, to int64) error {
	if to <= from {
		return fmt.Errorf("%w: %s %d -> %d", appErrors.ErrCursorConflict, field, from, to)
	}
	switch field {
	case model.CursorSubscriber, model.CursorUser:
	default:
		return fmt.Errorf("unknown cursor field %q", field)
	}
	query := fmt.Sprintf(`
        UPDATE campaigns
        SET %[1]s=$1, updated_at=NOW()
        WHERE id=$2 AND status='sending' AND lease_owner=$3 AND %[1]s=$4
    `, field)
	res, err := r.DB.ExecContext(ctx, query, to, id, owner, from)
	if err != nil {
		return err
	}
	return expectOne(res, appErrors.ErrCursorConflict)
}

func (r *CampaignRepository) CompleteCampaign(ctx context.Context, id int64, owner string) error {
	query := `
        UPDATE campaigns
        SET status='completed', completed_at=NOW(), updated_at=NOW(), lease_owner='', lease_expires_at=NULL
        WHERE id=$1 AND status='sending' AND lease_owner=$2
    `
	res, err := r.DB.ExecContext(ctx, query, id, owner)
	if err != nil {
		return err
	}
	return expectOne(res, appErrors.ErrLeaseLost)
}

func (r *CampaignRepository) ReleaseLease(ctx context.Context, id int64, owner string) error {
	query := `UPDATE campaigns SET lease_owner='', lease_expires_at=NULL WHERE id=$1 AND lease_owner=$2`
	_, err := r.DB.ExecContext(ctx, query, id, owner)
	return err
}

func (r *CampaignRepository) IncrementStats(ctx context.Context, id int64, delta model.CampaignStats) error {
	if delta.IsZero() {
		return nil
	}
	query := `
        UPDATE campaigns
        SET stats_sent=stats_sent+$1, stats_bounced=stats_bounced+$2, stats_complained=stats_complained+$3,
            updated_at=NOW()
        WHERE id=$4
    `
	res, err := r.DB.ExecContext(ctx, query, delta.Sent, delta.Bounced, delta.Complained, id)
	if err != nil {
		return err
	}
	return expectOne(res, appErrors.NewCampaignNotFound(id))
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return otherwise
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
