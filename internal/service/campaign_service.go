// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Log          *slog.Logger
}

// CreateCampaignInput carries the pre-rendered snapshots produced by the editor.
type CreateCampaignInput struct {
	Subject           string          `json:"subject"`
	Segment           string          `json:"segment"`
	HTMLSnapshot      string          `json:"html_snapshot"`
	SnapshotPlaintext string          `json:"snapshot_plaintext"`
	DataSnapshot      json.RawMessage `json:"data_snapshot"`
}

type CampaignDetails struct {
	ID          int64                `json:"id"`
	Subject     string               `json:"subject"`
	Segment     model.Segment        `json:"segment"`
	Status      model.CampaignStatus `json:"status"`
	Cursor      int64                `json:"cursor"`
	Stats       model.CampaignStats  `json:"stats"`
	Missing     []string             `json:"missing,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   *time.Time           `json:"updated_at,omitempty"`
}

// CreateCampaign stores a draft. The segment is parsed here so a typo is
// rejected now instead of resolving to nobody at send time.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", appErrors.ErrInvalidInput)
	}
	seg, err := model.ParseSegment(in.Segment)
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{
		Subject:           in.Subject,
		Segment:           seg,
		Status:            model.CampaignDraft,
		HTMLSnapshot:      in.HTMLSnapshot,
		SnapshotPlaintext: in.SnapshotPlaintext,
		DataSnapshot:      in.DataSnapshot,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.InfoContext(ctx, "campaign created", slog.Int64("campaign_id", c.ID), slog.String("segment", seg.String()))
	return c, nil
}

// StartSending hands a complete draft to the dispatcher. Only one campaign
// may be sending at a time.
func (s *CampaignService) StartSending(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, appErrors.ErrCampaignNotDraft
	}
	if missing := c.MissingSnapshotFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", appErrors.ErrInvalidCampaign, strings.Join(missing, ", "))
	}
	if err := s.CampaignRepo.StartSending(ctx, id); err != nil {
		return nil, err
	}
	s.Log.InfoContext(ctx, "campaign sending", slog.Int64("campaign_id", id))
	return s.CampaignRepo.GetByID(ctx, id)
}

// MarkFailed is the operator escape hatch for a sending campaign that cannot be fixed.
func (s *CampaignService) MarkFailed(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignSending {
		return nil, appErrors.ErrCampaignNotSending
	}
	if err := s.CampaignRepo.UpdateStatus(ctx, id, model.CampaignFailed); err != nil {
		return nil, err
	}
	s.Log.WarnContext(ctx, "campaign marked failed", slog.Int64("campaign_id", id))
	c.Status = model.CampaignFailed
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, segmentKind, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, segmentKind, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns progress and feedback counters for one campaign.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int64) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{
		ID:          c.ID,
		Subject:     c.Subject,
		Segment:     c.Segment,
		Status:      c.Status,
		Cursor:      c.Cursor(),
		Stats:       c.Stats,
		Missing:     c.MissingSnapshotFields(),
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}
