package service_test

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// MockCampaignRepo keeps campaigns in memory, newest first for listing.
type MockCampaignRepo struct {
	campaigns []*model.Campaign
	nextID    int64
	startErr  error
}

func (m *MockCampaignRepo) find(id int64) *model.Campaign {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, segmentKind, status string) ([]*model.Campaign, int, error) {
	var filtered []*model.Campaign
	for i := len(m.campaigns) - 1; i >= 0; i-- {
		c := m.campaigns[i]
		if segmentKind != "" && string(c.Segment.Kind) != segmentKind {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, c)
	}
	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	return filtered[offset:min(offset+limit, total)], total, nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	c := m.find(id)
	if c == nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns = append(m.campaigns, &cp)
	return nil
}

func (m *MockCampaignRepo) UpdateStatus(_ context.Context, id int64, status model.CampaignStatus) error {
	c := m.find(id)
	if c == nil {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (m *MockCampaignRepo) StartSending(_ context.Context, id int64) error {
	if m.startErr != nil {
		return m.startErr
	}
	for _, c := range m.campaigns {
		if c.Status == model.CampaignSending {
			return appErrors.ErrCampaignAlreadySending
		}
	}
	c := m.find(id)
	if c == nil || c.Status != model.CampaignDraft {
		return appErrors.ErrCampaignNotDraft
	}
	now := time.Now()
	c.Status = model.CampaignSending
	c.StartedAt = &now
	return nil
}

func (m *MockCampaignRepo) ClaimCampaign(context.Context, string, time.Duration) (*model.Campaign, error) {
	return nil, nil
}

func (m *MockCampaignRepo) AdvanceCursor(context.Context, int64, string, model.CursorField, int64, int64) error {
	return nil
}

func (m *MockCampaignRepo) CompleteCampaign(context.Context, int64, string) error { return nil }
func (m *MockCampaignRepo) ReleaseLease(context.Context, int64, string) error     { return nil }

func (m *MockCampaignRepo) IncrementStats(_ context.Context, id int64, delta model.CampaignStats) error {
	c := m.find(id)
	if c == nil {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Stats.Sent += delta.Sent
	c.Stats.Bounced += delta.Bounced
	c.Stats.Complained += delta.Complained
	return nil
}
