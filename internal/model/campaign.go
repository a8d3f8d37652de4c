// internal/model/campaign.go
package model

import (
	"encoding/json"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignSending, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// CampaignStats holds delivery counters. Also used as an increment delta.
type CampaignStats struct {
	Sent       int `db:"stats_sent" json:"sent"`
	Bounced    int `db:"stats_bounced" json:"bounced"`
	Complained int `db:"stats_complained" json:"complained"`
}

func (s CampaignStats) IsZero() bool {
	return s.Sent == 0 && s.Bounced == 0 && s.Complained == 0
}

type Campaign struct {
	ID                  int64           `db:"id" json:"id"`
	Subject             string          `db:"subject" json:"subject"`
	Segment             Segment         `db:"segment" json:"segment"`
	Status              CampaignStatus  `db:"status" json:"status"`
	HTMLSnapshot        string          `db:"html_snapshot" json:"html_snapshot,omitempty"`
	SnapshotPlaintext   string          `db:"snapshot_plaintext" json:"snapshot_plaintext,omitempty"`
	DataSnapshot        json.RawMessage `db:"data_snapshot" json:"data_snapshot,omitempty"`
	LastProcessedID     int64           `db:"last_processed_id" json:"last_processed_id"`
	LastProcessedUserID int64           `db:"last_processed_user_id" json:"last_processed_user_id"`
	Stats               CampaignStats   `json:"stats"`
	StartedAt           *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
	LeaseOwner          string          `db:"lease_owner" json:"-"`
	LeaseExpiresAt      *time.Time      `db:"lease_expires_at" json:"-"`
}

// CursorField names the cursor column a segment paginates with.
type CursorField string

const (
	CursorSubscriber CursorField = "last_processed_id"
	CursorUser       CursorField = "last_processed_user_id"
)

// CursorField returns which cursor the campaign's segment advances.
func (c *Campaign) CursorField() CursorField {
	if c.Segment.Kind == SegmentAllUsers {
		return CursorUser
	}
	return CursorSubscriber
}

// Cursor returns the current value of the campaign's active cursor.
func (c *Campaign) Cursor() int64 {
	if c.CursorField() == CursorUser {
		return c.LastProcessedUserID
	}
	return c.LastProcessedID
}

// MissingSnapshotFields lists the rendered fields a sending campaign lacks.
func (c *Campaign) MissingSnapshotFields() []string {
	var missing []string
	if strings.TrimSpace(c.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(c.HTMLSnapshot) == "" {
		missing = append(missing, "html_snapshot")
	}
	if strings.TrimSpace(c.SnapshotPlaintext) == "" {
		missing = append(missing, "snapshot_plaintext")
	}
	if len(c.DataSnapshot) == 0 || string(c.DataSnapshot) == "null" {
		missing = append(missing, "data_snapshot")
	}
	return missing
}
