//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg, err := config.Parse()
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.Migrate(ctx, conn, logger.Discard()))
	_, err = conn.ExecContext(ctx, `TRUNCATE campaigns, email_subscriptions, subscribers, users RESTART IDENTITY`)
	require.NoError(t, err)
	return conn
}

func draft(seg model.Segment) *model.Campaign {
	return &model.Campaign{
		Subject:           "Hello",
		Segment:           seg,
		HTMLSnapshot:      "<p>hi {unsubscribe_url}</p>",
		SnapshotPlaintext: "hi {unsubscribe_url}",
		DataSnapshot:      json.RawMessage(`{"v":1}`),
	}
}

func TestCampaignRepository_LeaseLifecycle(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := &repository.CampaignRepository{DB: conn}

	c := draft(model.AllSubscribers())
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.StartSending(ctx, c.ID))

	other := draft(model.AllUsers())
	require.NoError(t, repo.Create(ctx, other))
	require.ErrorIs(t, repo.StartSending(ctx, other.ID), appErrors.ErrCampaignAlreadySending)

	claimed, err := repo.ClaimCampaign(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, c.ID, claimed.ID)
	require.JSONEq(t, `{"v":1}`, string(claimed.DataSnapshot))

	held, err := repo.ClaimCampaign(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.Nil(t, held)

	require.NoError(t, repo.AdvanceCursor(ctx, c.ID, "worker-a", model.CursorSubscriber, 0, 20))
	require.ErrorIs(t, repo.AdvanceCursor(ctx, c.ID, "worker-a", model.CursorSubscriber, 0, 20), appErrors.ErrCursorConflict)
	require.ErrorIs(t, repo.AdvanceCursor(ctx, c.ID, "worker-b", model.CursorSubscriber, 20, 40), appErrors.ErrCursorConflict)

	require.NoError(t, repo.IncrementStats(ctx, c.ID, model.CampaignStats{Sent: 20, Bounced: 1}))

	require.ErrorIs(t, repo.CompleteCampaign(ctx, c.ID, "worker-b"), appErrors.ErrLeaseLost)
	require.NoError(t, repo.CompleteCampaign(ctx, c.ID, "worker-a"))
	require.ErrorIs(t, repo.CompleteCampaign(ctx, c.ID, "worker-a"), appErrors.ErrLeaseLost)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.CampaignCompleted, got.Status)
	require.EqualValues(t, 20, got.LastProcessedID)
	require.Equal(t, model.CampaignStats{Sent: 20, Bounced: 1}, got.Stats)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, repo.StartSending(ctx, other.ID))
}

func TestCampaignRepository_ExpiredLeaseIsReclaimed(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := &repository.CampaignRepository{DB: conn}

	c := draft(model.CategorySegment("news"))
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.StartSending(ctx, c.ID))

	_, err := repo.ClaimCampaign(ctx, "worker-a", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	claimed, err := repo.ClaimCampaign(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "worker-b", claimed.LeaseOwner)

	require.NoError(t, repo.ReleaseLease(ctx, c.ID, "worker-b"))
	again, err := repo.ClaimCampaign(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestRecipientRepository_KeysetPages(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `
        INSERT INTO subscribers (email_address, global_status)
        SELECT 's' || n || '@example.com', CASE WHEN n = 3 THEN 'bounced' ELSE 'active' END
        FROM generate_series(1, 6) AS n`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `
        INSERT INTO email_subscriptions (subscriber_id, list_id, status)
        VALUES (1, 'news', 'subscribed'), (2, 'news', 'unsubscribed'), (3, 'news', 'subscribed'), (4, 'news', 'subscribed')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `
        INSERT INTO users (email, has_email_verified) VALUES ('u1@example.com', TRUE), ('u2@example.com', FALSE)`)
	require.NoError(t, err)

	repo := &repository.RecipientRepository{DB: conn}

	page, err := repo.ListActiveSubscribers(ctx, 0, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 4}, ids(page))

	page, err = repo.ListActiveSubscribers(ctx, 4, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6}, ids(page))

	page, err = repo.ListCategoryRecipients(ctx, "news", 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4}, ids(page))

	page, err = repo.ListVerifiedUsers(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, page[0].IsDirectUserEmail)
}

func TestSubscriberRepository_UpdateByEmail(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO subscribers (email_address) VALUES ('Mixed@Example.com')`)
	require.NoError(t, err)

	repo := &repository.SubscriberRepository{DB: conn}
	now := time.Now().UTC().Truncate(time.Microsecond)

	s, err := repo.UpdateByEmail(ctx, "mixed@example.com", func(s *model.Subscriber) bool {
		return s.ApplyPermanentBounce(now, "smtp; 550 user unknown")
	})
	require.NoError(t, err)
	require.Equal(t, model.SubscriberBounced, s.GlobalStatus)

	stored, err := repo.GetByEmail(ctx, "MIXED@example.com")
	require.NoError(t, err)
	require.Equal(t, model.SubscriberBounced, stored.GlobalStatus)
	require.Equal(t, "smtp; 550 user unknown", stored.StatusReason)

	_, err = repo.UpdateByEmail(ctx, "nobody@example.com", func(*model.Subscriber) bool { return true })
	require.ErrorIs(t, err, appErrors.ErrSubscriberNotFound)
}

func ids(page []model.Recipient) []int64 {
	out := make([]int64, len(page))
	for i, r := range page {
		out[i] = r.SubscriberID
	}
	return out
}

func TestSubscriberRepository_UpdateByEmailsIsAtomic(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO subscribers (email_address) VALUES ('a@example.com'), ('b@example.com')`)
	require.NoError(t, err)

	repo := &repository.SubscriberRepository{DB: conn}
	now := time.Now().UTC()

	updated, err := repo.UpdateByEmails(ctx, []string{"A@example.com", "b@example.com", "ghost@example.com"},
		func(s *model.Subscriber) bool { return s.ApplyTransientBounce(now, model.DefaultSoftBounceThreshold) })
	require.NoError(t, err)
	require.Len(t, updated, 2)

	// The second row violates the status CHECK, so the first row's change rolls back too.
	_, err = repo.UpdateByEmails(ctx, []string{"a@example.com", "b@example.com"}, func(s *model.Subscriber) bool {
		s.SoftBounceCount++
		if s.EmailAddress == "b@example.com" {
			s.GlobalStatus = "bogus"
		}
		return true
	})
	require.Error(t, err)

	a, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, a.SoftBounceCount)
}

func TestSubscribers_EmailUniqueIgnoringCase(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO subscribers (email_address) VALUES ('Case@Example.com')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO subscribers (email_address) VALUES ('case@example.com')`)
	require.ErrorContains(t, err, "subscribers_email_lower_idx")
}
