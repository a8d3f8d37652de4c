package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

func TestSubscriber_FifthTransientBounceTipsIntoBounced(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &model.Subscriber{ID: 1, GlobalStatus: model.SubscriberActive}

	for i := 1; i <= 4; i++ {
		require.True(t, s.ApplyTransientBounce(now, model.DefaultSoftBounceThreshold))
		require.Equal(t, i, s.SoftBounceCount)
		require.Equal(t, model.SubscriberActive, s.GlobalStatus)
	}

	s.ApplyTransientBounce(now, model.DefaultSoftBounceThreshold)
	require.Equal(t, 5, s.SoftBounceCount)
	require.Equal(t, model.SubscriberBounced, s.GlobalStatus)
	require.Equal(t, model.ReasonTooManySoftBounces, s.StatusReason)
	require.NotNil(t, s.LastSoftBounceAt)
	require.Equal(t, now, *s.StatusUpdatedAt)
}

func TestSubscriber_PermanentBounceIsImmediate(t *testing.T) {
	t.Parallel()

	s := &model.Subscriber{GlobalStatus: model.SubscriberActive}
	require.True(t, s.ApplyPermanentBounce(time.Now(), "smtp; 550 5.1.1 user unknown"))
	require.Equal(t, model.SubscriberBounced, s.GlobalStatus)
	require.Equal(t, "smtp; 550 5.1.1 user unknown", s.StatusReason)
}

func TestSubscriber_ComplaintIsImmediate(t *testing.T) {
	t.Parallel()

	s := &model.Subscriber{GlobalStatus: model.SubscriberActive}
	require.True(t, s.ApplyComplaint(time.Now(), "abuse"))
	require.Equal(t, model.SubscriberComplaint, s.GlobalStatus)
	require.Equal(t, "Spam complaint: abuse", s.StatusReason)
}

func TestSubscriber_TerminalStatesAreSticky(t *testing.T) {
	t.Parallel()

	for _, status := range []model.SubscriberStatus{
		model.SubscriberBounced,
		model.SubscriberComplaint,
		model.SubscriberUnsubscribed,
	} {
		s := &model.Subscriber{GlobalStatus: status, StatusReason: "original"}

		require.False(t, s.ApplyPermanentBounce(time.Now(), "late bounce"))
		require.False(t, s.ApplyComplaint(time.Now(), "abuse"))
		s.ApplyTransientBounce(time.Now(), 1)

		require.Equal(t, status, s.GlobalStatus)
		require.Equal(t, "original", s.StatusReason)
	}
}
