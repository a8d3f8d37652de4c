// internal/model/subscriber.go
package model

import (
	"fmt"
	"time"
)

type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplaint    SubscriberStatus = "complaint"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
)

// DefaultSoftBounceThreshold is the transient bounce count that turns a subscriber bounced.
const DefaultSoftBounceThreshold = 5

const ReasonTooManySoftBounces = "Too many soft bounces"

// Terminal states never transition back to active.
func (s SubscriberStatus) Terminal() bool {
	return s == SubscriberBounced || s == SubscriberComplaint || s == SubscriberUnsubscribed
}

type Subscriber struct {
	ID               int64            `db:"id" json:"id"`
	EmailAddress     string           `db:"email_address" json:"email_address"`
	Name             string           `db:"name" json:"name,omitempty"`
	GlobalStatus     SubscriberStatus `db:"global_status" json:"global_status"`
	SoftBounceCount  int              `db:"soft_bounce_count" json:"soft_bounce_count"`
	LastSoftBounceAt *time.Time       `db:"last_soft_bounce_at" json:"last_soft_bounce_at,omitempty"`
	StatusReason     string           `db:"status_reason" json:"status_reason,omitempty"`
	StatusUpdatedAt  *time.Time       `db:"status_updated_at" json:"status_updated_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// ApplyPermanentBounce moves an active subscriber to bounced. Returns false when nothing changed.
func (s *Subscriber) ApplyPermanentBounce(now time.Time, diagnostic string) bool {
	return s.terminate(SubscriberBounced, diagnostic, now)
}

// ApplyComplaint moves an active subscriber to complaint.
func (s *Subscriber) ApplyComplaint(now time.Time, feedbackType string) bool {
	return s.terminate(SubscriberComplaint, fmt.Sprintf("Spam complaint: %s", feedbackType), now)
}

// ApplyTransientBounce counts a soft bounce. The bounce that brings the count
// to threshold also moves the subscriber to bounced.
func (s *Subscriber) ApplyTransientBounce(now time.Time, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultSoftBounceThreshold
	}
	s.SoftBounceCount++
	at := now
	s.LastSoftBounceAt = &at
	if s.SoftBounceCount >= threshold {
		s.terminate(SubscriberBounced, ReasonTooManySoftBounces, now)
	}
	return true
}

func (s *Subscriber) terminate(status SubscriberStatus, reason string, now time.Time) bool {
	if s.GlobalStatus.Terminal() {
		return false
	}
	at := now
	s.GlobalStatus = status
	s.StatusReason = reason
	s.StatusUpdatedAt = &at
	return true
}

type SubscriptionStatus string

const (
	Subscribed   SubscriptionStatus = "subscribed"
	Unsubscribed SubscriptionStatus = "unsubscribed"
)

// EmailSubscription links a subscriber to a category list.
type EmailSubscription struct {
	SubscriberID int64              `db:"subscriber_id" json:"subscriber_id"`
	ListID       string             `db:"list_id" json:"list_id"`
	Status       SubscriptionStatus `db:"status" json:"status"`
}
