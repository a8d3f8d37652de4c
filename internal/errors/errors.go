// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is returned when a campaign lookup misses.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// IsCampaignNotFound reports whether err wraps an ErrCampaignNotFound.
func IsCampaignNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

var (
	// ErrInvalidCampaign marks a sending campaign whose rendered snapshot is incomplete.
	ErrInvalidCampaign = errors.New("invalid campaign data")

	// ErrUnknownSegment is returned for a segment value outside the closed set.
	ErrUnknownSegment = errors.New("unknown segment")

	// ErrCursorConflict means another worker moved the campaign cursor first.
	ErrCursorConflict = errors.New("campaign cursor changed concurrently")

	// ErrLeaseLost means the dispatcher no longer holds the campaign lease.
	ErrLeaseLost = errors.New("campaign lease lost")

	ErrCampaignNotDraft       = errors.New("campaign is not in draft status")
	ErrCampaignAlreadySending = errors.New("another campaign is already sending")
	ErrCampaignNotSending     = errors.New("campaign is not sending")

	// ErrUnauthorized rejects job invocations without the shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedMessage is the root of every feedback envelope validation failure.
	ErrMalformedMessage = errors.New("malformed feedback message")

	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrInvalidInput wraps request validation failures in the authoring API.
	ErrInvalidInput = errors.New("invalid input")
)
