// Package segment turns a campaign's targeting rule and cursor into an
// ordered page of recipients.
package segment

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

const DefaultPageSize = 20

// RecipientSource is implemented by repository.RecipientRepository.
type RecipientSource interface {
	ListCategoryRecipients(ctx context.Context, listID string, after int64, limit int) ([]model.Recipient, error)
	ListActiveSubscribers(ctx context.Context, after int64, limit int) ([]model.Recipient, error)
	ListVerifiedUsers(ctx context.Context, after int64, limit int) ([]model.Recipient, error)
}

type Resolver struct {
	Source   RecipientSource
	PageSize int
}

func NewResolver(src RecipientSource, pageSize int) *Resolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Resolver{Source: src, PageSize: pageSize}
}

// Resolve returns up to PageSize recipients with ids strictly greater than
// cursor. An empty page means the segment is exhausted.
func (r *Resolver) Resolve(ctx context.Context, seg model.Segment, cursor int64) ([]model.Recipient, error) {
	if err := seg.Validate(); err != nil {
		return nil, err
	}

	var (
		page []model.Recipient
		err  error
	)
	switch seg.Kind {
	case model.SegmentCategory:
		page, err = r.Source.ListCategoryRecipients(ctx, seg.Category, cursor, r.PageSize)
	case model.SegmentAllSubscribers:
		page, err = r.Source.ListActiveSubscribers(ctx, cursor, r.PageSize)
	case model.SegmentAllUsers:
		page, err = r.Source.ListVerifiedUsers(ctx, cursor, r.PageSize)
		for i := range page {
			page[i].IsDirectUserEmail = true
		}
	default:
		return nil, fmt.Errorf("%w: %q", appErrors.ErrUnknownSegment, seg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", seg, err)
	}
	return page, nil
}
