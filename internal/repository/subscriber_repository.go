package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-mailer/internal/db"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// SubscriberRepositoryInterface defines methods used by the feedback worker
type SubscriberRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	UpdateByEmail(ctx context.Context, email string, fn func(s *model.Subscriber) bool) (*model.Subscriber, error)
	UpdateByEmails(ctx context.Context, emails []string, fn func(s *model.Subscriber) bool) ([]*model.Subscriber, error)
}

// SubscriberRepository is the concrete implementation
type SubscriberRepository struct {
	DB *sql.DB
}

const subscriberColumns = `id, email_address, name, global_status, soft_bounce_count, last_soft_bounce_at,
	status_reason, status_updated_at, created_at`

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var (
		s      model.Subscriber
		status string
	)
	if err := row.Scan(&s.ID, &s.EmailAddress, &s.Name, &status, &s.SoftBounceCount, &s.LastSoftBounceAt,
		&s.StatusReason, &s.StatusUpdatedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.GlobalStatus = model.SubscriberStatus(status)
	return &s, nil
}

// GetByID fetches a subscriber by ID
func (r *SubscriberRepository) GetByID(ctx context.Context, id int64) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrSubscriberNotFound
	}
	return s, err
}

// GetByEmail matches the address case-insensitively.
func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE lower(email_address) = lower($1)`
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrSubscriberNotFound
	}
	return s, err
}

// UpdateByEmail applies fn to one subscriber. See UpdateByEmails.
func (r *SubscriberRepository) UpdateByEmail(ctx context.Context, email string, fn func(s *model.Subscriber) bool) (*model.Subscriber, error) {
	updated, err := r.UpdateByEmails(ctx, []string{email}, fn)
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, appErrors.ErrSubscriberNotFound
	}
	return updated[0], nil
}

// UpdateByEmails locks every subscriber matching emails, lets fn mutate each
// one and persists the changed rows in a single transaction. Addresses with
// no subscriber are skipped. Either all changes commit or none do.
func (r *SubscriberRepository) UpdateByEmails(ctx context.Context, emails []string, fn func(s *model.Subscriber) bool) ([]*model.Subscriber, error) {
	lowered := make([]string, 0, len(emails))
	for _, e := range emails {
		lowered = append(lowered, strings.ToLower(e))
	}

	var updated []*model.Subscriber
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		query := `SELECT ` + subscriberColumns + ` FROM subscribers
            WHERE lower(email_address) = ANY($1) ORDER BY id FOR UPDATE`
		rows, err := tx.QueryContext(ctx, query, pq.Array(lowered))
		if err != nil {
			return err
		}
		var locked []*model.Subscriber
		for rows.Next() {
			s, err := scanSubscriber(rows)
			if err != nil {
				rows.Close()
				return err
			}
			locked = append(locked, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range locked {
			if fn(s) {
				_, err := tx.ExecContext(ctx, `
                    UPDATE subscribers
                    SET global_status=$1, soft_bounce_count=$2, last_soft_bounce_at=$3, status_reason=$4, status_updated_at=$5
                    WHERE id=$6`,
					string(s.GlobalStatus), s.SoftBounceCount, s.LastSoftBounceAt, s.StatusReason, s.StatusUpdatedAt, s.ID)
				if err != nil {
					return err
				}
			}
		}
		updated = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
