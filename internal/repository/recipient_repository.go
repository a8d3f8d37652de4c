package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// RecipientRepository runs the keyset-paginated segment queries.
// Every query orders by the cursor column ascending and filters strictly past it.
type RecipientRepository struct {
	DB db.DBTX
}

func (r *RecipientRepository) ListCategoryRecipients(ctx context.Context, listID string, after int64, limit int) ([]model.Recipient, error) {
	query := `
        SELECT s.id, s.email_address, s.name
        FROM email_subscriptions es
        JOIN subscribers s ON s.id = es.subscriber_id
        WHERE es.list_id = $1
          AND es.status = 'subscribed'
          AND es.subscriber_id > $2
          AND s.global_status = 'active'
        ORDER BY es.subscriber_id ASC
        LIMIT $3
    `
	return r.list(ctx, false, query, listID, after, limit)
}

func (r *RecipientRepository) ListActiveSubscribers(ctx context.Context, after int64, limit int) ([]model.Recipient, error) {
	query := `
        SELECT id, email_address, name
        FROM subscribers
        WHERE global_status = 'active' AND id > $1
        ORDER BY id ASC
        LIMIT $2
    `
	return r.list(ctx, false, query, after, limit)
}

func (r *RecipientRepository) ListVerifiedUsers(ctx context.Context, after int64, limit int) ([]model.Recipient, error) {
	query := `
        SELECT id, email, name
        FROM users
        WHERE has_email_verified = TRUE AND id > $1
        ORDER BY id ASC
        LIMIT $2
    `
	return r.list(ctx, true, query, after, limit)
}

func (r *RecipientRepository) list(ctx context.Context, direct bool, query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rc := model.Recipient{IsDirectUserEmail: direct}
		var name sql.NullString
		if err := rows.Scan(&rc.SubscriberID, &rc.EmailAddress, &name); err != nil {
			return nil, err
		}
		rc.Name = name.String
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}
