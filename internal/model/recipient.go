package model

// User is an application account; only verified addresses are mailed.
type User struct {
	ID               int64  `db:"id" json:"id"`
	Email            string `db:"email" json:"email"`
	Name             string `db:"name" json:"name,omitempty"`
	HasEmailVerified bool   `db:"has_email_verified" json:"has_email_verified"`
}

// Recipient is one entry of a resolved segment page.
// SubscriberID holds the user id when IsDirectUserEmail is set.
type Recipient struct {
	SubscriberID      int64  `json:"subscriber_id"`
	EmailAddress      string `json:"email_address"`
	Name              string `json:"name,omitempty"`
	IsDirectUserEmail bool   `json:"is_direct_user_email,omitempty"`
}
