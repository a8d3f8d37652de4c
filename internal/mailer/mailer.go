// Package mailer is the mail transport used by the campaign dispatcher.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers one fully prepared email. Providers accept soft failures
// silently; those surface later through the feedback queue.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// Email is one outgoing message.
type Email struct {
	Headers     map[string]string // Custom headers, e.g. List-Unsubscribe
	Tags        map[string]string // Provider tags echoed back in feedback notifications
	Subject     string
	HTML        string
	Text        string
	From        string // Overrides the sender default when set
	To          []string
	CC          []string
	BCC         []string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

var (
	ErrNoRecipient            = errors.New("email must have at least one recipient")
	ErrNoSubject              = errors.New("email must have a subject")
	ErrNoContent              = errors.New("email must have HTML or text content")
	ErrSendFailed             = errors.New("failed to send email")
	ErrSendRejected           = errors.New("email rejected by provider")
	ErrThrottled              = errors.New("email provider throttled the request")
	ErrAttachmentsUnsupported = errors.New("attachments are not supported by this sender")
)

// Validate checks the fields every provider requires.
func (e *Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipient
	}
	if e.Subject == "" {
		return ErrNoSubject
	}
	if e.HTML == "" && e.Text == "" {
		return ErrNoContent
	}
	return nil
}

// Address formats a name and email into RFC 5322 address format.
func Address(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
