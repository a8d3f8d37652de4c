// Package feedback drains SES bounce and complaint notifications from the
// feedback queue and applies them to subscribers and campaign stats.
//
// A queue message is unwrapped in three stages, each of which either returns
// a typed value or a *MalformedError naming the layer that rejected it:
//
//	queue.Message -> QueueEnvelope -> TopicEnvelope -> Notification
package feedback

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

type Layer string

const (
	LayerQueue        Layer = "queue"
	LayerTopic        Layer = "pubsub"
	LayerNotification Layer = "notification"
)

// MalformedError reports the first envelope layer that failed validation.
type MalformedError struct {
	Layer  Layer
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s envelope: %s", e.Layer, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return appErrors.ErrMalformedMessage
}

func malformed(layer Layer, format string, args ...any) error {
	return &MalformedError{Layer: layer, Reason: fmt.Sprintf(format, args...)}
}

// ====================== Layer 1: queue ======================

type QueueEnvelope struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

func ParseQueueEnvelope(m queue.Message) (QueueEnvelope, error) {
	switch {
	case m.MessageID == "":
		return QueueEnvelope{}, malformed(LayerQueue, "missing MessageId")
	case m.ReceiptHandle == "":
		return QueueEnvelope{}, malformed(LayerQueue, "missing ReceiptHandle")
	case strings.TrimSpace(m.Body) == "":
		return QueueEnvelope{}, malformed(LayerQueue, "empty Body")
	}
	return QueueEnvelope(m), nil
}

// ====================== Layer 2: SNS ======================

// TopicEnvelope is the SNS notification wrapping the SES event.
type TopicEnvelope struct {
	Type      string    `json:"Type"`
	MessageID string    `json:"MessageId"`
	TopicArn  string    `json:"TopicArn"`
	Message   string    `json:"Message"`
	Timestamp time.Time `json:"Timestamp"`
	Signature string    `json:"Signature"`
}

func ParseTopicEnvelope(body string) (TopicEnvelope, error) {
	var env TopicEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return TopicEnvelope{}, malformed(LayerTopic, "invalid JSON: %v", err)
	}
	switch {
	case env.Type != "" && env.Type != "Notification":
		return TopicEnvelope{}, malformed(LayerTopic, "unexpected Type %q", env.Type)
	case env.MessageID == "":
		return TopicEnvelope{}, malformed(LayerTopic, "missing MessageId")
	case env.Signature == "":
		return TopicEnvelope{}, malformed(LayerTopic, "missing Signature")
	case strings.TrimSpace(env.Message) == "":
		return TopicEnvelope{}, malformed(LayerTopic, "missing Message")
	}
	return env, nil
}

// ====================== Layer 3: SES ======================

type NotificationType string

const (
	NotificationBounce    NotificationType = "Bounce"
	NotificationComplaint NotificationType = "Complaint"
)

type BounceType string

const (
	BouncePermanent    BounceType = "Permanent"
	BounceTransient    BounceType = "Transient"
	BounceUndetermined BounceType = "Undetermined"
)

var complaintFeedbackTypes = map[string]bool{
	"abuse":    true,
	"fraud":    true,
	"not-spam": true,
	"other":    true,
}

type Notification struct {
	NotificationType NotificationType `json:"notificationType"`
	Mail             Mail             `json:"mail"`
	Bounce           *Bounce          `json:"bounce,omitempty"`
	Complaint        *Complaint       `json:"complaint,omitempty"`
}

type Mail struct {
	MessageID   string              `json:"messageId"`
	Destination []string            `json:"destination"`
	Timestamp   time.Time           `json:"timestamp"`
	Source      string              `json:"source"`
	Headers     []Header            `json:"headers,omitempty"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Bounce struct {
	BounceType        BounceType         `json:"bounceType"`
	BounceSubType     string             `json:"bounceSubType"`
	BouncedRecipients []BouncedRecipient `json:"bouncedRecipients"`
	FeedbackID        string             `json:"feedbackId"`
	Timestamp         time.Time          `json:"timestamp"`
}

type BouncedRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	Action         string `json:"action,omitempty"`
	Status         string `json:"status,omitempty"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

type Complaint struct {
	ComplaintFeedbackType string                `json:"complaintFeedbackType,omitempty"`
	ComplainedRecipients  []ComplainedRecipient `json:"complainedRecipients"`
	FeedbackID            string                `json:"feedbackId"`
	Timestamp             time.Time             `json:"timestamp"`
}

type ComplainedRecipient struct {
	EmailAddress string `json:"emailAddress"`
}

func ParseNotification(message string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return Notification{}, malformed(LayerNotification, "invalid JSON: %v", err)
	}
	if err := n.Mail.validate(); err != nil {
		return Notification{}, err
	}

	switch n.NotificationType {
	case NotificationBounce:
		if n.Bounce == nil {
			return Notification{}, malformed(LayerNotification, "bounce notification without bounce")
		}
		if err := n.Bounce.validate(); err != nil {
			return Notification{}, err
		}
	case NotificationComplaint:
		if n.Complaint == nil {
			return Notification{}, malformed(LayerNotification, "complaint notification without complaint")
		}
		if err := n.Complaint.validate(); err != nil {
			return Notification{}, err
		}
	case "":
		return Notification{}, malformed(LayerNotification, "missing notificationType")
	default:
		return Notification{}, malformed(LayerNotification, "unsupported notificationType %q", n.NotificationType)
	}
	return n, nil
}

func (m Mail) validate() error {
	switch {
	case m.MessageID == "":
		return malformed(LayerNotification, "mail.messageId missing")
	case len(m.Destination) == 0:
		return malformed(LayerNotification, "mail.destination empty")
	case m.Source == "":
		return malformed(LayerNotification, "mail.source missing")
	case m.Timestamp.IsZero():
		return malformed(LayerNotification, "mail.timestamp missing")
	}
	return nil
}

func (b *Bounce) validate() error {
	switch b.BounceType {
	case BouncePermanent, BounceTransient, BounceUndetermined:
	default:
		return malformed(LayerNotification, "unknown bounceType %q", b.BounceType)
	}
	if len(b.BouncedRecipients) == 0 {
		return malformed(LayerNotification, "bounce.bouncedRecipients empty")
	}
	for i, r := range b.BouncedRecipients {
		if r.EmailAddress == "" {
			return malformed(LayerNotification, "bounce.bouncedRecipients[%d].emailAddress missing", i)
		}
	}
	return nil
}

func (c *Complaint) validate() error {
	if c.ComplaintFeedbackType != "" && !complaintFeedbackTypes[c.ComplaintFeedbackType] {
		return malformed(LayerNotification, "unknown complaintFeedbackType %q", c.ComplaintFeedbackType)
	}
	if len(c.ComplainedRecipients) == 0 {
		return malformed(LayerNotification, "complaint.complainedRecipients empty")
	}
	for i, r := range c.ComplainedRecipients {
		if r.EmailAddress == "" {
			return malformed(LayerNotification, "complaint.complainedRecipients[%d].emailAddress missing", i)
		}
	}
	return nil
}

// CampaignID returns the campaign tag the dispatcher put on the mail.
func (m Mail) CampaignID() (int64, bool) {
	v := m.tag("campaign")
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IsDirectUserEmail reports whether the mail went to an account holder
// rather than a newsletter subscriber.
func (m Mail) IsDirectUserEmail() bool {
	return m.tag("is_direct_user_email") == "true"
}

func (m Mail) tag(name string) string {
	if vs := m.Tags[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
