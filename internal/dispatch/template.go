package dispatch

import (
	"fmt"
	"strings"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// UnsubscribePlaceholder is replaced per recipient in both html and text snapshots.
const UnsubscribePlaceholder = "unsubscribe_url"

// RenderTemplate replaces every {key} in template with data[key].
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// UnsubscribeURL points subscribers at the newsletter unsubscribe page and
// account holders at their email preferences.
func UnsubscribeURL(baseURL string, campaignID int64, r model.Recipient) string {
	base := strings.TrimRight(baseURL, "/")
	if r.IsDirectUserEmail {
		return fmt.Sprintf("%s/account/email-preferences?user=%d&campaign=%d", base, r.SubscriberID, campaignID)
	}
	return fmt.Sprintf("%s/unsubscribe?subscriber=%d&campaign=%d", base, r.SubscriberID, campaignID)
}
