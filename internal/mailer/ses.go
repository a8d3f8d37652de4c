package mailer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// SESAPI is the subset of the SES v2 client the sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends through Amazon SES v2. Bounce and complaint events for
// messages sent with ConfigurationSet are published to SNS and land on the
// feedback queue.
type SESSender struct {
	client           SESAPI
	from             string
	configurationSet string
}

func NewSESSender(cfg config.SESConfig, from string) *SESSender {
	opts := []func(*sesv2.Options){
		func(o *sesv2.Options) {
			o.Region = cfg.Region
			if cfg.AccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
			}
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sesv2.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return NewSESSenderWithClient(sesv2.New(sesv2.Options{}, opts...), from, cfg.ConfigurationSet)
}

func NewSESSenderWithClient(client SESAPI, from, configurationSet string) *SESSender {
	return &SESSender{client: client, from: from, configurationSet: configurationSet}
}

func (s *SESSender) Send(ctx context.Context, email *Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	if len(email.Attachments) > 0 {
		return ErrAttachmentsUnsupported
	}

	from := email.From
	if from == "" {
		from = s.from
	}

	msg := &types.Message{
		Subject: utf8Content(email.Subject),
		Body:    &types.Body{},
	}
	if email.HTML != "" {
		msg.Body.Html = utf8Content(email.HTML)
	}
	if email.Text != "" {
		msg.Body.Text = utf8Content(email.Text)
	}
	for _, name := range sortedKeys(email.Headers) {
		msg.Headers = append(msg.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(email.Headers[name]),
		})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  email.To,
			CcAddresses:  email.CC,
			BccAddresses: email.BCC,
		},
		Content: &types.EmailContent{Simple: msg},
	}
	for _, name := range sortedKeys(email.Tags) {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(email.Tags[name]),
		})
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return wrapSESError(err)
	}
	return nil
}

func utf8Content(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wrapSESError maps SES API errors onto the package sentinels.
func wrapSESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "MessageRejected", "MailFromDomainNotVerifiedException", "AccountSuspendedException", "SendingPausedException":
			return fmt.Errorf("%w: ses: %v", ErrSendRejected, err)
		case "TooManyRequestsException", "LimitExceededException", "Throttling":
			return fmt.Errorf("%w: ses: %v", ErrThrottled, err)
		}
	}
	return fmt.Errorf("%w: ses: %v", ErrSendFailed, err)
}
