package awsprovider

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"idverify/internal/provider"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES implements provider.EmailSender with plain-text messages.
type SES struct {
	client sesAPI
	from   string
}

func NewSES(cfg aws.Config, from string) *SES {
	return &SES{client: sesv2.NewFromConfig(cfg), from: from}
}

var _ provider.EmailSender = (*SES)(nil)

func (s *SES) SendEmail(ctx context.Context, msg provider.Email) error {
	if msg.To == "" {
		return errors.New("ses send email: recipient is required")
	}
	if s.from == "" {
		return errors.New("ses send email: sender address is not configured")
	}
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body:    &types.Body{Text: &types.Content{Data: aws.String(msg.Body)}},
			},
		},
	})
	if err != nil {
		return classify("ses send email", err)
	}
	return nil
}
