// Package ses implements mailer.Provider on the Amazon SES v2 API.
package ses

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/icycon/emailengine/pkg/mailer"
)

const charset = "UTF-8"

// API is the subset of the SES v2 client the provider uses.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Error codes SES returns for requests that will never succeed as sent.
var permanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

// Provider delivers messages through Amazon SES.
type Provider struct {
	client API
	config Config
}

// New loads the AWS configuration and creates an SES provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}

	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a provider around an existing SES client.
func NewWithClient(cfg Config, client API) *Provider {
	return &Provider{client: client, config: cfg}
}

// Deliver implements mailer.Provider.
func (p *Provider) Deliver(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error) {
	if msg != nil && msg.From == "" {
		copied := *msg
		copied.From = mailer.Recipient(p.config.SenderName, p.config.SenderEmail)
		msg = &copied
	}
	if err := mailer.Validate(msg); err != nil {
		return mailer.Outcome{}, err
	}

	out, err := p.client.SendEmail(ctx, p.input(msg))
	if err != nil {
		return classify(ctx, err), nil
	}

	return mailer.Delivered(aws.ToString(out.MessageId)), nil
}

func (p *Provider) input(msg *mailer.Message) *sesv2.SendEmailInput {
	body := &types.Body{Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String(charset)}}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charset)}
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
				Body:    body,
			},
		},
	}
	if p.config.ConfigurationSet != "" {
		in.ConfigurationSetName = aws.String(p.config.ConfigurationSet)
	}

	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in.EmailTags = append(in.EmailTags, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(msg.Tags[name]),
		})
	}

	return in
}

func classify(ctx context.Context, err error) mailer.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return mailer.Transient("ses: timeout: " + err.Error())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		reason := fmt.Sprintf("ses: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		if permanentCodes[apiErr.ErrorCode()] {
			return mailer.Permanent(reason)
		}
		return mailer.Transient(reason)
	}

	return mailer.Transient("ses: " + err.Error())
}

var _ mailer.Provider = (*Provider)(nil)
