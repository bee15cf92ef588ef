// Package awsprovider implements the analysis and mail collaborators on AWS
// Textract, Rekognition and SES.
package awsprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"

	"idverify/internal/config"
	"idverify/internal/provider"
)

// LoadConfig builds the shared SDK configuration. Static keys are used when
// both are set; otherwise the default credential chain applies.
func LoadConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		return aws.Config{
			Region:      c.Region,
			Credentials: credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// invalidInputCodes are API error codes for requests that will never succeed on retry.
var invalidInputCodes = map[string]bool{
	"InvalidParameterException":          true,
	"InvalidImageFormatException":        true,
	"ImageTooLargeException":             true,
	"InvalidS3ObjectException":           true,
	"UnsupportedDocumentException":       true,
	"BadDocumentException":               true,
	"DocumentTooLargeException":          true,
	"BadRequestException":                true,
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
}

// classify wraps non-retryable API errors with provider.ErrInvalidInput.
func classify(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) && invalidInputCodes[ae.ErrorCode()] {
		return fmt.Errorf("%s: %w: %s", op, provider.ErrInvalidInput, ae.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", op, err)
}
