// Package params loads deployment settings from the AWS SSM parameter store.
// The original deployment keeps its bucket name, database endpoint, topic ARN,
// and queue URL under a common parameter prefix; this loader fetches them so
// daemons can run with no local configuration beyond that prefix.
package params

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Well-known parameter names, relative to the store prefix.
const (
	BucketName  = "s3/bucket-name"
	RDSEndpoint = "rds/endpoint"
	RDSDatabase = "rds/database"
	RDSUsername = "rds/username"
	RDSPassword = "rds/password"
	TopicARN    = "sns/uploads-notification-topic-arn"
	QueueURL    = "sqs/uploads-notification-queue-url"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Store reads parameters below a fixed prefix, e.g. "/azcx".
type Store struct {
	client ssmAPI
	prefix string
}

type options struct {
	client ssmAPI
}

// Options represents an optional function to override Store default values.
type Options func(*options)

// New creates a parameter store reader for the given prefix, using the
// ambient AWS configuration.
func New(ctx context.Context, prefix string, args ...Options) (*Store, error) {
	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS configuration: %w", err)
		}
		opts.client = ssm.NewFromConfig(cfg)
	}

	return &Store{client: opts.client, prefix: prefix}, nil
}

// Get fetches one decrypted parameter below the store prefix.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	full := path.Join(s.prefix, name)

	slog.Debug("Fetching SSM parameter", "name", full)
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get SSM parameter %q: %w", full, err)
	}

	return aws.ToString(out.Parameter.Value), nil
}

// GetOptional fetches one parameter, returning an empty string when it does
// not exist instead of an error. Used for settings with sensible absences,
// like the database password when IAM authentication is in play.
func (s *Store) GetOptional(ctx context.Context, name string) string {
	v, err := s.Get(ctx, name)
	if err != nil {
		slog.Debug("Optional SSM parameter not available", "name", name, "err", err)
		return ""
	}
	return v
}
