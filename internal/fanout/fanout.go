// Package fanout provides the pub/sub broadcaster used to notify subscribers
// about uploaded images. It wraps an SNS topic: publishing delivers the text
// to every confirmed subscription.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// ErrSubscriptionNotFound is returned when unsubscribing an endpoint that has
// no subscription on the topic.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Subscription describes one endpoint subscribed to the topic.
type Subscription struct {
	ARN      string
	Protocol string
	Endpoint string
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Unsubscribe(ctx context.Context, params *sns.UnsubscribeInput, optFns ...func(*sns.Options)) (*sns.UnsubscribeOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
}

// Broker manages one notification topic.
type Broker struct {
	client   snsAPI
	topicARN string
}

type options struct {
	client snsAPI
}

// Options represents an optional function to override Broker default values.
type Options func(*options)

// New creates a broker handle for the given topic, using the ambient AWS
// configuration.
func New(ctx context.Context, topicARN string, args ...Options) (*Broker, error) {
	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS configuration: %w", err)
		}
		opts.client = sns.NewFromConfig(cfg)
	}

	return &Broker{client: opts.client, topicARN: topicARN}, nil
}

// Publish delivers the text to all current subscribers of the topic.
func (b *Broker) Publish(ctx context.Context, text string) error {
	_, err := b.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(b.topicARN),
		Message:  aws.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Subscribe requests an email subscription for the given address. The
// subscription stays pending until the recipient confirms it.
func (b *Broker) Subscribe(ctx context.Context, email string) error {
	_, err := b.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(b.topicARN),
		Protocol: aws.String("email"),
		Endpoint: aws.String(email),
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %q: %w", email, err)
	}

	slog.Info("Subscription requested", "endpoint", email)
	return nil
}

// Unsubscribe removes the subscription for the given email address.
// Returns ErrSubscriptionNotFound if the address is not subscribed.
func (b *Broker) Unsubscribe(ctx context.Context, email string) error {
	subs, err := b.Subscriptions(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if sub.Endpoint != email {
			continue
		}

		if _, err := b.client.Unsubscribe(ctx, &sns.UnsubscribeInput{
			SubscriptionArn: aws.String(sub.ARN),
		}); err != nil {
			return fmt.Errorf("failed to unsubscribe %q: %w", email, err)
		}

		slog.Info("Unsubscribed endpoint", "endpoint", email)
		return nil
	}

	return ErrSubscriptionNotFound
}

// Subscriptions lists the current subscriptions on the topic, following
// pagination until exhausted.
func (b *Broker) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	var nextToken *string

	for {
		out, err := b.client.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(b.topicARN),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}

		for _, s := range out.Subscriptions {
			subs = append(subs, Subscription{
				ARN:      aws.ToString(s.SubscriptionArn),
				Protocol: aws.ToString(s.Protocol),
				Endpoint: aws.ToString(s.Endpoint),
			})
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	return subs, nil
}
