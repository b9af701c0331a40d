// Package queue provides access to the durable upload-notification queue.
// Delivery is at-least-once: a received message stays on the queue until it
// is explicitly deleted with its receipt handle, and reappears once its
// visibility window expires.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/azcx/imagehost/internal/models"
)

// ErrTokenExpired is returned when a message's receipt handle is no longer
// valid, usually because the visibility window lapsed before the delete.
var ErrTokenExpired = errors.New("receipt handle expired")

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue manages one notification queue.
type Queue struct {
	client   sqsAPI
	queueURL string
}

type options struct {
	client sqsAPI
}

// Options represents an optional function to override Queue default values.
type Options func(*options)

// New creates a queue handle for the given queue URL, using the ambient AWS
// configuration.
func New(ctx context.Context, queueURL string, args ...Options) (*Queue, error) {
	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS configuration: %w", err)
		}
		opts.client = sqs.NewFromConfig(cfg)
	}

	return &Queue{client: opts.client, queueURL: queueURL}, nil
}

// ReceiveBatch receives up to maxCount messages, long-polling for at most
// waitSeconds. It returns between zero and maxCount envelopes, each carrying
// the receipt handle needed to acknowledge it.
func (q *Queue) ReceiveBatch(ctx context.Context, maxCount, waitSeconds int32) ([]models.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxCount,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]models.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, models.Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}

	slog.Debug("Received queue messages", "count", len(msgs))
	return msgs, nil
}

// DeleteMessage acknowledges and removes one message using its receipt handle.
func (q *Queue) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		var expired *types.ReceiptHandleIsInvalid
		if errors.As(err, &expired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}

// Send serializes the upload notice and places it on the queue.
func (q *Queue) Send(ctx context.Context, notice models.UploadNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal upload notice: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	slog.Info("Queued upload notice", "name", notice.Name)
	return nil
}
