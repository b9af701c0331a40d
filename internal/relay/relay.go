// Package relay implements the background worker that drains upload notices
// from the notification queue and fans them out to subscribers.
//
// Delivery is at-least-once end to end: a notice is published before its
// source message is deleted, so a crash between the two produces a duplicate
// notification on redelivery rather than a lost one. Messages in a batch are
// processed independently; one failure never aborts the batch or the loop.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azcx/imagehost/internal/models"
)

// Queue is the consumed side of the notification queue.
type Queue interface {
	ReceiveBatch(ctx context.Context, maxCount, waitSeconds int32) ([]models.Message, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// Publisher delivers a formatted notification to all subscribers.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Worker polls the queue on a fixed cadence and relays notices to the
// publisher. It holds no state between ticks; the queue is the system of
// record.
type Worker struct {
	queue     Queue
	publisher Publisher

	interval    time.Duration
	batchSize   int32
	waitSeconds int32

	received  prometheus.Counter
	published prometheus.Counter
	deleted   prometheus.Counter
	failures  *prometheus.CounterVec
}

type options struct {
	interval    time.Duration
	batchSize   int32
	waitSeconds int32
}

// Option is a function which tweaks the creation of the Worker.
type Option func(*options)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithBatchSize overrides the maximum number of messages requested per poll.
func WithBatchSize(n int32) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithWaitSeconds overrides the long-poll wait of each receive call.
func WithWaitSeconds(s int32) Option {
	return func(o *options) {
		o.waitSeconds = s
	}
}

// New creates a relay worker over the given queue and publisher and registers
// its metrics.
func New(queue Queue, publisher Publisher, reg prometheus.Registerer, args ...Option) (*Worker, error) {
	opts := options{
		interval:    time.Minute,
		batchSize:   10,
		waitSeconds: 5,
	}
	for _, opt := range args {
		opt(&opts)
	}

	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_received_total",
		Help: "Number of messages received from the notification queue.",
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_notices_published_total",
		Help: "Number of notices published to subscribers.",
	})
	deleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_deleted_total",
		Help: "Number of messages acknowledged and removed from the queue.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_failures_total",
		Help: "Number of relay failures, by stage.",
	}, []string{"stage"})

	for _, c := range []prometheus.Collector{received, published, deleted, failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register relay metrics: %v", err)
		}
	}

	return &Worker{
		queue:     queue,
		publisher: publisher,

		interval:    opts.interval,
		batchSize:   opts.batchSize,
		waitSeconds: opts.waitSeconds,

		received:  received,
		published: published,
		deleted:   deleted,
		failures:  failures,
	}, nil
}

// Run polls the queue on the configured interval until ctx is canceled.
//
// Cancellation is honored between ticks: a batch that has started processing
// finishes before the worker exits, so a message is never deleted without its
// notice having been published first.
//
// Always returns a non-nil error, which is the context error on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Relay worker started", "interval", w.interval, "batch_size", w.batchSize)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping relay worker")
			return ctx.Err()
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

// runTick performs one poll-and-drain cycle. A failed receive aborts only
// this tick; the next tick proceeds normally.
func (w *Worker) runTick(ctx context.Context) {
	msgs, err := w.queue.ReceiveBatch(ctx, w.batchSize, w.waitSeconds)
	if err != nil {
		slog.Error("Failed to receive messages, skipping tick", "err", err)
		w.failures.WithLabelValues("receive").Inc()
		return
	}

	slog.Info("Received message batch", "count", len(msgs))
	w.received.Add(float64(len(msgs)))

	for _, msg := range msgs {
		w.process(ctx, msg)
	}
}

// process relays a single message: decode, publish, then delete.
//
// The ordering is deliberate and must not change: deleting before the publish
// succeeded could silently drop a notification, while publishing before a
// failed delete merely risks a duplicate on redelivery.
func (w *Worker) process(ctx context.Context, msg models.Message) {
	var notice models.UploadNotice
	if err := json.Unmarshal([]byte(msg.Body), &notice); err != nil {
		// Left undeleted: the queue redelivers it and eventually dead-letters it.
		slog.Error("Failed to decode upload notice, leaving message on queue", "msg_id", msg.ID, "err", err)
		w.failures.WithLabelValues("decode").Inc()
		return
	}

	if err := w.publisher.Publish(ctx, notice.FormatNotice()); err != nil {
		slog.Error("Failed to publish notice, leaving message on queue", "msg_id", msg.ID, "name", notice.Name, "err", err)
		w.failures.WithLabelValues("publish").Inc()
		return
	}
	slog.Info("Published upload notice", "msg_id", msg.ID, "name", notice.Name)
	w.published.Inc()

	// The notice is out; detach the delete from cancellation so a shutdown
	// arriving now does not force a duplicate on the next start.
	if err := w.queue.DeleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle); err != nil {
		// Already published, so a redelivery only duplicates the notification.
		slog.Warn("Failed to delete relayed message, duplicate possible", "msg_id", msg.ID, "err", err)
		w.failures.WithLabelValues("delete").Inc()
		return
	}
	slog.Info("Deleted relayed message", "msg_id", msg.ID)
	w.deleted.Inc()
}
