package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
	Logger            *slog.Logger
}

type Handler func(ctx context.Context, req RunRequest) error

// Poll handles run requests one at a time until ctx is done. Messages are deleted
// after the handler succeeds; on error they are left for redrive.
func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	log := c.logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.maxMessages(),
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("sqs receive message failed", "err", err)
			pause(ctx, 500*time.Millisecond)
			continue
		}
		for _, m := range out.Messages {
			c.handle(ctx, log, m, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, log *slog.Logger, m types.Message, handler Handler) {
	var req RunRequest
	if m.Body == nil || json.Unmarshal([]byte(*m.Body), &req) != nil {
		// bad payload => delete to avoid endless redrive
		log.Warn("dropping malformed run request", "message_id", deref(m.MessageId))
		c.delete(ctx, m)
		return
	}
	if err := handler(ctx, req); err != nil {
		log.Error("run request handler error", "err", err, "request_id", req.RequestID)
		return
	}
	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	// the handled request must not come back just because shutdown started
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		c.logger().Warn("sqs delete message failed", "err", err)
	}
}

func (c *Consumer) maxMessages() int32 {
	if c.MaxMessages <= 0 {
		return 1
	}
	return c.MaxMessages
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
