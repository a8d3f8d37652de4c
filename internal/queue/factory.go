package queue

import (
	"fmt"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// New opens the queue named by cfg.Queue.Driver. The returned func releases it.
func New(cfg config.Config) (FeedbackQueue, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Queue.Driver {
	case "sqs":
		return NewSQSQueue(cfg.SQS), noop, nil
	case "amqp":
		q, err := DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	case "memory":
		return NewInMemoryQueue(0), noop, nil
	}
	return nil, nil, fmt.Errorf("queue: unknown driver %q", cfg.Queue.Driver)
}
