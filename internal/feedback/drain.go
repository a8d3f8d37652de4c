package feedback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/dedupe"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

const (
	DefaultMaxMessages = 100
	DefaultBatchSize   = queue.MaxReceiveBatch
)

// Result summarizes one Drain call.
type Result struct {
	Polls       int `json:"polls"`
	Received    int `json:"received"`
	Processed   int `json:"processed"`
	Bounced     int `json:"bounced"`
	SoftBounced int `json:"soft_bounced"`
	Complained  int `json:"complained"`
	Malformed   int `json:"malformed"`
	Failed      int `json:"failed"`
	Deleted     int `json:"deleted"`
	Released    int `json:"released"`
	Duplicates  int `json:"duplicates"`
}

// Drainer empties the feedback queue, one message at a time. Dedupe is
// optional; without it a redelivered notification is applied again.
type Drainer struct {
	Queue       queue.FeedbackQueue
	Processor   *Processor
	Dedupe      dedupe.Store
	MaxMessages int
	BatchSize   int
	WaitTime    time.Duration
	Log         *slog.Logger
}

// Drain polls until the queue comes back empty or MaxMessages have been
// handled. Valid and malformed messages are deleted; a message whose
// store update failed is counted as failed and released back to the
// queue once polling stops, so it is not received again in this drain.
func (d *Drainer) Drain(ctx context.Context) (res Result, _ error) {
	var held []queue.Message
	defer func() { d.release(ctx, held, &res) }()

	limit := d.MaxMessages
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	batch := d.BatchSize
	if batch <= 0 || batch > queue.MaxReceiveBatch {
		batch = DefaultBatchSize
	}

	for res.Processed < limit {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		msgs, err := d.Queue.Receive(ctx, min(batch, limit-res.Processed), d.WaitTime)
		res.Polls++
		if err != nil {
			return res, err
		}
		if len(msgs) == 0 {
			break
		}
		res.Received += len(msgs)

		for _, m := range msgs {
			if !d.handle(ctx, m, &res) {
				held = append(held, m)
			}
			res.Processed++
		}
	}

	d.Log.InfoContext(ctx, "feedback drain finished",
		slog.Int("polls", res.Polls),
		slog.Int("processed", res.Processed),
		slog.Int("bounced", res.Bounced),
		slog.Int("complained", res.Complained),
		slog.Int("malformed", res.Malformed),
		slog.Int("failed", res.Failed))
	return res, nil
}

// handle reports false when the message must be redelivered.
func (d *Drainer) handle(ctx context.Context, m queue.Message, res *Result) bool {
	env, err := ParseQueueEnvelope(m)
	if err != nil {
		d.discard(ctx, m, res, err)
		return true
	}
	topic, err := ParseTopicEnvelope(env.Body)
	if err != nil {
		d.discard(ctx, m, res, err)
		return true
	}

	if d.Dedupe != nil {
		seen, err := d.Dedupe.Seen(ctx, topic.MessageID)
		if err != nil {
			d.Log.WarnContext(ctx, "dedupe lookup failed", slog.String("error", err.Error()))
		} else if seen {
			res.Duplicates++
			d.delete(ctx, m, res)
			return true
		}
	}

	n, err := ParseNotification(topic.Message)
	if err != nil {
		d.discard(ctx, m, res, err)
		return true
	}

	out, err := d.Processor.Apply(ctx, n)
	res.Bounced += out.Bounced
	res.SoftBounced += out.SoftBounced
	res.Complained += out.Complained
	if err != nil {
		res.Failed++
		d.Log.ErrorContext(ctx, "failed to apply feedback, leaving message for redelivery",
			slog.String("message_id", m.MessageID),
			slog.String("error", err.Error()))
		return false
	}

	if d.Dedupe != nil {
		if err := d.Dedupe.Mark(ctx, topic.MessageID); err != nil {
			d.Log.WarnContext(ctx, "dedupe mark failed", slog.String("error", err.Error()))
		}
	}
	d.delete(ctx, m, res)
	return true
}

func (d *Drainer) discard(ctx context.Context, m queue.Message, res *Result, err error) {
	res.Malformed++
	var me *MalformedError
	layer := ""
	if errors.As(err, &me) {
		layer = string(me.Layer)
	}
	d.Log.WarnContext(ctx, "discarding malformed feedback message",
		slog.String("message_id", m.MessageID),
		slog.String("layer", layer),
		slog.String("error", err.Error()))
	if m.ReceiptHandle == "" {
		return
	}
	d.delete(ctx, m, res)
}

func (d *Drainer) delete(ctx context.Context, m queue.Message, res *Result) {
	if err := d.Queue.Delete(ctx, m.ReceiptHandle); err != nil {
		d.Log.ErrorContext(ctx, "failed to delete feedback message",
			slog.String("message_id", m.MessageID),
			slog.String("error", err.Error()))
		return
	}
	res.Deleted++
}

// release runs after the drain's own deadline may have passed.
func (d *Drainer) release(ctx context.Context, held []queue.Message, res *Result) {
	if len(held) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, m := range held {
		if err := d.Queue.Release(ctx, m.ReceiptHandle); err != nil {
			d.Log.WarnContext(ctx, "failed to release feedback message",
				slog.String("message_id", m.MessageID),
				slog.String("error", err.Error()))
			continue
		}
		res.Released++
	}
}
