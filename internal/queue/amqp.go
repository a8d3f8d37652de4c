package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/streadway/amqp"
)

// AMQPChannel is the subset of *amqp.Channel the queue calls.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPQueue reads feedback from a RabbitMQ queue. A delivery is acked by
// Delete and requeued by Release; the broker also requeues whatever is
// still unacked when the channel closes.
type AMQPQueue struct {
	ch    AMQPChannel
	name  string
	poll  time.Duration
	close func() error
}

// DialAMQP connects, opens a channel and declares the durable feedback queue.
func DialAMQP(url, name string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := NewAMQPQueue(ch, name)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	q.close = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return q, nil
}

func NewAMQPQueue(ch AMQPChannel, name string) (*AMQPQueue, error) {
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("amqp declare %s: %w", name, err)
	}
	return &AMQPQueue{ch: ch, name: name, poll: 100 * time.Millisecond}, nil
}

// Receive gets deliveries one at a time until maxMessages are held or
// wait passes with the queue empty.
func (q *AMQPQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	n := clampBatch(maxMessages)
	deadline := time.Now().Add(wait)
	msgs := []Message{}

	for len(msgs) < n {
		d, ok, err := q.ch.Get(q.name, false)
		if err != nil {
			return msgs, fmt.Errorf("amqp get: %w", err)
		}
		if ok {
			msgs = append(msgs, deliveryMessage(d))
			continue
		}
		if len(msgs) > 0 || !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return msgs, ctx.Err()
		case <-time.After(q.poll):
		}
	}
	return msgs, nil
}

func deliveryMessage(d amqp.Delivery) Message {
	tag := strconv.FormatUint(d.DeliveryTag, 10)
	id := d.MessageId
	if id == "" {
		id = "amqp-" + tag
	}
	return Message{MessageID: id, ReceiptHandle: tag, Body: string(d.Body)}
}

// Delete acks the delivery whose tag is receiptHandle.
func (q *AMQPQueue) Delete(_ context.Context, receiptHandle string) error {
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("amqp delete: bad receipt handle %q", receiptHandle)
	}
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("amqp ack: %w", err)
	}
	return nil
}

// Release nacks the delivery whose tag is receiptHandle with requeue set.
func (q *AMQPQueue) Release(_ context.Context, receiptHandle string) error {
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("amqp release: bad receipt handle %q", receiptHandle)
	}
	if err := q.ch.Nack(tag, false, true); err != nil {
		return fmt.Errorf("amqp nack: %w", err)
	}
	return nil
}

// Publish enqueues a raw notification body, for local replay of feedback.
func (q *AMQPQueue) Publish(body string) error {
	return q.ch.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(body),
		},
	)
}

func (q *AMQPQueue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

var _ FeedbackQueue = (*AMQPQueue)(nil)
