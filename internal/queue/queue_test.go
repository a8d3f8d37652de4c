package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_ReceiveHidesUntilDeleted(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(time.Minute)
	for range 12 {
		q.Publish(`{}`)
	}

	first, err := q.Receive(context.Background(), 50, 0)
	require.NoError(t, err)
	require.Len(t, first, MaxReceiveBatch)

	second, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, second, 2)

	for _, m := range first {
		require.NoError(t, q.Delete(context.Background(), m.ReceiptHandle))
	}
	require.Equal(t, 2, q.Len())

	third, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, third)
}

func TestInMemoryQueue_RedeliversAfterVisibility(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	id := q.Publish(`body`)

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	stale := msgs[0].ReceiptHandle

	now = now.Add(2 * time.Minute)
	again, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, id, again[0].MessageID)
	require.NotEqual(t, stale, again[0].ReceiptHandle)

	// The first receipt no longer owns the message.
	require.NoError(t, q.Delete(context.Background(), stale))
	require.Equal(t, 1, q.Len())
}

func TestInMemoryQueue_ReleaseRedeliversImmediately(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(time.Hour)
	id := q.Publish(`body`)

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	hidden, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Empty(t, hidden)

	require.NoError(t, q.Release(context.Background(), msgs[0].ReceiptHandle))
	again, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, id, again[0].MessageID)

	// The released receipt no longer owns the message.
	require.NoError(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
	require.Equal(t, 1, q.Len())
}

func TestInMemoryQueue_WaitsForPublish(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(time.Minute)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Publish(`late`)
	}()

	msgs, err := q.Receive(context.Background(), 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "late", msgs[0].Body)
}

func TestInMemoryQueue_EmptyAfterWait(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(time.Minute)
	msgs, err := q.Receive(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

type mockSQS struct {
	receiveIn *sqs.ReceiveMessageInput
	deleted   []string
	released  []*sqs.ChangeMessageVisibilityInput
	out       []types.Message
	err       error
}

func (m *mockSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.receiveIn = in
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.ReceiveMessageOutput{Messages: m.out}, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.released = append(m.released, in)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueue_Receive(t *testing.T) {
	t.Parallel()

	client := &mockSQS{out: []types.Message{
		{MessageId: aws.String("m-1"), ReceiptHandle: aws.String("r-1"), Body: aws.String(`{"a":1}`)},
	}}
	q := NewSQSQueueWithClient(client, "https://sqs.local/feedback")

	msgs, err := q.Receive(context.Background(), 25, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, []Message{{MessageID: "m-1", ReceiptHandle: "r-1", Body: `{"a":1}`}}, msgs)

	require.Equal(t, "https://sqs.local/feedback", aws.ToString(client.receiveIn.QueueUrl))
	require.Equal(t, int32(10), client.receiveIn.MaxNumberOfMessages)
	require.Equal(t, int32(3), client.receiveIn.WaitTimeSeconds)

	require.NoError(t, q.Delete(context.Background(), "r-1"))
	require.Equal(t, []string{"r-1"}, client.deleted)
}

func TestSQSQueue_ReleaseZeroesVisibility(t *testing.T) {
	t.Parallel()

	client := &mockSQS{}
	q := NewSQSQueueWithClient(client, "https://sqs.local/feedback")

	require.NoError(t, q.Release(context.Background(), "r-9"))
	require.Len(t, client.released, 1)
	require.Equal(t, "r-9", aws.ToString(client.released[0].ReceiptHandle))
	require.Equal(t, int32(0), client.released[0].VisibilityTimeout)
}

func TestSQSQueue_WrapsAPIError(t *testing.T) {
	t.Parallel()

	apiErr := &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue"}
	q := NewSQSQueueWithClient(&mockSQS{err: apiErr}, "u")

	_, err := q.Receive(context.Background(), 10, 0)
	require.ErrorContains(t, err, "NonExistentQueue")
	require.True(t, errors.Is(err, apiErr))
}

type fakeChannel struct {
	declared  string
	pending   []amqp.Delivery
	acked     []uint64
	requeued  []uint64
	published []amqp.Publishing
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = name
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Get(_ string, _ bool) (amqp.Delivery, bool, error) {
	if len(f.pending) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.pending[0]
	f.pending = f.pending[1:]
	return d, true, nil
}

func (f *fakeChannel) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeChannel) Nack(tag uint64, _, requeue bool) error {
	if requeue {
		f.requeued = append(f.requeued, tag)
	}
	return nil
}

func (f *fakeChannel) Publish(_, _ string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	return nil
}

func TestAMQPQueue_ReceiveAndAck(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{pending: []amqp.Delivery{
		{DeliveryTag: 1, MessageId: "sns-1", Body: []byte("one")},
		{DeliveryTag: 2, Body: []byte("two")},
	}}
	q, err := NewAMQPQueue(ch, "ses_feedback")
	require.NoError(t, err)
	require.Equal(t, "ses_feedback", ch.declared)

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, []Message{
		{MessageID: "sns-1", ReceiptHandle: "1", Body: "one"},
		{MessageID: "amqp-2", ReceiptHandle: "2", Body: "two"},
	}, msgs)

	require.NoError(t, q.Delete(context.Background(), "2"))
	require.Equal(t, []uint64{2}, ch.acked)
	require.Error(t, q.Delete(context.Background(), "not-a-tag"))
}

func TestAMQPQueue_ReleaseRequeues(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{pending: []amqp.Delivery{{DeliveryTag: 7, MessageId: "sns-7", Body: []byte("x")}}}
	q, err := NewAMQPQueue(ch, "ses_feedback")
	require.NoError(t, err)

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Release(context.Background(), msgs[0].ReceiptHandle))
	require.Equal(t, []uint64{7}, ch.requeued)
	require.Empty(t, ch.acked)
	require.Error(t, q.Release(context.Background(), "nope"))
}

func TestAMQPQueue_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	q, err := NewAMQPQueue(ch, "ses_feedback")
	require.NoError(t, err)

	require.NoError(t, q.Publish(`{"Type":"Notification"}`))
	require.Len(t, ch.published, 1)
	require.Equal(t, uint8(amqp.Persistent), ch.published[0].DeliveryMode)
	require.NoError(t, q.Close())
}
