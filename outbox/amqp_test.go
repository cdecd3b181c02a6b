package outbox

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared  string
	confirms  chan amqp.Confirmation
	published []amqp.Publishing
	keys      []string
	ack       bool
	silent    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.declared = name + ":" + kind
	return nil
}

func (c *fakeChannel) Confirm(bool) error { return nil }

func (c *fakeChannel) NotifyPublish(ch chan amqp.Confirmation) chan amqp.Confirmation {
	c.confirms = ch
	return ch
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, msg)
	c.keys = append(c.keys, key)
	if !c.silent {
		c.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(c.published)), Ack: c.ack}
	}
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{ack: true}
	p, err := NewAMQPPublisher(ch, "homeflow.events")
	require.NoError(t, err)
	require.Equal(t, "homeflow.events:topic", ch.declared)

	ev := Event{ID: "e1", Topic: "service.completed", Payload: []byte(`{"service_id":"s1"}`), CreatedAt: time.Now()}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Equal(t, []string{"service.completed"}, ch.keys)
	require.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	require.Equal(t, "e1", ch.published[0].MessageId)

	ch.ack = false
	require.ErrorIs(t, p.Publish(context.Background(), ev), ErrPublishNacked)

	ch.silent = true
	p.confirmTimeout = 10 * time.Millisecond
	require.ErrorIs(t, p.Publish(context.Background(), ev), ErrConfirmTimeout)
}
