package amqpevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	published  []published
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kinds = append(f.kinds, kind)
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	pub, err := NewPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange}, ch.declared)
	assert.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	p := &plugin.Plugin{Name: "hello", Version: "1.2.0", State: plugin.StateEnabled}
	e := plugin.NewEvent(plugin.EventEnabled, p, at)
	require.NoError(t, pub.Publish(context.Background(), e))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, "plugin.enabled", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, e.ID, got.msg.MessageId)

	var decoded plugin.Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "hello", decoded.Plugin)
	assert.Equal(t, plugin.StateEnabled, decoded.State)
	assert.True(t, at.Equal(decoded.OccurredAt))

	require.NoError(t, pub.Close())
	assert.True(t, ch.closed)
}

func TestPublisher_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "custom")
	assert.ErrorContains(t, err, "declaring exchange custom")

	pub, err := NewPublisher(&fakeChannel{publishErr: amqp.ErrClosed}, "custom")
	require.NoError(t, err)
	err = pub.Publish(context.Background(), plugin.Event{Type: plugin.EventFaulted})
	assert.ErrorIs(t, err, amqp.ErrClosed)

	_, err = Dial("", "")
	assert.Error(t, err)
}

func TestPublisher_WithManager(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	pub, err := NewPublisher(ch, "")
	require.NoError(t, err)

	repo := plugin.NewMemoryRepository(&plugin.Plugin{
		Name:     "hello",
		State:    plugin.StateRegistered,
		Manifest: []byte(`{"name":"hello"}`),
	})
	_, err = plugin.NewManager(repo, plugin.WithEventPublisher(pub)).EnablePlugin(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, "plugin.enabled", ch.published[0].key)
}
