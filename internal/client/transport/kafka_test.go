package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTopic is a single-partition topic shared by a fake reader and writer.
type fakeTopic struct {
	msgs     chan kafka.Message
	failNext chan error

	mu      sync.Mutex
	written []kafka.Message
}

func newFakeTopic() *fakeTopic {
	return &fakeTopic{msgs: make(chan kafka.Message, 16), failNext: make(chan error, 1)}
}

func (f *fakeTopic) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case err := <-f.failNext:
		return kafka.Message{}, err
	default:
	}
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeTopic) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.written = append(f.written, msgs...)
	f.mu.Unlock()
	for _, m := range msgs {
		f.msgs <- m
	}
	return nil
}

func (f *fakeTopic) Close() error { return nil }

func TestKafkaBus_FiltersByAttachedChannel(t *testing.T) {
	topic := newFakeTopic()
	bus := newKafkaBus(topic, topic, logging.Nop())
	sink := newChanSink()
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx, sink))
	defer bus.Close()
	require.NoError(t, bus.Attach(ctx, "general"))

	other, err := textEvent("random", "ann", "1", "skip", time.Now())
	require.NoError(t, err)
	mine, err := textEvent("general", "ann", "2", "take", time.Now())
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, other))
	require.NoError(t, bus.Publish(ctx, mine))

	select {
	case got := <-sink.events:
		assert.Equal(t, "2", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	topic.mu.Lock()
	require.Len(t, topic.written, 2)
	assert.Equal(t, "general", string(topic.written[1].Key))
	topic.mu.Unlock()
}

func TestKafkaBus_ChannelFromKey(t *testing.T) {
	topic := newFakeTopic()
	bus := newKafkaBus(topic, topic, logging.Nop())
	sink := newChanSink()
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx, sink))
	defer bus.Close()
	require.NoError(t, bus.Attach(ctx, "general"))

	value, err := json.Marshal(WireEvent{Name: EventNewMessage, Data: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	topic.msgs <- kafka.Message{Key: []byte("general"), Value: value}

	select {
	case got := <-sink.events:
		assert.Equal(t, "general", got.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestKafkaBus_ReadErrorThenRecoveryIsReconnect(t *testing.T) {
	topic := newFakeTopic()
	topic.failNext <- errors.New("broker unavailable")

	bus := newKafkaBus(topic, topic, logging.Nop())
	sink := newChanSink()
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx, sink))
	defer bus.Close()
	require.NoError(t, bus.Attach(ctx, "general"))

	ev, err := textEvent("general", "ann", "1", "back", time.Now())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	select {
	case <-sink.reconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect not reported")
	}
	select {
	case got := <-sink.events:
		assert.Equal(t, "1", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestKafkaBus_Closed(t *testing.T) {
	topic := newFakeTopic()
	bus := newKafkaBus(topic, topic, logging.Nop())
	require.NoError(t, bus.Start(context.Background(), newChanSink()))
	require.NoError(t, bus.Close())

	require.ErrorIs(t, bus.Publish(context.Background(), WireEvent{Channel: "general"}), ErrClosed)
	require.ErrorIs(t, bus.Attach(context.Background(), "general"), ErrClosed)
}
