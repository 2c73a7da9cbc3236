package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/segmentio/kafka-go"
)

type KafkaOptions struct {
	Brokers []string
	Topic   string
	// GroupID must be unique per client so that every client sees every
	// event of the topic.
	GroupID      string
	WriteTimeout time.Duration
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus carries events on a single topic with the channel name as the
// message key. Hash balancing keeps a channel on one partition, so per
// channel order is preserved. Attach and Detach only filter locally.
type KafkaBus struct {
	reader kafkaReader
	writer kafkaWriter
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sink     Sink
	attached map[string]struct{}
}

func NewKafkaBus(opts KafkaOptions, logger logging.Logger) *KafkaBus {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           opts.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opts.Brokers,
		Topic:       opts.Topic,
		GroupID:     opts.GroupID,
		StartOffset: kafka.LastOffset,
	})
	return newKafkaBus(r, w, logger)
}

func newKafkaBus(r kafkaReader, w kafkaWriter, logger logging.Logger) *KafkaBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		reader:   r,
		writer:   w,
		logger:   logger.With("bus", "kafka"),
		ctx:      ctx,
		cancel:   cancel,
		attached: make(map[string]struct{}),
	}
}

func (k *KafkaBus) Start(_ context.Context, sink Sink) error {
	k.mu.Lock()
	k.sink = sink
	k.mu.Unlock()

	k.wg.Add(1)
	go k.readLoop()
	return nil
}

// readLoop consumes the topic. A read error followed by a successful read
// is reported to the sink as a reconnect.
func (k *KafkaBus) readLoop() {
	defer k.wg.Done()

	failed := false
	for {
		msg, err := k.reader.ReadMessage(k.ctx)
		if err != nil {
			if k.ctx.Err() != nil {
				return
			}
			if !failed {
				k.logger.Warn(k.ctx, "kafka read failed", "error", err)
			}
			failed = true
			select {
			case <-k.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		k.mu.Lock()
		sink := k.sink
		k.mu.Unlock()

		if failed {
			failed = false
			sink.Reconnected()
		}

		var ev WireEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			k.logger.Warn(k.ctx, "unparseable kafka event", "offset", msg.Offset, "error", err)
			continue
		}
		if ev.Channel == "" {
			ev.Channel = string(msg.Key)
		}

		k.mu.Lock()
		_, ok := k.attached[ev.Channel]
		k.mu.Unlock()
		if ok {
			sink.Deliver(ev)
		}
	}
}

func (k *KafkaBus) Attach(_ context.Context, channel string) error {
	if k.ctx.Err() != nil {
		return ErrClosed
	}
	k.mu.Lock()
	k.attached[channel] = struct{}{}
	k.mu.Unlock()
	return nil
}

func (k *KafkaBus) Detach(_ context.Context, channel string) error {
	k.mu.Lock()
	delete(k.attached, channel)
	k.mu.Unlock()
	return nil
}

func (k *KafkaBus) Publish(ctx context.Context, ev WireEvent) error {
	if k.ctx.Err() != nil {
		return ErrClosed
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Channel), Value: value})
}

func (k *KafkaBus) Close() error {
	k.cancel()
	err := errors.Join(k.reader.Close(), k.writer.Close())
	k.wg.Wait()
	return err
}
