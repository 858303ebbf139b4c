package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaDispatcher publishes mail messages to a topic consumed by the mail
// sender. Records are keyed by recipient so one address keeps its order.
type KafkaDispatcher struct {
	client *kgo.Client
	topic  string
	clock  func() time.Time
}

type KafkaOption func(*KafkaDispatcher)

func WithKafkaClock(clock func() time.Time) KafkaOption {
	return func(d *KafkaDispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewKafkaDispatcher connects to brokers. The client is owned by the
// dispatcher and released by Close.
func NewKafkaDispatcher(brokers []string, topic string, opts ...KafkaOption) (*KafkaDispatcher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	d := &KafkaDispatcher{client: client, topic: topic, clock: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// EnsureTopic creates the topic when it does not exist yet.
func (d *KafkaDispatcher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(d.client)
	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, d.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", d.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", d.topic, resp.Err)
	}
	return nil
}

func (d *KafkaDispatcher) SendVerificationEmail(ctx context.Context, to, link string) error {
	payload, err := json.Marshal(Message{
		Type:     TypeVerifyEmail,
		To:       to,
		Link:     link,
		QueuedAt: d.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}
	record := &kgo.Record{
		Topic: d.topic,
		Key:   []byte(to),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(TypeVerifyEmail)},
		},
	}
	if err := d.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce mail message: %w", err)
	}
	return nil
}

// Ping checks broker reachability for the readiness probe.
func (d *KafkaDispatcher) Ping(ctx context.Context) error {
	return d.client.Ping(ctx)
}

func (d *KafkaDispatcher) Close() {
	d.client.Close()
}
