// Package kafka wraps the franz-go client for the certificate events topic.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"certmint/internal/platform/config"
)

// Producer publishes certificate lifecycle events keyed by certificate
// identifier, so per-certificate ordering survives partitioning.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers and verifies the cluster is
// reachable. Returns nil without error when no brokers are configured,
// which keeps the relay off in development.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return &Producer{client: client, topic: cfg.Topic}, nil
}

// EnsureTopic creates the events topic when it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// Publish delivers one payload and blocks until the broker acknowledges it.
func (p *Producer) Publish(ctx context.Context, key string, payload []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
