// Package kafka publishes anonymized check events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// Record headers set on every event so consumers can route without decoding.
const (
	HeaderRegistrar = "registrar"
	HeaderStatus    = "status"
	HeaderIPO       = "ipo"
)

const defaultDeliveryTimeout = 5 * time.Second

// Config locates the brokers and topic.
type Config struct {
	Brokers         []string
	Topic           string
	ClientID        string
	DeliveryTimeout time.Duration
}

// Connect creates a franz-go client producing to cfg.Topic and pings the cluster.
func Connect(ctx context.Context, cfg Config) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}
	return client, nil
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher writes one record per check event, keyed by IPO slug so events for one
// offering stay on one partition.
type Publisher struct {
	client producer
	topic  string
}

// New returns a Publisher over client. client is usually a *kgo.Client.
func New(client producer, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish produces the event synchronously and returns "topic/partition/offset".
func (p *Publisher) Publish(ctx context.Context, event allotment.CheckEvent) (string, error) {
	if p.client == nil {
		return "", errors.New("kafka publisher is not configured")
	}
	record, err := buildRecord(ctx, p.topic, event)
	if err != nil {
		return "", err
	}
	results := p.client.ProduceSync(ctx, record)
	if len(results) == 0 {
		return "", errors.New("publish check event: no produce result")
	}
	produced, err := results.First()
	if err != nil {
		return "", fmt.Errorf("publish check event: %w", err)
	}
	return fmt.Sprintf("%s/%d/%d", produced.Topic, produced.Partition, produced.Offset), nil
}

func buildRecord(ctx context.Context, topic string, event allotment.CheckEvent) (*kgo.Record, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal check event: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(event.IPOSlug),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: HeaderRegistrar, Value: []byte(event.Registrar)},
			{Key: HeaderStatus, Value: []byte(event.Status)},
			{Key: HeaderIPO, Value: []byte(event.IPOSlug)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{record: record})
	return record, nil
}

// headerCarrier implements propagation.TextMapCarrier over record headers.
type headerCarrier struct {
	record *kgo.Record
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.record.Headers {
		if h.Key == key {
			c.record.Headers[i].Value = []byte(value)
			return
		}
	}
	c.record.Headers = append(c.record.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.record.Headers))
	for _, h := range c.record.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
