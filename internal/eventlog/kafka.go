package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"registrar/internal/verifier"
)

// KafkaSink publishes committed IdentityVerification events to a topic so
// downstream consumers (registrar UIs, audit pipelines) can follow status
// changes. Publishing is best-effort; the event log remains the source of
// truth.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	// Create the topic when the broker does not auto-create it.
	// Already-exists is fine; anything else surfaces on produce.
	adm := kadm.NewClient(client)
	_, _ = adm.CreateTopic(ctx, 1, 1, nil, topic)

	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, events []verifier.IdentityVerification) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", event.ID, err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(event.PubKey),
			Value: data,
		})
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce events: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
