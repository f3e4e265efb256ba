package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// KafkaPublisher is a synchronous keyed producer. Publish returns only after
// the broker acks, so callers may treat a nil error as durably published.
type KafkaPublisher struct {
	topic string
	sp    sarama.SyncProducer
}

func NewKafkaPublisher(brokersCSV, topic string) (*KafkaPublisher, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{topic: topic, sp: sp}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(env.Key),
		Value: sarama.ByteEncoder(payload),
	}

	// The sync producer does not take a context; check before and after so a
	// cancelled caller stops promptly.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, _, err := p.sp.SendMessage(msg); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.sp != nil {
		return p.sp.Close()
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
