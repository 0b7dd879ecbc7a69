package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paynet/fep/go/pipeline"
	"github.com/paynet/fep/go/store"
	kafka "github.com/segmentio/kafka-go"
)

// KafkaPublisher writes audit records as JSON messages, keyed by
// transaction ID so reversals and retries of one transaction land in one
// partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a KafkaPublisher over |brokers| and |topic|.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) Publish(pc *pipeline.Context, rec *store.Record) error {
	var value, err = json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	return p.writer.WriteMessages(pc.Ctx(), kafka.Message{
		Key:   []byte(rec.ID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
