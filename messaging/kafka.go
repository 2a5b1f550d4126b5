package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mmcd/config"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	kafkaWriteTimeout = 10 * time.Second
	kafkaReadBackoff  = 2 * time.Second
)

type kafkaBackend struct {
	cfg    *config.MessagingConfig
	writer *kafkago.Writer

	ctx     context.Context
	cancel  context.CancelFunc
	readers []*kafkago.Reader
	wg      sync.WaitGroup
}

func newKafkaBackend(cfg *config.MessagingConfig) *kafkaBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &kafkaBackend{cfg: cfg, ctx: ctx, cancel: cancel}
}

func (b *kafkaBackend) connect() error {
	if len(b.cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	// Messages are keyed by node so one controller's events stay on one
	// partition, in order.
	b.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(b.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

func (b *kafkaBackend) publish(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(b.ctx, kafkaWriteTimeout)
	defer cancel()
	return b.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(b.cfg.NodeID),
		Value: payload,
	})
}

// subscribe starts one reader goroutine per topic. Read errors back off and
// retry until the backend is closed.
func (b *kafkaBackend) subscribe(topic string, handler func([]byte)) error {
	groupID := b.cfg.Kafka.GroupID
	if groupID == "" {
		return fmt.Errorf("kafka subscribe %s: no consumer group", topic)
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: b.cfg.Kafka.Brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	b.readers = append(b.readers, r)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			msg, err := r.ReadMessage(b.ctx)
			if err != nil {
				if b.ctx.Err() != nil {
					return
				}
				log.Printf("messaging: kafka read %s: %v", topic, err)
				select {
				case <-b.ctx.Done():
					return
				case <-time.After(kafkaReadBackoff):
				}
				continue
			}
			handler(msg.Value)
		}
	}()
	return nil
}

func (b *kafkaBackend) connected() bool {
	return b.writer != nil
}

func (b *kafkaBackend) close() {
	b.cancel()
	for _, r := range b.readers {
		r.Close()
	}
	b.wg.Wait()
	if b.writer != nil {
		b.writer.Close()
	}
}
