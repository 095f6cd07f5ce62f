package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"adaptivememory/internal/observability"
)

// KafkaSink publishes events to a topic with a bounded per-publish timeout.
// Publish failures are returned to the caller, who is expected (per the
// fire-and-forget dispatcher contract) to log and drop rather than retry
// inline.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	key := ev.PrincipalID
	if ev.MemoryID != "" {
		key = ev.PrincipalID + ":" + ev.MemoryID
	}
	if err := s.writer.WriteMessages(cctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("event_type", string(ev.Type)).Msg("event_publish_failed")
		return err
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// EnsureTopic verifies the topic exists, creating it against the cluster
// controller if it doesn't. Best-effort: called once at startup, not on the
// request path.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions, replication int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("events: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))
	ctrl, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	if parts, err := ctrl.ReadPartitions(topic); err == nil && len(parts) > 0 {
		return nil
	}
	return ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	})
}
