package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// servedMessage is the JSON body written for every media_served event.
type servedMessage struct {
	MediaID  int64     `json:"media_id"`
	Title    string    `json:"title"`
	File     string    `json:"file"`
	Kind     string    `json:"type"`
	Request  Request   `json:"request"`
	ServedAt time.Time `json:"served_at"`
}

// KafkaForwarder copies media_served events onto a Kafka topic.
type KafkaForwarder struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaForwarder(brokers []string, topic string, logger *zap.Logger) *KafkaForwarder {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
	})
	return NewKafkaForwarderWithWriter(w, logger)
}

func NewKafkaForwarderWithWriter(w MessageWriter, logger *zap.Logger) *KafkaForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaForwarder{writer: w, logger: logger}
}

// Attach subscribes the forwarder to TopicMediaServed on bus.
func (f *KafkaForwarder) Attach(bus *Bus) {
	bus.Subscribe(TopicMediaServed, "kafka", f.Handle)
}

// Handle writes one message keyed by media id. Other payloads are ignored.
func (f *KafkaForwarder) Handle(ctx context.Context, payload any) error {
	ev, ok := payload.(MediaServed)
	if !ok || ev.Media == nil {
		return nil
	}
	body, err := json.Marshal(servedMessage{
		MediaID:  ev.Media.ID,
		Title:    ev.Media.Title,
		File:     ev.Media.File,
		Kind:     string(ev.Media.Kind),
		Request:  ev.Request,
		ServedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.Media.ID, 10)),
		Value: body,
		Time:  time.Now(),
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Warn("forward media_served", zap.Int64("media_id", ev.Media.ID), zap.Error(err))
		return err
	}
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
