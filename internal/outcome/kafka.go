package outcome

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink streams outcome records to an audit topic. Delivery is best
// effort: records are queued on a bounded channel and written by one
// background worker, and the queue drops when full so a slow broker can
// never stall admission.
type KafkaSink struct {
	writer *kafka.Writer
	queue  chan Outcome
	done   chan struct{}
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 250 * time.Millisecond,
			BatchSize:    32,
		},
		queue: make(chan Outcome, 1024),
		done:  make(chan struct{}),
		log:   log,
	}
	go s.loop()
	return s
}

// Record enqueues the outcome, dropping it when the queue is full. Records
// arriving after Close are dropped; long-lived streaming connections can
// still be reporting while the process shuts down.
func (s *KafkaSink) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- o:
	default:
		s.log.Debug("outcome audit queue full, dropping record")
	}
}

// Close flushes pending records and stops the worker. Safe to call more
// than once.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.queue)
	<-s.done
	return s.writer.Close()
}

func (s *KafkaSink) loop() {
	defer close(s.done)
	for o := range s.queue {
		payload, err := json.Marshal(o)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(o.TenantID),
			Value: payload,
		})
		cancel()
		if err != nil {
			s.log.Warn("write outcome audit record", zap.Error(err))
		}
	}
}
