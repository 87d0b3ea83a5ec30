package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

// RunFinishedType is the event type of a finished scan run.
const RunFinishedType = "scan_run.finished"

// RunFinished is the JSON payload published for every terminal run.
type RunFinished struct {
	Type          string     `json:"type"`
	RunID         string     `json:"runId"`
	Status        string     `json:"status"`
	Tier          *string    `json:"tier,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	EmailsScanned int        `json:"emailsScanned"`
	NewBreaches   int        `json:"newBreaches"`
	Errors        []string   `json:"errors,omitempty"`
}

// NewRunFinished converts a run into its event form.
func NewRunFinished(run domain.ScanRun) RunFinished {
	event := RunFinished{
		Type:          RunFinishedType,
		RunID:         run.ID,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		EmailsScanned: run.EmailsScanned,
		NewBreaches:   run.NewBreaches,
		Errors:        run.ErrorLines(),
	}
	if run.Tier != nil {
		tier := string(*run.Tier)
		event.Tier = &tier
	}
	return event
}

// MessageWriter is the subset of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects brokers and topic for run events.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher writes run events to a Kafka topic keyed by run id.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

var _ ports.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return NewPublisher(writer, logger), nil
}

// NewPublisher wraps an existing writer.
func NewPublisher(writer MessageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger.With("component", "events")}
}

func (p *KafkaPublisher) PublishRunFinished(ctx context.Context, run domain.ScanRun) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("kafka publisher is closed")
	}

	value, err := json.Marshal(NewRunFinished(run))
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(run.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(RunFinishedType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write run event: %w", err)
	}
	p.logger.Debug("run event published", "run_id", run.ID, "status", run.Status)
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

// Nop discards events when no broker is configured.
type Nop struct{}

var _ ports.EventPublisher = Nop{}

func (Nop) PublishRunFinished(context.Context, domain.ScanRun) error { return nil }
