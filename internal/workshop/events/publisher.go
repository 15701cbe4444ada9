// Package events publishes work order events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
)

var _ orders.EventPublisher = (*KafkaPublisher)(nil)

// EventType names an event on the work order topic.
type EventType string

// EventWorkOrderCreated is emitted once per persisted work order.
const EventWorkOrderCreated EventType = "work_order.created"

// Event is the envelope written to Kafka.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	WorkOrderID   int64           `json:"work_order_id"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// WorkOrderCreated is the Data of an EventWorkOrderCreated event.
type WorkOrderCreated struct {
	Variant     orders.Variant           `json:"variant"`
	VehicleID   int64                    `json:"vehicle_id"`
	QuotationID *int64                   `json:"quotation_id,omitempty"`
	OrderDate   time.Time                `json:"order_date"`
	Subtotal    decimal.Decimal          `json:"subtotal"`
	TaxAmount   decimal.Decimal          `json:"tax_amount"`
	TaxRate     decimal.Decimal          `json:"tax_rate"`
	TotalAmount decimal.Decimal          `json:"total_amount"`
	Movements   []workshop.StockMovement `json:"movements"`
}

// Config configures the Kafka writer.
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes work order events. Messages are keyed by work
// order id so events of one order stay on one partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(cfg Config, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: topic must be set")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, logger), nil
}

func newPublisher(writer messageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger, now: time.Now}
}

// PublishWorkOrderCreated publishes an EventWorkOrderCreated event.
func (p *KafkaPublisher) PublishWorkOrderCreated(ctx context.Context, res *orders.Result) error {
	if res == nil {
		return errors.New("events: nil result")
	}
	data, err := json.Marshal(WorkOrderCreated{
		Variant:     res.Variant,
		VehicleID:   res.Order.VehicleID,
		QuotationID: res.Order.QuotationID,
		OrderDate:   res.Order.OrderDate,
		Subtotal:    res.Order.Subtotal,
		TaxAmount:   res.Order.TaxAmount,
		TaxRate:     res.Order.TaxRate,
		TotalAmount: res.Order.TotalAmount,
		Movements:   res.Movements,
	})
	if err != nil {
		return fmt.Errorf("events: encode work order: %w", err)
	}
	return p.publish(ctx, Event{
		ID:            uuid.NewString(),
		Type:          EventWorkOrderCreated,
		WorkOrderID:   res.Order.ID,
		Data:          data,
		Timestamp:     p.now().UTC(),
		CorrelationID: middleware.GetReqID(ctx),
	})
}

func (p *KafkaPublisher) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.WorkOrderID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	p.logger.Debug("event published",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.Int64("work_order_id", event.WorkOrderID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
