package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
)

type memoryWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}

func sampleResult() *orders.Result {
	quotationID := int64(7)
	return &orders.Result{
		Variant: orders.VariantWithQuotation,
		Order: workshop.WorkOrder{
			ID:          42,
			VehicleID:   10,
			QuotationID: &quotationID,
			Status:      workshop.WorkOrderStatusNotStarted,
			OrderDate:   time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
			Subtotal:    decimal.NewFromInt(4700),
			TaxAmount:   decimal.NewFromInt(893),
			TaxRate:     decimal.NewFromInt(19),
			TotalAmount: decimal.NewFromInt(5593),
		},
		Movements: []workshop.StockMovement{{ProductID: 1, Quantity: 2}},
	}
}

func TestPublishWorkOrderCreated(t *testing.T) {
	writer := &memoryWriter{}
	pub := newPublisher(writer, nil)
	pub.now = func() time.Time { return time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC) }

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	require.NoError(t, pub.PublishWorkOrderCreated(ctx, sampleResult()))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	require.Equal(t, "42", string(msg.Key))
	require.Equal(t, "event_type", msg.Headers[0].Key)
	require.Equal(t, string(EventWorkOrderCreated), string(msg.Headers[0].Value))

	var event Event
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	require.Equal(t, EventWorkOrderCreated, event.Type)
	require.Equal(t, int64(42), event.WorkOrderID)
	require.Equal(t, "req-1", event.CorrelationID)
	require.NotEmpty(t, event.ID)
	require.Equal(t, string(msg.Headers[1].Value), event.ID)

	var data WorkOrderCreated
	require.NoError(t, json.Unmarshal(event.Data, &data))
	require.Equal(t, orders.VariantWithQuotation, data.Variant)
	require.Equal(t, int64(7), *data.QuotationID)
	require.True(t, data.TotalAmount.Equal(decimal.NewFromInt(5593)))
	require.Equal(t, []workshop.StockMovement{{ProductID: 1, Quantity: 2}}, data.Movements)
}

func TestPublishSurfacesWriterErrors(t *testing.T) {
	boom := errors.New("broker down")
	pub := newPublisher(&memoryWriter{err: boom}, nil)
	err := pub.PublishWorkOrderCreated(context.Background(), sampleResult())
	require.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(Config{Topic: "work-orders"}, nil)
	require.Error(t, err)
	_, err = NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)

	pub, err := NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "work-orders"}, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestClose(t *testing.T) {
	writer := &memoryWriter{}
	require.NoError(t, newPublisher(writer, nil).Close())
	require.True(t, writer.closed)
}
