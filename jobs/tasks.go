package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-workshop/internal/jobs"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileWorkOrder retries the compensations of a partially created
	// work order.
	TaskReconcileWorkOrder = "workorder:reconcile"

	reconcileJobName = "workorder_reconcile"
	// MaxReconcileAttempts bounds how often outstanding compensations are
	// requeued before the task is archived for manual handling.
	MaxReconcileAttempts = 8
)

// ReconcilePayload is the body of a TaskReconcileWorkOrder task.
type ReconcilePayload struct {
	orders.Compensation
	Attempt int `json:"attempt"`
}

// NewReconcileTask constructs an Asynq task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileWorkOrder, data), nil
}

// ReconcileBackoff is the delay before the given attempt runs.
func ReconcileBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return delay
}

// Compensator undoes the recorded steps of a failed work order.
type Compensator interface {
	Run(ctx context.Context, comp orders.Compensation) (orders.Compensation, error)
}

// ReconcileHandler processes TaskReconcileWorkOrder tasks. Steps that still
// fail are requeued as a new task carrying only what is outstanding, so a
// stock movement is never restored twice.
type ReconcileHandler struct {
	compensator Compensator
	client      *Client
	metrics     *jobmetrics.Metrics
	recorder    orders.Recorder
	logger      *slog.Logger
}

// NewReconcileHandler builds ReconcileHandler. metrics and recorder may be nil.
func NewReconcileHandler(compensator Compensator, client *Client, metrics *jobmetrics.Metrics, recorder orders.Recorder, logger *slog.Logger) *ReconcileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileHandler{compensator: compensator, client: client, metrics: metrics, recorder: recorder, logger: logger}
}

// Handle implements asynq.HandlerFunc.
func (h *ReconcileHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("decode reconcile payload", slog.Any("error", err))
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Empty() {
		return nil
	}

	tracker := h.metrics.Track(reconcileJobName)
	logger := h.logger.With(
		slog.String("saga_id", payload.SagaID),
		slog.Int64("work_order_id", payload.WorkOrderID),
		slog.Int("attempt", payload.Attempt))

	remaining, err := h.compensator.Run(ctx, payload.Compensation)
	if err == nil {
		h.record(orders.CompensationCompleted)
		logger.Info("work order reconciled")
		return tracker.End(nil)
	}
	h.record(orders.CompensationFailed)

	next := payload.Attempt + 1
	if next >= MaxReconcileAttempts || remaining.Empty() {
		h.metrics.Abandoned(reconcileJobName)
		logger.Error("reconciliation abandoned, manual action required",
			slog.Any("detail_ids", remaining.DetailIDs),
			slog.Any("movements", remaining.Movements),
			slog.Any("error", err))
		return tracker.End(fmt.Errorf("reconcile work order %d: %v: %w", payload.WorkOrderID, err, asynq.SkipRetry))
	}

	if rqErr := h.client.enqueue(ctx, ReconcilePayload{Compensation: remaining, Attempt: next}, ReconcileBackoff(next)); rqErr != nil {
		logger.Error("requeue reconciliation", slog.Any("error", rqErr))
		return tracker.End(fmt.Errorf("reconcile work order %d: %w", payload.WorkOrderID, errors.Join(err, rqErr, asynq.SkipRetry)))
	}
	logger.Warn("reconciliation incomplete, requeued", slog.Any("error", err))
	_ = tracker.End(err)
	return nil
}

func (h *ReconcileHandler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.CompensationOutcome(outcome)
	}
}
