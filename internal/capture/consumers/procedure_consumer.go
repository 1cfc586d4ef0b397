package consumers

import (
	"context"

	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
)

// SlotDiscarder is satisfied by service.CaptureService
type SlotDiscarder interface {
	DiscardSlot(tenantID, slotID string) (bool, error)
}

// ProcedureEventConsumer consumes procedure events
type ProcedureEventConsumer struct {
	consumer *messaging.Consumer
	sessions SlotDiscarder
	logger   *logger.Logger
}

// NewProcedureEventConsumer creates a new procedure event consumer
func NewProcedureEventConsumer(rmq *messaging.RabbitMQ, sessions SlotDiscarder, log *logger.Logger) (*ProcedureEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "capture-service.procedure-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeProcedureEvents, "procedure.step.#"); err != nil {
		return nil, err
	}

	c := &ProcedureEventConsumer{
		consumer: consumer,
		sessions: sessions,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventProcedureStepCancelled, c.handleStepCancelled)

	return c, nil
}

// Start starts consuming messages
func (c *ProcedureEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleStepCancelled discards the capture session of a cancelled step.
// Evidence already committed for the slot is kept.
func (c *ProcedureEventConsumer) handleStepCancelled(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProcedureStepCancelledEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	found, err := c.sessions.DiscardSlot(data.TenantID, data.SlotID)
	if err != nil {
		c.logger.Error().Err(err).
			Str("tenant_id", data.TenantID).
			Str("slot_id", data.SlotID).
			Msg("failed to discard capture session of cancelled step")
		return err
	}

	if found {
		c.logger.Info().
			Str("tenant_id", data.TenantID).
			Str("slot_id", data.SlotID).
			Str("reason", data.Reason).
			Msg("capture session discarded, procedure step cancelled")
	}
	return nil
}
