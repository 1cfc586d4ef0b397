package consumers

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDiscarder struct {
	calls [][2]string
	found bool
	err   error
}

func (r *recordingDiscarder) DiscardSlot(tenantID, slotID string) (bool, error) {
	r.calls = append(r.calls, [2]string{tenantID, slotID})
	return r.found, r.err
}

func cancelledEvent(t *testing.T, data interface{}) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventProcedureStepCancelled, "procedure-service", "corr-1", data)
	require.NoError(t, err)
	return event
}

func TestHandleStepCancelled(t *testing.T) {
	tests := []struct {
		name    string
		found   bool
		err     error
		wantErr bool
	}{
		{name: "open session discarded", found: true},
		{name: "no open session", found: false},
		{name: "discard failure is retried", found: true, err: stderrors.New("camera stuck"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &recordingDiscarder{found: tt.found, err: tt.err}
			c := &ProcedureEventConsumer{sessions: sessions, logger: logger.Nop()}

			err := c.handleStepCancelled(context.Background(), cancelledEvent(t, messaging.ProcedureStepCancelledEvent{
				TenantID: "restaurant-1",
				SlotID:   "slot-7",
				Reason:   "line closed",
			}))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, [][2]string{{"restaurant-1", "slot-7"}}, sessions.calls)
		})
	}
}

func TestHandleStepCancelled_BadPayload(t *testing.T) {
	sessions := &recordingDiscarder{}
	c := &ProcedureEventConsumer{sessions: sessions, logger: logger.Nop()}

	err := c.handleStepCancelled(context.Background(), cancelledEvent(t, "not an object"))
	assert.Error(t, err)
	assert.Empty(t, sessions.calls)
}
