package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const messageTimeout = 30 * time.Second

// MessageBindings maps each processor callback routing key to a handler
// suitable for the AMQP consumer. A store failure re-queues the delivery;
// undecodable bodies are consumed and dropped.
func (h *EventHandler) MessageBindings(logger *slog.Logger) map[string]func([]byte) bool {
	bindings := make(map[string]func([]byte) bool)
	for _, eventType := range []string{
		EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled,
		EventTransferCreated, EventTransferPaid, EventAccountUpdated,
	} {
		bindings[eventType] = func(body []byte) bool {
			var evt ProcessorEvent
			if err := json.Unmarshal(body, &evt); err != nil {
				logger.Error("undecodable processor event", "error", err)
				return true
			}
			if evt.Type == "" {
				evt.Type = eventType
			}
			ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			defer cancel()
			if err := h.Handle(ctx, evt); err != nil {
				logger.Error("failed to apply processor event", "type", evt.Type, "external_id", evt.ExternalID, "error", err)
				return false
			}
			return true
		}
	}
	return bindings
}
