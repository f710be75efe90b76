package disputes

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Command routing keys consumed from the admin surface.
const (
	CommandOpen        = "dispute.open"
	CommandInvestigate = "dispute.investigate"
	CommandResolve     = "dispute.resolve"
	CommandClose       = "dispute.close"
)

// Command is one admin instruction for the dispute resolver. Fields beyond
// DisputeID are consulted per command type.
type Command struct {
	DisputeID   uuid.UUID `json:"dispute_id,omitempty"`
	JobID       uuid.UUID `json:"job_id,omitempty"`
	ActorID     uuid.UUID `json:"actor_id"`
	Type        string    `json:"type,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
	RefundCents int64     `json:"refund_cents,omitempty"`
}

// CommandHandler decodes dispute commands off the wire and applies them.
// Validation failures are final: the message is consumed, the rejection is
// logged, and nothing is re-queued, since redelivery cannot fix a bad command.
type CommandHandler struct {
	svc    *Service
	logger *slog.Logger
}

func NewCommandHandler(svc *Service, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{svc: svc, logger: logger}
}

// Bindings maps each command routing key to its message handler.
func (h *CommandHandler) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		CommandOpen:        h.handle(CommandOpen),
		CommandInvestigate: h.handle(CommandInvestigate),
		CommandResolve:     h.handle(CommandResolve),
		CommandClose:       h.handle(CommandClose),
	}
}

func (h *CommandHandler) handle(key string) func([]byte) bool {
	return func(body []byte) bool {
		var cmd Command
		if err := json.Unmarshal(body, &cmd); err != nil {
			h.logger.Error("undecodable dispute command", "routing_key", key, "error", err)
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		switch key {
		case CommandOpen:
			_, err = h.svc.Open(ctx, cmd.JobID, cmd.ActorID, cmd.Type, cmd.Reason)
		case CommandInvestigate:
			err = h.svc.Investigate(ctx, cmd.DisputeID)
		case CommandResolve:
			err = h.svc.Resolve(ctx, cmd.DisputeID, cmd.ActorID, cmd.Resolution, cmd.RefundCents)
		case CommandClose:
			err = h.svc.Close(ctx, cmd.DisputeID)
		}
		if err != nil {
			h.logger.Warn("dispute command rejected", "routing_key", key, "dispute_id", cmd.DisputeID, "job_id", cmd.JobID, "error", err)
		}
		return true
	}
}
