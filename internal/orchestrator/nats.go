package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// ProcessSubjectPrefix prefixes the bot service's request subjects; the
// page id is appended so bot workers can subscribe per page.
const ProcessSubjectPrefix = "bot.process"

type processReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NATSOrchestrator forwards granted turns to the external bot service over
// NATS request/reply.
type NATSOrchestrator struct {
	nc *nats.Conn
}

// NewNATSOrchestrator creates a NATS-backed orchestrator client.
func NewNATSOrchestrator(nc *nats.Conn) *NATSOrchestrator {
	return &NATSOrchestrator{nc: nc}
}

// Process sends the turn to the bot service and waits for its reply within
// the context deadline.
func (o *NATSOrchestrator) Process(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal process request: %w", err)
	}

	subject := ProcessSubjectPrefix + "." + req.PageID
	msg, err := o.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("bot request failed: %w", err)
	}

	var reply processReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode bot reply: %w", err)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("bot processing failed: %s", reply.Error)
	}
	return nil
}
