package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSAdapter dispatches tiles to an external camera or radar driver over
// NATS request/reply. The request deadline comes from the planner's tile
// context, so a hung driver is bounded by the transport, not just the
// reactive SLA check.
type NATSAdapter struct {
	nc      *nats.Conn
	subject string
	caps    Capabilities
}

// NewNATSAdapter builds an adapter for one modality. Subjects follow
// "adapter.<modality>.dispatch".
func NewNATSAdapter(nc *nats.Conn, modality string, caps Capabilities) *NATSAdapter {
	return &NATSAdapter{
		nc:      nc,
		subject: "adapter." + modality + ".dispatch",
		caps:    caps,
	}
}

func (a *NATSAdapter) Capabilities() Capabilities {
	return a.caps
}

func (a *NATSAdapter) Dispatch(ctx context.Context, tile Tile) (Verdict, error) {
	payload, err := json.Marshal(tile)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal tile: %w", err)
	}

	msg, err := a.nc.RequestWithContext(ctx, a.subject, payload)
	if err != nil {
		return Verdict{}, fmt.Errorf("tile dispatch on %s: %w", a.subject, err)
	}

	var verdict Verdict
	if err := json.Unmarshal(msg.Data, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	return verdict, nil
}
