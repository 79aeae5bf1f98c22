package agent

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	id string
}

func (s *stubAgent) ID() string                      { return s.id }
func (s *stubAgent) Type() AgentType                 { return AgentType("stub") }
func (s *stubAgent) Start(ctx context.Context) error { return nil }
func (s *stubAgent) Stop(ctx context.Context) error  { return nil }
func (s *stubAgent) Health() HealthStatus            { return HealthStatus{Healthy: true} }
func (s *stubAgent) Metrics() *prometheus.Registry   { return prometheus.NewRegistry() }

func TestRegistryCreate(t *testing.T) {
	Register(AgentType("stub"), func(cfg Config) (Agent, error) {
		return &stubAgent{id: cfg.ID}, nil
	})

	created, err := Create(AgentType("stub"), Config{ID: "stub-1"})
	require.NoError(t, err)
	assert.Equal(t, "stub-1", created.ID())

	assert.Contains(t, ListTypes(), AgentType("stub"))
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := Create(AgentType("nonexistent"), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent type")
}
