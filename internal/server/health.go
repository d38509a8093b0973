package server

import (
	"context"

	"github.com/chanuka/conflict-engine/internal/graph"
)

// HealthService reports whether backing dependencies are reachable.
type HealthService interface {
	Probe(ctx context.Context) error
}

// GraphHealthService probes the influence graph store.
type GraphHealthService struct {
	Client graph.Client
}

func (s GraphHealthService) Probe(ctx context.Context) error {
	return s.Client.VerifyConnectivity(ctx)
}

// NoopHealthService always reports healthy, for graphless deployments.
type NoopHealthService struct{}

func (NoopHealthService) Probe(context.Context) error { return nil }
