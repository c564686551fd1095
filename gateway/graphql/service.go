// Package graphql serves the per-container GraphQL API over HTTP. Schemas
// are generated from each container's ontology on first use, cached, and
// dropped when an ontology change event arrives.
package graphql

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360/metagraph/events"
	"github.com/c360/metagraph/pkg/cache"
	"github.com/c360/metagraph/schema"
)

// Service resolves GraphQL queries against container schemas. It owns the
// schema cache; the HTTP server delegates every query to it.
type Service struct {
	generator *schema.Generator
	executor  *schema.Executor
	schemas   cache.Cache[*schema.Schema]
	logger    *slog.Logger
}

// NewService creates a query service with a bounded schema cache. Schema
// caching is advisory: a cache that fails to construct (metrics registration
// collision) degrades to an unmetered one rather than failing the gateway.
func NewService(generator *schema.Generator, executor *schema.Executor, cacheSize int, logger *slog.Logger, opts ...cache.Option) *Service {
	log := logger.With("component", "graphql.Service")
	schemas, err := cache.NewLRU[*schema.Schema](cacheSize, opts...)
	if err != nil {
		log.Warn("schema cache metrics unavailable", "error", err)
		schemas, _ = cache.NewLRU[*schema.Schema](cacheSize)
	}
	return &Service{
		generator: generator,
		executor:  executor,
		schemas:   schemas,
		logger:    log,
	}
}

// SchemaFor returns the container's schema, generating it on cache miss.
// Concurrent misses may build the same schema twice; the builds are
// deterministic so either result is valid.
func (s *Service) SchemaFor(ctx context.Context, containerID string) (*schema.Schema, error) {
	if cached, ok := s.schemas.Get(containerID); ok {
		return cached, nil
	}

	built, err := s.generator.Build(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.schemas.Set(containerID, built); err != nil {
		s.logger.Warn("schema cache set failed", "container_id", containerID, "error", err)
	}
	return built, nil
}

// InvalidateSchema drops the container's cached schema. The next query
// regenerates it from the current ontology.
func (s *Service) InvalidateSchema(containerID string) {
	if _, err := s.schemas.Delete(containerID); err != nil {
		s.logger.Warn("schema cache invalidation failed", "container_id", containerID, "error", err)
		return
	}
	s.logger.Debug("schema invalidated", "container_id", containerID)
}

// Execute runs one GraphQL query against a container's schema. Schema
// resolution failures come back as GraphQL errors, not Go errors, so the
// HTTP layer has a single response shape.
func (s *Service) Execute(ctx context.Context, containerID, query string, variables map[string]any) *schema.Response {
	built, err := s.SchemaFor(ctx, containerID)
	if err != nil {
		s.logger.Error("schema resolution failed", "container_id", containerID, "error", err)
		return &schema.Response{Errors: []string{"schema unavailable for container " + containerID}}
	}
	return s.executor.Execute(ctx, built, query, variables)
}

// WatchOntology subscribes to ontology change events and invalidates the
// affected container's schema on each one
func (s *Service) WatchOntology(nc *nats.Conn) (*nats.Subscription, error) {
	return events.SubscribeOntologyChanged(nc, s.logger, s.InvalidateSchema)
}
