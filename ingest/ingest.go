package ingest

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/events"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/mapping"
	"github.com/c360/metagraph/pkg/worker"
)

// Payload is one inbound record queued for staging
type Payload struct {
	Source   *DataSource
	ImportID string
	Data     map[string]any
}

// Mapper resolves and applies type mappings. *mapping.Engine satisfies it.
type Mapper interface {
	FindOrCreateForPayload(ctx context.Context, containerID, dataSourceID string, payload map[string]any) (*mapping.TypeMapping, error)
	ApplyTransformations(m *mapping.TypeMapping, payload map[string]any) (*mapping.StagedResult, error)
}

var _ Mapper = (*mapping.Engine)(nil)

// GraphWriter is the slice of the graph repository the ingester writes
// through. NodeIDByExternalID exists because an upsert that lands on an
// existing row keeps that row's id, so edge endpoints must be re-resolved
// by external identity after the node writes.
type GraphWriter interface {
	UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error)
	CreateEdge(ctx context.Context, edge *graph.Edge) (*graph.Edge, error)
	NodeIDByExternalID(ctx context.Context, containerID, dataSourceID, originalID string) (string, error)
}

// Ingester queues payloads onto a worker pool and stages each one into the
// graph: resolve the shape's mapping, apply its transformations, upsert the
// staged nodes, then create the staged edges.
type Ingester struct {
	mapper    Mapper
	writer    GraphWriter
	publisher *events.Publisher
	pool      *worker.Pool[Payload]
	logger    *slog.Logger
}

// Options tunes the ingest worker pool. Zero values take the pool defaults.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   prometheus.Registerer
}

// NewIngester creates an ingester. The publisher may be nil when events are
// not configured.
func NewIngester(mapper Mapper, writer GraphWriter, publisher *events.Publisher, logger *slog.Logger, opts Options) (*Ingester, error) {
	ing := &Ingester{
		mapper:    mapper,
		writer:    writer,
		publisher: publisher,
		logger:    logger.With("component", "ingest"),
	}

	var poolOpts []worker.Option[Payload]
	if opts.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[Payload](opts.Metrics, "metagraph_ingest"))
	}
	pool, err := worker.NewPool(opts.Workers, opts.QueueSize, ing.process, poolOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Ingester", "NewIngester", "pool creation")
	}
	ing.pool = pool
	return ing, nil
}

// Start launches the ingest workers
func (i *Ingester) Start(ctx context.Context) error {
	return i.pool.Start(ctx)
}

// Stop drains the queue and stops the workers
func (i *Ingester) Stop() {
	i.pool.Stop()
}

// Stats returns submitted/processed/failed/dropped payload counts
func (i *Ingester) Stats() (submitted, processed, failed, dropped int64) {
	return i.pool.Stats()
}

// Receive validates a payload against its source and queues it for staging.
// Validation failures surface to the caller; staging failures are counted
// and logged by the pool.
func (i *Ingester) Receive(payload Payload) error {
	if payload.Source == nil {
		return errors.WrapValidation(errors.ErrMissingField, "Ingester", "Receive", "payload has no data source")
	}
	if err := payload.Source.ValidatePayload(payload.Data); err != nil {
		return err
	}
	if err := i.pool.Submit(payload); err != nil {
		return errors.Wrap(err, "Ingester", "Receive", "payload submit")
	}
	return nil
}

// process stages one payload. Payloads whose mapping is inactive resolve the
// mapping (so its shape is registered for review) but stage nothing.
func (i *Ingester) process(ctx context.Context, payload Payload) error {
	source := payload.Source

	m, err := i.mapper.FindOrCreateForPayload(ctx, source.ContainerID, source.ID, payload.Data)
	if err != nil {
		i.logger.Error("mapping resolution failed",
			"data_source_id", source.ID, "error", err)
		return err
	}
	if !m.Active {
		i.logger.Debug("mapping inactive, payload held",
			"data_source_id", source.ID, "mapping_id", m.ID)
		return nil
	}

	staged, err := i.mapper.ApplyTransformations(m, payload.Data)
	if err != nil {
		i.logger.Error("transformation failed",
			"data_source_id", source.ID, "mapping_id", m.ID, "error", err)
		return err
	}
	if len(staged.Nodes) == 0 && len(staged.Edges) == 0 {
		return nil
	}

	for _, node := range staged.Nodes {
		node.ImportDataID = payload.ImportID
		if _, err := i.writer.UpsertNode(ctx, node); err != nil {
			return errors.Wrap(err, "Ingester", "process", "node upsert")
		}
	}

	batch := &errors.BatchError{Failures: map[string]error{}}
	for _, edge := range staged.Edges {
		if err := i.createEdge(ctx, source, m, edge); err != nil {
			batch.Add(edge.RelationshipPairName, err)
		}
	}

	i.publisher.GraphMutated(source.ContainerID)

	if err := batch.OrNil(); err != nil {
		return errors.Wrap(err, "Ingester", "process", "edge staging")
	}
	return nil
}

// createEdge resolves both endpoints by external identity and writes the
// edge. Endpoint rows must exist; node upserts for this payload ran first,
// but an endpoint from another record may not have arrived yet.
func (i *Ingester) createEdge(ctx context.Context, source *DataSource, m *mapping.TypeMapping, staged *mapping.StagedEdge) error {
	originID, err := i.writer.NodeIDByExternalID(ctx, source.ContainerID, source.ID, staged.OriginOriginalID)
	if err != nil {
		return errors.Wrap(err, "Ingester", "createEdge", "origin resolution")
	}
	destinationID, err := i.writer.NodeIDByExternalID(ctx, source.ContainerID, source.ID, staged.DestinationOriginalID)
	if err != nil {
		return errors.Wrap(err, "Ingester", "createEdge", "destination resolution")
	}

	_, err = i.writer.CreateEdge(ctx, &graph.Edge{
		ContainerID:        source.ContainerID,
		RelationshipPairID: staged.RelationshipPairID,
		OriginNodeID:       originID,
		DestinationNodeID:  destinationID,
		Properties:         staged.Properties,
		DataSourceID:       source.ID,
	})
	return errors.Wrap(err, "Ingester", "createEdge", "edge write")
}
