package ingest

import (
	"context"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/graph/repository"
)

// RepositoryWriter adapts the graph repository to the GraphWriter interface
type RepositoryWriter struct {
	repo *repository.Repository
}

// NewRepositoryWriter wraps a graph repository for ingest writes
func NewRepositoryWriter(repo *repository.Repository) *RepositoryWriter {
	return &RepositoryWriter{repo: repo}
}

// UpsertNode writes one staged node
func (w *RepositoryWriter) UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error) {
	return w.repo.UpsertNode(ctx, node)
}

// CreateEdge writes one staged edge
func (w *RepositoryWriter) CreateEdge(ctx context.Context, edge *graph.Edge) (*graph.Edge, error) {
	return w.repo.CreateEdge(ctx, edge)
}

// NodeIDByExternalID resolves the stored node id for an external identity
func (w *RepositoryWriter) NodeIDByExternalID(ctx context.Context, containerID, dataSourceID, originalID string) (string, error) {
	nodes, err := w.repo.Nodes().
		ContainerID(containerID).
		DataSourceID(repository.OpEq, dataSourceID).
		OriginalDataID(repository.OpEq, originalID).
		List(ctx, repository.ListOptions{Limit: 1})
	if err != nil {
		return "", errors.Wrap(err, "RepositoryWriter", "NodeIDByExternalID", "node lookup")
	}
	if len(nodes) == 0 {
		return "", errors.WrapNotFound(errors.ErrNodeNotFound,
			"RepositoryWriter", "NodeIDByExternalID", "original id "+originalID)
	}
	return nodes[0].ID, nil
}

var _ GraphWriter = (*RepositoryWriter)(nil)
