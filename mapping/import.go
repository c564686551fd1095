package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/ontology"
)

// importConcurrency bounds how many mappings import in parallel
const importConcurrency = 4

// ImportResult reports one mapping's import outcome. Imports are independent:
// one failure never rolls back the others.
type ImportResult struct {
	SourceMappingID string `json:"source_mapping_id"`
	MappingID       string `json:"mapping_id,omitempty"`
	Err             error  `json:"-"`
	Error           string `json:"error,omitempty"`
}

// ImportMappings copies exported mappings into a destination data source.
// Each mapping is rewritten through PrepareForImport, its ontology references
// are re-resolved by name against the destination container, its shape hash
// is recomputed from the sample payload, and the result is saved inactive.
func (e *Engine) ImportMappings(ctx context.Context, mappings []*TypeMapping, targetContainerID, targetDataSourceID string, ont ontology.Store) ([]ImportResult, error) {
	resolver, err := newOntologyResolver(ctx, ont, targetContainerID)
	if err != nil {
		return nil, errors.Wrap(err, "MappingEngine", "ImportMappings", "destination ontology read")
	}

	results := make([]ImportResult, len(mappings))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)

	for i, source := range mappings {
		i, source := i, source
		g.Go(func() error {
			result := ImportResult{SourceMappingID: source.ID}

			imported, err := e.importOne(ctx, source, targetContainerID, targetDataSourceID, resolver)
			if err != nil {
				result.Err = err
				result.Error = err.Error()
			} else {
				result.MappingID = imported.ID
			}

			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; the group only propagates cancellation
	if err := g.Wait(); err != nil {
		return results, errors.Wrap(err, "MappingEngine", "ImportMappings", "import batch")
	}
	return results, nil
}

func (e *Engine) importOne(ctx context.Context, source *TypeMapping, targetContainerID, targetDataSourceID string, resolver *ontologyResolver) (*TypeMapping, error) {
	if len(source.SamplePayload) == 0 {
		return nil, fmt.Errorf("mapping %s: no sample payload to derive shape from", source.ID)
	}

	var sample map[string]any
	if err := json.Unmarshal(source.SamplePayload, &sample); err != nil {
		return nil, fmt.Errorf("mapping %s: sample payload decode: %w", source.ID, err)
	}

	prepared := source.PrepareForImport(targetContainerID, targetDataSourceID)
	prepared.ShapeHash = ShapeHash(sample)

	for _, tr := range prepared.Transformations {
		if err := resolver.backfill(tr); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", source.ID, err)
		}
	}

	if err := e.Save(ctx, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// ontologyResolver resolves metatype, relationship pair, and key names
// against one container's ontology snapshot.
type ontologyResolver struct {
	metatypes map[string]*ontology.Metatype
	keys      map[string]string
	pairs     map[string]string
}

func newOntologyResolver(ctx context.Context, ont ontology.Store, containerID string) (*ontologyResolver, error) {
	metatypes, err := ont.ListMetatypes(ctx, containerID, true)
	if err != nil {
		return nil, err
	}
	pairs, err := ont.ListRelationshipPairs(ctx, containerID)
	if err != nil {
		return nil, err
	}

	r := &ontologyResolver{
		metatypes: make(map[string]*ontology.Metatype, len(metatypes)),
		keys:      make(map[string]string),
		pairs:     make(map[string]string, len(pairs)),
	}
	for _, m := range metatypes {
		r.metatypes[m.Name] = m
		for _, k := range m.Keys {
			r.keys[m.Name+"\x00"+k.PropertyName] = k.ID
		}
	}
	for _, p := range pairs {
		r.pairs[p.Name()] = p.ID
	}
	return r, nil
}

// backfill fills in a transformation's destination-container ids from the
// names PrepareForImport preserved.
func (r *ontologyResolver) backfill(tr *TypeTransformation) error {
	if tr.TargetsMetatype() && tr.MetatypeID == "" {
		metatype, ok := r.metatypes[tr.MetatypeName]
		if !ok {
			return fmt.Errorf("metatype %q not found in destination container", tr.MetatypeName)
		}
		tr.MetatypeID = metatype.ID

		for i := range tr.Keys {
			km := &tr.Keys[i]
			if km.MetatypeKeyName == "" || km.MetatypeKeyID != "" {
				continue
			}
			keyID, ok := r.keys[tr.MetatypeName+"\x00"+km.MetatypeKeyName]
			if !ok {
				return fmt.Errorf("metatype %q has no key %q in destination container",
					tr.MetatypeName, km.MetatypeKeyName)
			}
			km.MetatypeKeyID = keyID
		}
	}

	if tr.TargetsRelationship() && tr.RelationshipPairID == "" {
		pairID, ok := r.pairs[tr.RelationshipPairName]
		if !ok {
			return fmt.Errorf("relationship pair %q not found in destination container", tr.RelationshipPairName)
		}
		tr.RelationshipPairID = pairID
	}

	return nil
}
