// Package ingest receives semi-structured records for a data source,
// validates them, and stages them into the graph through the type-mapping
// engine.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/metagraph/errors"
)

// DataSource is one configured inbound feed. PayloadSchema optionally holds
// a JSON Schema document; when present, every incoming payload is validated
// against it before mapping.
type DataSource struct {
	ID            string          `json:"id"`
	ContainerID   string          `json:"container_id"`
	Name          string          `json:"name"`
	Active        bool            `json:"active"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`

	compiled *gojsonschema.Schema
}

// Validate checks the data source and compiles its payload schema
func (d *DataSource) Validate() error {
	if d.ID == "" {
		return errors.WrapValidation(errors.ErrMissingField, "DataSource", "Validate", "id is required")
	}
	if d.ContainerID == "" {
		return errors.WrapValidation(errors.ErrMissingField, "DataSource", "Validate", "container id is required")
	}

	if len(d.PayloadSchema) == 0 {
		return nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(d.PayloadSchema))
	if err != nil {
		return errors.WrapValidation(err, "DataSource", "Validate", "payload schema compile")
	}
	d.compiled = compiled
	return nil
}

// ValidatePayload checks one payload against the source's schema. Sources
// without a schema accept everything.
func (d *DataSource) ValidatePayload(payload map[string]any) error {
	if d.compiled == nil {
		return nil
	}

	result, err := d.compiled.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return errors.WrapValidation(err, "DataSource", "ValidatePayload", "schema validation")
	}
	if result.Valid() {
		return nil
	}

	batch := &errors.BatchError{Failures: map[string]error{}}
	for _, issue := range result.Errors() {
		batch.Add(issue.Field(), fmt.Errorf("%s", issue.Description()))
	}
	return errors.WrapValidation(batch, "DataSource", "ValidatePayload", "payload rejected by schema")
}
