// Package changelist implements ontology versioning: proposed ontology edits
// are captured as changelist records that move through an approval workflow
// before being applied.
package changelist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/metagraph/ontology"
)

// Status is a changelist's position in the approval workflow
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusApplied    Status = "applied"
	StatusDeprecated Status = "deprecated"
	StatusReady      Status = "ready"
)

// Valid reports whether the status is one of the declared values
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected,
		StatusApplied, StatusDeprecated, StatusReady:
		return true
	}
	return false
}

// transitions maps each status to the statuses it may move to. Applied and
// deprecated are terminal; a rejected changelist is resubmitted as a new
// record rather than revived.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusDeprecated},
	StatusApproved: {StatusReady, StatusApplied, StatusRejected, StatusDeprecated},
	StatusReady:    {StatusApplied, StatusRejected, StatusDeprecated},
	StatusRejected: {StatusDeprecated},
}

// CanTransition reports whether a changelist may move from one status to
// another
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Record is one proposed batch of ontology edits. The payload snapshot is
// immutable once populated; only status and approvals mutate until the
// changelist is applied.
type Record struct {
	ID                  string          `json:"id"`
	ContainerID         string          `json:"container_id"`
	Name                string          `json:"name"`
	Status              Status          `json:"status"`
	BaseOntologyVersion string          `json:"base_ontology_version,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	CreatedBy           string          `json:"created_by,omitempty"`
	AppliedAt           *time.Time      `json:"applied_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ModifiedAt          time.Time       `json:"modified_at"`
}

// Validate checks the record's required fields
func (r *Record) Validate() error {
	if r.ContainerID == "" {
		return fmt.Errorf("changelist: container id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("changelist: name is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("changelist: unknown status %q", r.Status)
	}
	return nil
}

// Approval is one approval event for a changelist. Revocation hard-deletes
// approvals rather than flagging them.
type Approval struct {
	ID           string    `json:"id"`
	ChangelistID string    `json:"changelist_id"`
	ApprovedBy   string    `json:"approved_by"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// Snapshot is the ontology state a changelist captures at population time
type Snapshot struct {
	Metatypes         []*ontology.Metatype                 `json:"metatypes"`
	RelationshipPairs []*ontology.MetatypeRelationshipPair `json:"relationship_pairs"`
}
