// Package events publishes warehouse change notifications over NATS.
// Publication is best effort: a failed or absent connection is logged and
// never fails the mutation that produced the event.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects for warehouse change events
const (
	SubjectOntologyChanged = "metagraph.ontology.changed"
	SubjectMappingSaved    = "metagraph.mapping.saved"
	SubjectGraphMutated    = "metagraph.graph.mutated"
)

// Event is one warehouse change notification
type Event struct {
	Subject     string    `json:"-"`
	ContainerID string    `json:"container_id"`
	ObjectID    string    `json:"object_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// conn is the slice of the NATS connection the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits change events. A nil *Publisher is valid and publishes
// nothing, so callers without NATS configured need no guards.
type Publisher struct {
	conn   conn
	logger *slog.Logger
}

// NewPublisher creates an event publisher over a NATS connection. A nil
// connection yields a publisher that publishes nothing.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if nc == nil {
		return newPublisher(nil, logger)
	}
	return newPublisher(nc, logger)
}

func newPublisher(nc conn, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   nc,
		logger: logger.With("component", "events"),
	}
}

// OntologyChanged announces an ontology mutation in a container. Gateways
// listening on this subject drop their cached schema for the container.
func (p *Publisher) OntologyChanged(containerID string) {
	p.publish(Event{Subject: SubjectOntologyChanged, ContainerID: containerID})
}

// MappingSaved announces a type mapping create or update
func (p *Publisher) MappingSaved(containerID, mappingID string) {
	p.publish(Event{Subject: SubjectMappingSaved, ContainerID: containerID, ObjectID: mappingID})
}

// GraphMutated announces node or edge writes in a container
func (p *Publisher) GraphMutated(containerID string) {
	p.publish(Event{Subject: SubjectGraphMutated, ContainerID: containerID})
}

func (p *Publisher) publish(event Event) {
	if p == nil || p.conn == nil {
		return
	}
	event.OccurredAt = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("event encode failed", "subject", event.Subject, "error", err)
		return
	}
	if err := p.conn.Publish(event.Subject, data); err != nil {
		p.logger.Warn("event publish failed",
			"subject", event.Subject,
			"container_id", event.ContainerID,
			"error", err)
	}
}

// SubscribeOntologyChanged invokes handler with the container id of every
// ontology change event. The subscription lives until the connection closes.
func SubscribeOntologyChanged(nc *nats.Conn, logger *slog.Logger, handler func(containerID string)) (*nats.Subscription, error) {
	return nc.Subscribe(SubjectOntologyChanged, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("event decode failed", "subject", msg.Subject, "error", err)
			return
		}
		handler(event.ContainerID)
	})
}
