package events

import (
	"encoding/json"
	"time"

	contractsv1 "boostpanel/contracts/gen/events/v1"
)

// Envelope is the shared event shape used across Boostpanel.
// Align fields with repository canonical event contract.
type Envelope = contractsv1.Envelope

// Fulfillment pipeline topics. The bus derives the dead-letter channel per
// topic (<topic>.dlq) once the retry budget is spent.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderProgress  = "order.progress"
	TopicOrderCompleted = "order.completed"
)

// New builds an envelope with the repository conventions: trace id defaults
// to the event id and the schema version starts at 1.
func New(eventID, eventType, source, partitionKeyPath, partitionKey string, occurredAt time.Time, data any) (Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    source,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		Data:             payload,
	}, nil
}
