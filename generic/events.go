/*
events.go - Engine events consumed by audit and notification collaborators

PURPOSE:
  The engine does not own audit logging or notifications. It emits events
  after a write commits and hands them to a Publisher. Delivery failures
  never roll back the write that produced the event.

EVENT TYPES:
  profile.changed                Profile Ledger applied a grade/position change
  suggestion.*                   Grade Suggestion lifecycle
  report.created / finalized / exported
  change_record.created / approved / rejected / adjusted

IMPLEMENTATIONS:
  - events.LogPublisher:   structured log line per event
  - events.KafkaPublisher: one Kafka message per event
  - events.Recorder:       in-memory, for tests
*/
package generic

import (
	"context"
	"time"
)

type EventType string

const (
	EventProfileChanged      EventType = "profile.changed"
	EventSuggestionCreated   EventType = "suggestion.created"
	EventSuggestionApproved  EventType = "suggestion.approved"
	EventSuggestionRejected  EventType = "suggestion.rejected"
	EventSuggestionExpired   EventType = "suggestion.expired"
	EventReportCreated       EventType = "report.created"
	EventReportFinalized     EventType = "report.finalized"
	EventReportExported      EventType = "report.exported"
	EventChangeRecordCreated EventType = "change_record.created"
	EventChangeApproved      EventType = "change_record.approved"
	EventChangeRejected      EventType = "change_record.rejected"
	EventChangeAdjusted      EventType = "change_record.adjusted"
)

// Event records who did what when.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	AggregateType string         `json:"aggregate_type"` // "profile", "suggestion", "report", "change_record"
	AggregateID   string         `json:"aggregate_id"`
	EmployeeID    EmployeeID     `json:"employee_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewEvent fills id and timestamp.
func NewEvent(t EventType, aggregateType, aggregateID, actor string, payload map[string]any) Event {
	return Event{
		ID:            NewID("evt"),
		Type:          t,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		ActorID:       actor,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

// Publisher delivers events to external collaborators.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// SystemActor is recorded for writes made by scheduled jobs.
const SystemActor = "system"
