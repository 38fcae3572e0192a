// Package events provides generic.Publisher implementations.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/insurance-engine/generic"
)

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher writes one structured log line per event. It is the audit
// trail when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log.WithField("component", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, events ...generic.Event) error {
	for _, ev := range events {
		fields := logrus.Fields{
			"event_id":       ev.ID,
			"event_type":     string(ev.Type),
			"aggregate_type": ev.AggregateType,
			"aggregate_id":   ev.AggregateID,
			"actor":          ev.ActorID,
		}
		if ev.EmployeeID != "" {
			fields["employee_id"] = string(ev.EmployeeID)
		}
		for k, v := range ev.Payload {
			fields["payload."+k] = v
		}
		p.log.WithFields(fields).Info("engine event")
	}
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []generic.Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, events ...generic.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []generic.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]generic.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t generic.EventType) []generic.Event {
	var out []generic.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// =============================================================================
// FAN-OUT
// =============================================================================

type multi []generic.Publisher

// Multi publishes to every publisher and joins their errors.
func Multi(publishers ...generic.Publisher) generic.Publisher {
	return multi(publishers)
}

func (m multi) Publish(ctx context.Context, events ...generic.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
