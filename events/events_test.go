package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/events"
	"github.com/warp/insurance-engine/generic"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, ...generic.Event) error { return f.err }

func profileEvent() generic.Event {
	ev := generic.NewEvent(generic.EventProfileChanged, "profile", "profile-1", "hr-admin", map[string]any{"grade": 3})
	ev.EmployeeID = "E1"
	return ev
}

func TestKafkaPublisher_KeysByEmployeeAndEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w)

	report := generic.NewEvent(generic.EventReportFinalized, "report", "rpt-1", "hr-admin", nil)
	require.NoError(t, p.Publish(context.Background(), profileEvent(), report))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "E1", string(w.msgs[0].Key))
	assert.Equal(t, "rpt-1", string(w.msgs[1].Key), "events without employee are keyed by aggregate")

	var decoded generic.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, generic.EventProfileChanged, decoded.Type)
	assert.Equal(t, generic.EmployeeID("E1"), decoded.EmployeeID)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, string(generic.EventProfileChanged), string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := events.NewKafkaPublisherWithWriter(&fakeWriter{err: boom})

	err := p.Publish(context.Background(), profileEvent())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, p.Publish(context.Background()))
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	rec := events.NewRecorder()
	boom := errors.New("sink failed")
	pub := events.Multi(failingPublisher{err: boom}, rec)

	err := pub.Publish(context.Background(), profileEvent())

	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1, "later publishers still receive the event")
}

func TestLogPublisher_OneEntryPerEvent(t *testing.T) {
	log, hook := test.NewNullLogger()
	pub := events.NewLogPublisher(log)

	require.NoError(t, pub.Publish(context.Background(), profileEvent(), profileEvent()))

	require.Len(t, hook.AllEntries(), 2)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "profile.changed", entry.Data["event_type"])
	assert.Equal(t, "E1", entry.Data["employee_id"])
	assert.Equal(t, 3, entry.Data["payload.grade"])
}

func TestRecorder_OfType(t *testing.T) {
	rec := events.NewRecorder()
	_ = rec.Publish(context.Background(),
		profileEvent(),
		generic.NewEvent(generic.EventReportCreated, "report", "rpt-1", "a", nil),
	)

	assert.Len(t, rec.OfType(generic.EventReportCreated), 1)
	assert.Empty(t, rec.OfType(generic.EventReportExported))
}
