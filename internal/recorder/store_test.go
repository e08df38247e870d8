package recorder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTripsEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := logging.ContextWithRunID(context.Background(), "run-1")

	events := []model.ManeuverEvent{
		{Step: 3, PlatoonID: "p.0", Kind: model.EventTransition, From: model.Cruising, To: model.OvertakingRight},
		{Step: 3, PlatoonID: "p.0", Kind: model.EventLaneChange, Direction: model.Right, Index: 6},
		{Step: 4, PlatoonID: "p.0", Kind: model.EventSplit, Index: 3, Detail: "p.1"},
		{Step: 5, PlatoonID: "p.1", Kind: model.EventV2VRequest, Vehicle: "v.0"},
	}
	for _, ev := range events {
		s.Record(ctx, ev)
	}

	got, err := s.Events(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, events, got)

	p1, err := s.Events(ctx, "p.1")
	require.NoError(t, err)
	require.Len(t, p1, 1)
	assert.Equal(t, model.VehicleID("v.0"), p1[0].Vehicle)

	var row EventRow
	require.NoError(t, s.db.First(&row).Error)
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, "OVERTAKING_RIGHT", row.ToState)
}

func TestStoreCountsByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for range 3 {
		s.Record(ctx, model.ManeuverEvent{PlatoonID: "p.0", Kind: model.EventV2VBroadcast})
	}
	s.Record(ctx, model.ManeuverEvent{PlatoonID: "p.0", Kind: model.EventMerge})

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.EventKind]int64{
		model.EventV2VBroadcast: 3,
		model.EventMerge:        1,
	}, counts)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

type captureSink struct {
	events []model.ManeuverEvent
	closed bool
}

func (c *captureSink) Record(_ context.Context, ev model.ManeuverEvent) {
	c.events = append(c.events, ev)
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

func TestMultiFansOutAndCloses(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	m := Multi(a, nil, b)
	require.Len(t, m, 2)

	ev := model.ManeuverEvent{Kind: model.EventMerge, PlatoonID: "p.0"}
	m.Record(context.Background(), ev)
	assert.Equal(t, []model.ManeuverEvent{ev}, a.events)
	assert.Equal(t, []model.ManeuverEvent{ev}, b.events)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
