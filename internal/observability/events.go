package observability

import (
	"context"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Record counts a maneuver event. It lets the collector sit in the same
// event fan-out as the recorders.
func (c *SimCollector) Record(_ context.Context, ev model.ManeuverEvent) {
	if c == nil {
		return
	}
	switch ev.Kind {
	case model.EventTransition:
		c.Transitions.WithLabelValues(ev.From.String(), ev.To.String()).Inc()
	case model.EventSplit:
		c.Splits.Inc()
	case model.EventMerge:
		c.Merges.Inc()
	case model.EventLaneChange:
		c.LaneChanges.WithLabelValues(ev.Direction.String()).Inc()
	case model.EventV2VRequest:
		c.Requests.WithLabelValues(model.RequestLaneChangeManeuver.String()).Inc()
	case model.EventV2VBroadcast:
		c.Broadcasts.Inc()
	}
}
