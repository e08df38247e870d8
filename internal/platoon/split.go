package platoon

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/observability"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Split cuts the platoon before member i. The receiver keeps members [0, i)
// together with its identity, speed and state. The rear members [i, n) form a
// new cruising platoon that is registered with the Manager and becomes active
// from the next tick.
func (p *Platoon) Split(ctx context.Context, i int) (*Platoon, error) {
	n := len(p.members)
	if i < 1 || i >= n {
		err := fmt.Errorf("platoon %s: %w: %d not in [1, %d)", p.ID, ErrInvalidSplitIndex, i, n)
		p.log.Error(ctx, "refusing split", logging.Err(err))
		return nil, err
	}
	ctx, span := observability.StartChildSpan(ctx, "platoon.Split", "platoon", p.ID, attribute.Int("index", i))
	defer span.End()

	front := slices.Clone(p.members[:i])
	back := slices.Clone(p.members[i:])
	p.members = front

	rear := p.mgr.newPlatoon(back, p.desiredSpeed)
	rear.step = p.step
	rear.stateStep = p.step
	rear.lastRequest = p.step - p.mgr.cfg.DebounceSteps
	rear.promoteLeader(ctx)
	p.mgr.Add(rear)

	p.log.Info(ctx, "platoon split",
		logging.Int("index", i),
		logging.String("rear", rear.ID),
		logging.Int("front_members", len(front)),
		logging.Int("rear_members", len(back)),
	)
	p.record(ctx, model.ManeuverEvent{Kind: model.EventSplit, Index: i, Detail: rear.ID})
	return rear, nil
}

// Absorb appends every member of rear to the receiver and leaves rear empty.
// The absorbed members switch to cooperative following at the receiver's
// desired speed.
func (p *Platoon) Absorb(ctx context.Context, rear *Platoon) error {
	if rear == nil || rear == p || len(rear.members) == 0 {
		return fmt.Errorf("platoon %s: %w", p.ID, ErrInvalidMerge)
	}
	ctx, span := observability.StartChildSpan(ctx, "platoon.Absorb", "platoon", p.ID, attribute.String("rear", rear.ID))
	defer span.End()

	w := p.mgr.world
	for _, id := range rear.members {
		p.stale(ctx, "set controller mode", w.SetControllerMode(id, model.CooperativeFollowing))
		p.stale(ctx, "set desired speed", w.SetDesiredSpeed(id, p.desiredSpeed))
	}
	p.members = append(p.members, rear.members...)
	rear.members = nil
	rear.leader = ""

	p.log.Info(ctx, "platoon merged",
		logging.String("absorbed", rear.ID),
		logging.Int("members", len(p.members)),
	)
	p.record(ctx, model.ManeuverEvent{Kind: model.EventMerge, Index: len(p.members), Detail: rear.ID})
	return nil
}
