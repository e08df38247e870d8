// Package platoon implements the platoon maneuver coordinator: the per-tick
// state machine that cruises, overtakes, splits or asks neighbouring vehicles
// to make room, and the Manager that drives every active platoon.
package platoon

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

var (
	// ErrInvalidSplitIndex is returned by Split for an index that would
	// leave one half empty.
	ErrInvalidSplitIndex = errors.New("split index out of range")
	// ErrEmptyPlatoon is returned when building a platoon without members.
	ErrEmptyPlatoon = errors.New("platoon has no members")
	// ErrInvalidMerge is returned when a platoon is asked to absorb itself
	// or an empty platoon.
	ErrInvalidMerge = errors.New("invalid platoon merge")
)

// Radio is the V2V channel a platoon negotiates over.
type Radio interface {
	BroadcastPositions(ctx context.Context) []model.PositionReport
	RequestLaneChange(ctx context.Context, sender, recipient model.VehicleID)
}

// EventSink receives the maneuver events emitted by platoons.
type EventSink interface {
	Record(ctx context.Context, ev model.ManeuverEvent)
}

// Spec describes a platoon built from scratch.
type Spec struct {
	Size     int
	Position float64
	Lane     int
	Speed    float64
}

// Platoon is an ordered convoy. Index 0 of the member list is the leader, the
// only member that senses the road ahead and whose controller mode changes.
type Platoon struct {
	ID string

	members      []model.VehicleID
	desiredSpeed float64
	leader       model.VehicleID // external leader, "" when none

	state       model.ManeuverState
	stateStep   int
	lastRequest int
	step        int

	dims model.Dimensions
	mgr  *Manager
	log  logging.Logger
}

func (m *Manager) newPlatoon(members []model.VehicleID, speed float64) *Platoon {
	id := m.seq.NextPlatoon()
	p := &Platoon{
		ID:           id,
		members:      members,
		desiredSpeed: speed,
		state:        model.Cruising,
		lastRequest:  -m.cfg.DebounceSteps,
		mgr:          m,
		log:          m.log.With(logging.String("platoon", id)),
	}
	if len(members) > 0 {
		if dims, err := m.world.Dimensions(members[0]); err == nil {
			p.dims = dims
		}
	}
	return p
}

// Members returns a copy of the member list in convoy order.
func (p *Platoon) Members() []model.VehicleID {
	return slices.Clone(p.members)
}

// Len returns the number of members.
func (p *Platoon) Len() int {
	return len(p.members)
}

// Leader returns the member at the head of the convoy.
func (p *Platoon) Leader() (model.VehicleID, bool) {
	if len(p.members) == 0 {
		return "", false
	}
	return p.members[0], true
}

// ExternalLeader returns the non-member vehicle the platoon is following.
func (p *Platoon) ExternalLeader() (model.VehicleID, bool) {
	return p.leader, p.leader != ""
}

// State returns the current maneuver state.
func (p *Platoon) State() model.ManeuverState {
	return p.state
}

// StateStep returns the platoon step at which the state last changed.
func (p *Platoon) StateStep() int {
	return p.stateStep
}

// Step returns the platoon's internal step counter.
func (p *Platoon) Step() int {
	return p.step
}

// DesiredSpeed returns the cruising speed the leader reverts to when nothing
// is ahead.
func (p *Platoon) DesiredSpeed() float64 {
	return p.desiredSpeed
}

// Lane returns the lane of the leader.
func (p *Platoon) Lane() (int, error) {
	leader, ok := p.Leader()
	if !ok {
		return 0, ErrEmptyPlatoon
	}
	return p.mgr.world.LaneIndex(leader)
}

// SetDesiredSpeed changes the cruising speed and applies it to the leader.
func (p *Platoon) SetDesiredSpeed(ctx context.Context, speed float64) {
	p.desiredSpeed = speed
	if leader, ok := p.Leader(); ok {
		p.stale(ctx, "set desired speed", p.mgr.world.SetDesiredSpeed(leader, speed))
	}
}

func (p *Platoon) setState(ctx context.Context, s model.ManeuverState) {
	if s == p.state {
		return
	}
	from := p.state
	p.state = s
	p.stateStep = p.step
	p.log.Debug(ctx, "maneuver state changed",
		logging.String("from", from.String()),
		logging.String("to", s.String()),
		logging.Int("step", p.step),
	)
	p.record(ctx, model.ManeuverEvent{Kind: model.EventTransition, From: from, To: s})
}

// setLeader starts following an external vehicle.
func (p *Platoon) setLeader(ctx context.Context, id model.VehicleID) {
	if p.leader != id {
		p.log.Debug(ctx, "following external leader", logging.String("leader", string(id)))
	}
	p.leader = id
	p.stale(ctx, "set controller mode", p.mgr.world.SetControllerMode(p.members[0], model.LeaderFollowing))
}

// promoteLeader configures the head member after the head changed.
func (p *Platoon) promoteLeader(ctx context.Context) {
	leader, ok := p.Leader()
	if !ok {
		return
	}
	mode := model.Autonomous
	if p.leader != "" {
		mode = model.LeaderFollowing
	}
	p.stale(ctx, "set desired speed", p.mgr.world.SetDesiredSpeed(leader, p.desiredSpeed))
	p.stale(ctx, "set controller mode", p.mgr.world.SetControllerMode(leader, mode))
}

// changeLane moves every member one lane in direction d.
func (p *Platoon) changeLane(ctx context.Context, d model.Direction) error {
	target, exists, err := world.TargetLane(p.mgr.world, p.members[0], d)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("platoon %s: no lane %s of lane %d", p.ID, d, target-d.LaneDelta())
	}
	for _, id := range p.members {
		p.stale(ctx, "change lane", p.mgr.world.ChangeLane(id, target))
	}
	p.log.Info(ctx, "platoon changed lane",
		logging.String("direction", d.String()),
		logging.Int("lane", target),
		logging.Int("members", len(p.members)),
	)
	p.record(ctx, model.ManeuverEvent{Kind: model.EventLaneChange, Direction: d, Index: len(p.members)})
	return nil
}

func (p *Platoon) debounced(since int) bool {
	return p.step-since >= p.mgr.cfg.DebounceSteps
}

func (p *Platoon) approachDistance() float64 {
	if d := p.mgr.cfg.ApproachDistance; d > 0 {
		return d
	}
	return p.dims.Length + p.dims.MinGap
}

func (p *Platoon) record(ctx context.Context, ev model.ManeuverEvent) {
	if p.mgr.sink == nil {
		return
	}
	ev.PlatoonID = p.ID
	p.mgr.sink.Record(ctx, ev)
}

// stale absorbs errors caused by vehicles that have left the world.
func (p *Platoon) stale(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, world.ErrUnknownVehicle) {
		p.log.Debug(ctx, op+": stale vehicle reference", logging.Err(err))
		return
	}
	p.log.Warn(ctx, op+" failed", logging.Err(err))
}
