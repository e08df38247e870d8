package platoon

import (
	"context"
	"errors"
	"math"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// laneOption is the lateral assessment of one direction.
type laneOption struct {
	dir     model.Direction
	split   int               // members that can move now
	escort  int               // members whose blockers all answered V2V
	escorts []model.VehicleID // blockers to ask, in convoy order
}

// Tick runs one evaluation of the state machine. Rules run in order and a
// later rule may override an earlier one within the same tick.
func (p *Platoon) Tick(ctx context.Context) {
	p.dropDeparted(ctx)
	if len(p.members) == 0 {
		return
	}

	p.relay(ctx)

	candidate, found := p.senseLeader(ctx)
	if !found {
		p.loseLeader(ctx)
	}

	if p.state.IsOvertaking() {
		p.completeOvertake(ctx)
	}

	if found && !model.IsPlatoonVehicle(candidate.ID) {
		p.followCandidate(ctx, candidate)
	}

	p.step++
}

// dropDeparted forgets members that have left the world.
func (p *Platoon) dropDeparted(ctx context.Context) {
	if len(p.members) == 0 {
		return
	}
	head := p.members[0]
	kept := make([]model.VehicleID, 0, len(p.members))
	for _, id := range p.members {
		if _, err := p.mgr.world.LaneIndex(id); errors.Is(err, world.ErrUnknownVehicle) {
			continue
		}
		kept = append(kept, id)
	}
	if len(kept) == len(p.members) {
		return
	}
	p.log.Debug(ctx, "members left the road",
		logging.Int("before", len(p.members)),
		logging.Int("after", len(kept)),
	)
	p.members = kept
	if len(kept) > 0 && kept[0] != head {
		p.promoteLeader(ctx)
	}
}

// relay forwards leader and predecessor kinematics to every member's
// controller. The head receives the external leader's data, if any.
func (p *Platoon) relay(ctx context.Context) {
	w := p.mgr.world
	for i, id := range p.members {
		var leader, front model.VehicleID
		frontLength := p.dims.Length
		if i == 0 {
			if p.leader == "" {
				continue
			}
			leader, front = p.leader, p.leader
			if dims, err := w.Dimensions(front); err == nil {
				frontLength = dims.Length
			}
		} else {
			leader, front = p.members[0], p.members[i-1]
		}

		lk, err := w.Kinematics(leader)
		if err != nil {
			p.stale(ctx, "relay leader data", err)
			continue
		}
		fk, err := w.Kinematics(front)
		if err != nil {
			p.stale(ctx, "relay front data", err)
			continue
		}
		own, err := w.Position(id)
		if err != nil {
			p.stale(ctx, "relay", err)
			continue
		}
		feed := model.ControllerFeed{
			Leader:        lk,
			Front:         fk,
			FrontDistance: fk.Position.X - frontLength - own.X,
		}
		p.stale(ctx, "relay", w.RelayKinematics(id, feed))
	}
}

func (p *Platoon) senseLeader(ctx context.Context) (model.Neighbor, bool) {
	rng := p.mgr.cfg.RadarRange
	n, ok, err := p.mgr.world.LeaderAhead(p.members[0], rng)
	if err != nil {
		p.stale(ctx, "sense leader", err)
		return model.Neighbor{}, false
	}
	if !ok || n.Gap > rng {
		return model.Neighbor{}, false
	}
	return n, true
}

// loseLeader reverts the head to autonomous cruising at the desired speed.
func (p *Platoon) loseLeader(ctx context.Context) {
	if p.leader != "" {
		p.log.Debug(ctx, "external leader lost", logging.String("leader", string(p.leader)))
	}
	p.leader = ""
	head := p.members[0]
	p.stale(ctx, "set desired speed", p.mgr.world.SetDesiredSpeed(head, p.desiredSpeed))
	p.stale(ctx, "set controller mode", p.mgr.world.SetControllerMode(head, model.Autonomous))
	if p.state == model.RequestLeaderLaneChange {
		p.setState(ctx, model.Cruising)
	}
}

// completeOvertake moves the whole platoon back once the lane it left is
// free along its full length and nothing is diagonally ahead there.
func (p *Platoon) completeOvertake(ctx context.Context) {
	d, _ := p.state.Direction()
	back := d.Opposite()
	if p.splitIndex(ctx, back) != len(p.members) {
		return
	}
	reach := p.dims.Length + p.dims.MinGap
	exists, err := world.VehicleToOvertakeExists(p.mgr.world, p.members[0], back, reach)
	if err != nil {
		p.stale(ctx, "overtake check", err)
		return
	}
	if exists {
		return
	}
	if err := p.changeLane(ctx, back); err != nil {
		p.log.Warn(ctx, "return lane change failed", logging.Err(err))
		return
	}
	p.setState(ctx, model.Cruising)
}

func (p *Platoon) followCandidate(ctx context.Context, candidate model.Neighbor) {
	if candidate.ID != p.leader {
		p.setState(ctx, model.Cruising)
	}
	p.setLeader(ctx, candidate.ID)

	speed, err := p.mgr.world.Speed(p.members[0])
	if err != nil {
		p.stale(ctx, "leader speed", err)
		return
	}
	if candidate.Gap >= p.approachDistance() || speed >= p.desiredSpeed {
		return
	}
	p.negotiate(ctx, candidate)
}

// negotiate runs when the platoon is held up by the vehicle ahead.
func (p *Platoon) negotiate(ctx context.Context, candidate model.Neighbor) {
	reports := p.mgr.radio.BroadcastPositions(ctx)

	if p.answered(ctx, candidate.ID, reports) {
		if p.state != model.RequestLeaderLaneChange || p.debounced(p.lastRequest) {
			p.request(ctx, candidate.ID)
		}
		p.setState(ctx, model.RequestLeaderLaneChange)
		return
	}
	if p.state == model.RequestLeaderLaneChange {
		// The vehicle ahead went silent; fall back to lateral options.
		p.setState(ctx, model.Cruising)
	}

	responders := make(map[model.VehicleID]bool, len(reports))
	for _, r := range reports {
		responders[r.ID] = true
	}
	var options [len(model.Directions)]laneOption
	for i, d := range model.Directions {
		options[i] = p.assess(ctx, d, responders)
	}

	switch {
	case p.state.IsRequestingVehicles():
		d, _ := p.state.Direction()
		p.continueRequest(ctx, options[d])
	case p.state == model.Cruising:
		p.startManeuver(ctx, options)
	}
}

// answered reports whether a broadcast answer places a vehicle on top of the
// candidate, i.e. the candidate itself speaks V2V.
func (p *Platoon) answered(ctx context.Context, candidate model.VehicleID, reports []model.PositionReport) bool {
	if len(reports) == 0 {
		return false
	}
	pos, err := p.mgr.world.Position(candidate)
	if err != nil {
		p.stale(ctx, "candidate position", err)
		return false
	}
	tol := p.mgr.cfg.ProximityTolerance
	for _, r := range reports {
		if math.Hypot(r.X-pos.X, r.Y-pos.Y) <= tol {
			return true
		}
	}
	return false
}

func (p *Platoon) continueRequest(ctx context.Context, o laneOption) {
	n := len(p.members)
	settled := p.debounced(p.stateStep)
	switch {
	case o.split == n && settled:
		p.overtake(ctx, o.dir)
	case o.split >= p.mgr.cfg.MinSplit && settled:
		p.splitAndOvertake(ctx, o.split, o.dir)
	case o.escort > 0 && len(o.escorts) > 0:
		if p.debounced(p.lastRequest) {
			p.requestAll(ctx, o.escorts)
		}
	default:
		p.log.Debug(ctx, "negotiation abandoned", logging.String("direction", o.dir.String()))
		p.setState(ctx, model.Cruising)
	}
}

// startManeuver picks the first viable option: a full lane change, then an
// escort request, then a split. Left is tried before right at each level.
func (p *Platoon) startManeuver(ctx context.Context, options [len(model.Directions)]laneOption) {
	n := len(p.members)
	m := p.mgr.cfg.MinSplit
	for _, o := range options {
		if o.split == n {
			p.overtake(ctx, o.dir)
			return
		}
	}
	for _, o := range options {
		if o.escort >= m && len(o.escorts) > 0 {
			p.requestAll(ctx, o.escorts)
			p.setState(ctx, model.RequestVehiclesState(o.dir))
			return
		}
	}
	for _, o := range options {
		if o.split >= m {
			p.splitAndOvertake(ctx, o.split, o.dir)
			return
		}
	}
}

func (p *Platoon) overtake(ctx context.Context, d model.Direction) {
	if err := p.changeLane(ctx, d); err != nil {
		p.log.Warn(ctx, "overtake lane change failed", logging.Err(err))
		return
	}
	p.setState(ctx, model.OvertakingState(d))
}

func (p *Platoon) splitAndOvertake(ctx context.Context, i int, d model.Direction) {
	if _, err := p.Split(ctx, i); err != nil {
		return
	}
	p.overtake(ctx, d)
}

func (p *Platoon) assess(ctx context.Context, d model.Direction, responders map[model.VehicleID]bool) laneOption {
	o := laneOption{dir: d, split: p.splitIndex(ctx, d)}
	o.escort, o.escorts = p.escortIndex(ctx, d, responders)
	return o
}

// splitIndex returns the first member that cannot change lane in direction
// d, or the platoon length when every member can.
func (p *Platoon) splitIndex(ctx context.Context, d model.Direction) int {
	for i, id := range p.members {
		ok, err := world.CanChangeLane(p.mgr.world, id, d, p.dims.Length)
		if err != nil {
			p.stale(ctx, "clearance check", err)
			return i
		}
		if !ok {
			return i
		}
	}
	return len(p.members)
}

// escortIndex returns the length of the longest member prefix whose blockers
// in direction d all answered the broadcast, together with those blockers.
func (p *Platoon) escortIndex(ctx context.Context, d model.Direction, responders map[model.VehicleID]bool) (int, []model.VehicleID) {
	var (
		escorts []model.VehicleID
		seen    = make(map[model.VehicleID]bool)
	)
	for i, id := range p.members {
		_, exists, err := world.TargetLane(p.mgr.world, id, d)
		if err != nil {
			p.stale(ctx, "escort check", err)
			return i, escorts
		}
		if !exists {
			return i, escorts
		}
		blocking, err := world.Blocking(p.mgr.world, id, d, p.dims.Length)
		if err != nil {
			p.stale(ctx, "escort check", err)
			return i, escorts
		}
		for _, b := range blocking {
			if !responders[b.ID] {
				return i, escorts
			}
		}
		for _, b := range blocking {
			if !seen[b.ID] {
				seen[b.ID] = true
				escorts = append(escorts, b.ID)
			}
		}
	}
	return len(p.members), escorts
}

func (p *Platoon) request(ctx context.Context, recipient model.VehicleID) {
	p.mgr.radio.RequestLaneChange(ctx, p.members[0], recipient)
	p.lastRequest = p.step
	p.log.Debug(ctx, "lane change requested", logging.String("recipient", string(recipient)))
}

func (p *Platoon) requestAll(ctx context.Context, recipients []model.VehicleID) {
	for _, id := range recipients {
		p.request(ctx, id)
	}
}
