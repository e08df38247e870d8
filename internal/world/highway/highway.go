// Package highway is an in-memory world model: a straight multi-lane road on
// which every vehicle has a longitudinal position, a lane and a speed. It is
// deliberately simple; longitudinal control is a constant-acceleration step
// towards a target speed derived from the selected controller mode.
package highway

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// ErrInvalidLane is returned when a lane index is outside the road.
var ErrInvalidLane = errors.New("lane index out of range")

// ErrVehicleExists is returned when spawning an ID that is already present.
var ErrVehicleExists = errors.New("vehicle already present")

// Config describes the road and the shared vehicle type.
type Config struct {
	Lanes     int
	Length    float64 // vehicles past Length leave the road; 0 means unbounded
	LaneWidth float64

	Vehicle model.Dimensions

	Acceleration float64 // m/s²
	Deceleration float64 // m/s², positive
	Headway      float64 // s, autonomous time gap
	SensorRange  float64
	GapGain      float64 // cooperative spacing correction, 1/s
}

// DefaultConfig mirrors the freeway the coordinator was tuned on: four
// lanes, 4 m cars with a 5 m minimum gap.
func DefaultConfig() Config {
	return Config{
		Lanes:        4,
		LaneWidth:    3.2,
		Vehicle:      model.Dimensions{Length: 4, MinGap: 5},
		Acceleration: 2.5,
		Deceleration: 6,
		Headway:      1.2,
		SensorRange:  160,
		GapGain:      0.5,
	}
}

type vehicle struct {
	id      model.VehicleID
	x       float64 // front bumper
	lane    int
	speed   float64
	accel   float64
	desired float64
	mode    model.ControllerMode
	feed    model.ControllerFeed
	hasFeed bool
	dims    model.Dimensions
}

// World implements world.Model and world.Stepper.
type World struct {
	mu       sync.RWMutex
	cfg      Config
	vehicles map[model.VehicleID]*vehicle
	time     float64
}

var (
	_ world.Model   = (*World)(nil)
	_ world.Stepper = (*World)(nil)
)

// New constructs an empty road.
func New(cfg Config) *World {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.SensorRange <= 0 {
		cfg.SensorRange = DefaultConfig().SensorRange
	}
	return &World{
		cfg:      cfg,
		vehicles: make(map[model.VehicleID]*vehicle),
	}
}

func (w *World) get(id model.VehicleID) (*vehicle, error) {
	v, ok := w.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", world.ErrUnknownVehicle, id)
	}
	return v, nil
}

// SpawnVehicle inserts a vehicle at spec.Position in spec.Lane. A non-zero
// spec.Gap overrides the minimum gap of the vehicle type.
func (w *World) SpawnVehicle(spec model.SpawnSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.vehicles[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrVehicleExists, spec.ID)
	}
	if spec.Lane < 0 || spec.Lane >= w.cfg.Lanes {
		return fmt.Errorf("spawn %s: %w: %d", spec.ID, ErrInvalidLane, spec.Lane)
	}
	dims := w.cfg.Vehicle
	if spec.Gap > 0 {
		dims.MinGap = spec.Gap
	}
	w.vehicles[spec.ID] = &vehicle{
		id:      spec.ID,
		x:       spec.Position,
		lane:    spec.Lane,
		speed:   spec.Speed,
		desired: spec.Speed,
		dims:    dims,
	}
	return nil
}

// Remove takes a vehicle off the road. Unknown IDs are ignored.
func (w *World) Remove(id model.VehicleID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.vehicles, id)
}

// SetSpeed overrides the current speed of a vehicle.
func (w *World) SetSpeed(id model.VehicleID, speed float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.get(id)
	if err != nil {
		return err
	}
	v.speed = speed
	return nil
}

func (w *World) LaneIndex(id model.VehicleID) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return 0, err
	}
	return v.lane, nil
}

func (w *World) LaneCount(id model.VehicleID) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, err := w.get(id); err != nil {
		return 0, err
	}
	return w.cfg.Lanes, nil
}

// Adjacent returns the nearest leader and the nearest follower in the lane
// next to id. Gaps are bumper to bumper and go negative on overlap.
func (w *World) Adjacent(id model.VehicleID, d model.Direction) (model.AdjacentTraffic, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return model.AdjacentTraffic{}, err
	}
	lane := v.lane + d.LaneDelta()
	if lane < 0 || lane >= w.cfg.Lanes {
		return model.AdjacentTraffic{}, nil
	}

	var (
		leader, follower       *vehicle
		leaderGap, followerGap = math.Inf(1), math.Inf(1)
	)
	for _, o := range w.vehicles {
		if o.id == id || o.lane != lane {
			continue
		}
		if o.x >= v.x {
			gap := o.x - o.dims.Length - v.x
			if gap < leaderGap {
				leader, leaderGap = o, gap
			}
			continue
		}
		gap := v.x - v.dims.Length - o.x
		if gap < followerGap {
			follower, followerGap = o, gap
		}
	}

	var traffic model.AdjacentTraffic
	if leader != nil {
		traffic.Leaders = append(traffic.Leaders, model.Neighbor{ID: leader.id, Gap: leaderGap})
	}
	if follower != nil {
		traffic.Followers = append(traffic.Followers, model.Neighbor{ID: follower.id, Gap: followerGap})
	}
	return traffic, nil
}

func (w *World) LeaderAhead(id model.VehicleID, maxRange float64) (model.Neighbor, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return model.Neighbor{}, false, err
	}
	leader, gap, ok := w.leaderLocked(v, maxRange)
	if !ok {
		return model.Neighbor{}, false, nil
	}
	return model.Neighbor{ID: leader.id, Gap: gap}, true, nil
}

func (w *World) leaderLocked(v *vehicle, maxRange float64) (*vehicle, float64, bool) {
	var (
		best    *vehicle
		bestGap = math.Inf(1)
	)
	for _, o := range w.vehicles {
		if o.id == v.id || o.lane != v.lane || o.x <= v.x {
			continue
		}
		gap := o.x - o.dims.Length - v.x
		if gap <= maxRange && gap < bestGap {
			best, bestGap = o, gap
		}
	}
	return best, bestGap, best != nil
}

func (w *World) Speed(id model.VehicleID) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return 0, err
	}
	return v.speed, nil
}

func (w *World) Position(id model.VehicleID) (model.Position, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return model.Position{}, err
	}
	return w.positionOf(v), nil
}

func (w *World) positionOf(v *vehicle) model.Position {
	return model.Position{X: v.x, Y: float64(v.lane) * w.cfg.LaneWidth}
}

func (w *World) Kinematics(id model.VehicleID) (model.Kinematics, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return model.Kinematics{}, err
	}
	return model.Kinematics{
		Speed:        v.speed,
		Acceleration: v.accel,
		Position:     w.positionOf(v),
		Time:         w.time,
	}, nil
}

func (w *World) Dimensions(id model.VehicleID) (model.Dimensions, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, err := w.get(id)
	if err != nil {
		return model.Dimensions{}, err
	}
	return v.dims, nil
}

func (w *World) ChangeLane(id model.VehicleID, lane int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.get(id)
	if err != nil {
		return err
	}
	if lane < 0 || lane >= w.cfg.Lanes {
		return fmt.Errorf("change lane of %s: %w: %d", id, ErrInvalidLane, lane)
	}
	v.lane = lane
	return nil
}

func (w *World) SetDesiredSpeed(id model.VehicleID, speed float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.get(id)
	if err != nil {
		return err
	}
	v.desired = speed
	return nil
}

func (w *World) SetControllerMode(id model.VehicleID, mode model.ControllerMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.get(id)
	if err != nil {
		return err
	}
	v.mode = mode
	return nil
}

func (w *World) RelayKinematics(id model.VehicleID, feed model.ControllerFeed) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, err := w.get(id)
	if err != nil {
		return err
	}
	v.feed = feed
	v.hasFeed = true
	return nil
}

// VehicleState is a read-only snapshot of one vehicle.
type VehicleState struct {
	ID           model.VehicleID
	X            float64
	Lane         int
	Speed        float64
	DesiredSpeed float64
	Mode         model.ControllerMode
}

// Vehicle returns the snapshot of a single vehicle.
func (w *World) Vehicle(id model.VehicleID) (VehicleState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.vehicles[id]
	if !ok {
		return VehicleState{}, false
	}
	return stateOf(v), true
}

// Feed returns the last data relayed to a vehicle's controller.
func (w *World) Feed(id model.VehicleID) (model.ControllerFeed, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.vehicles[id]
	if !ok || !v.hasFeed {
		return model.ControllerFeed{}, false
	}
	return v.feed, true
}

// Snapshot returns every vehicle ordered by descending position.
func (w *World) Snapshot() []VehicleState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]VehicleState, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		out = append(out, stateOf(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X == out[j].X {
			return out[i].ID < out[j].ID
		}
		return out[i].X > out[j].X
	})
	return out
}

func stateOf(v *vehicle) VehicleState {
	return VehicleState{
		ID:           v.id,
		X:            v.x,
		Lane:         v.lane,
		Speed:        v.speed,
		DesiredSpeed: v.desired,
		Mode:         v.mode,
	}
}

// Time returns the simulated time in seconds.
func (w *World) Time() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.time
}

// Reset removes every vehicle and rewinds the clock.
func (w *World) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vehicles = make(map[model.VehicleID]*vehicle)
	w.time = 0
}
