// Package world defines the contract the coordinator requires from the
// motion simulator. The coordinator never computes geometry itself; it asks
// the world model yes/no/gap questions and issues actuation commands.
package world

import (
	"errors"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// ErrUnknownVehicle is returned for queries about vehicles that are not (or
// no longer) present in the world.
var ErrUnknownVehicle = errors.New("vehicle not present in world")

// Model is the world model adapter.
type Model interface {
	LaneIndex(id model.VehicleID) (int, error)
	// LaneCount returns the number of lanes on the vehicle's road segment.
	LaneCount(id model.VehicleID) (int, error)
	// Adjacent returns the nearest leaders and followers in the lane next to
	// the vehicle in direction d. A missing lane yields empty traffic.
	Adjacent(id model.VehicleID, d model.Direction) (model.AdjacentTraffic, error)
	// LeaderAhead returns the nearest vehicle ahead in the same lane within
	// maxRange. ok is false when there is none.
	LeaderAhead(id model.VehicleID, maxRange float64) (leader model.Neighbor, ok bool, err error)
	Speed(id model.VehicleID) (float64, error)
	Position(id model.VehicleID) (model.Position, error)
	Kinematics(id model.VehicleID) (model.Kinematics, error)
	Dimensions(id model.VehicleID) (model.Dimensions, error)

	// ChangeLane moves the vehicle to lane without checking safety margins;
	// callers have already checked clearance.
	ChangeLane(id model.VehicleID, lane int) error
	SetDesiredSpeed(id model.VehicleID, speed float64) error
	SetControllerMode(id model.VehicleID, mode model.ControllerMode) error
	// RelayKinematics hands leader and predecessor data to the vehicle's
	// low-level controller.
	RelayKinematics(id model.VehicleID, feed model.ControllerFeed) error
	SpawnVehicle(spec model.SpawnSpec) error
	// Remove takes a vehicle off the road. Unknown IDs are ignored.
	Remove(id model.VehicleID)
}

// Stepper is implemented by world models the session advances itself.
type Stepper interface {
	Advance(dt float64)
}
