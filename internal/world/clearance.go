package world

import (
	"fmt"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// TargetLane returns the lane id would move to in direction d and whether
// that lane exists on the current road segment.
func TargetLane(m Model, id model.VehicleID, d model.Direction) (int, bool, error) {
	lane, err := m.LaneIndex(id)
	if err != nil {
		return 0, false, err
	}
	count, err := m.LaneCount(id)
	if err != nil {
		return 0, false, err
	}
	target := lane + d.LaneDelta()
	return target, target >= 0 && target < count, nil
}

// Blocking returns the vehicles in the adjacent lane whose gap is within
// length. Such vehicles prevent a lane change.
func Blocking(m Model, id model.VehicleID, d model.Direction, length float64) ([]model.Neighbor, error) {
	traffic, err := m.Adjacent(id, d)
	if err != nil {
		return nil, err
	}
	var out []model.Neighbor
	for _, n := range traffic.All() {
		if n.Gap <= length {
			out = append(out, n)
		}
	}
	return out, nil
}

// CanChangeLane reports whether id can move one lane in direction d: the
// target lane exists and no leader or follower there is within length.
func CanChangeLane(m Model, id model.VehicleID, d model.Direction, length float64) (bool, error) {
	_, exists, err := TargetLane(m, id, d)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	blocking, err := Blocking(m, id, d, length)
	if err != nil {
		return false, fmt.Errorf("adjacent traffic of %s: %w", id, err)
	}
	return len(blocking) == 0, nil
}

// VehicleToOvertakeExists reports whether a leader in the adjacent lane in
// direction d sits within reach (gap at most reach) of id.
func VehicleToOvertakeExists(m Model, id model.VehicleID, d model.Direction, reach float64) (bool, error) {
	traffic, err := m.Adjacent(id, d)
	if err != nil {
		return false, err
	}
	for _, l := range traffic.Leaders {
		if l.Gap <= reach {
			return true, nil
		}
	}
	return false, nil
}
