package model

// ManeuverState is the per-platoon coordination state.
type ManeuverState int

const (
	Cruising ManeuverState = iota
	OvertakingLeft
	OvertakingRight
	RequestLeaderLaneChange
	RequestLeftVehiclesLaneChange
	RequestRightVehiclesLaneChange
)

func (s ManeuverState) String() string {
	switch s {
	case Cruising:
		return "CRUISING"
	case OvertakingLeft:
		return "OVERTAKING_LEFT"
	case OvertakingRight:
		return "OVERTAKING_RIGHT"
	case RequestLeaderLaneChange:
		return "REQUEST_LEADER_LANE_CHANGE"
	case RequestLeftVehiclesLaneChange:
		return "REQUEST_LEFT_VEHICLES_LANE_CHANGE"
	case RequestRightVehiclesLaneChange:
		return "REQUEST_RIGHT_VEHICLES_LANE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// OvertakingState returns the overtaking state for a direction.
func OvertakingState(d Direction) ManeuverState {
	if d == Left {
		return OvertakingLeft
	}
	return OvertakingRight
}

// RequestVehiclesState returns the neighbour-request state for a direction.
func RequestVehiclesState(d Direction) ManeuverState {
	if d == Left {
		return RequestLeftVehiclesLaneChange
	}
	return RequestRightVehiclesLaneChange
}

// IsOvertaking reports whether s is one of the overtaking states.
func (s ManeuverState) IsOvertaking() bool {
	return s == OvertakingLeft || s == OvertakingRight
}

// IsRequestingVehicles reports whether s waits on neighbouring vehicles.
func (s ManeuverState) IsRequestingVehicles() bool {
	return s == RequestLeftVehiclesLaneChange || s == RequestRightVehiclesLaneChange
}

// Direction returns the lateral direction carried by an overtaking or
// request state. ok is false for states without a direction.
func (s ManeuverState) Direction() (Direction, bool) {
	switch s {
	case OvertakingLeft, RequestLeftVehiclesLaneChange:
		return Left, true
	case OvertakingRight, RequestRightVehiclesLaneChange:
		return Right, true
	default:
		return Left, false
	}
}

// EventKind classifies a ManeuverEvent.
type EventKind string

const (
	EventTransition   EventKind = "transition"
	EventLaneChange   EventKind = "lane_change"
	EventSplit        EventKind = "split"
	EventMerge        EventKind = "merge"
	EventV2VRequest   EventKind = "v2v_request"
	EventV2VBroadcast EventKind = "v2v_broadcast"
)

// ManeuverEvent is an observable fact emitted by the coordinator. Fields that
// do not apply to a kind are left zero.
type ManeuverEvent struct {
	// Step is the session step, stamped by the session's sink.
	Step      int
	PlatoonID string
	Kind      EventKind
	From      ManeuverState
	To        ManeuverState
	Direction Direction
	Index     int
	Vehicle   VehicleID
	Detail    string
}

// ParseManeuverState is the inverse of ManeuverState.String.
func ParseManeuverState(s string) (ManeuverState, bool) {
	for st := Cruising; st <= RequestRightVehiclesLaneChange; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return Cruising, false
}
