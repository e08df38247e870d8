package model

// RequestKind enumerates V2V request types.
type RequestKind int

const (
	RequestLaneChangeManeuver RequestKind = iota
)

func (k RequestKind) String() string {
	switch k {
	case RequestLaneChangeManeuver:
		return "lane_change_maneuver"
	default:
		return "unknown"
	}
}

// V2VRequest is a point-to-point request. It is delivered synchronously and
// never stored.
type V2VRequest struct {
	Sender    VehicleID
	Recipient VehicleID
	Kind      RequestKind
}

// PositionReport is a vehicle's answer to a V2V position broadcast.
type PositionReport struct {
	ID           VehicleID
	Speed        float64
	Acceleration float64
	X            float64
	Y            float64
}
