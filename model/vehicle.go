package model

import "strings"

// VehicleID identifies a vehicle in the world model. Platoon members and
// independent vehicles live in separate namespaces, distinguished by prefix.
type VehicleID string

// Identifier namespaces. Each namespace owns its own counter.
const (
	NamespacePlatoonVehicle = "platoon."
	NamespaceVehicle        = "v."
	NamespacePlatoon        = "p."
)

// IsPlatoonVehicle reports whether id belongs to a platoon member.
func IsPlatoonVehicle(id VehicleID) bool {
	return strings.HasPrefix(string(id), NamespacePlatoonVehicle)
}

// Direction is a lateral direction relative to the direction of travel.
type Direction int

const (
	Left Direction = iota
	Right
)

// Directions lists both lateral directions in tie-break order: left first.
var Directions = [...]Direction{Left, Right}

// LaneDelta maps a direction to the change in lane index. Lane 0 is the
// rightmost lane, so moving left increases the index.
func (d Direction) LaneDelta() int {
	if d == Left {
		return 1
	}
	return -1
}

// Opposite returns the other lateral direction.
func (d Direction) Opposite() Direction {
	if d == Left {
		return Right
	}
	return Left
}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "left":
		return Left, true
	case "right":
		return Right, true
	default:
		return Left, false
	}
}

// ControllerMode selects the longitudinal controller of a vehicle.
type ControllerMode int

const (
	// Autonomous cruises at the desired speed using on-board sensing only.
	Autonomous ControllerMode = iota
	// LeaderFollowing tracks an external vehicle ahead from relayed data.
	LeaderFollowing
	// CooperativeFollowing tracks the platoon leader and predecessor.
	CooperativeFollowing
)

func (m ControllerMode) String() string {
	switch m {
	case Autonomous:
		return "autonomous"
	case LeaderFollowing:
		return "leader-following"
	case CooperativeFollowing:
		return "cooperative-following"
	default:
		return "unknown"
	}
}

// Position is a planar road position. X runs along the road, Y across it.
type Position struct {
	X float64
	Y float64
}

// Kinematics is the most recent motion snapshot of a vehicle.
type Kinematics struct {
	Speed        float64
	Acceleration float64
	Position     Position
	Time         float64
}

// ControllerFeed is the data relayed to a member's low-level controller.
type ControllerFeed struct {
	Leader        Kinematics
	Front         Kinematics
	FrontDistance float64
}

// Neighbor is a nearby vehicle together with the bumper-to-bumper gap to it.
type Neighbor struct {
	ID  VehicleID
	Gap float64
}

// AdjacentTraffic holds the nearest leaders and followers in an adjacent lane.
type AdjacentTraffic struct {
	Leaders   []Neighbor
	Followers []Neighbor
}

// All returns leaders followed by followers.
func (a AdjacentTraffic) All() []Neighbor {
	out := make([]Neighbor, 0, len(a.Leaders)+len(a.Followers))
	out = append(out, a.Leaders...)
	return append(out, a.Followers...)
}

// Dimensions are the physical constants of a vehicle type.
type Dimensions struct {
	Length float64
	MinGap float64
}

// SpawnSpec describes a vehicle to insert into the world.
type SpawnSpec struct {
	ID       VehicleID
	Position float64
	Lane     int
	Speed    float64
	Gap      float64
}

// Command is a discrete scripted action for an independent vehicle.
type Command int

const (
	CommandNone Command = iota
	CommandChangeLaneLeft
	CommandChangeLaneRight
)

func (c Command) String() string {
	switch c {
	case CommandChangeLaneLeft:
		return "change-lane-left"
	case CommandChangeLaneRight:
		return "change-lane-right"
	default:
		return "none"
	}
}

// ParseCommand converts a config string into a Command.
func ParseCommand(s string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "change-lane-left", "left":
		return CommandChangeLaneLeft, true
	case "change-lane-right", "right":
		return CommandChangeLaneRight, true
	default:
		return CommandNone, false
	}
}

// Schedule maps a simulation step to the command due at that step.
type Schedule map[int]Command
