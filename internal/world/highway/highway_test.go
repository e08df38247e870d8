package highway

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

func newTestWorld(t *testing.T, specs ...model.SpawnSpec) *World {
	t.Helper()
	w := New(DefaultConfig())
	for _, s := range specs {
		if err := w.SpawnVehicle(s); err != nil {
			t.Fatalf("SpawnVehicle(%s) error = %v", s.ID, err)
		}
	}
	return w
}

func TestLeaderAheadWithinRange(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "a", Position: 0, Lane: 1, Speed: 20},
		model.SpawnSpec{ID: "b", Position: 50, Lane: 1, Speed: 20},
		model.SpawnSpec{ID: "c", Position: 30, Lane: 2, Speed: 20},
		model.SpawnSpec{ID: "far", Position: 400, Lane: 1, Speed: 20},
	)

	leader, ok, err := w.LeaderAhead("a", 160)
	if err != nil {
		t.Fatalf("LeaderAhead error = %v", err)
	}
	if !ok || leader.ID != "b" {
		t.Fatalf("LeaderAhead = %+v ok=%v, want b", leader, ok)
	}
	if leader.Gap != 46 {
		t.Fatalf("gap = %v, want 46", leader.Gap)
	}

	if _, ok, _ := w.LeaderAhead("b", 160); ok {
		t.Fatalf("expected no leader within range of b")
	}
}

func TestAdjacentReturnsNearestLeaderAndFollower(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "ego", Position: 100, Lane: 1},
		model.SpawnSpec{ID: "l-near", Position: 110, Lane: 2},
		model.SpawnSpec{ID: "l-far", Position: 150, Lane: 2},
		model.SpawnSpec{ID: "f-near", Position: 93, Lane: 2},
		model.SpawnSpec{ID: "right", Position: 100, Lane: 0},
	)

	left, err := w.Adjacent("ego", model.Left)
	if err != nil {
		t.Fatalf("Adjacent error = %v", err)
	}
	if len(left.Leaders) != 1 || left.Leaders[0].ID != "l-near" || left.Leaders[0].Gap != 6 {
		t.Fatalf("left leaders = %+v, want l-near with gap 6", left.Leaders)
	}
	if len(left.Followers) != 1 || left.Followers[0].ID != "f-near" || left.Followers[0].Gap != 3 {
		t.Fatalf("left followers = %+v, want f-near with gap 3", left.Followers)
	}

	right, err := w.Adjacent("ego", model.Right)
	if err != nil {
		t.Fatalf("Adjacent error = %v", err)
	}
	if len(right.Leaders) != 1 || right.Leaders[0].ID != "right" || right.Leaders[0].Gap != -4 {
		t.Fatalf("right leaders = %+v, want overlapping vehicle", right.Leaders)
	}
}

func TestAdjacentOutsideRoadIsEmpty(t *testing.T) {
	w := newTestWorld(t, model.SpawnSpec{ID: "ego", Lane: 0})
	traffic, err := w.Adjacent("ego", model.Right)
	if err != nil {
		t.Fatalf("Adjacent error = %v", err)
	}
	if len(traffic.All()) != 0 {
		t.Fatalf("expected no traffic right of lane 0, got %+v", traffic)
	}
}

func TestCanChangeLane(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "ego", Position: 100, Lane: 0},
		model.SpawnSpec{ID: "blocker", Position: 104, Lane: 1},
	)

	tests := []struct {
		name string
		dir  model.Direction
		want bool
	}{
		{name: "left blocked", dir: model.Left, want: false},
		{name: "right off road", dir: model.Right, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := world.CanChangeLane(w, "ego", tt.dir, 4)
			if err != nil {
				t.Fatalf("CanChangeLane error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanChangeLane = %v, want %v", got, tt.want)
			}
		})
	}

	w.Remove("blocker")
	if ok, _ := world.CanChangeLane(w, "ego", model.Left, 4); !ok {
		t.Fatalf("expected left lane to be clear after blocker left")
	}
}

func TestUnknownVehicleErrors(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.LaneIndex("ghost"); !errors.Is(err, world.ErrUnknownVehicle) {
		t.Fatalf("LaneIndex error = %v, want ErrUnknownVehicle", err)
	}
	if err := w.ChangeLane("ghost", 1); !errors.Is(err, world.ErrUnknownVehicle) {
		t.Fatalf("ChangeLane error = %v, want ErrUnknownVehicle", err)
	}
	if err := w.RelayKinematics("ghost", model.ControllerFeed{}); !errors.Is(err, world.ErrUnknownVehicle) {
		t.Fatalf("RelayKinematics error = %v, want ErrUnknownVehicle", err)
	}
}

func TestSpawnRejectsDuplicatesAndBadLanes(t *testing.T) {
	w := newTestWorld(t, model.SpawnSpec{ID: "a", Lane: 0})
	if err := w.SpawnVehicle(model.SpawnSpec{ID: "a", Lane: 1}); !errors.Is(err, ErrVehicleExists) {
		t.Fatalf("duplicate spawn error = %v, want ErrVehicleExists", err)
	}
	if err := w.SpawnVehicle(model.SpawnSpec{ID: "b", Lane: 9}); !errors.Is(err, ErrInvalidLane) {
		t.Fatalf("bad lane spawn error = %v, want ErrInvalidLane", err)
	}
	if err := w.ChangeLane("a", -1); !errors.Is(err, ErrInvalidLane) {
		t.Fatalf("ChangeLane(-1) error = %v, want ErrInvalidLane", err)
	}
}

func TestAdvanceAcceleratesTowardsDesiredSpeed(t *testing.T) {
	w := newTestWorld(t, model.SpawnSpec{ID: "a", Position: 0, Lane: 0, Speed: 10})
	if err := w.SetDesiredSpeed("a", 12); err != nil {
		t.Fatalf("SetDesiredSpeed error = %v", err)
	}

	for range 100 {
		w.Advance(0.01)
	}

	st, ok := w.Vehicle("a")
	if !ok {
		t.Fatalf("vehicle a vanished")
	}
	if st.Speed != 12 {
		t.Fatalf("speed = %v, want 12", st.Speed)
	}
	// 0.8 s accelerating from 10 to 12 then 0.2 s at 12.
	if want := 10*0.8 + 0.5*2.5*0.8*0.8 + 12*0.2; math.Abs(st.X-want) > 1e-6 {
		t.Fatalf("x = %v, want %v", st.X, want)
	}
	if got := w.Time(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("time = %v, want 1", got)
	}
}

func TestAdvanceSlowsBehindSlowLeader(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "fast", Position: 0, Lane: 0, Speed: 30},
		model.SpawnSpec{ID: "slow", Position: 20, Lane: 0, Speed: 10},
	)
	w.Advance(0.1)

	st, _ := w.Vehicle("fast")
	if st.Speed >= 30 {
		t.Fatalf("fast vehicle speed = %v, expected braking", st.Speed)
	}
}

func TestAdvanceRemovesVehiclesPastRoadEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 100
	w := New(cfg)
	if err := w.SpawnVehicle(model.SpawnSpec{ID: "a", Position: 103.9, Lane: 0, Speed: 10}); err != nil {
		t.Fatalf("SpawnVehicle error = %v", err)
	}
	w.Advance(0.1)
	if _, ok := w.Vehicle("a"); ok {
		t.Fatalf("expected vehicle past the road end to be removed")
	}
}

func TestCooperativeFollowerTracksFrontSpeed(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "front", Position: 9, Lane: 0, Speed: 20},
		model.SpawnSpec{ID: "member", Position: 0, Lane: 0, Speed: 20},
	)
	if err := w.SetControllerMode("member", model.CooperativeFollowing); err != nil {
		t.Fatalf("SetControllerMode error = %v", err)
	}
	front, _ := w.Kinematics("front")
	if err := w.RelayKinematics("member", model.ControllerFeed{Leader: front, Front: front, FrontDistance: 5}); err != nil {
		t.Fatalf("RelayKinematics error = %v", err)
	}

	w.Advance(0.01)

	st, _ := w.Vehicle("member")
	if st.Speed != 20 {
		t.Fatalf("member speed = %v, want 20 at the nominal spacing", st.Speed)
	}
	if feed, ok := w.Feed("member"); !ok || feed.Front.Speed != 20 {
		t.Fatalf("Feed = %+v ok=%v", feed, ok)
	}
}

func TestLeaderFollowingClosesToMinimumGap(t *testing.T) {
	w := newTestWorld(t,
		model.SpawnSpec{ID: "slow", Position: 40, Lane: 0, Speed: 20},
		model.SpawnSpec{ID: "head", Position: 0, Lane: 0, Speed: 30},
	)
	if err := w.SetControllerMode("head", model.LeaderFollowing); err != nil {
		t.Fatalf("SetControllerMode error = %v", err)
	}
	for range 1000 {
		slow, _ := w.Kinematics("slow")
		if err := w.RelayKinematics("head", model.ControllerFeed{Leader: slow, Front: slow}); err != nil {
			t.Fatalf("RelayKinematics error = %v", err)
		}
		w.Advance(0.01)
	}

	leader, ok, _ := w.LeaderAhead("head", 160)
	if !ok {
		t.Fatalf("head lost the slow vehicle")
	}
	if leader.Gap >= 9 || leader.Gap < 4 {
		t.Fatalf("gap after 10 s = %v, want between 4 and 9", leader.Gap)
	}
}

func TestResetClearsRoad(t *testing.T) {
	w := newTestWorld(t, model.SpawnSpec{ID: "a", Lane: 0, Speed: 10})
	w.Advance(1)
	w.Reset()
	if len(w.Snapshot()) != 0 || w.Time() != 0 {
		t.Fatalf("Reset left %d vehicles at t=%v", len(w.Snapshot()), w.Time())
	}
}
