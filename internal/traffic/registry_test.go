package traffic

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/world/highway"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

func spawn(t *testing.T, w *highway.World, id model.VehicleID, x float64, lane int) {
	t.Helper()
	if err := w.SpawnVehicle(model.SpawnSpec{ID: id, Position: x, Lane: lane, Speed: 30}); err != nil {
		t.Fatalf("SpawnVehicle(%s) error = %v", id, err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	w := highway.New(highway.DefaultConfig())
	spawn(t, w, "v.0", 0, 0)
	reg := NewRegistry(logging.Noop())

	if err := reg.Register(NewVehicle("v.0", false, nil, w, nil)); err != nil {
		t.Fatalf("first Register error = %v", err)
	}
	err := reg.Register(NewVehicle("v.0", true, nil, w, nil))
	if !errors.Is(err, ErrVehicleExists) {
		t.Fatalf("duplicate Register error = %v, want ErrVehicleExists", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
}

func TestTickExecutesScheduledCommands(t *testing.T) {
	w := highway.New(highway.DefaultConfig())
	spawn(t, w, "v.0", 0, 0)
	spawn(t, w, "v.1", 50, 2)
	reg := NewRegistry(logging.Noop())

	mustRegister(t, reg, NewVehicle("v.0", false, model.Schedule{1000: model.CommandChangeLaneLeft}, w, nil))
	mustRegister(t, reg, NewVehicle("v.1", false, model.Schedule{5: model.CommandChangeLaneRight}, w, nil))

	ctx := context.Background()
	reg.Tick(ctx, 5)
	if lane, _ := w.LaneIndex("v.1"); lane != 1 {
		t.Fatalf("v.1 lane after step 5 = %d, want 1", lane)
	}
	if lane, _ := w.LaneIndex("v.0"); lane != 0 {
		t.Fatalf("v.0 moved early: lane = %d", lane)
	}

	reg.Tick(ctx, 1000)
	if lane, _ := w.LaneIndex("v.0"); lane != 1 {
		t.Fatalf("v.0 lane after step 1000 = %d, want 1", lane)
	}
}

func TestScheduledLaneChangeOffRoadIsSkipped(t *testing.T) {
	w := highway.New(highway.DefaultConfig())
	spawn(t, w, "v.0", 0, 0)
	reg := NewRegistry(logging.Noop())
	mustRegister(t, reg, NewVehicle("v.0", false, model.Schedule{1: model.CommandChangeLaneRight}, w, nil))

	reg.Tick(context.Background(), 1)

	if lane, _ := w.LaneIndex("v.0"); lane != 0 {
		t.Fatalf("lane = %d, want 0", lane)
	}
}

func TestDeliverUnknownRecipient(t *testing.T) {
	reg := NewRegistry(nil)
	ok := reg.Deliver(context.Background(), model.V2VRequest{Sender: "platoon.0", Recipient: "v.9"})
	if ok {
		t.Fatalf("Deliver to unknown recipient reported success")
	}
}

func TestListKeepsRegistrationOrderAndReset(t *testing.T) {
	w := highway.New(highway.DefaultConfig())
	reg := NewRegistry(nil)
	for _, id := range []model.VehicleID{"v.2", "v.0", "v.1"} {
		spawn(t, w, id, 0, 0)
		mustRegister(t, reg, NewVehicle(id, false, nil, w, nil))
	}
	list := reg.List()
	if list[0].ID != "v.2" || list[1].ID != "v.0" || list[2].ID != "v.1" {
		t.Fatalf("List order = %v %v %v", list[0].ID, list[1].ID, list[2].ID)
	}
	reg.Reset()
	if reg.Len() != 0 || reg.Get("v.0") != nil {
		t.Fatalf("Reset left vehicles behind")
	}
}

func mustRegister(t *testing.T, reg *Registry, v *Vehicle) {
	t.Helper()
	if err := reg.Register(v); err != nil {
		t.Fatalf("Register(%s) error = %v", v.ID, err)
	}
}
