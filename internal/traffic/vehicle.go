package traffic

import (
	"context"
	"errors"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Vehicle is an independently driven vehicle. It may carry a V2V radio and a
// scripted command schedule.
type Vehicle struct {
	ID       model.VehicleID
	V2V      bool
	Schedule model.Schedule

	world  world.Model
	length float64
	log    logging.Logger
}

// NewVehicle binds a vehicle to the world it drives in. The vehicle length
// used for clearance checks is read from the world once.
func NewVehicle(id model.VehicleID, v2v bool, schedule model.Schedule, w world.Model, log logging.Logger) *Vehicle {
	if log == nil {
		log = logging.Noop()
	}
	v := &Vehicle{
		ID:       id,
		V2V:      v2v,
		Schedule: schedule,
		world:    w,
		log:      log.With(logging.String("vehicle", string(id))),
	}
	if dims, err := w.Dimensions(id); err == nil {
		v.length = dims.Length
	}
	return v
}

// Tick executes the command scheduled for step, if any.
func (v *Vehicle) Tick(ctx context.Context, step int) {
	cmd, ok := v.Schedule[step]
	if !ok {
		return
	}
	var err error
	switch cmd {
	case model.CommandChangeLaneLeft:
		err = v.changeLane(model.Left)
	case model.CommandChangeLaneRight:
		err = v.changeLane(model.Right)
	default:
		return
	}
	if err != nil {
		v.log.Debug(ctx, "scheduled command skipped",
			logging.String("command", cmd.String()),
			logging.Int("step", step),
			logging.Err(err),
		)
		return
	}
	v.log.Info(ctx, "scheduled command executed",
		logging.String("command", cmd.String()),
		logging.Int("step", step),
	)
}

// Receive evaluates a V2V request immediately. For a lane-change request the
// vehicle moves left if that lane is clear, otherwise right if clear,
// otherwise it stays. No reply is sent.
func (v *Vehicle) Receive(ctx context.Context, req model.V2VRequest) {
	if req.Kind != model.RequestLaneChangeManeuver {
		return
	}
	for _, d := range model.Directions {
		ok, err := world.CanChangeLane(v.world, v.ID, d, v.length)
		if err != nil {
			if !errors.Is(err, world.ErrUnknownVehicle) {
				v.log.Warn(ctx, "clearance check failed", logging.Err(err))
			}
			return
		}
		if !ok {
			continue
		}
		if err := v.changeLane(d); err != nil {
			v.log.Debug(ctx, "lane change request not honoured", logging.Err(err))
			return
		}
		v.log.Debug(ctx, "lane change request honoured",
			logging.String("sender", string(req.Sender)),
			logging.String("direction", d.String()),
		)
		return
	}
	v.log.Debug(ctx, "lane change request declined: no clearance",
		logging.String("sender", string(req.Sender)),
	)
}

func (v *Vehicle) changeLane(d model.Direction) error {
	target, exists, err := world.TargetLane(v.world, v.ID, d)
	if err != nil {
		return err
	}
	if !exists {
		return errNoLane
	}
	return v.world.ChangeLane(v.ID, target)
}

var errNoLane = errors.New("no lane in that direction")
