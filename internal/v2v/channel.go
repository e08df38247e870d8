// Package v2v simulates the vehicle-to-vehicle radio: a broadcast position
// query answered by every V2V-capable vehicle, and a point-to-point lane
// change request. Delivery is in-process and synchronous.
package v2v

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/traffic"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// EventSink receives channel activity for metrics and recording.
type EventSink interface {
	Record(ctx context.Context, ev model.ManeuverEvent)
}

// Channel is the simulated radio shared by every platoon in a run.
type Channel struct {
	vehicles *traffic.Registry
	world    world.Model
	sink     EventSink
	log      logging.Logger
}

// Option customises a Channel.
type Option func(*Channel)

// WithEventSink attaches a sink for request and broadcast events.
func WithEventSink(s EventSink) Option {
	return func(c *Channel) {
		c.sink = s
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// NewChannel binds the radio to the vehicle registry and world model.
func NewChannel(vehicles *traffic.Registry, w world.Model, opts ...Option) *Channel {
	c := &Channel{
		vehicles: vehicles,
		world:    w,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BroadcastPositions asks every vehicle for its kinematics. Only V2V-capable
// vehicles answer; vehicles that have left the world are skipped. The order
// of the reports is unspecified.
func (c *Channel) BroadcastPositions(ctx context.Context) []model.PositionReport {
	var reports []model.PositionReport
	for _, v := range c.vehicles.List() {
		if !v.V2V {
			continue
		}
		k, err := c.world.Kinematics(v.ID)
		if err != nil {
			if !errors.Is(err, world.ErrUnknownVehicle) {
				c.log.Warn(ctx, "broadcast: kinematics lookup failed",
					logging.String("vehicle", string(v.ID)), logging.Err(err))
			}
			continue
		}
		reports = append(reports, model.PositionReport{
			ID:           v.ID,
			Speed:        k.Speed,
			Acceleration: k.Acceleration,
			X:            k.Position.X,
			Y:            k.Position.Y,
		})
	}
	c.record(ctx, model.ManeuverEvent{Kind: model.EventV2VBroadcast, Index: len(reports)})
	return reports
}

// RequestLaneChange asks recipient to change lanes. The recipient acts (or
// not) before this call returns. Unknown recipients are ignored.
func (c *Channel) RequestLaneChange(ctx context.Context, sender, recipient model.VehicleID) {
	req := model.V2VRequest{
		Sender:    sender,
		Recipient: recipient,
		Kind:      model.RequestLaneChangeManeuver,
	}
	delivered := c.vehicles.Deliver(ctx, req)
	detail := fmt.Sprintf("%s from %s", req.Kind, sender)
	if !delivered {
		detail += " (undelivered)"
	}
	c.record(ctx, model.ManeuverEvent{
		Kind:    model.EventV2VRequest,
		Vehicle: recipient,
		Detail:  detail,
	})
}

func (c *Channel) record(ctx context.Context, ev model.ManeuverEvent) {
	if c.sink != nil {
		c.sink.Record(ctx, ev)
	}
}
