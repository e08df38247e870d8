package highway

import (
	"math"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Advance moves every vehicle forward by dt seconds. Target speeds are
// computed from the state at the start of the step so the update does not
// depend on map iteration order.
func (w *World) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	targets := make(map[model.VehicleID]float64, len(w.vehicles))
	for id, v := range w.vehicles {
		targets[id] = w.targetSpeed(v)
	}

	for id, v := range w.vehicles {
		dist, newV := w.step(v.speed, targets[id], dt)
		v.accel = (newV - v.speed) / dt
		v.speed = newV
		v.x += dist
		if w.cfg.Length > 0 && v.x-v.dims.Length > w.cfg.Length {
			delete(w.vehicles, id)
		}
	}
	w.time += dt
}

// targetSpeed is the speed the vehicle's controller aims for this step.
func (w *World) targetSpeed(v *vehicle) float64 {
	leader, gap, ok := w.leaderLocked(v, w.cfg.SensorRange)

	if v.mode == model.CooperativeFollowing && v.hasFeed {
		ref := v.feed.Front.Speed
		spacing := v.feed.FrontDistance
		if ok {
			spacing = gap
		}
		target := ref + (spacing-v.dims.MinGap)*w.cfg.GapGain
		return clamp(target, 0, ref+10)
	}

	target := v.desired
	following := v.mode == model.LeaderFollowing && v.hasFeed
	if following {
		target = math.Min(target, v.feed.Front.Speed+(gap-v.dims.MinGap)*w.cfg.GapGain)
	}
	if ok {
		// Relayed data lets a following head close up to the minimum gap;
		// on-board sensing alone keeps a time headway.
		safe := v.dims.MinGap
		if !following {
			safe += v.speed * w.cfg.Headway
		}
		if gap < safe {
			target = math.Min(target, leader.speed*math.Max(0, gap/safe))
		}
	}
	return math.Max(0, target)
}

// step is a constant-acceleration move towards target that cruises once the
// target is reached mid-step. It returns the distance travelled and the new
// speed.
func (w *World) step(v, target, dt float64) (float64, float64) {
	switch {
	case target > v && w.cfg.Acceleration > 0:
		t := (target - v) / w.cfg.Acceleration
		if t <= dt {
			return v*t + 0.5*w.cfg.Acceleration*t*t + target*(dt-t), target
		}
		return v*dt + 0.5*w.cfg.Acceleration*dt*dt, v + w.cfg.Acceleration*dt
	case target < v && w.cfg.Deceleration > 0:
		t := (v - target) / w.cfg.Deceleration
		if t <= dt {
			return math.Max(0, v*t-0.5*w.cfg.Deceleration*t*t) + target*(dt-t), target
		}
		return math.Max(0, v*dt-0.5*w.cfg.Deceleration*dt*dt), v - w.cfg.Deceleration*dt
	default:
		return target * dt, target
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
