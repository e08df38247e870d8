// Package sim runs one simulation: it owns the identifier sequence, both
// registries and the V2V channel, and advances them in a fixed order once
// per step.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/platoon-coordinator/internal/ids"
	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/platoon"
	"github.com/signalsfoundry/platoon-coordinator/internal/traffic"
	"github.com/signalsfoundry/platoon-coordinator/internal/v2v"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

const tracerName = "github.com/signalsfoundry/platoon-coordinator/internal/sim"

// DefaultStepLength is the simulated time per step in seconds.
const DefaultStepLength = 0.01

// MetricsRecorder receives per-step timings and population counts.
type MetricsRecorder interface {
	ObserveStep(d time.Duration)
	SetPopulation(platoons, vehicles int)
}

// EventSink receives every maneuver and V2V event of the run.
type EventSink interface {
	Record(ctx context.Context, ev model.ManeuverEvent)
}

type resetter interface {
	Reset()
}

// VehicleSpec describes an independent vehicle added to the run.
type VehicleSpec struct {
	Position float64
	Lane     int
	Speed    float64
	V2V      bool
	Schedule model.Schedule
}

// Session is one simulation run.
type Session struct {
	mu sync.Mutex

	seq      *ids.Sequence
	world    world.Model
	vehicles *traffic.Registry
	radio    *v2v.Channel
	platoons *platoon.Manager

	stepLength float64
	maneuver   platoon.Config
	step       int

	metrics MetricsRecorder
	sink    EventSink
	log     logging.Logger
}

// Option customises a Session.
type Option func(*Session)

// WithStepLength sets the simulated seconds per step.
func WithStepLength(seconds float64) Option {
	return func(s *Session) {
		if seconds > 0 {
			s.stepLength = seconds
		}
	}
}

// WithManeuverConfig overrides the platoon state machine constants.
func WithManeuverConfig(cfg platoon.Config) Option {
	return func(s *Session) {
		s.maneuver = cfg
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithEventSink attaches an optional event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSequence injects the identifier sequence.
func WithSequence(seq *ids.Sequence) Option {
	return func(s *Session) {
		if seq != nil {
			s.seq = seq
		}
	}
}

// NewSession wires a run around w. If w also implements world.Stepper the
// session advances it at the start of every step.
func NewSession(w world.Model, opts ...Option) *Session {
	s := &Session{
		seq:        ids.NewSequence(),
		world:      w,
		stepLength: DefaultStepLength,
		maneuver:   platoon.DefaultConfig(),
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	stamped := &stepSink{session: s}
	s.vehicles = traffic.NewRegistry(s.log)
	s.radio = v2v.NewChannel(s.vehicles, w, v2v.WithEventSink(stamped), v2v.WithLogger(s.log))
	s.platoons = platoon.NewManager(w, s.radio, s.seq,
		platoon.WithConfig(s.maneuver),
		platoon.WithEventSink(stamped),
		platoon.WithLogger(s.log),
	)
	return s
}

// AddPlatoon builds a platoon in the world and registers it.
func (s *Session) AddPlatoon(ctx context.Context, spec platoon.Spec) (*platoon.Platoon, error) {
	return s.platoons.Build(ctx, spec)
}

// AddVehicle spawns an independent vehicle and registers it.
func (s *Session) AddVehicle(ctx context.Context, spec VehicleSpec) (model.VehicleID, error) {
	id := s.seq.NextVehicle()
	if err := s.world.SpawnVehicle(model.SpawnSpec{
		ID:       id,
		Position: spec.Position,
		Lane:     spec.Lane,
		Speed:    spec.Speed,
	}); err != nil {
		return "", fmt.Errorf("add vehicle: %w", err)
	}
	v := traffic.NewVehicle(id, spec.V2V, spec.Schedule, s.world, s.log)
	if err := s.vehicles.Register(v); err != nil {
		return "", fmt.Errorf("add vehicle: %w", err)
	}
	s.log.Debug(ctx, "vehicle added",
		logging.String("vehicle", string(id)),
		logging.Int("lane", spec.Lane),
		logging.Bool("v2v", spec.V2V),
	)
	s.updatePopulation()
	return id, nil
}

// Step advances the run by one step: the world moves, every platoon is
// evaluated, then every independent vehicle.
func (s *Session) Step(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.Session.Step")
	defer span.End()
	span.SetAttributes(attribute.Int("step", s.step))

	start := time.Now()
	if st, ok := s.world.(world.Stepper); ok {
		st.Advance(s.stepLength)
	}
	s.platoons.Tick(ctx)
	s.vehicles.Tick(ctx, s.step)
	s.step++

	if s.metrics != nil {
		s.metrics.ObserveStep(time.Since(start))
	}
	s.updatePopulation()
}

// Run executes steps until n steps have run or ctx is cancelled.
func (s *Session) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Step(ctx)
	}
	return nil
}

// CurrentStep returns the number of completed steps.
func (s *Session) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// StepLength returns the simulated seconds per step.
func (s *Session) StepLength() float64 {
	return s.stepLength
}

// Platoons exposes the platoon registry.
func (s *Session) Platoons() *platoon.Manager {
	return s.platoons
}

// Vehicles exposes the independent vehicle registry.
func (s *Session) Vehicles() *traffic.Registry {
	return s.vehicles
}

// World exposes the world model.
func (s *Session) World() world.Model {
	return s.world
}

// Reset clears both registries, rewinds identifiers and the step counter,
// and resets the world when it supports it.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platoons.Reset()
	s.vehicles.Reset()
	s.seq.Reset()
	if r, ok := s.world.(resetter); ok {
		r.Reset()
	}
	s.step = 0
	s.updatePopulation()
}

func (s *Session) updatePopulation() {
	if s.metrics != nil {
		s.metrics.SetPopulation(s.platoons.Len(), s.vehicles.Len())
	}
}

// stepSink stamps events with the session step before forwarding them.
type stepSink struct {
	session *Session
}

func (k *stepSink) Record(ctx context.Context, ev model.ManeuverEvent) {
	if k.session.sink == nil {
		return
	}
	ev.Step = k.session.step
	k.session.sink.Record(ctx, ev)
}
