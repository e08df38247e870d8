package platoon

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/platoon-coordinator/internal/ids"
	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/world"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

const tracerName = "github.com/signalsfoundry/platoon-coordinator/internal/platoon"

// Manager owns the active platoons of one simulation run and ticks them.
// Platoons added while a tick is running are queued and join the active set
// at the tick boundary.
type Manager struct {
	mu       sync.Mutex
	platoons []*Platoon
	pending  []*Platoon
	ticking  bool

	world world.Model
	radio Radio
	seq   *ids.Sequence
	cfg   Config
	sink  EventSink
	log   logging.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithConfig overrides the maneuver constants. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg.withDefaults()
	}
}

// WithEventSink attaches a sink for maneuver events.
func WithEventSink(s EventSink) Option {
	return func(m *Manager) {
		m.sink = s
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates an empty registry bound to a world model and radio. A
// nil sequence gets a private one.
func NewManager(w world.Model, radio Radio, seq *ids.Sequence, opts ...Option) *Manager {
	if seq == nil {
		seq = ids.NewSequence()
	}
	m := &Manager{
		world: w,
		radio: radio,
		seq:   seq,
		cfg:   DefaultConfig(),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective maneuver constants.
func (m *Manager) Config() Config {
	return m.cfg
}

// Build spawns a new platoon in the world and registers it. Members are
// placed behind the leader at one vehicle length plus minimum gap each. The
// leader cruises autonomously, the others follow cooperatively. A failed
// build removes the members it already spawned.
func (m *Manager) Build(ctx context.Context, spec Spec) (*Platoon, error) {
	if spec.Size <= 0 {
		return nil, fmt.Errorf("build platoon: %w", ErrEmptyPlatoon)
	}

	members, err := m.spawnMembers(spec)
	if err != nil {
		for _, id := range members {
			m.world.Remove(id)
		}
		return nil, err
	}

	p := m.newPlatoon(members, spec.Speed)
	m.Add(p)
	m.log.Info(ctx, "platoon built",
		logging.String("platoon", p.ID),
		logging.Int("members", len(members)),
		logging.Int("lane", spec.Lane),
		logging.Float64("speed", spec.Speed),
	)
	return p, nil
}

// Add registers a platoon. During a tick it is queued until the boundary.
func (m *Manager) Add(p *Platoon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticking {
		m.pending = append(m.pending, p)
		return
	}
	m.platoons = append(m.platoons, p)
}

// Tick evaluates every active platoon once, then activates queued platoons,
// runs the optional rejoin pass and prunes empty platoons.
func (m *Manager) Tick(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platoon.Manager.Tick")
	defer span.End()

	m.mu.Lock()
	active := slices.Clone(m.platoons)
	m.ticking = true
	m.mu.Unlock()

	for _, p := range active {
		p.Tick(ctx)
	}

	m.mu.Lock()
	m.ticking = false
	m.platoons = append(m.platoons, m.pending...)
	m.pending = nil
	active = slices.Clone(m.platoons)
	m.mu.Unlock()

	if m.cfg.Rejoin {
		m.rejoin(ctx, active)
	}

	m.mu.Lock()
	m.prune(ctx)
	n := len(m.platoons)
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("platoons", n))
}

func (m *Manager) prune(ctx context.Context) {
	kept := m.platoons[:0]
	for _, p := range m.platoons {
		if len(p.members) == 0 {
			m.log.Debug(ctx, "pruned empty platoon", logging.String("platoon", p.ID))
			continue
		}
		kept = append(kept, p)
	}
	clear(m.platoons[len(kept):])
	m.platoons = kept
}

// rejoin merges a cruising platoon into the cruising platoon directly ahead
// when the gap to that platoon's tail is within the join distance.
func (m *Manager) rejoin(ctx context.Context, platoons []*Platoon) {
	byTail := make(map[model.VehicleID]*Platoon, len(platoons))
	for _, p := range platoons {
		if n := len(p.members); n > 0 {
			byTail[p.members[n-1]] = p
		}
	}
	for _, rear := range platoons {
		if len(rear.members) == 0 || rear.state != model.Cruising {
			continue
		}
		ahead, ok, err := m.world.LeaderAhead(rear.members[0], m.joinDistance(rear))
		if err != nil || !ok {
			continue
		}
		front, ok := byTail[ahead.ID]
		if !ok || front == rear || front.state != model.Cruising || len(front.members) == 0 {
			continue
		}
		tail := rear.members[len(rear.members)-1]
		if err := front.Absorb(ctx, rear); err != nil {
			m.log.Warn(ctx, "rejoin failed", logging.Err(err))
			continue
		}
		delete(byTail, ahead.ID)
		byTail[tail] = front
	}
}

func (m *Manager) joinDistance(p *Platoon) float64 {
	if m.cfg.JoinDistance > 0 {
		return m.cfg.JoinDistance
	}
	return 2 * p.dims.MinGap
}

// Platoons returns the active platoons in registration order.
func (m *Manager) Platoons() []*Platoon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.platoons)
}

// Len returns the number of active platoons.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.platoons)
}

// LastVehicle returns the rear-most member across all active platoons.
func (m *Manager) LastVehicle() (model.VehicleID, bool) {
	var (
		last  model.VehicleID
		lastX float64
		found bool
	)
	for _, p := range m.Platoons() {
		for _, id := range p.members {
			pos, err := m.world.Position(id)
			if err != nil {
				continue
			}
			if !found || pos.X < lastX {
				last, lastX, found = id, pos.X, true
			}
		}
	}
	return last, found
}

// Reset drops every platoon. Vehicles already in the world are untouched.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platoons = nil
	m.pending = nil
}

// spawnMembers places the members of spec in the world. On error it returns
// the members spawned so far.
func (m *Manager) spawnMembers(spec Spec) ([]model.VehicleID, error) {
	members := make([]model.VehicleID, 0, spec.Size)
	var dims model.Dimensions
	for i := 0; i < spec.Size; i++ {
		id := m.seq.NextPlatoonVehicle()
		pos := spec.Position - float64(i)*(dims.MinGap+dims.Length)
		if err := m.world.SpawnVehicle(model.SpawnSpec{
			ID:       id,
			Position: pos,
			Lane:     spec.Lane,
			Speed:    spec.Speed,
			Gap:      dims.MinGap,
		}); err != nil {
			return members, fmt.Errorf("build platoon: spawn member %d: %w", i, err)
		}
		members = append(members, id)
		if i == 0 {
			d, err := m.world.Dimensions(id)
			if err != nil {
				return members, fmt.Errorf("build platoon: %w", err)
			}
			dims = d
		}

		mode := model.CooperativeFollowing
		if i == 0 {
			mode = model.Autonomous
		}
		if err := m.world.SetControllerMode(id, mode); err != nil {
			return members, fmt.Errorf("build platoon: %w", err)
		}
		if err := m.world.SetDesiredSpeed(id, spec.Speed); err != nil {
			return members, fmt.Errorf("build platoon: %w", err)
		}
	}
	return members, nil
}
