// Package traffic tracks the independently driven vehicles that share the
// road with platoons and dispatches V2V requests addressed to them.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// ErrVehicleExists indicates a vehicle with the same ID is already registered.
var ErrVehicleExists = errors.New("vehicle already registered")

// Registry is the set of independent vehicles in one simulation run.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[model.VehicleID]*Vehicle
	order    []model.VehicleID

	log logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(log logging.Logger) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	return &Registry{
		vehicles: make(map[model.VehicleID]*Vehicle),
		log:      log,
	}
}

// Register adds v. Registering the same ID twice is a programming error and
// is reported as ErrVehicleExists.
func (r *Registry) Register(v *Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vehicles[v.ID]; exists {
		return fmt.Errorf("%w: %s", ErrVehicleExists, v.ID)
	}
	r.vehicles[v.ID] = v
	r.order = append(r.order, v.ID)
	return nil
}

// Get returns the vehicle with the given ID, or nil if not registered.
func (r *Registry) Get(id model.VehicleID) *Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vehicles[id]
}

// List returns registered vehicles in registration order.
func (r *Registry) List() []*Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Vehicle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.vehicles[id])
	}
	return out
}

// Len returns the number of registered vehicles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

// Tick lets every vehicle execute the command scheduled for step.
func (r *Registry) Tick(ctx context.Context, step int) {
	for _, v := range r.List() {
		v.Tick(ctx, step)
	}
}

// Deliver hands req to its recipient synchronously. It reports false when the
// recipient is unknown; that case is not an error because vehicles routinely
// leave the road.
func (r *Registry) Deliver(ctx context.Context, req model.V2VRequest) bool {
	v := r.Get(req.Recipient)
	if v == nil {
		r.log.Debug(ctx, "dropping V2V request for unknown vehicle",
			logging.String("sender", string(req.Sender)),
			logging.String("recipient", string(req.Recipient)),
		)
		return false
	}
	v.Receive(ctx, req)
	return true
}

// Reset removes every vehicle.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles = make(map[model.VehicleID]*Vehicle)
	r.order = nil
}
