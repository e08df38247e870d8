// Package ids generates vehicle and platoon identifiers. A Sequence is owned
// by one simulation session and keeps an independent counter per namespace.
package ids

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Sequence hands out monotonically increasing identifiers per namespace.
type Sequence struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewSequence returns a sequence with every counter at zero.
func NewSequence() *Sequence {
	return &Sequence{counters: make(map[string]int)}
}

// Next returns the next identifier in namespace, e.g. "v.0", "v.1".
func (s *Sequence) Next(namespace string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counters[namespace]
	s.counters[namespace] = n + 1
	return fmt.Sprintf("%s%d", namespace, n)
}

// NextPlatoonVehicle returns the next platoon member ID.
func (s *Sequence) NextPlatoonVehicle() model.VehicleID {
	return model.VehicleID(s.Next(model.NamespacePlatoonVehicle))
}

// NextVehicle returns the next independent vehicle ID.
func (s *Sequence) NextVehicle() model.VehicleID {
	return model.VehicleID(s.Next(model.NamespaceVehicle))
}

// NextPlatoon returns the next platoon group ID.
func (s *Sequence) NextPlatoon() string {
	return s.Next(model.NamespacePlatoon)
}

// Reset sets every counter back to zero.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int)
}
