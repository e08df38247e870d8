package ids

import (
	"testing"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

func TestSequenceCountersArePerNamespace(t *testing.T) {
	seq := NewSequence()

	if got := seq.NextPlatoonVehicle(); got != "platoon.0" {
		t.Fatalf("first platoon vehicle = %q, want platoon.0", got)
	}
	if got := seq.NextVehicle(); got != "v.0" {
		t.Fatalf("first vehicle = %q, want v.0", got)
	}
	if got := seq.NextPlatoonVehicle(); got != "platoon.1" {
		t.Fatalf("second platoon vehicle = %q, want platoon.1", got)
	}
	if got := seq.NextPlatoon(); got != "p.0" {
		t.Fatalf("first platoon = %q, want p.0", got)
	}
}

func TestSequenceReset(t *testing.T) {
	seq := NewSequence()
	seq.NextVehicle()
	seq.NextVehicle()
	seq.Reset()
	if got := seq.NextVehicle(); got != "v.0" {
		t.Fatalf("after Reset NextVehicle() = %q, want v.0", got)
	}
}

func TestGeneratedIDsCarryNamespace(t *testing.T) {
	seq := NewSequence()
	if !model.IsPlatoonVehicle(seq.NextPlatoonVehicle()) {
		t.Fatalf("platoon vehicle ID not recognised as platoon member")
	}
	if model.IsPlatoonVehicle(seq.NextVehicle()) {
		t.Fatalf("independent vehicle ID recognised as platoon member")
	}
}
