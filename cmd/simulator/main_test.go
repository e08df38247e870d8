package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/platoon-coordinator/internal/config"
	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/recorder"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Log.Level = "warn"
	cfg.Sim.Accelerated = true
	cfg.Road.Lanes = 3
	return cfg
}

// TestRunOvertakesAndRecords runs a short accelerated simulation with a
// SQLite recorder and checks the platoon overtook the slow vehicle.
func TestRunOvertakesAndRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sim.Steps = 3000
	cfg.Platoons = []config.PlatoonConfig{{Size: 6, Position: 100, Lane: 1, Speed: 30}}
	cfg.Vehicles = []config.VehicleConfig{{Position: 140, Lane: 1, Speed: 20}}
	dsn := filepath.Join(t.TempDir(), "events.db")
	cfg.Recorder.Driver = "sqlite"
	cfg.Recorder.DSN = dsn

	log := logging.New(logging.Config{Level: cfg.Log.Level})
	summary, err := run(context.Background(), cfg, log, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Steps != 3000 {
		t.Fatalf("steps = %d, want 3000", summary.Steps)
	}
	if summary.Platoons != 1 || summary.Vehicles != 1 {
		t.Fatalf("population = %d platoons, %d vehicles; want 1, 1", summary.Platoons, summary.Vehicles)
	}
	if summary.LastVehicle != "platoon.5" {
		t.Fatalf("last vehicle = %s, want platoon.5", summary.LastVehicle)
	}
	if summary.Events[model.EventTransition] != 2 || summary.Events[model.EventLaneChange] != 2 {
		t.Fatalf("event counts = %v, want 2 transitions and 2 lane changes", summary.Events)
	}

	store, err := recorder.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("reopen recorder: %v", err)
	}
	defer store.Close()
	events, err := store.Events(context.Background(), "p.0")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var states []model.ManeuverState
	for _, ev := range events {
		if ev.Kind == model.EventTransition {
			states = append(states, ev.To)
		}
	}
	if len(states) != 2 || states[0] != model.OvertakingLeft || states[1] != model.Cruising {
		t.Fatalf("recorded transitions = %v, want [OVERTAKING_LEFT CRUISING]", states)
	}
}

func TestRunServesHealthUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := testConfig(t)
	cfg.Sim.Steps = 0
	cfg.Sim.Accelerated = false
	log := logging.New(logging.Config{Level: cfg.Log.Level})

	runCtx, stopRun := context.WithCancel(ctx)
	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := run(runCtx, cfg, log, lis)
		done <- result{s, err}
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	var status healthpb.HealthCheckResponse_ServingStatus
	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
		if err == nil {
			status = resp.GetStatus()
			if status == healthpb.HealthCheckResponse_SERVING {
				break
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("health never reported SERVING, last status %v err %v", status, err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	stopRun()
	res := <-done
	if res.err != nil {
		t.Fatalf("run: %v", res.err)
	}
	if res.summary.Steps == 0 {
		t.Fatalf("expected some steps before cancellation")
	}
	if res.summary.Platoons < 1 || res.summary.Vehicles != 2 {
		t.Fatalf("default scenario population = %d platoons, %d vehicles", res.summary.Platoons, res.summary.Vehicles)
	}
}

func TestPopulateRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vehicles = []config.VehicleConfig{{Lane: 0, Schedule: []config.ScheduledCommand{{Step: 1, Command: "jump"}}}}
	ctx := logging.ContextWithLogger(context.Background(), logging.Noop())
	if _, err := run(ctx, cfg, nil, nil); err == nil {
		t.Fatalf("expected error for unknown scheduled command")
	}
}
