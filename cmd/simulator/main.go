package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/platoon-coordinator/internal/config"
	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
	"github.com/signalsfoundry/platoon-coordinator/internal/observability"
	"github.com/signalsfoundry/platoon-coordinator/internal/recorder"
	"github.com/signalsfoundry/platoon-coordinator/internal/sim"
	"github.com/signalsfoundry/platoon-coordinator/internal/world/highway"
	"github.com/signalsfoundry/platoon-coordinator/model"
	"github.com/signalsfoundry/platoon-coordinator/timectrl"
)

// healthService is the name the simulator reports under in grpc.health.v1.
const healthService = "platoon.Simulator"

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON scenario configuration")
	steps := flag.Int("steps", 0, "number of steps to run; overrides the configuration")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics; overrides the configuration")
	grpcAddr := flag.String("grpc-addr", "", "TCP address of the gRPC health service; overrides the configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "failed to load config",
			logging.String("path", *configPath),
			logging.Err(err),
		)
		os.Exit(1)
	}
	if *steps > 0 {
		cfg.Sim.Steps = *steps
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *grpcAddr != "" {
		cfg.GRPC.Addr = *grpcAddr
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)
	ctx = logging.ContextWithLogger(ctx, log)

	var lis net.Listener
	if cfg.GRPC.Addr != "" {
		lis, err = net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPC.Addr), logging.Err(err))
			os.Exit(1)
		}
	}

	if _, err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// Summary describes a finished run.
type Summary struct {
	Steps       int
	Platoons    int
	Vehicles    int
	LastVehicle model.VehicleID
	LastX       float64
	Events      map[model.EventKind]int64
}

// run executes one simulation described by cfg. lis, when non-nil, serves
// the gRPC health service for the duration of the run. A nil log falls back
// to the logger carried by ctx. It returns once the configured number of
// steps has run or ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) (Summary, error) {
	if log == nil {
		log = logging.LoggerFromContext(ctx)
	}
	if log == nil {
		log = logging.Noop()
	}
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return Summary{}, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return Summary{}, fmt.Errorf("init metrics: %w", err)
	}
	if srv := serveMetrics(cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, sinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn(context.Background(), "closing recorders failed", logging.Err(err))
		}
	}()

	w := highway.New(cfg.HighwayConfig())
	session := sim.NewSession(w,
		sim.WithStepLength(cfg.Sim.StepLength),
		sim.WithManeuverConfig(cfg.PlatoonConfig()),
		sim.WithMetricsRecorder(collector),
		sim.WithEventSink(append(sinks, collector)),
		sim.WithLogger(log),
	)
	if err := populate(ctx, session, cfg); err != nil {
		return Summary{}, err
	}

	hs := health.NewServer()
	if lis != nil {
		server := newGRPCServer(collector, hs)
		go func() {
			if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error(ctx, "gRPC server exited", logging.Err(err))
			}
		}()
		defer server.GracefulStop()
		log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
	}
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	total := cfg.TotalSteps()
	tick := time.Duration(cfg.Sim.StepLength * float64(time.Second))
	tc := timectrl.NewTimeController(time.Time{}, tick, timectrl.ParseMode(cfg.Sim.Accelerated))
	tc.Interval = cfg.Sim.Tick
	tc.AddListener(func(time.Time) { session.Step(ctx) })

	log.Info(ctx, "simulation started",
		logging.Int("steps", total),
		logging.Int("platoons", session.Platoons().Len()),
		logging.Int("vehicles", session.Vehicles().Len()),
		logging.Bool("accelerated", cfg.Sim.Accelerated),
	)
	<-tc.Start(ctx, total)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	summary := summarize(ctx, session, w, store, log)
	log.Info(ctx, "simulation finished",
		logging.Int("steps", summary.Steps),
		logging.Float64("sim_seconds", float64(summary.Steps)*session.StepLength()),
		logging.Int("platoons", summary.Platoons),
		logging.Int("vehicles", summary.Vehicles),
		logging.String("last_vehicle", string(summary.LastVehicle)),
		logging.Float64("last_x", summary.LastX),
	)
	return summary, nil
}

// openSinks opens the configured recorders. The SQL store is returned
// separately so the summary can query it.
func openSinks(ctx context.Context, cfg config.Config, log logging.Logger) (*recorder.Store, recorder.MultiSink, error) {
	var (
		store *recorder.Store
		sinks []recorder.Sink
	)
	if cfg.Recorder.Driver != "" {
		s, err := recorder.Open(cfg.Recorder.Driver, cfg.Recorder.DSN, recorder.WithStoreLogger(log))
		if err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "recording maneuver events", logging.String("driver", cfg.Recorder.Driver))
		store = s
		sinks = append(sinks, s)
	}
	if cfg.Influx.Enabled {
		sink, err := recorder.NewInfluxSink(ctx, recorder.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, log)
		if err != nil {
			log.Warn(ctx, "influx unavailable; continuing without it", logging.Err(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	return store, recorder.Multi(sinks...), nil
}

// populate adds the configured traffic, or the default scenario when the
// configuration names none.
func populate(ctx context.Context, session *sim.Session, cfg config.Config) error {
	platoons, vehicles := cfg.Platoons, cfg.Vehicles
	if len(platoons) == 0 && len(vehicles) == 0 {
		platoons, vehicles = config.DefaultScenario()
	}
	for i, p := range platoons {
		if _, err := session.AddPlatoon(ctx, p.Spec()); err != nil {
			return fmt.Errorf("platoon %d: %w", i, err)
		}
	}
	for i, v := range vehicles {
		schedule, err := v.ParseSchedule()
		if err != nil {
			return fmt.Errorf("vehicle %d: %w", i, err)
		}
		if _, err := session.AddVehicle(ctx, sim.VehicleSpec{
			Position: v.Position,
			Lane:     v.Lane,
			Speed:    v.Speed,
			V2V:      v.V2V,
			Schedule: schedule,
		}); err != nil {
			return fmt.Errorf("vehicle %d: %w", i, err)
		}
	}
	return nil
}

func summarize(ctx context.Context, session *sim.Session, w *highway.World, store *recorder.Store, log logging.Logger) Summary {
	s := Summary{
		Steps:    session.CurrentStep(),
		Platoons: session.Platoons().Len(),
		Vehicles: session.Vehicles().Len(),
	}
	if id, ok := session.Platoons().LastVehicle(); ok {
		s.LastVehicle = id
		if st, ok := w.Vehicle(id); ok {
			s.LastX = st.X
		}
	}
	if store != nil {
		counts, err := store.Counts(ctx)
		if err != nil {
			log.Warn(ctx, "event counts unavailable", logging.Err(err))
		}
		s.Events = counts
	}
	return s
}

func newGRPCServer(collector *observability.SimCollector, hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
