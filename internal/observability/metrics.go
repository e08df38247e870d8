package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for a simulation run: step timing,
// population gauges, maneuver event counters and the RPC metrics of the
// simulator's gRPC surface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Steps        prometheus.Counter
	StepDuration prometheus.Histogram

	Platoons            prometheus.Gauge
	IndependentVehicles prometheus.Gauge

	Transitions *prometheus.CounterVec
	Splits      prometheus.Counter
	Merges      prometheus.Counter
	LaneChanges *prometheus.CounterVec
	Requests    *prometheus.CounterVec
	Broadcasts  prometheus.Counter

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &SimCollector{gatherer: gatherer}

	var err error
	if c.Steps, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steps_total",
		Help: "Number of simulation steps executed.",
	}), "sim_steps_total"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock time spent computing one simulation step.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "sim_step_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Platoons, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "platoons_active",
		Help: "Current number of platoons on the road.",
	}), "platoons_active"); err != nil {
		return nil, err
	}
	if c.IndependentVehicles, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "independent_vehicles",
		Help: "Current number of independent vehicles on the road.",
	}), "independent_vehicles"); err != nil {
		return nil, err
	}
	if c.Transitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platoon_state_transitions_total",
		Help: "Maneuver state transitions, labeled by source and target state.",
	}, []string{"from", "to"}), "platoon_state_transitions_total"); err != nil {
		return nil, err
	}
	if c.Splits, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platoon_splits_total",
		Help: "Number of platoon splits.",
	}), "platoon_splits_total"); err != nil {
		return nil, err
	}
	if c.Merges, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platoon_merges_total",
		Help: "Number of platoons absorbed into the platoon ahead.",
	}), "platoon_merges_total"); err != nil {
		return nil, err
	}
	if c.LaneChanges, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platoon_lane_changes_total",
		Help: "Whole-platoon lane changes, labeled by direction.",
	}, []string{"direction"}), "platoon_lane_changes_total"); err != nil {
		return nil, err
	}
	if c.Requests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2v_requests_total",
		Help: "V2V requests sent by platoons, labeled by request kind.",
	}, []string{"kind"}), "v2v_requests_total"); err != nil {
		return nil, err
	}
	if c.Broadcasts, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "v2v_broadcasts_total",
		Help: "V2V position broadcasts issued by platoons.",
	}), "v2v_broadcasts_total"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "rpc_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveStep counts one simulation step and its duration.
func (c *SimCollector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.Inc()
	c.StepDuration.Observe(d.Seconds())
}

// SetPopulation updates the population gauges.
func (c *SimCollector) SetPopulation(platoons, vehicles int) {
	if c == nil {
		return
	}
	c.Platoons.Set(float64(platoons))
	c.IndependentVehicles.Set(float64(vehicles))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
