// Package config loads simulator configuration from a YAML or JSON file with
// PLATOON_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/platoon-coordinator/internal/platoon"
	"github.com/signalsfoundry/platoon-coordinator/internal/world/highway"
	"github.com/signalsfoundry/platoon-coordinator/model"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, e.g. PLATOON_SIM_STEPS.
const EnvPrefix = "PLATOON"

// DefaultSpeed is the cruising speed of a platoon without an explicit speed.
const DefaultSpeed = 130 / 3.6

// Config is the complete simulator configuration.
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Sim      SimConfig       `mapstructure:"sim"`
	Maneuver ManeuverConfig  `mapstructure:"maneuver"`
	Road     RoadConfig      `mapstructure:"road"`
	Platoons []PlatoonConfig `mapstructure:"platoons"`
	Vehicles []VehicleConfig `mapstructure:"vehicles"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	GRPC     GRPCConfig      `mapstructure:"grpc"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
	Recorder RecorderConfig  `mapstructure:"recorder"`
	Influx   InfluxConfig    `mapstructure:"influx"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SimConfig controls run length and pacing. Steps wins over Seconds when
// both are set.
type SimConfig struct {
	Steps       int           `mapstructure:"steps"`
	Seconds     float64       `mapstructure:"seconds"`
	StepLength  float64       `mapstructure:"stepLength"`
	Accelerated bool          `mapstructure:"accelerated"`
	Tick        time.Duration `mapstructure:"tick"`
}

type ManeuverConfig struct {
	MinSplit           int     `mapstructure:"minSplit"`
	ProximityTolerance float64 `mapstructure:"proximityTolerance"`
	DebounceSteps      int     `mapstructure:"debounceSteps"`
	RadarRange         float64 `mapstructure:"radarRange"`
	ApproachDistance   float64 `mapstructure:"approachDistance"`
	Rejoin             bool    `mapstructure:"rejoin"`
	JoinDistance       float64 `mapstructure:"joinDistance"`
}

type RoadConfig struct {
	Lanes         int     `mapstructure:"lanes"`
	Length        float64 `mapstructure:"length"`
	LaneWidth     float64 `mapstructure:"laneWidth"`
	VehicleLength float64 `mapstructure:"vehicleLength"`
	MinGap        float64 `mapstructure:"minGap"`
	SensorRange   float64 `mapstructure:"sensorRange"`
}

type PlatoonConfig struct {
	Size     int     `mapstructure:"size"`
	Position float64 `mapstructure:"position"`
	Lane     int     `mapstructure:"lane"`
	Speed    float64 `mapstructure:"speed"`
}

type VehicleConfig struct {
	Position float64            `mapstructure:"position"`
	Lane     int                `mapstructure:"lane"`
	Speed    float64            `mapstructure:"speed"`
	V2V      bool               `mapstructure:"v2v"`
	Schedule []ScheduledCommand `mapstructure:"schedule"`
}

// ScheduledCommand is one entry of a vehicle's script.
type ScheduledCommand struct {
	Step    int    `mapstructure:"step"`
	Command string `mapstructure:"command"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sampleRatio"`
	ServiceName string  `mapstructure:"serviceName"`
}

// RecorderConfig selects the maneuver event store. An empty driver disables
// it.
type RecorderConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("sim.steps", 0)
	v.SetDefault("sim.seconds", 60)
	v.SetDefault("sim.stepLength", 0.01)
	v.SetDefault("sim.accelerated", true)
	v.SetDefault("sim.tick", "10ms")

	m := platoon.DefaultConfig()
	v.SetDefault("maneuver.minSplit", m.MinSplit)
	v.SetDefault("maneuver.proximityTolerance", m.ProximityTolerance)
	v.SetDefault("maneuver.debounceSteps", m.DebounceSteps)
	v.SetDefault("maneuver.radarRange", m.RadarRange)
	v.SetDefault("maneuver.approachDistance", 0)
	v.SetDefault("maneuver.rejoin", false)
	v.SetDefault("maneuver.joinDistance", 0)

	r := highway.DefaultConfig()
	v.SetDefault("road.lanes", r.Lanes)
	v.SetDefault("road.length", r.Length)
	v.SetDefault("road.laneWidth", r.LaneWidth)
	v.SetDefault("road.vehicleLength", r.Vehicle.Length)
	v.SetDefault("road.minGap", r.Vehicle.MinGap)
	v.SetDefault("road.sensorRange", r.SensorRange)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("grpc.addr", "")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sampleRatio", 1.0)
	v.SetDefault("tracing.serviceName", "platoon-simulator")

	v.SetDefault("recorder.driver", "")
	v.SetDefault("recorder.dsn", "")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "platoon")
	v.SetDefault("influx.bucket", "maneuvers")
}

// Load reads path (YAML or JSON, chosen by extension) over the defaults and
// applies environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	for i := range cfg.Platoons {
		if cfg.Platoons[i].Speed == 0 {
			cfg.Platoons[i].Speed = DefaultSpeed
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	if c.Sim.StepLength <= 0 {
		problems = append(problems, "sim.stepLength must be positive")
	}
	if c.Sim.Steps < 0 || c.Sim.Seconds < 0 {
		problems = append(problems, "sim.steps and sim.seconds must not be negative")
	}
	if c.Road.Lanes <= 0 {
		problems = append(problems, "road.lanes must be positive")
	}
	if c.Road.VehicleLength <= 0 || c.Road.MinGap <= 0 {
		problems = append(problems, "road.vehicleLength and road.minGap must be positive")
	}
	if c.Maneuver.MinSplit < 1 {
		problems = append(problems, "maneuver.minSplit must be at least 1")
	}
	if c.Maneuver.DebounceSteps < 1 {
		problems = append(problems, "maneuver.debounceSteps must be at least 1")
	}
	for i, p := range c.Platoons {
		if p.Size < 1 {
			problems = append(problems, fmt.Sprintf("platoons[%d].size must be at least 1", i))
		}
		if p.Lane < 0 || p.Lane >= c.Road.Lanes {
			problems = append(problems, fmt.Sprintf("platoons[%d].lane %d outside road", i, p.Lane))
		}
	}
	for i, v := range c.Vehicles {
		if v.Lane < 0 || v.Lane >= c.Road.Lanes {
			problems = append(problems, fmt.Sprintf("vehicles[%d].lane %d outside road", i, v.Lane))
		}
		if _, err := v.ParseSchedule(); err != nil {
			problems = append(problems, fmt.Sprintf("vehicles[%d]: %v", i, err))
		}
	}
	switch c.Recorder.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("recorder.driver %q not supported", c.Recorder.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// TotalSteps returns the run length in steps.
func (c Config) TotalSteps() int {
	if c.Sim.Steps > 0 {
		return c.Sim.Steps
	}
	if c.Sim.StepLength <= 0 {
		return 0
	}
	return int(math.Round(c.Sim.Seconds / c.Sim.StepLength))
}

// PlatoonConfig converts the maneuver section.
func (c Config) PlatoonConfig() platoon.Config {
	return platoon.Config{
		MinSplit:           c.Maneuver.MinSplit,
		ProximityTolerance: c.Maneuver.ProximityTolerance,
		DebounceSteps:      c.Maneuver.DebounceSteps,
		RadarRange:         c.Maneuver.RadarRange,
		ApproachDistance:   c.Maneuver.ApproachDistance,
		Rejoin:             c.Maneuver.Rejoin,
		JoinDistance:       c.Maneuver.JoinDistance,
	}
}

// HighwayConfig converts the road section.
func (c Config) HighwayConfig() highway.Config {
	h := highway.DefaultConfig()
	h.Lanes = c.Road.Lanes
	h.Length = c.Road.Length
	h.LaneWidth = c.Road.LaneWidth
	h.Vehicle = model.Dimensions{Length: c.Road.VehicleLength, MinGap: c.Road.MinGap}
	h.SensorRange = c.Road.SensorRange
	return h
}

// Spec converts a platoon entry.
func (p PlatoonConfig) Spec() platoon.Spec {
	return platoon.Spec{Size: p.Size, Position: p.Position, Lane: p.Lane, Speed: p.Speed}
}

// ParseSchedule converts the scripted commands of a vehicle.
func (v VehicleConfig) ParseSchedule() (model.Schedule, error) {
	if len(v.Schedule) == 0 {
		return nil, nil
	}
	s := make(model.Schedule, len(v.Schedule))
	for _, e := range v.Schedule {
		cmd, ok := model.ParseCommand(e.Command)
		if !ok {
			return nil, fmt.Errorf("unknown command %q at step %d", e.Command, e.Step)
		}
		if e.Step < 0 {
			return nil, fmt.Errorf("negative step %d", e.Step)
		}
		s[e.Step] = cmd
	}
	return s, nil
}

// DefaultScenario is used when a configuration names no traffic: one platoon
// catching up with two slow vehicles on adjacent lanes.
func DefaultScenario() ([]PlatoonConfig, []VehicleConfig) {
	platoons := []PlatoonConfig{
		{Size: 6, Position: 50, Lane: 2, Speed: 50},
	}
	vehicles := []VehicleConfig{
		{Position: 110, Lane: 2, Speed: 30},
		{Position: 140, Lane: 1, Speed: 10},
	}
	return platoons, vehicles
}
