package platoon

// Config holds the tuning constants of the maneuver state machine.
type Config struct {
	// MinSplit is the smallest number of leading members worth splitting
	// off or escorting (M).
	MinSplit int
	// ProximityTolerance is the largest distance between a V2V position
	// report and the world position for which the report is taken to come
	// from the vehicle ahead.
	ProximityTolerance float64
	// DebounceSteps is the number of steps between repeated escalations of
	// a negotiation.
	DebounceSteps int
	// RadarRange bounds leader sensing.
	RadarRange float64
	// ApproachDistance is the gap to the vehicle ahead below which the
	// platoon starts negotiating. Zero means vehicle length plus minimum gap.
	ApproachDistance float64

	// Rejoin enables merging a platoon into the one directly ahead of it.
	Rejoin bool
	// JoinDistance is the largest gap at which a rejoin happens. Zero means
	// twice the minimum gap.
	JoinDistance float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinSplit:           3,
		ProximityTolerance: 1.0,
		DebounceSteps:      100,
		RadarRange:         160,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSplit <= 0 {
		c.MinSplit = d.MinSplit
	}
	if c.ProximityTolerance <= 0 {
		c.ProximityTolerance = d.ProximityTolerance
	}
	if c.DebounceSteps <= 0 {
		c.DebounceSteps = d.DebounceSteps
	}
	if c.RadarRange <= 0 {
		c.RadarRange = d.RadarRange
	}
	return c
}
