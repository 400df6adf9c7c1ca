// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/driftsim/diffusion"
	"github.com/pthm-cable/driftsim/drift"
	"github.com/pthm-cable/driftsim/geometry"
	"github.com/pthm-cable/driftsim/random"
	"github.com/pthm-cable/driftsim/region"
	"github.com/pthm-cable/driftsim/source"
	"github.com/pthm-cable/driftsim/units"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	ErrSourceKind = errors.New("config: unknown source kind")
	ErrPitch      = errors.New("config: wire pitch must be positive")
	ErrWindow     = errors.New("config: stats window must be non-negative")
	ErrNoTracks   = errors.New("config: track source has no tracks")
	ErrNoRegions  = errors.New("config: at least one drift region is required")
)

// Config holds all simulation configuration parameters.
// Values carry their unit in the YAML key and are converted to base units in
// Derived.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Drift     DriftConfig     `yaml:"drift"`
	Diffusion DiffusionConfig `yaml:"diffusion"`
	Plane     PlaneConfig     `yaml:"plane"`
	Source    SourceConfig    `yaml:"source"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// RunConfig holds run-level settings.
type RunConfig struct {
	Seed            uint64 `yaml:"seed"`             // 0 = time-based
	MaxDepos        int    `yaml:"max_depos"`        // 0 = until the source ends
	HistoryCapacity int    `yaml:"history_capacity"` // deposition records kept for prior-links; 0 = unbounded
}

// RegionConfig is one drift region along x.
type RegionConfig struct {
	AnodeMM   float64 `yaml:"anode_mm"`
	CathodeMM float64 `yaml:"cathode_mm"`
}

// DriftConfig holds drift transport parameters.
type DriftConfig struct {
	DLCM2PerS         float64        `yaml:"dl_cm2_per_s"`
	DTCM2PerS         float64        `yaml:"dt_cm2_per_s"`
	LifetimeMS        float64        `yaml:"lifetime_ms"` // .inf disables absorption
	DriftSpeedMMPerUS float64        `yaml:"drift_speed_mm_per_us"`
	Fluctuate         bool           `yaml:"fluctuate"`
	Fluctuation       string         `yaml:"fluctuation"` // binomial, poisson or expected
	RipeMarginUS      float64        `yaml:"ripe_margin_us"`
	Regions           []RegionConfig `yaml:"regions"`
}

// DiffusionConfig holds binning parameters. Diffusion coefficients and speed are
// shared with the drift section.
type DiffusionConfig struct {
	TickUS        float64 `yaml:"tick_us"`
	OriginLUS     float64 `yaml:"origin_l_us"`
	TimeOffsetUS  float64 `yaml:"time_offset_us"`
	OriginTMM     float64 `yaml:"origin_t_mm"`
	MaxSigmaLUS   float64 `yaml:"max_sigma_l_us"`
	NSigma        float64 `yaml:"nsigma"`
	FixedSigmaLUS float64 `yaml:"fixed_sigma_l_us"` // for depositions that never drifted
	FixedSigmaTMM float64 `yaml:"fixed_sigma_t_mm"`
}

// PlaneConfig describes the wire plane that defines the transverse axis.
type PlaneConfig struct {
	AngleDeg float64 `yaml:"angle_deg"` // wire angle from the y axis in the y-z plane
	PitchMM  float64 `yaml:"pitch_mm"`
	OriginMM r3.Vec  `yaml:"origin_mm"`
}

// BlipConfig configures the random blip source. Times are in µs, positions in mm
// and charge in electrons.
type BlipConfig struct {
	StartUS    float64       `yaml:"start_us"`
	StopUS     float64       `yaml:"stop_us"`
	Count      int           `yaml:"count"`
	TimeStepUS source.Scalar `yaml:"time_step_us"`
	Charge     source.Scalar `yaml:"charge"`
	PositionMM source.Point  `yaml:"position_mm"`
}

// TrackConfig is one straight ionizing track.
type TrackConfig struct {
	T0US   float64 `yaml:"t0_us"`
	FromMM r3.Vec  `yaml:"from_mm"`
	ToMM   r3.Vec  `yaml:"to_mm"`
	DEDX   float64 `yaml:"dedx"` // >0 total charge, <0 charge per step, 0 unit charge
}

// SourceConfig selects and configures the deposition source.
type SourceConfig struct {
	Kind              string        `yaml:"kind"` // blip or track
	Blip              BlipConfig    `yaml:"blip"`
	TrackStepMM       float64       `yaml:"track_step_mm"`
	TrackSpeedMMPerNS float64       `yaml:"track_speed_mm_per_ns"`
	Tracks            []TrackConfig `yaml:"tracks"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindowUS       float64 `yaml:"stats_window_us"`
	BookmarkHistorySize int     `yaml:"bookmark_history_size"`
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
	SnapshotOnBookmark  bool    `yaml:"snapshot_on_bookmark"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Drift       drift.Params
	Diffusion   diffusion.Params
	Plane       geometry.WirePlane
	StatsWindow float64 // base time units
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. The result is validated.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(cfg, data); err != nil {
			return nil, err
		}
	}

	// Compute derived values
	cfg.computeDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse unmarshals data over cfg. Only fields present in data are overwritten,
// except lists, which are replaced as a whole.
func Parse(cfg *Config, data []byte) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Rederive recomputes derived values after fields were changed in code and
// validates the result.
func (c *Config) Rederive() error {
	c.computeDerived()
	return c.Validate()
}

// computeDerived converts the loaded values to base units.
func (c *Config) computeDerived() {
	d := c.Drift
	regions := make([]region.Region, len(d.Regions))
	for i, r := range d.Regions {
		regions[i] = region.Region{Anode: r.AnodeMM * units.MM, Cathode: r.CathodeMM * units.MM}
	}
	speed := d.DriftSpeedMMPerUS * units.MMPerUS
	dl := d.DLCM2PerS * units.CM2PerS
	dt := d.DTCM2PerS * units.CM2PerS

	c.Derived.Drift = drift.Params{
		DL:         dl,
		DT:         dt,
		Lifetime:   d.LifetimeMS * units.MS,
		Speed:      speed,
		Fluctuate:  d.Fluctuate,
		RipeMargin: d.RipeMarginUS * units.US,
		Regions:    regions,
	}

	b := c.Diffusion
	c.Derived.Diffusion = diffusion.Params{
		BinSizeL:    b.TickUS * units.US,
		OriginL:     b.OriginLUS * units.US,
		TimeOffset:  b.TimeOffsetUS * units.US,
		BinSizeT:    c.Plane.PitchMM * units.MM,
		OriginT:     b.OriginTMM * units.MM,
		DL:          dl,
		DT:          dt,
		Speed:       speed,
		MaxSigmaL:   b.MaxSigmaLUS * units.US,
		NSigma:      b.NSigma,
		FixedSigmaL: b.FixedSigmaLUS * units.US,
		FixedSigmaT: b.FixedSigmaTMM * units.MM,
	}

	c.Derived.Plane = geometry.WirePlane{
		Angle:  c.Plane.AngleDeg * math.Pi / 180,
		Pitch:  c.Plane.PitchMM * units.MM,
		Origin: r3.Scale(units.MM, c.Plane.OriginMM),
	}

	c.Derived.StatsWindow = c.Telemetry.StatsWindowUS * units.US
}

// Validate reports every configuration problem.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Derived.Drift.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Derived.Drift.Regions) == 0 {
		errs = append(errs, ErrNoRegions)
	}
	if _, err := drift.FluctuationByName(c.Drift.Fluctuation); err != nil {
		errs = append(errs, err)
	}
	if err := c.Derived.Diffusion.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !(c.Plane.PitchMM > 0) {
		errs = append(errs, ErrPitch)
	}
	if c.Telemetry.StatsWindowUS < 0 {
		errs = append(errs, ErrWindow)
	}
	if err := c.validateSource(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validateSource() error {
	s := c.Source
	switch s.Kind {
	case "blip":
		b := s.Blip
		if b.Count <= 0 && b.StopUS <= b.StartUS {
			return source.ErrUnbounded
		}
		var errs []error
		if err := b.TimeStepUS.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("blip time step: %w", err))
		}
		if err := b.Charge.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("blip charge: %w", err))
		}
		if err := b.PositionMM.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("blip position: %w", err))
		}
		return errors.Join(errs...)
	case "track":
		if len(s.Tracks) == 0 {
			return ErrNoTracks
		}
		if !(s.TrackStepMM > 0) || !(s.TrackSpeedMMPerNS > 0) {
			return fmt.Errorf("%w: track step %v mm, speed %v mm/ns", source.ErrRange, s.TrackStepMM, s.TrackSpeedMMPerNS)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrSourceKind, s.Kind)
}

// DriftParams returns the drift stage parameters in base units.
func (c *Config) DriftParams() drift.Params {
	p := c.Derived.Drift
	p.Regions = append([]region.Region(nil), p.Regions...)
	return p
}

// DiffusionParams returns the diffusion stage parameters in base units.
func (c *Config) DiffusionParams() diffusion.Params {
	return c.Derived.Diffusion
}

// Fluctuation returns the configured counting model.
func (c *Config) Fluctuation() drift.Fluctuation {
	f, err := drift.FluctuationByName(c.Drift.Fluctuation)
	if err != nil {
		return drift.Binomial{}
	}
	return f
}

// PitchRay returns the transverse axis of the wire plane.
func (c *Config) PitchRay() geometry.Ray {
	return c.Derived.Plane.PitchRay()
}

// NewSource builds the configured deposition source. MaxDepos, when set, caps it.
func (c *Config) NewSource(rng random.Source) (source.Source, error) {
	var src source.Source
	s := c.Source
	switch s.Kind {
	case "blip":
		b := s.Blip
		blip, err := source.NewBlip(source.Blip{
			Start:    b.StartUS * units.US,
			Stop:     b.StopUS * units.US,
			Count:    b.Count,
			TimeStep: scaleScalar(b.TimeStepUS, units.US),
			Charge:   b.Charge,
			Position: scalePoint(b.PositionMM, units.MM),
		}, rng)
		if err != nil {
			return nil, err
		}
		src = blip
	case "track":
		track, err := source.NewTrack(s.TrackStepMM*units.MM, s.TrackSpeedMMPerNS*units.MM/units.NS)
		if err != nil {
			return nil, err
		}
		for _, t := range s.Tracks {
			track.AddTrack(t.T0US*units.US, r3.Scale(units.MM, t.FromMM), r3.Scale(units.MM, t.ToMM), t.DEDX)
		}
		src = track
	default:
		return nil, fmt.Errorf("%w: %q", ErrSourceKind, s.Kind)
	}

	if c.Run.MaxDepos > 0 {
		src = source.Limit(src, c.Run.MaxDepos)
	}
	return src, nil
}

func scaleScalar(s source.Scalar, unit float64) source.Scalar {
	s.Value *= unit
	s.Min *= unit
	s.Max *= unit
	s.Mean *= unit
	s.Sigma *= unit
	if len(s.Values) > 0 {
		values := make([]float64, len(s.Values))
		for i, v := range s.Values {
			values[i] = v * unit
		}
		s.Values = values
	}
	return s
}

func scalePoint(p source.Point, unit float64) source.Point {
	p.Value = r3.Scale(unit, p.Value)
	p.Min = r3.Scale(unit, p.Min)
	p.Max = r3.Scale(unit, p.Max)
	p.Mean = r3.Scale(unit, p.Mean)
	p.Sigma = r3.Scale(unit, p.Sigma)
	return p
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
