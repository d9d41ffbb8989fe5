package opportunity

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/repricer/internal/numeric"
	"github.com/sellerpulse/repricer/internal/window"
)

// Event is the raw domain event a detection pass sees alongside the entity's
// current aggregates.
type Event struct {
	Type      string
	EntityKey string
	Payload   map[string]any
}

// Config holds the rule thresholds.
type Config struct {
	SpikeStdDevs        float64       `yaml:"spike_std_devs" env:"DETECTOR_SPIKE_STD_DEVS"`
	MinBaselineSamples  int           `yaml:"min_baseline_samples" env:"DETECTOR_MIN_BASELINE_SAMPLES"`
	VolatilityThreshold float64       `yaml:"volatility_threshold" env:"DETECTOR_VOLATILITY_THRESHOLD"`
	UndercutFraction    float64       `yaml:"undercut_fraction" env:"DETECTOR_UNDERCUT_FRACTION"`
	TTL                 time.Duration `yaml:"ttl" env:"DETECTOR_TTL"`
}

func DefaultConfig() Config {
	return Config{
		SpikeStdDevs:        2.0,
		MinBaselineSamples:  5,
		VolatilityThreshold: 5.0,
		UndercutFraction:    0.05,
		TTL:                 3 * time.Minute,
	}
}

type rule func(ev Event, snap window.Snapshot) *MicroOpportunity

// Detector runs a small closed rule set over each event plus the entity's
// current aggregates. A failing rule is contained: it is logged and skipped,
// and never rolls back the aggregate update that preceded it.
type Detector struct {
	cfg   Config
	rules map[string]rule
	now   func() time.Time
	log   zerolog.Logger
}

func NewDetector(cfg Config, log zerolog.Logger) *Detector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SpikeStdDevs <= 0 {
		cfg.SpikeStdDevs = DefaultConfig().SpikeStdDevs
	}
	if cfg.MinBaselineSamples <= 0 {
		cfg.MinBaselineSamples = DefaultConfig().MinBaselineSamples
	}
	d := &Detector{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("component", "detector").Logger(),
	}
	d.rules = map[string]rule{
		string(VelocitySpike):      d.velocitySpike,
		string(VolatilityBreakout): d.volatilityBreakout,
		string(UndercutWindow):     d.undercutWindow,
	}
	return d
}

// Detect evaluates every rule against the event and aggregates and returns
// the opportunities that fired.
func (d *Detector) Detect(ev Event, snap window.Snapshot) []MicroOpportunity {
	var out []MicroOpportunity
	for name, r := range d.rules {
		if op := d.safeApply(name, r, ev, snap); op != nil {
			out = append(out, *op)
		}
	}
	return out
}

// safeApply isolates a single rule: panics become logged skips.
func (d *Detector) safeApply(name string, r rule, ev Event, snap window.Snapshot) (op *MicroOpportunity) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Str("rule", name).Str("entity", ev.EntityKey).
				Interface("panic", rec).Msg("detection rule panicked, skipped")
			op = nil
		}
	}()
	return r(ev, snap)
}

// velocitySpike fires when the trailing velocity sits N standard deviations
// above the entity's rolling baseline.
func (d *Detector) velocitySpike(ev Event, snap window.Snapshot) *MicroOpportunity {
	if ev.Type != window.EventSaleCompleted || snap.Velocity.Stale {
		return nil
	}
	if snap.Samples < d.cfg.MinBaselineSamples || snap.BaselineStd == 0 {
		return nil
	}
	z := (snap.Velocity.Value - snap.BaselineMean) / snap.BaselineStd
	if z < d.cfg.SpikeStdDevs {
		return nil
	}
	return d.emit(VelocitySpike, ev.EntityKey,
		fmt.Sprintf("sales velocity %.1f is %.1f sd above baseline %.1f", snap.Velocity.Value, z, snap.BaselineMean),
		confidenceFromZ(z))
}

// volatilityBreakout fires when the volatility EMA crosses its threshold.
func (d *Detector) volatilityBreakout(ev Event, snap window.Snapshot) *MicroOpportunity {
	if ev.Type != window.EventPriceChanged || snap.Volatility.Stale {
		return nil
	}
	if snap.Volatility.Value < d.cfg.VolatilityThreshold {
		return nil
	}
	ratio := snap.Volatility.Value / d.cfg.VolatilityThreshold
	return d.emit(VolatilityBreakout, ev.EntityKey,
		fmt.Sprintf("price volatility %.2f above threshold %.2f", snap.Volatility.Value, d.cfg.VolatilityThreshold),
		clamp01(0.5+0.1*ratio))
}

// undercutWindow fires on a competitor price drop large enough to open a
// repositioning window.
func (d *Detector) undercutWindow(ev Event, _ window.Snapshot) *MicroOpportunity {
	if ev.Type != window.EventPriceChanged {
		return nil
	}
	oldPrice, ok1 := numeric.Float(ev.Payload["oldPrice"])
	newPrice, ok2 := numeric.Float(ev.Payload["newPrice"])
	if !ok1 || !ok2 || oldPrice <= 0 || newPrice >= oldPrice {
		return nil
	}
	drop := (oldPrice - newPrice) / oldPrice
	if drop < d.cfg.UndercutFraction {
		return nil
	}
	return d.emit(UndercutWindow, ev.EntityKey,
		fmt.Sprintf("price dropped %.1f%% (%.2f -> %.2f)", drop*100, oldPrice, newPrice),
		clamp01(0.5+drop*2))
}

func (d *Detector) emit(t Type, entityKey, description string, confidence float64) *MicroOpportunity {
	now := d.now()
	return &MicroOpportunity{
		ID:          uuid.New().String(),
		Type:        t,
		EntityKey:   entityKey,
		Description: description,
		Confidence:  confidence,
		DetectedAt:  now,
		ExpiresAt:   now.Add(d.cfg.TTL),
	}
}

// confidenceFromZ maps deviation magnitude into (0.5, 1): two sigma lands at
// 0.5 and larger spikes asymptote toward certainty.
func confidenceFromZ(z float64) float64 {
	return clamp01(1 - 1/z)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
