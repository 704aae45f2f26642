// Package setups turns detected wave structures into tradeable entry plans
// and applies the pre-trade gates that keep setups out of hostile regimes.
package setups

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
)

// Tag names the wave relationship a setup trades.
type Tag string

const (
	TagW3 Tag = "W3" // wave-2 pullback targeting the wave-3 run
	TagW5 Tag = "W5" // wave-4 pullback targeting the wave-5 run
	TagC  Tag = "C"  // wave-B pullback targeting the C leg
)

// Setup is an immutable entry plan. The simulator consumes each setup once.
type Setup struct {
	Tag        Tag               `json:"tag"`
	Direction  elliott.Direction `json:"direction"`
	AnchorTime time.Time         `json:"anchor_time"`
	Timeframe  market.Timeframe  `json:"timeframe"`
	Zone       elliott.Zone      `json:"zone"`
	StopRef    float64           `json:"stop_ref"`
	Target1    float64           `json:"target1"`
	Target2    float64           `json:"target2"`
	Source     string            `json:"source"`
}

// Builder derives setups from hourly structures. The anchor bar for each
// setup is the bar after the pivot that completes its pullback leg, so the
// entry window opens only once the structure is knowable.
type Builder struct {
	cfg    config.Config
	h1     *market.Series
	m30    *market.Series
	logger zerolog.Logger
}

// NewBuilder creates a Builder over the trading series.
func NewBuilder(cfg config.Config, h1, m30 *market.Series, logger zerolog.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		h1:     h1,
		m30:    m30,
		logger: logger.With().Str("component", "SetupBuilder").Logger(),
	}
}

// Build constructs the setup list from impulses and corrections, sorted by
// anchor time. Impulses contribute a W3 setup each (plus W5 when enabled),
// corrections a C setup each.
func (b *Builder) Build(impulses []elliott.Impulse, abcs []elliott.ABC) []Setup {
	var out []Setup

	for _, imp := range impulses {
		p := imp.Points
		zone := elliott.FibZone(p[0].Price, p[1].Price, imp.Direction, b.cfg.Entries.ZoneW3.Low, b.cfg.Entries.ZoneW3.High)
		anchor := b.h1.Candles[p[2].Index+1].Time
		out = append(out, Setup{
			Tag:        TagW3,
			Direction:  imp.Direction,
			AnchorTime: anchor,
			Timeframe:  b.preferredTimeframe(anchor),
			Zone:       zone,
			StopRef:    p[0].Price,
			Target1:    elliott.FibExt(p[0].Price, p[1].Price, imp.Direction, b.cfg.Entries.TP1),
			Target2:    elliott.FibExt(p[0].Price, p[1].Price, imp.Direction, b.cfg.Entries.TP2),
			Source:     "impulse",
		})

		if b.cfg.Entries.UseW5 {
			zone5 := elliott.FibZone(p[2].Price, p[3].Price, imp.Direction, b.cfg.Entries.ZoneW5.Low, b.cfg.Entries.ZoneW5.High)
			anchor5 := b.h1.Candles[p[4].Index+1].Time
			out = append(out, Setup{
				Tag:        TagW5,
				Direction:  imp.Direction,
				AnchorTime: anchor5,
				Timeframe:  b.preferredTimeframe(anchor5),
				Zone:       zone5,
				StopRef:    p[2].Price,
				Target1:    elliott.FibExt(p[2].Price, p[3].Price, imp.Direction, b.cfg.Entries.TP1),
				Target2:    elliott.FibExt(p[2].Price, p[3].Price, imp.Direction, b.cfg.Entries.TP2),
				Source:     "impulse",
			})
		}
	}

	for _, abc := range abcs {
		p := abc.Points
		zone := elliott.FibZone(p[0].Price, p[1].Price, abc.Direction, b.cfg.Entries.ZoneC.Low, b.cfg.Entries.ZoneC.High)
		anchor := b.h1.Candles[p[2].Index+1].Time
		out = append(out, Setup{
			Tag:        TagC,
			Direction:  abc.Direction,
			AnchorTime: anchor,
			Timeframe:  b.preferredTimeframe(anchor),
			Zone:       zone,
			StopRef:    p[2].Price,
			Target1:    elliott.FibExt(p[0].Price, p[1].Price, abc.Direction, b.cfg.Entries.TP1),
			Target2:    elliott.FibExt(p[0].Price, p[1].Price, abc.Direction, b.cfg.Entries.TP2),
			Source:     "abc",
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AnchorTime.Before(out[j].AnchorTime) })

	b.logger.Debug().Int("setups", len(out)).Msg("setups built")
	return out
}

// preferredTimeframe picks the finer series when its history covers the
// anchor, otherwise the hourly series.
func (b *Builder) preferredTimeframe(anchor time.Time) market.Timeframe {
	if b.m30 != nil && !b.m30.Empty() && b.m30.Covers(anchor) {
		return market.TimeframeM30
	}
	return market.TimeframeH1
}
