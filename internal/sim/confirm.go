// Package sim walks setups through entry confirmation and bar-by-bar trade
// management. Both pieces are explicit state machines: an entry moves
// AwaitingTouch -> AwaitingConfirm -> Confirmed or Expired, and an open trade
// moves Full -> Half -> Closed.
package sim

import (
	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
)

// EntryState is the stage a setup has reached on its way to an entry.
type EntryState string

const (
	StateAwaitingTouch   EntryState = "AWAITING_TOUCH"
	StateAwaitingConfirm EntryState = "AWAITING_CONFIRM"
	StateConfirmed       EntryState = "CONFIRMED"
	StateExpired         EntryState = "EXPIRED"
)

// Confirmation is the outcome of the entry scan. TouchIndex is -1 when the
// zone was never touched inside the window; Fallback marks a window-end entry
// taken without a confirmation signal.
type Confirmation struct {
	State      EntryState
	TouchIndex int
	EntryIndex int
	Fallback   bool
}

// Touched reports whether the zone was reached at all.
func (c Confirmation) Touched() bool {
	return c.TouchIndex >= 0
}

// ConfirmationEngine scans the entry window of a setup.
type ConfirmationEngine struct {
	cfg config.Config
}

// NewConfirmationEngine creates the scanner.
func NewConfirmationEngine(cfg config.Config) *ConfirmationEngine {
	return &ConfirmationEngine{cfg: cfg}
}

// FindEntry runs the state machine from startIdx. A touch is a bar whose
// range intersects the zone or whose close lies inside it; confirmation is
// the first bar inside the confirm window that satisfies an enabled rule.
// With confirmation disabled the touch bar itself is the entry. When no rule
// fires, the window-end fallback applies if allowed, otherwise the setup
// expires.
func (e *ConfirmationEngine) FindEntry(s *market.Series, startIdx int, zone elliott.Zone, d elliott.Direction, window, confirmBars int) Confirmation {
	conf := Confirmation{State: StateAwaitingTouch, TouchIndex: -1, EntryIndex: -1}

	touchEnd := min(startIdx+window, s.Len()-1)
	for i := startIdx; i <= touchEnd; i++ {
		c := s.Candles[i]
		if (c.Low <= zone.High && c.High >= zone.Low) || zone.Contains(c.Close) {
			conf.TouchIndex = i
			conf.State = StateAwaitingConfirm
			break
		}
	}
	if conf.State == StateAwaitingTouch {
		conf.State = StateExpired
		return conf
	}

	if !e.cfg.Confirm.Require {
		conf.State = StateConfirmed
		conf.EntryIndex = conf.TouchIndex
		return conf
	}

	prevBar := s.Candles[max(0, conf.TouchIndex-1)]
	confirmEnd := min(conf.TouchIndex+confirmBars, s.Len()-1)
	for i := conf.TouchIndex; i <= confirmEnd; i++ {
		cl := s.Candles[i].Close
		if e.cfg.ConfirmRuleEnabled(config.RuleBreakPrevExtreme) {
			if d.IsUp() && cl > prevBar.High {
				conf.State = StateConfirmed
				conf.EntryIndex = i
				return conf
			}
			if !d.IsUp() && cl < prevBar.Low {
				conf.State = StateConfirmed
				conf.EntryIndex = i
				return conf
			}
		}
		if e.cfg.ConfirmRuleEnabled(config.RuleEMAFastCross) {
			ef := s.EMAFast[i]
			es := s.EMASlow[i]
			if d.IsUp() && cl > ef && ef > es {
				conf.State = StateConfirmed
				conf.EntryIndex = i
				return conf
			}
			if !d.IsUp() && cl < ef && ef < es {
				conf.State = StateConfirmed
				conf.EntryIndex = i
				return conf
			}
		}
	}

	if e.cfg.Confirm.AllowTouchIfNoConfirm {
		conf.State = StateConfirmed
		conf.EntryIndex = confirmEnd
		conf.Fallback = true
		return conf
	}
	conf.State = StateExpired
	return conf
}
