package backtest

import (
	"fmt"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/equity"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/metrics"
	"elliott-backtester/internal/ml"
	"elliott-backtester/internal/risk"
	"elliott-backtester/internal/sim"
)

// Scenario is one counterfactual accounting replay of the simulated trades.
// Price paths are never re-simulated: only the gate, the sizing and the
// direction filter change between scenarios.
type Scenario struct {
	Name           string  `json:"name"`
	Trades         int     `json:"trades"` // accepted, after the scenario's gate
	FinalCapital   float64 `json:"final_capital"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
}

type scenario struct {
	name   string
	cfg    config.Config
	model  ml.Model
	trades []sim.Trade
}

// Counterfactuals replays the run's trades under alternative gates and
// sizing. The ML tier scenarios move the threshold to the probability
// quantile that keeps the top 90/80/60 percent of out-of-sample trades;
// they are skipped when no model was trained.
func (e *Engine) Counterfactuals(res *Result, h1 *market.Series) []Scenario {
	base := res.MLModel
	trades := res.Trades

	specs := []scenario{
		{name: "no_ml", cfg: e.cfg, model: ml.Model{Threshold: 0.5}, trades: trades},
	}
	if base.Active() {
		var oos []float64
		for _, tr := range trades {
			if !tr.TimeIn.After(base.TrainUntil) {
				continue
			}
			p, _ := base.Predict(tr.Features)
			oos = append(oos, p)
		}
		if len(oos) > 0 {
			tiers := []struct {
				name string
				q    float64
			}{
				{"ml_top90", 0.10},
				{"ml_top80", 0.20},
				{"ml_top60", 0.40},
			}
			for _, tier := range tiers {
				m := base
				m.Threshold = ml.Quantile(oos, tier.q)
				specs = append(specs, scenario{name: tier.name, cfg: e.cfg, model: m, trades: trades})
			}
		}
		fixed := base
		fixed.Threshold = 0.5
		specs = append(specs, scenario{name: "thr_0.50", cfg: e.cfg, model: fixed, trades: trades})
	}
	specs = append(specs,
		scenario{name: "long_only", cfg: e.cfg, model: base, trades: filterDirection(trades, elliott.DirectionUp)},
		scenario{name: "short_only", cfg: e.cfg, model: base, trades: filterDirection(trades, elliott.DirectionDown)},
	)
	for _, mult := range []float64{0.5, 1.5} {
		cfg := e.cfg.Clone()
		cfg.Risk.PerTrade *= mult
		specs = append(specs, scenario{name: fmt.Sprintf("risk_%.1fx", mult), cfg: cfg, model: base, trades: trades})
	}

	out := make([]Scenario, 0, len(specs))
	for _, sp := range specs {
		row := e.replay(sp, h1)
		e.logger.Debug().
			Str("scenario", row.Name).
			Int("trades", row.Trades).
			Float64("final_capital", row.FinalCapital).
			Float64("max_drawdown_pct", row.MaxDrawdownPct).
			Msg("Counterfactual replayed")
		out = append(out, row)
	}
	e.logger.Info().Int("scenarios", len(out)).Msg("Counterfactuals finished")
	return out
}

// replay runs one scenario through a fresh accountant. Inner components log
// at warn level so nine replays do not drown the run log.
func (e *Engine) replay(sp scenario, h1 *market.Series) Scenario {
	quiet := e.logger.Level(zerolog.WarnLevel)
	sizer := risk.NewSizer(sp.cfg, quiet)
	eq := equity.NewAccountant(sp.cfg, sizer, quiet).Process(sp.trades, sp.model, h1)
	sum := metrics.Calculate(sp.cfg.StartCapital, eq)
	return Scenario{
		Name:           sp.name,
		Trades:         len(eq.Accepted),
		FinalCapital:   eq.FinalCapital,
		TotalReturnPct: sum.TotalReturnPct,
		MaxDrawdownPct: sum.MaxDrawdownPct,
		WinRate:        sum.WinRate,
		ProfitFactor:   sum.ProfitFactor,
	}
}

func filterDirection(trades []sim.Trade, d elliott.Direction) []sim.Trade {
	out := make([]sim.Trade, 0, len(trades))
	for _, tr := range trades {
		if tr.Direction == d {
			out = append(out, tr)
		}
	}
	return out
}
