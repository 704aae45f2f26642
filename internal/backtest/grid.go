package backtest

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
)

// GridPoint is one filter combination scored by a full pipeline run.
type GridPoint struct {
	UseADX         bool    `json:"use_adx"`
	UseEMATrend    bool    `json:"use_ema_trend"`
	UseDailyEMA    bool    `json:"use_daily_ema"`
	RequireConfirm bool    `json:"require_confirm"`
	UseML          bool    `json:"use_ml"`
	RiskMult       float64 `json:"risk_mult"`

	Trades         int     `json:"trades"`
	FinalCapital   float64 `json:"final_capital"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// GridSearch re-runs the full pipeline for every combination of the five
// gate toggles and three risk multipliers, 96 runs in total, and returns
// the points sorted by final capital. Each run clones the configuration
// and the series structs, so workers share only the read-only candles.
func GridSearch(ctx context.Context, cfg config.Config, data Data, logger zerolog.Logger, workers int) ([]GridPoint, error) {
	var points []GridPoint
	for _, adx := range []bool{false, true} {
		for _, ema := range []bool{false, true} {
			for _, daily := range []bool{false, true} {
				for _, confirmReq := range []bool{false, true} {
					for _, mlOn := range []bool{false, true} {
						for _, mult := range []float64{0.5, 1.0, 1.5} {
							points = append(points, GridPoint{
								UseADX:         adx,
								UseEMATrend:    ema,
								UseDailyEMA:    daily,
								RequireConfirm: confirmReq,
								UseML:          mlOn,
								RiskMult:       mult,
							})
						}
					}
				}
			}
		}
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(points))

	log := logger.With().Str("component", "grid").Logger()
	log.Info().
		Int("combinations", len(points)).
		Int("workers", workers).
		Msg("Grid search starting")

	quiet := logger.Level(zerolog.WarnLevel)
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := runPoint(ctx, cfg, data, quiet, points[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				points[i].Trades = len(res.Equity.Accepted)
				points[i].FinalCapital = res.Equity.FinalCapital
				points[i].TotalReturnPct = res.Summary.TotalReturnPct
				points[i].MaxDrawdownPct = res.Summary.MaxDrawdownPct
				mu.Lock()
				done++
				d := done
				mu.Unlock()
				if d%8 == 0 || d == len(points) {
					log.Info().Int("done", d).Int("total", len(points)).Msg("Grid search progress")
				}
			}
		}()
	}
feed:
	for i := range points {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].FinalCapital > points[j].FinalCapital
	})
	best := points[0]
	log.Info().
		Float64("final_capital", best.FinalCapital).
		Bool("use_adx", best.UseADX).
		Bool("use_ema_trend", best.UseEMATrend).
		Bool("use_daily_ema", best.UseDailyEMA).
		Bool("require_confirm", best.RequireConfirm).
		Bool("use_ml", best.UseML).
		Float64("risk_mult", best.RiskMult).
		Msg("Grid search finished")
	return points, nil
}

func runPoint(ctx context.Context, cfg config.Config, data Data, logger zerolog.Logger, p GridPoint) (*Result, error) {
	run := cfg.Clone()
	run.Filters.UseADX = p.UseADX
	run.Filters.UseEMATrend = p.UseEMATrend
	run.Filters.UseDailyEMA = p.UseDailyEMA
	run.Confirm.Require = p.RequireConfirm
	run.ML.Enabled = p.UseML
	run.Risk.PerTrade *= p.RiskMult
	return NewEngine(run, logger).Run(ctx, data)
}
