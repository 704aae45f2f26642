package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"elliott-backtester/config"
	"elliott-backtester/internal/backtest"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/store"
)

// handleListProfiles returns the built-in parameter presets.
// GET /api/v1/profiles
func (s *Server) handleListProfiles(c *gin.Context) {
	profiles := make(map[string]config.Config, len(config.ProfileNames()))
	for _, name := range config.ProfileNames() {
		cfg, err := config.Profile(name)
		if err != nil {
			continue
		}
		profiles[name] = cfg
	}
	successResponse(c, profiles)
}

// handleListRuns returns the most recent stored runs.
// GET /api/v1/runs?limit=20
func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 500 {
		errorResponse(c, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch runs: "+err.Error())
		return
	}
	successResponse(c, runs)
}

// handleGetRun returns one stored run with its report blocks.
// GET /api/v1/runs/:id
func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		errorResponse(c, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load run")
		return
	}
	successResponse(c, run)
}

// handleGetRunTrades returns the accepted trades of a stored run.
// GET /api/v1/runs/:id/trades
func (s *Server) handleGetRunTrades(c *gin.Context) {
	if s.store == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	trades, err := s.store.GetRunTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch trades: "+err.Error())
		return
	}
	successResponse(c, trades)
}

// handleGetRunCurve returns the equity curve of a stored run.
// GET /api/v1/runs/:id/curve
func (s *Server) handleGetRunCurve(c *gin.Context) {
	if s.store == nil {
		errorResponse(c, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	curve, err := s.store.GetRunCurve(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch equity curve: "+err.Error())
		return
	}
	successResponse(c, curve)
}

// handleStartBacktest launches a backtest in the background. Only one run
// is allowed at a time; a second request gets 409 until the first finishes.
// POST /api/v1/backtests
// Body: {"symbol": "QQQ", "profile": "balanced", "counterfactuals": true}
func (s *Server) handleStartBacktest(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		errorResponse(c, http.StatusTooManyRequests, "too many backtest requests, slow down")
		return
	}

	var req struct {
		Symbol          string `json:"symbol"`
		Profile         string `json:"profile"`
		Counterfactuals bool   `json:"counterfactuals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := config.Profile(req.Profile)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	cfg.Postgres = s.runCfg.Postgres
	cfg.Redis = s.runCfg.Redis
	cfg.Data = s.runCfg.Data
	if req.Symbol != "" {
		cfg.Symbol = req.Symbol
	} else {
		cfg.Symbol = s.runCfg.Symbol
	}
	if cfg.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state := &runState{
		Symbol:    cfg.Symbol,
		Profile:   cfg.Profile,
		StartedAt: time.Now(),
		Stage:     "loading",
		cancel:    cancel,
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		cancel()
		errorResponse(c, http.StatusConflict, "a backtest is already running")
		return
	}
	s.current = state
	s.mu.Unlock()

	go s.runBacktest(runCtx, cfg, state, req.Counterfactuals)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    gin.H{"symbol": cfg.Symbol, "profile": cfg.Profile},
	})
}

// handleCurrentBacktest reports the in-flight run, if any.
// GET /api/v1/backtests/current
func (s *Server) handleCurrentBacktest(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		successResponse(c, gin.H{"running": false})
		return
	}
	successResponse(c, gin.H{"running": true, "run": s.current})
}

// handleCancelBacktest cancels the in-flight run.
// DELETE /api/v1/backtests/current
func (s *Server) handleCancelBacktest(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		errorResponse(c, http.StatusNotFound, "no backtest is running")
		return
	}
	s.current.cancel()
	successResponse(c, gin.H{"cancelled": true})
}

// runBacktest executes one run end to end: load series, run the engine,
// persist, broadcast. It owns s.current until it returns.
func (s *Server) runBacktest(ctx context.Context, cfg config.Config, state *runState, counterfactuals bool) {
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()
	defer state.cancel()

	started := time.Now()
	s.metrics.RunsStarted.Inc()

	data, err := s.loadData(ctx, cfg.Symbol)
	if err != nil {
		s.finishRun(state, started, nil, err)
		return
	}

	engine := backtest.NewEngine(cfg, s.logger)
	engine.OnProgress = func(ev backtest.ProgressEvent) {
		s.mu.Lock()
		state.RunID = ev.RunID
		state.Stage = ev.Stage
		state.Done = ev.Done
		state.Total = ev.Total
		s.mu.Unlock()
		s.hub.Broadcast("progress", ev)
	}

	res, err := engine.Run(ctx, data)
	if err != nil {
		s.finishRun(state, started, nil, err)
		return
	}
	if counterfactuals {
		res.Counterfactuals = engine.Counterfactuals(res, data.H1)
	}

	if s.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.store.SaveRun(saveCtx, cfg.StartCapital, res); err != nil {
			s.logger.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to persist run")
		}
	}

	s.finishRun(state, started, res, nil)
}

// loadData loads the three series for one symbol. Daily and M30 are
// optional, matching the file-based runner.
func (s *Server) loadData(ctx context.Context, symbol string) (backtest.Data, error) {
	daily, err := s.loader.Load(ctx, symbol, market.TimeframeDaily, true)
	if err != nil {
		return backtest.Data{}, err
	}
	h1, err := s.loader.Load(ctx, symbol, market.TimeframeH1, false)
	if err != nil {
		return backtest.Data{}, err
	}
	m30, err := s.loader.Load(ctx, symbol, market.TimeframeM30, true)
	if err != nil {
		return backtest.Data{}, err
	}
	return backtest.Data{Daily: daily, H1: h1, M30: m30}, nil
}

func (s *Server) finishRun(state *runState, started time.Time, res *backtest.Result, err error) {
	s.metrics.RunDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		s.metrics.RunsFailed.Inc()
		s.logger.Error().Err(err).Str("symbol", state.Symbol).Msg("Backtest failed")
		s.hub.Broadcast("run_failed", gin.H{
			"run_id": state.RunID,
			"symbol": state.Symbol,
			"error":  err.Error(),
		})
		return
	}

	s.metrics.RunsCompleted.Inc()
	s.metrics.TradesSimulated.Add(float64(len(res.Trades)))
	s.hub.Broadcast("run_finished", gin.H{
		"run_id":           res.RunID,
		"symbol":           res.Symbol,
		"trades":           res.Summary.Trades,
		"total_return_pct": res.Summary.TotalReturnPct,
		"max_drawdown_pct": res.Summary.MaxDrawdownPct,
	})
}
