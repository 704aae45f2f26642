// Package store persists finished runs to PostgreSQL and fronts the candle
// CSV loader with a Redis cache. Both backends are optional; an empty DSN or
// address leaves the backtester fully functional on local files alone.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"elliott-backtester/internal/backtest"
)

// ErrRunNotFound reports a run id with no stored row.
var ErrRunNotFound = errors.New("run not found")

// Store wraps the PostgreSQL connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "store").Logger()
	log.Info().Msg("Connected to PostgreSQL")
	return &Store{pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info().Msg("Database connection closed")
	}
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the run tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			profile VARCHAR(30) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			start_capital DOUBLE PRECISION NOT NULL,
			final_capital DOUBLE PRECISION NOT NULL,
			total_return_pct DOUBLE PRECISION NOT NULL,
			max_drawdown_pct DOUBLE PRECISION NOT NULL,
			trades INT NOT NULL DEFAULT 0,
			telemetry JSONB,
			summary JSONB,
			model JSONB,
			diagnostics JSONB,
			counterfactuals JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS run_trades (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			tag VARCHAR(8) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			time_in TIMESTAMPTZ NOT NULL,
			time_out TIMESTAMPTZ NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			stop_price DOUBLE PRECISION NOT NULL,
			target1 DOUBLE PRECISION NOT NULL,
			target2 DOUBLE PRECISION NOT NULL,
			shares DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			per_share DOUBLE PRECISION NOT NULL,
			risk_per_share DOUBLE PRECISION NOT NULL,
			mae_r DOUBLE PRECISION NOT NULL,
			mfe_r DOUBLE PRECISION NOT NULL,
			prob DOUBLE PRECISION,
			out_of_sample BOOLEAN NOT NULL DEFAULT FALSE,
			capital_after DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_trades_time_in ON run_trades(time_in)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			snap_time TIMESTAMPTZ NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			drawdown_pct DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_snapshots_run ON equity_snapshots(run_id)`,
	}

	for i, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info().Msg("Database migrations completed")
	return nil
}

// SaveRun writes a run, its accepted trades and its equity curve in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, startCapital float64, res *backtest.Result) error {
	telemetry, err := json.Marshal(res.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	model, err := json.Marshal(res.Model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	diagnostics, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	var counterfactuals []byte
	if len(res.Counterfactuals) > 0 {
		counterfactuals, err = json.Marshal(res.Counterfactuals)
		if err != nil {
			return fmt.Errorf("failed to marshal counterfactuals: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (
			run_id, symbol, profile, started_at, finished_at,
			start_capital, final_capital, total_return_pct, max_drawdown_pct,
			trades, telemetry, summary, model, diagnostics, counterfactuals
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		res.RunID, res.Symbol, res.Profile, res.StartedAt, res.FinishedAt,
		startCapital, res.Equity.FinalCapital, res.Summary.TotalReturnPct, res.Summary.MaxDrawdownPct,
		len(res.Equity.Accepted), telemetry, summary, model, diagnostics, counterfactuals,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	tradeQuery := `
		INSERT INTO run_trades (
			run_id, tag, direction, timeframe, time_in, time_out,
			entry_price, exit_price, stop_price, target1, target2,
			shares, pnl, per_share, risk_per_share, mae_r, mfe_r,
			prob, out_of_sample, capital_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	for _, t := range res.Equity.Accepted {
		var prob any
		if t.HasProb {
			prob = t.Prob
		}
		_, err = tx.Exec(ctx, tradeQuery,
			res.RunID, string(t.Tag), string(t.Direction), string(t.Timeframe), t.TimeIn, t.TimeOut,
			t.Entry, t.Exit, t.Stop, t.Target1, t.Target2,
			t.Shares, t.PnL, t.PerShare, t.RiskPerShare, t.MAER, t.MFER,
			prob, t.OutOfSample, t.CapitalAfter,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run trade: %w", err)
		}
	}

	// The curve carries one row per hourly bar, so COPY instead of
	// row-by-row inserts.
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"equity_snapshots"},
		[]string{"run_id", "snap_time", "equity", "drawdown_pct"},
		pgx.CopyFromSlice(len(res.Equity.Curve), func(i int) ([]any, error) {
			p := res.Equity.Curve[i]
			return []any{res.RunID, p.Time, p.Equity, p.DrawdownPct}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy equity snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info().
		Str("run_id", res.RunID).
		Int("trades", len(res.Equity.Accepted)).
		Int("snapshots", len(res.Equity.Curve)).
		Msg("Run saved")
	return nil
}

// RunSummary is one row of the run list.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Profile        string    `json:"profile"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	FinalCapital   float64   `json:"final_capital"`
	TotalReturnPct float64   `json:"total_return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunRecord is one stored run with its serialized report blocks.
type RunRecord struct {
	RunSummary
	StartCapital    float64         `json:"start_capital"`
	Telemetry       json.RawMessage `json:"telemetry"`
	Summary         json.RawMessage `json:"summary"`
	Model           json.RawMessage `json:"model"`
	Diagnostics     json.RawMessage `json:"diagnostics"`
	Counterfactuals json.RawMessage `json:"counterfactuals,omitempty"`
}

// TradeRecord is one persisted accepted trade.
type TradeRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Tag          string    `json:"tag"`
	Direction    string    `json:"direction"`
	Timeframe    string    `json:"timeframe"`
	TimeIn       time.Time `json:"time_in"`
	TimeOut      time.Time `json:"time_out"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	StopPrice    float64   `json:"stop_price"`
	Target1      float64   `json:"target1"`
	Target2      float64   `json:"target2"`
	Shares       float64   `json:"shares"`
	PnL          float64   `json:"pnl"`
	PerShare     float64   `json:"per_share"`
	RiskPerShare float64   `json:"risk_per_share"`
	MAER         float64   `json:"mae_r"`
	MFER         float64   `json:"mfe_r"`
	Prob         *float64  `json:"prob,omitempty"`
	OutOfSample  bool      `json:"out_of_sample"`
	CapitalAfter float64   `json:"capital_after"`
}

// CurvePoint is one persisted equity snapshot.
type CurvePoint struct {
	Time        time.Time `json:"time"`
	Equity      float64   `json:"equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, symbol, profile, started_at, finished_at,
		       final_capital, total_return_pct, max_drawdown_pct, trades, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		err := rows.Scan(
			&r.RunID, &r.Symbol, &r.Profile, &r.StartedAt, &r.FinishedAt,
			&r.FinalCapital, &r.TotalReturnPct, &r.MaxDrawdownPct, &r.Trades, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one stored run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var r RunRecord
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, symbol, profile, started_at, finished_at,
		       start_capital, final_capital, total_return_pct, max_drawdown_pct, trades,
		       telemetry, summary, model, diagnostics, counterfactuals, created_at
		FROM runs
		WHERE run_id = $1`, runID).Scan(
		&r.RunID, &r.Symbol, &r.Profile, &r.StartedAt, &r.FinishedAt,
		&r.StartCapital, &r.FinalCapital, &r.TotalReturnPct, &r.MaxDrawdownPct, &r.Trades,
		&r.Telemetry, &r.Summary, &r.Model, &r.Diagnostics, &r.Counterfactuals, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// GetRunTrades returns the accepted trades of a run in entry order.
func (s *Store) GetRunTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, tag, direction, timeframe, time_in, time_out,
		       entry_price, exit_price, stop_price, target1, target2,
		       shares, pnl, per_share, risk_per_share, mae_r, mfe_r,
		       prob, out_of_sample, capital_after
		FROM run_trades
		WHERE run_id = $1
		ORDER BY time_in ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run trades: %w", err)
	}
	defer rows.Close()

	trades := []TradeRecord{}
	for rows.Next() {
		var t TradeRecord
		err := rows.Scan(
			&t.ID, &t.RunID, &t.Tag, &t.Direction, &t.Timeframe, &t.TimeIn, &t.TimeOut,
			&t.EntryPrice, &t.ExitPrice, &t.StopPrice, &t.Target1, &t.Target2,
			&t.Shares, &t.PnL, &t.PerShare, &t.RiskPerShare, &t.MAER, &t.MFER,
			&t.Prob, &t.OutOfSample, &t.CapitalAfter,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run trades: %w", err)
	}
	return trades, nil
}

// GetRunCurve returns the equity snapshots of a run in time order.
func (s *Store) GetRunCurve(ctx context.Context, runID string) ([]CurvePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snap_time, equity, drawdown_pct
		FROM equity_snapshots
		WHERE run_id = $1
		ORDER BY snap_time ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	curve := []CurvePoint{}
	for rows.Next() {
		var p CurvePoint
		if err := rows.Scan(&p.Time, &p.Equity, &p.DrawdownPct); err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}
		curve = append(curve, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity snapshots: %w", err)
	}
	return curve, nil
}
