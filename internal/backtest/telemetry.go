package backtest

import "elliott-backtester/internal/elliott"

// Telemetry is the setup funnel: how many candidates each gate removed and
// how many survived to simulation. Counters are ordered the way the gates
// run.
type Telemetry struct {
	Setups             int `json:"setups"`
	FilteredRegime     int `json:"filtered_regime"`
	FilteredDailyTrend int `json:"filtered_daily_trend"`
	NoData             int `json:"no_data"`
	FilteredEMATrend   int `json:"filtered_ema_trend"`
	FilteredVol        int `json:"filtered_vol"`
	NoTouch            int `json:"no_touch"`
	NoConfirm          int `json:"no_confirm"`
	InvalidRisk        int `json:"invalid_risk"`
	Simulated          int `json:"simulated"`
}

// StructureStats summarizes the wave detection pass on one series.
type StructureStats struct {
	Pivots     int                    `json:"pivots"`
	Impulses   int                    `json:"impulses"`
	ABCs       int                    `json:"abcs"`
	Rejections elliott.RejectionStats `json:"rejections"`
}
