package database

import (
	"time"
)

// OpenPosition is a live position as reported by the agent
type OpenPosition struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"` // buy or sell
	Lots       float64 `json:"lots"`
	OpenPrice  float64 `json:"open_price"`
	OpenTime   int64   `json:"open_time"` // unix seconds
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
	Comment    string  `json:"comment,omitempty"`
}

// PendingOrder is an unfilled order as reported by the agent
type PendingOrder struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"` // buy_limit, sell_limit, buy_stop, sell_stop
	Lots       float64 `json:"lots"`
	OpenPrice  float64 `json:"open_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Comment    string  `json:"comment,omitempty"`
}

// ClosedPosition is one entry of the bounded closed-trade history.
// Tickets are the dedup key when merging incoming history.
type ClosedPosition struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Lots       float64 `json:"lots"`
	OpenPrice  float64 `json:"open_price"`
	ClosePrice float64 `json:"close_price"`
	OpenTime   int64   `json:"open_time"`
	CloseTime  int64   `json:"close_time"` // unix seconds, sort key (descending)
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
	Commission float64 `json:"commission"`
	Comment    string  `json:"comment,omitempty"`
}

// TelemetrySnapshot is the single current snapshot held per license.
// Scalars and the open/pending lists are overwritten on every ingest;
// ClosedPositions is merged and capped.
type TelemetrySnapshot struct {
	LicenseID         string           `json:"license_id" db:"license_id"`
	AccountBalance    float64          `json:"account_balance" db:"account_balance"`
	AccountEquity     float64          `json:"account_equity" db:"account_equity"`
	AccountProfit     float64          `json:"account_profit" db:"account_profit"`
	AccountMargin     float64          `json:"account_margin" db:"account_margin"`
	AccountFreeMargin float64          `json:"account_free_margin" db:"account_free_margin"`
	Symbol            string           `json:"symbol" db:"symbol"`
	CurrentPrice      float64          `json:"current_price" db:"current_price"`
	TradingMode       string           `json:"trading_mode" db:"trading_mode"`
	OpenPositions     []OpenPosition   `json:"open_positions" db:"open_positions"`
	PendingOrders     []PendingOrder   `json:"pending_orders" db:"pending_orders"`
	ClosedPositions   []ClosedPosition `json:"closed_positions" db:"closed_positions"`
	LastUpdate        time.Time        `json:"last_update" db:"last_update"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}
