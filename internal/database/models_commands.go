package database

import (
	"encoding/json"
	"time"
)

// Command types understood by the agent
const (
	CommandClosePosition = "CLOSE_POSITION"
	CommandCloseBulk     = "CLOSE_BULK"
	CommandCloseAllBuy   = "CLOSE_ALL_BUY"
	CommandCloseAllSell  = "CLOSE_ALL_SELL"
	CommandCloseAll      = "CLOSE_ALL"
)

// Command statuses; everything out of pending is terminal
const (
	CommandStatusPending  = "pending"
	CommandStatusExecuted = "executed"
	CommandStatusFailed   = "failed"
	CommandStatusExpired  = "expired"
)

// TradeCommand is an operator-issued remote-control command waiting
// for the agent to poll it. TTL is fixed at creation.
type TradeCommand struct {
	ID            string          `json:"id" db:"id"`
	LicenseID     string          `json:"license_id" db:"license_id"`
	CommandType   string          `json:"command_type" db:"command_type"`
	Parameters    json.RawMessage `json:"parameters" db:"parameters"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at" db:"expires_at"`
	ExecutedAt    *time.Time      `json:"executed_at" db:"executed_at"`
	ResultMessage string          `json:"result_message" db:"result_message"`
	ResultData    json.RawMessage `json:"result_data" db:"result_data"`
}

// Action log types reported by agents
const (
	ActionLogConnect    = "CONNECT"
	ActionLogDisconnect = "DISCONNECT"
	ActionLogMode       = "MODE"
	ActionLogOpenBuy    = "OPEN_BUY"
	ActionLogOpenSell   = "OPEN_SELL"
	ActionLogCloseBuy   = "CLOSE_BUY"
	ActionLogCloseSell  = "CLOSE_SELL"
	ActionLogModify     = "MODIFY"
	ActionLogTrailing   = "TRAILING"
	ActionLogBreakeven  = "BREAKEVEN"
	ActionLogRecovery   = "RECOVERY"
	ActionLogGrid       = "GRID"
	ActionLogSignal     = "SIGNAL"
	ActionLogError      = "ERROR"
	ActionLogWarning    = "WARNING"
	ActionLogInfo       = "INFO"
)

// ActionLogEntry is one diagnostic event from an agent. At most 200
// entries are retained per license.
type ActionLogEntry struct {
	ID        string          `json:"id" db:"id"`
	LicenseID string          `json:"license_id" db:"license_id"`
	LogType   string          `json:"log_type" db:"log_type"`
	Message   string          `json:"message" db:"message"`
	Details   json.RawMessage `json:"details" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
