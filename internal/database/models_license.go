package database

import (
	"time"
)

// License statuses
const (
	LicenseStatusActive    = "active"
	LicenseStatusExpired   = "expired"
	LicenseStatusSuspended = "suspended"
	LicenseStatusCancelled = "cancelled"
)

// License represents a license key issued against a subscription plan
type License struct {
	ID                string     `json:"id" db:"id"`
	Key               string     `json:"license_key" db:"license_key"`
	UserEmail         string     `json:"user_email" db:"user_email"`
	PlanID            string     `json:"plan_id" db:"plan_id"`
	Status            string     `json:"status" db:"status"`
	IssuedAt          time.Time  `json:"issued_at" db:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
	MT5Account        string     `json:"mt5_account" db:"mt5_account"` // legacy single binding, superseded by account_bindings
	HardwareID        string     `json:"hardware_id" db:"hardware_id"`
	LastVerified      *time.Time `json:"last_verified" db:"last_verified"`
	VerificationCount int        `json:"verification_count" db:"verification_count"`
	Notes             string     `json:"notes" db:"notes"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`

	// Joined from subscription_plans on reads
	PlanName        string `json:"plan_name" db:"plan_name"`
	PlanDuration    int    `json:"plan_duration_days" db:"plan_duration_days"`
	PlanMaxAccounts int    `json:"plan_max_accounts" db:"plan_max_accounts"`
}

// AccountBinding ties a license to a single trading account
type AccountBinding struct {
	ID         string    `json:"id" db:"id"`
	LicenseID  string    `json:"license_id" db:"license_id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	HardwareID string    `json:"hardware_id" db:"hardware_id"`
	FirstSeen  time.Time `json:"first_seen" db:"first_seen"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}

// VerificationLog records a single license verification attempt.
// Rows are append-only and retained indefinitely.
type VerificationLog struct {
	ID         string    `json:"id" db:"id"`
	LicenseID  *string   `json:"license_id" db:"license_id"` // nil for unknown-key attempts
	LicenseKey string    `json:"license_key" db:"license_key"`
	AccountID  string    `json:"account_id" db:"account_id"`
	HardwareID string    `json:"hardware_id" db:"hardware_id"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	IsValid    bool      `json:"is_valid" db:"is_valid"`
	Message    string    `json:"message" db:"message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
