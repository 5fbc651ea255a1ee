package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Subscription plans catalog
		`CREATE TABLE IF NOT EXISTS subscription_plans (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL,
			description TEXT DEFAULT '',
			price DECIMAL(10, 2) NOT NULL DEFAULT 0,
			duration_days INTEGER NOT NULL DEFAULT 30,
			max_accounts INTEGER NOT NULL DEFAULT 1,
			is_active BOOLEAN DEFAULT true,
			created_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_active ON subscription_plans(is_active)`,

		// Licenses
		`CREATE TABLE IF NOT EXISTS licenses (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_key VARCHAR(64) UNIQUE NOT NULL,
			user_email VARCHAR(255) DEFAULT '',
			plan_id UUID NOT NULL REFERENCES subscription_plans(id),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			issued_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL,
			mt5_account VARCHAR(50),
			hardware_id VARCHAR(255),
			last_verified TIMESTAMP,
			verification_count INTEGER NOT NULL DEFAULT 0,
			notes TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses(license_key)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(user_email)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_expires ON licenses(expires_at)`,

		// Account bindings; the unique index is what makes the
		// concurrent first-bind race resolvable (see BindAccount)
		`CREATE TABLE IF NOT EXISTS account_bindings (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
			account_id VARCHAR(50) NOT NULL,
			hardware_id VARCHAR(255) DEFAULT '',
			first_seen TIMESTAMP NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (license_id, account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_license ON account_bindings(license_id)`,

		// Telemetry snapshots, one row per license
		`CREATE TABLE IF NOT EXISTS telemetry_snapshots (
			license_id UUID PRIMARY KEY REFERENCES licenses(id) ON DELETE CASCADE,
			account_balance DECIMAL(15, 2) NOT NULL DEFAULT 0,
			account_equity DECIMAL(15, 2) NOT NULL DEFAULT 0,
			account_profit DECIMAL(15, 2) NOT NULL DEFAULT 0,
			account_margin DECIMAL(15, 2) NOT NULL DEFAULT 0,
			account_free_margin DECIMAL(15, 2) NOT NULL DEFAULT 0,
			symbol VARCHAR(20) DEFAULT '',
			current_price DECIMAL(15, 5) NOT NULL DEFAULT 0,
			trading_mode VARCHAR(50) DEFAULT 'Normal',
			open_positions JSONB DEFAULT '[]',
			pending_orders JSONB DEFAULT '[]',
			closed_positions JSONB DEFAULT '[]',
			last_update TIMESTAMP NOT NULL DEFAULT NOW(),
			created_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_last_update ON telemetry_snapshots(last_update)`,

		// Remote-control command queue
		`CREATE TABLE IF NOT EXISTS trade_commands (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
			command_type VARCHAR(20) NOT NULL,
			parameters JSONB DEFAULT '{}',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL,
			executed_at TIMESTAMP,
			result_message TEXT DEFAULT '',
			result_data JSONB DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_license ON trade_commands(license_id)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_status ON trade_commands(status)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_created ON trade_commands(created_at)`,

		// Diagnostic action logs from agents, capped per license
		`CREATE TABLE IF NOT EXISTS action_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
			log_type VARCHAR(20) NOT NULL DEFAULT 'INFO',
			message TEXT NOT NULL,
			details JSONB DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_logs_license ON action_logs(license_id, created_at DESC)`,

		// Verification audit trail, append-only
		`CREATE TABLE IF NOT EXISTS verification_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID REFERENCES licenses(id) ON DELETE SET NULL,
			license_key VARCHAR(64) NOT NULL,
			account_id VARCHAR(50) DEFAULT '',
			hardware_id VARCHAR(255) DEFAULT '',
			ip_address VARCHAR(45) DEFAULT '',
			is_valid BOOLEAN NOT NULL DEFAULT false,
			message VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_logs_license ON verification_logs(license_id)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_logs_created ON verification_logs(created_at)`,

		// Operator accounts
		`CREATE TABLE IF NOT EXISTS admin_users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(100) DEFAULT '',
			role VARCHAR(20) NOT NULL DEFAULT 'operator',
			last_login_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,

		// Key-value settings (SMTP configuration lives here)
		`CREATE TABLE IF NOT EXISTS system_settings (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
