package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// VerifyContext creates a logger context for license verification
func VerifyContext(licenseKey, accountID, sourceIP string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"license_key": maskKey(licenseKey),
		"account_id":  accountID,
		"source_ip":   sourceIP,
	}).WithComponent("verify")
}

// LicenseContext creates a logger context for license administration
func LicenseContext(licenseID, action string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"license_id": licenseID,
		"action":     action,
	}).WithComponent("license")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// maskKey keeps the first key group readable and hides the rest
func maskKey(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4] + "..."
}
