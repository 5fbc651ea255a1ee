package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ea-license-server/internal/database"
	"ea-license-server/internal/logging"
)

// Store is what the authority needs from persistence. The repository
// in internal/database implements it.
type Store interface {
	CreateLicense(ctx context.Context, license *database.License) error
	GetLicenseByKey(ctx context.Context, key string) (*database.License, error)
	GetLicenseByID(ctx context.Context, id string) (*database.License, error)
	ListLicenses(ctx context.Context, status string, limit, offset int) ([]database.License, int, error)
	MarkLicenseExpired(ctx context.Context, id string) error
	SetLicenseStatus(ctx context.Context, id, status string) error
	ExtendLicense(ctx context.Context, id string, newExpiry time.Time) error
	RecordVerification(ctx context.Context, id string) error
	DeleteLicense(ctx context.Context, id string) error

	BindAccount(ctx context.Context, licenseID, accountID, hardwareID string, maxAccounts int) (*database.AccountBinding, error)
	ListBindings(ctx context.Context, licenseID string) ([]database.AccountBinding, error)
	DeleteBinding(ctx context.Context, licenseID, accountID string) error

	AppendVerificationLog(ctx context.Context, entry *database.VerificationLog) error
	GetPlan(ctx context.Context, id string) (*database.SubscriptionPlan, error)
}

// VerifyRequest is one verification attempt from an agent
type VerifyRequest struct {
	LicenseKey string
	AccountID  string
	HardwareID string
	SourceIP   string
}

// VerifyResult is the outcome handed back to the agent. Valid=false
// with a code is a business rejection, not an error.
type VerifyResult struct {
	Valid         bool
	Code          string
	Message       string
	License       *database.License
	ExpiresAt     time.Time
	DaysRemaining int
}

// Authority owns the license lifecycle: verification with lazy
// expiry, account binding, and the admin state transitions.
type Authority struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

func NewAuthority(store Store) *Authority {
	return &Authority{
		store:  store,
		logger: logging.WithComponent("license-authority"),
		now:    time.Now,
	}
}

// rejectionMessages maps rejection codes to the agent-facing text
var rejectionMessages = map[string]string{
	CodeInvalidKey:         "License key not found",
	CodeExpired:            "License has expired",
	CodeSuspended:          "License is suspended",
	CodeCancelled:          "License has been cancelled",
	CodeMaxAccountsReached: "License account limit reached",
}

// Authenticate checks that a license key is live and the account may
// use it, refreshing the account binding on the way through. It is the
// shared gate for every agent call; unlike Verify it bumps no counters
// and writes no audit rows. A non-empty code means rejection.
func (a *Authority) Authenticate(ctx context.Context, licenseKey, accountID, hardwareID string) (*database.License, string, error) {
	key := NormalizeKey(licenseKey)

	lic, err := a.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return nil, CodeInvalidKey, nil
	}

	if err := a.lazyExpire(ctx, lic); err != nil {
		return nil, "", err
	}

	switch lic.Status {
	case database.LicenseStatusActive:
		// fall through to binding
	case database.LicenseStatusExpired:
		return lic, CodeExpired, nil
	case database.LicenseStatusSuspended:
		return lic, CodeSuspended, nil
	case database.LicenseStatusCancelled:
		return lic, CodeCancelled, nil
	default:
		return nil, "", fmt.Errorf("license %s has unknown status %q", lic.ID, lic.Status)
	}

	if _, err := a.store.BindAccount(ctx, lic.ID, accountID, hardwareID, lic.PlanMaxAccounts); err != nil {
		if errors.Is(err, database.ErrMaxAccountsReached) {
			return lic, CodeMaxAccountsReached, nil
		}
		return nil, "", fmt.Errorf("account binding failed: %w", err)
	}
	return lic, "", nil
}

// Resolve looks a license up by key without gating on its state,
// applying lazy expiry on the way through. Telemetry keeps flowing
// from suspended and expired agents so the operator can still see
// them; only an unknown key is turned away.
func (a *Authority) Resolve(ctx context.Context, licenseKey string) (*database.License, string, error) {
	key := NormalizeKey(licenseKey)

	lic, err := a.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return nil, CodeInvalidKey, nil
	}
	if err := a.lazyExpire(ctx, lic); err != nil {
		return nil, "", err
	}
	return lic, "", nil
}

// lazyExpire flips an active row to expired on first contact past the
// deadline, not via a background job
func (a *Authority) lazyExpire(ctx context.Context, lic *database.License) error {
	if lic.Status != database.LicenseStatusActive || lic.ExpiresAt.After(a.now()) {
		return nil
	}
	if err := a.store.MarkLicenseExpired(ctx, lic.ID); err != nil {
		return fmt.Errorf("failed to mark license expired: %w", err)
	}
	lic.Status = database.LicenseStatusExpired
	logging.LicenseContext(lic.ID, "lazy-expire").Info("license lapsed on contact", "expired_at", lic.ExpiresAt)
	return nil
}

// Verify runs the full verification pipeline for one agent attempt.
// Every attempt is written to the verification log before the result
// is returned, valid or not. A failed audit write fails the whole
// call, so no unlogged verification ever answers an agent.
func (a *Authority) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	key := NormalizeKey(req.LicenseKey)
	log := logging.VerifyContext(key, req.AccountID, req.SourceIP)

	lic, code, err := a.Authenticate(ctx, req.LicenseKey, req.AccountID, req.HardwareID)
	if err != nil {
		return nil, err
	}
	if code != "" {
		msg := rejectionMessages[code]
		if code == CodeMaxAccountsReached {
			msg = fmt.Sprintf("License allows at most %d account(s)", lic.PlanMaxAccounts)
		}
		log.Warn("verification rejected", "code", code)
		return a.reject(ctx, lic, req, key, code, msg)
	}

	now := a.now()
	if err := a.store.RecordVerification(ctx, lic.ID); err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	if err := a.audit(ctx, &lic.ID, req, key, true, "OK"); err != nil {
		return nil, err
	}

	days := int(lic.ExpiresAt.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	log.Info("verification accepted", "license_id", lic.ID, "days_remaining", days)

	return &VerifyResult{
		Valid:         true,
		Message:       "License valid",
		License:       lic,
		ExpiresAt:     lic.ExpiresAt,
		DaysRemaining: days,
	}, nil
}

func (a *Authority) reject(ctx context.Context, lic *database.License, req VerifyRequest, key, code, message string) (*VerifyResult, error) {
	var licenseID *string
	if lic != nil {
		licenseID = &lic.ID
	}
	if err := a.audit(ctx, licenseID, req, key, false, message); err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: false, Code: code, Message: message, License: lic}
	if lic != nil {
		res.ExpiresAt = lic.ExpiresAt
	}
	return res, nil
}

// RecordAttempt writes a verification-log row for attempts that never
// reach the full pipeline, such as malformed payloads and cache-served
// positives. licenseID is nil when the attempt matched no license.
func (a *Authority) RecordAttempt(ctx context.Context, licenseID *string, req VerifyRequest, valid bool, message string) error {
	return a.audit(ctx, licenseID, req, NormalizeKey(req.LicenseKey), valid, message)
}

func (a *Authority) audit(ctx context.Context, licenseID *string, req VerifyRequest, key string, valid bool, message string) error {
	entry := &database.VerificationLog{
		LicenseID:  licenseID,
		LicenseKey: key,
		AccountID:  req.AccountID,
		HardwareID: req.HardwareID,
		IPAddress:  req.SourceIP,
		IsValid:    valid,
		Message:    message,
		CreatedAt:  a.now(),
	}
	if err := a.store.AppendVerificationLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to write verification audit entry: %w", err)
	}
	return nil
}

// IssueRequest carries the fields for creating a new license
type IssueRequest struct {
	PlanID     string
	UserEmail  string
	MT5Account string
	Notes      string
}

// Issue creates a license against a plan. Expiry is issued-at plus
// the plan duration.
func (a *Authority) Issue(ctx context.Context, req IssueRequest) (*database.License, error) {
	plan, err := a.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("plan lookup failed: %w", err)
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	now := a.now()
	lic := &database.License{
		Key:        key,
		UserEmail:  req.UserEmail,
		PlanID:     plan.ID,
		Status:     database.LicenseStatusActive,
		IssuedAt:   now,
		ExpiresAt:  now.AddDate(0, 0, plan.DurationDays),
		MT5Account: req.MT5Account,
		Notes:      req.Notes,
	}
	if err := a.store.CreateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("failed to create license: %w", err)
	}

	a.logger.Info("license issued", "license_id", lic.ID, "plan", plan.Name, "email", req.UserEmail)
	return lic, nil
}

// Suspend pauses an active license
func (a *Authority) Suspend(ctx context.Context, id string) error {
	return a.transition(ctx, id, database.LicenseStatusSuspended,
		database.LicenseStatusActive)
}

// Reactivate lifts a suspension. A suspended license that sat past
// its expiry cannot come back as active; it has to go through Extend.
func (a *Authority) Reactivate(ctx context.Context, id string) error {
	lic, err := a.store.GetLicenseByID(ctx, id)
	if err != nil {
		return fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return ErrNotFound
	}
	if !lic.ExpiresAt.After(a.now()) {
		return fmt.Errorf("%w: license expired while suspended", ErrStateMismatch)
	}
	return a.transition(ctx, id, database.LicenseStatusActive,
		database.LicenseStatusSuspended)
}

// Cancel terminally revokes a license from any non-cancelled state
func (a *Authority) Cancel(ctx context.Context, id string) error {
	return a.transition(ctx, id, database.LicenseStatusCancelled,
		database.LicenseStatusActive, database.LicenseStatusExpired, database.LicenseStatusSuspended)
}

func (a *Authority) transition(ctx context.Context, id, to string, from ...string) error {
	lic, err := a.store.GetLicenseByID(ctx, id)
	if err != nil {
		return fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return ErrNotFound
	}

	allowed := false
	for _, s := range from {
		if lic.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrStateMismatch, lic.Status, to)
	}

	if err := a.store.SetLicenseStatus(ctx, id, to); err != nil {
		return fmt.Errorf("failed to set license status: %w", err)
	}
	logging.LicenseContext(id, to).Info("license status changed", "from", lic.Status)
	return nil
}

// Extend renews a license by one plan period. The new expiry anchors
// on whichever is later, now or the current expiry, so renewing early
// never loses paid time and renewing late starts from today. The
// license returns to active regardless of prior expired state.
func (a *Authority) Extend(ctx context.Context, id string) (*database.License, error) {
	lic, err := a.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return nil, ErrNotFound
	}
	if lic.Status == database.LicenseStatusCancelled {
		return nil, fmt.Errorf("%w: cancelled licenses cannot be extended", ErrStateMismatch)
	}

	anchor := lic.ExpiresAt
	if now := a.now(); anchor.Before(now) {
		anchor = now
	}
	newExpiry := anchor.AddDate(0, 0, lic.PlanDuration)

	if err := a.store.ExtendLicense(ctx, id, newExpiry); err != nil {
		return nil, fmt.Errorf("failed to extend license: %w", err)
	}

	lic.Status = database.LicenseStatusActive
	lic.ExpiresAt = newExpiry
	logging.LicenseContext(id, "extend").Info("license extended", "new_expiry", newExpiry)
	return lic, nil
}

// Bindings returns the accounts bound to a license
func (a *Authority) Bindings(ctx context.Context, id string) ([]database.AccountBinding, error) {
	return a.store.ListBindings(ctx, id)
}

// Unbind releases one account slot on a license
func (a *Authority) Unbind(ctx context.Context, id, accountID string) error {
	lic, err := a.store.GetLicenseByID(ctx, id)
	if err != nil {
		return fmt.Errorf("license lookup failed: %w", err)
	}
	if lic == nil {
		return ErrNotFound
	}
	return a.store.DeleteBinding(ctx, id, accountID)
}
