package repo

import (
	"context"
	"database/sql"
	"strconv"

	"guardline/internal/timeline"
)

// Setting keys understood by the engine. Values are stored as text.
const (
	SettingDaysSinceDelivery    = "reminder.days_since_delivery"
	SettingDaysSinceIssuance    = "reminder.days_since_issuance"
	SettingMaxDaysSinceIssuance = "reminder.max_days_since_issuance"
	SettingCancellationHours    = "cancellation.window_hours"
)

func (r Repo) GetSetting(ctx context.Context, tenantID, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE tenant_id=? AND key=?`, tenantID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) SetSetting(ctx context.Context, tenantID, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO settings(tenant_id,key,value) VALUES (?,?,?)
		ON CONFLICT(tenant_id,key) DO UPDATE SET value=excluded.value`, tenantID, key, value)
	return err
}

func (r Repo) DeleteSetting(ctx context.Context, tenantID, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM settings WHERE tenant_id=? AND key=?`, tenantID, key)
	return err
}

// Thresholds overlays per-tenant overrides on the provided defaults. A
// missing or malformed override is ignored rather than surfaced; reminder
// gating always has a working threshold set.
func (r Repo) Thresholds(ctx context.Context, tenantID string, defaults timeline.Thresholds) timeline.Thresholds {
	out := defaults
	if v, err := r.intSetting(ctx, tenantID, SettingDaysSinceDelivery); err == nil {
		out.DaysSinceDelivery = v
	}
	if v, err := r.intSetting(ctx, tenantID, SettingDaysSinceIssuance); err == nil {
		out.DaysSinceIssuance = v
	}
	if v, err := r.intSetting(ctx, tenantID, SettingMaxDaysSinceIssuance); err == nil {
		out.MaxDaysSinceIssuance = v
	}
	return out
}

func (r Repo) intSetting(ctx context.Context, tenantID, key string) (int, error) {
	raw, err := r.GetSetting(ctx, tenantID, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, ErrNotFound
	}
	return v, nil
}
