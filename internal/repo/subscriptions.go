package repo

import (
	"context"
	"encoding/json"
)

// Subscription is a webhook endpoint registered for lifecycle notifications.
type Subscription struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	URL       string   `json:"url"`
	Secret    string   `json:"-"`
	Events    []string `json:"events"`
	Enabled   bool     `json:"enabled"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

func (r Repo) InsertSubscription(ctx context.Context, s Subscription) error {
	events, err := json.Marshal(s.Events)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO subscriptions(id,tenant_id,url,secret,events,enabled,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.TenantID, s.URL, s.Secret, string(events), s.Enabled, s.CreatedAt)
	return err
}

func (r Repo) ListSubscriptions(ctx context.Context, tenantID string, enabledOnly bool) ([]Subscription, error) {
	query := `SELECT id,tenant_id,url,secret,events,enabled,created_at FROM subscriptions WHERE tenant_id=?`
	if enabledOnly {
		query += ` AND enabled=1`
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Subscription
	for rows.Next() {
		var s Subscription
		var events string
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &s.Secret, &events, &s.Enabled, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &s.Events); err != nil {
			s.Events = nil
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListEnabledSubscriptions returns every enabled subscription across
// tenants, for the dispatcher.
func (r Repo) ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,url,secret,events,enabled,created_at FROM subscriptions WHERE enabled=1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Subscription
	for rows.Next() {
		var s Subscription
		var events string
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &s.Secret, &events, &s.Enabled, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &s.Events); err != nil {
			s.Events = nil
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSubscription(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
