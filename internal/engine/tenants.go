package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"guardline/internal/domain"
	"guardline/internal/engine/access"
	"guardline/internal/events"
	"guardline/internal/repo"
	"guardline/internal/timeline"
)

// CreateTenant registers a tenant and its first actor.
func (e Engine) CreateTenant(ctx context.Context, id, name, adminEmail string) (domain.Tenant, error) {
	if name == "" {
		return domain.Tenant{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Tenant{
		ID:        id,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertTenant(ctx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	if adminEmail != "" {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Tenant{}, err
		}
		defer tx.Rollback()
		if err := e.Access.EnsureActor(ctx, tx, adminEmail, t.ID, access.RoleChecker); err != nil {
			return domain.Tenant{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Tenant{}, err
		}
	}
	return t, nil
}

// SetTenantStatus moves a tenant between active, grace and expired.
func (e Engine) SetTenantStatus(ctx context.Context, id, status string, subscriptionEnd *string) error {
	switch status {
	case "active", "grace", "expired":
	default:
		return fmt.Errorf("unknown tenant status %q", status)
	}
	return e.Repo.UpdateTenantStatus(ctx, id, status, subscriptionEnd)
}

// AddActor grants a role within a tenant.
func (e Engine) AddActor(ctx context.Context, email, tenantID, role string) error {
	switch role {
	case access.RoleAdmin, access.RoleMaker, access.RoleChecker, access.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	return e.Repo.UpsertActor(ctx, email, tenantID, role, e.nowRFC3339())
}

// CreateAPIKey mints a key for an actor and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorEmail, name string) (domain.APIKey, string, error) {
	if actorEmail == "" {
		return domain.APIKey{}, "", errors.New("actor email is required")
	}
	plaintext := "glk_" + uuid.NewString()
	key := domain.APIKey{
		ID:         uuid.NewString(),
		ActorEmail: actorEmail,
		Name:       name,
		KeyHash:    repo.HashAPIKey(plaintext),
		CreatedAt:  e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// SweepRenewalReminders appends a renewal-reminder event for every valid
// record expiring within the given horizon that has not been flagged today.
// It is invoked from the CLI or a scheduler, never inline with user
// requests.
func (e Engine) SweepRenewalReminders(ctx context.Context, tenantID string, horizonDays int, recipient string) (int, error) {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	records, err := e.Repo.ListRecords(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	var swept int
	for _, rec := range records {
		if rec.Status != "valid" {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, rec.ExpiryDate)
		if err != nil {
			continue
		}
		days := int(expiry.Sub(now).Hours() / 24)
		if days < 0 || days > horizonDays {
			continue
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return swept, err
		}
		details := events.Details{"days_until_expiry": days}
		if recipient != "" {
			details["recipient"] = recipient
		}
		if err := e.writer().Append(ctx, tx, timeline.ActionRenewalReminder, rec.ID, "", nil, details); err != nil {
			tx.Rollback()
			return swept, err
		}
		if err := tx.Commit(); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
