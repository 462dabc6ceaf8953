package app

import (
	"context"
	"errors"
	"fmt"

	"guardline/internal/engine/access"
	"guardline/internal/repo"
)

// ResolveTenant picks the working tenant for a CLI invocation: the explicit
// override wins, otherwise a sole registered tenant is used implicitly.
func ResolveTenant(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetTenant(ctx, override); err != nil {
			return "", fmt.Errorf("tenant %s: %w", override, err)
		}
		return override, nil
	}
	tenants, err := r.ListTenants(ctx)
	if err != nil {
		return "", err
	}
	switch len(tenants) {
	case 0:
		return "", errors.New("no tenants registered; run 'gl tenant create' first")
	case 1:
		return tenants[0].ID, nil
	default:
		return "", errors.New("multiple tenants exist; specify --tenant")
	}
}

// ResolveActor builds the acting principal from flags plus the actors
// table. An explicit --role wins over the stored membership.
func ResolveActor(ctx context.Context, svc access.Service, email, tenantID, roleOverride string) (access.Actor, error) {
	if email == "" {
		return access.Actor{}, errors.New("actor email required; set --actor-email")
	}
	if roleOverride != "" {
		return access.Actor{Email: email, TenantID: tenantID, Role: roleOverride}, nil
	}
	return svc.Resolve(ctx, email, tenantID)
}
