package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Roles understood by the platform. Admins operate the back office and never
// hold corporate-side instruction affordances; makers submit mutations,
// checkers decide them.
const (
	RoleAdmin   = "admin"
	RoleMaker   = "maker"
	RoleChecker = "checker"
	RoleViewer  = "viewer"
)

// ForbiddenError indicates the actor lacks the named action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("action %s not permitted", e.Action)
}

// Actor is an authenticated principal scoped to one tenant.
type Actor struct {
	Email    string
	TenantID string
	Role     string
}

// AdminView reports whether the actor sees the back-office rendering of a
// timeline. Admin-side views are read-only for instruction actions.
func (a Actor) AdminView() bool { return a.Role == RoleAdmin }

// CanMutate reports whether the actor may issue record mutations.
func (a Actor) CanMutate() bool { return a.Role == RoleMaker || a.Role == RoleChecker }

// CanDecide reports whether the actor may decide approval requests.
func (a Actor) CanDecide() bool { return a.Role == RoleChecker }

// CanSendReminder reports whether the actor holds the reminder capability.
func (a Actor) CanSendReminder() bool {
	return a.Role == RoleMaker || a.Role == RoleChecker
}

// Service resolves actor roles from the actors table.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, email, tenantID, role string) error {
	if email == "" {
		return errors.New("email required")
	}
	if role == "" {
		role = RoleViewer
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(email,tenant_id,role,created_at) VALUES (?,?,?,?)`,
		email, tenantID, role, now)
	return err
}

// Resolve loads the stored role for an actor within a tenant. An unknown
// actor resolves to viewer rather than an error.
func (s Service) Resolve(ctx context.Context, email, tenantID string) (Actor, error) {
	a := Actor{Email: email, TenantID: tenantID, Role: RoleViewer}
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM actors WHERE email=? AND tenant_id=?`, email, tenantID).Scan(&role)
	if err == sql.ErrNoRows {
		return a, nil
	}
	if err != nil {
		return a, err
	}
	a.Role = role
	return a, nil
}

// ResolveByEmail finds the actor's membership when the tenant is not known
// up front (API-key auth). Multi-tenant actors resolve to their oldest
// membership.
func (s Service) ResolveByEmail(ctx context.Context, email string) (Actor, error) {
	a := Actor{Email: email}
	err := s.DB.QueryRowContext(ctx, `SELECT tenant_id, role FROM actors WHERE email=? ORDER BY created_at LIMIT 1`, email).
		Scan(&a.TenantID, &a.Role)
	if err == sql.ErrNoRows {
		return a, errors.New("actor has no tenant membership")
	}
	return a, err
}

// Require returns a ForbiddenError unless ok.
func Require(ok bool, action string) error {
	if !ok {
		return ForbiddenError{Action: action}
	}
	return nil
}
