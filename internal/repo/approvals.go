package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"guardline/internal/domain"
)

const approvalColumns = `id,record_id,tenant_id,action_type,payload,status,requested_by,decided_by,reason,created_at,decided_at`

func scanApproval(scan func(dest ...any) error) (domain.ApprovalRequest, error) {
	var ar domain.ApprovalRequest
	var decidedBy, reason, decidedAt sql.NullString
	err := scan(&ar.ID, &ar.RecordID, &ar.TenantID, &ar.ActionType, &ar.Payload, &ar.Status,
		&ar.RequestedBy, &decidedBy, &reason, &ar.CreatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return ar, ErrNotFound
	}
	if decidedBy.Valid {
		ar.DecidedBy = &decidedBy.String
	}
	if reason.Valid {
		ar.Reason = &reason.String
	}
	if decidedAt.Valid {
		ar.DecidedAt = &decidedAt.String
	}
	return ar, err
}

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, ar domain.ApprovalRequest) error {
	if ar.Payload == "" {
		ar.Payload = "{}"
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO approval_requests(id,record_id,tenant_id,action_type,payload,status,requested_by,created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ar.ID, ar.RecordID, ar.TenantID, ar.ActionType, ar.Payload, ar.Status, ar.RequestedBy, ar.CreatedAt)
	return err
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id=?`, id)
	return scanApproval(row.Scan)
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, id string) (domain.ApprovalRequest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id=?`, id)
	return scanApproval(row.Scan)
}

// ListApprovals returns approvals for a tenant, optionally filtered by status.
func (r Repo) ListApprovals(ctx context.Context, tenantID, status string) ([]domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE tenant_id=?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalRequest
	for rows.Next() {
		ar, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ar)
	}
	return res, rows.Err()
}

// PendingApproval reports whether the record already has a pending request
// for the same action type.
func (r Repo) PendingApproval(ctx context.Context, recordID, actionType string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM approval_requests WHERE record_id=? AND action_type=? AND status='pending'`,
		recordID, actionType).Scan(&n)
	return n > 0, err
}

// DecideApprovalTx moves a pending request to a terminal status.
func (r Repo) DecideApprovalTx(ctx context.Context, tx *sql.Tx, id, status, decidedBy, decidedAt string, reason *string) error {
	fields := []string{"status=?", "decided_by=?", "decided_at=?"}
	args := []any{status, decidedBy, decidedAt}
	if reason != nil {
		fields = append(fields, "reason=?")
		args = append(args, nullable(*reason))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE approval_requests SET %s WHERE id=? AND status='pending'`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
