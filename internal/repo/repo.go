package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"guardline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,status,subscription_end,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, t.Status, nullable(t.SubscriptionEnd), t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	var subEnd sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,subscription_end,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &subEnd, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if subEnd.Valid {
		t.SubscriptionEnd = subEnd.String
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,COALESCE(subscription_end,'') AS subscription_end,created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.SubscriptionEnd, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTenantStatus(ctx context.Context, id, status string, subscriptionEnd *string) error {
	var (
		fields = []string{"status=?"}
		args   = []any{status}
	)
	if subscriptionEnd != nil {
		fields = append(fields, "subscription_end=?")
		args = append(args, nullable(*subscriptionEnd))
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tenants SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertActor(ctx context.Context, email, tenantID, role, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(email,tenant_id,role,created_at) VALUES (?,?,?,?)
		ON CONFLICT(email,tenant_id) DO UPDATE SET role=excluded.role`,
		email, tenantID, role, createdAt)
	return err
}

func (r Repo) ActorRole(ctx context.Context, email, tenantID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM actors WHERE email=? AND tenant_id=?`, email, tenantID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

const recordColumns = `id,tenant_id,lg_number,COALESCE(lg_type,'') AS lg_type,beneficiary,COALESCE(issuing_bank,'') AS issuing_bank,currency,amount,issuance_date,expiry_date,status,created_at,updated_at`

func scanRecord(scan func(dest ...any) error) (domain.LGRecord, error) {
	var rec domain.LGRecord
	err := scan(&rec.ID, &rec.TenantID, &rec.LGNumber, &rec.LGType, &rec.Beneficiary,
		&rec.IssuingBank, &rec.Currency, &rec.Amount, &rec.IssuanceDate, &rec.ExpiryDate,
		&rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) InsertRecordTx(ctx context.Context, tx *sql.Tx, rec domain.LGRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lg_records(id,tenant_id,lg_number,lg_type,beneficiary,issuing_bank,currency,amount,issuance_date,expiry_date,status,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.TenantID, rec.LGNumber, nullable(rec.LGType), rec.Beneficiary, nullable(rec.IssuingBank),
		rec.Currency, rec.Amount, rec.IssuanceDate, rec.ExpiryDate, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.LGRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM lg_records WHERE id=?`, id)
	return scanRecord(row.Scan)
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, id string) (domain.LGRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM lg_records WHERE id=?`, id)
	return scanRecord(row.Scan)
}

func (r Repo) ListRecords(ctx context.Context, tenantID string) ([]domain.LGRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM lg_records WHERE tenant_id=? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LGRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpdateRecordTx patches the given columns; updated_at always moves.
func (r Repo) UpdateRecordTx(ctx context.Context, tx *sql.Tx, id, updatedAt string, patch map[string]any) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	for _, col := range []string{"status", "amount", "expiry_date", "beneficiary", "issuing_bank", "lg_type"} {
		if v, ok := patch[col]; ok {
			fields = append(fields, col+"=?")
			args = append(args, v)
		}
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE lg_records SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const instructionColumns = `id,record_id,instruction_type,COALESCE(serial,'') AS serial,status,created_at,delivery_date,bank_reply_date,has_reminder_sent,generated_content_path`

func scanInstruction(scan func(dest ...any) error) (domain.Instruction, error) {
	var in domain.Instruction
	var delivery, reply, content sql.NullString
	err := scan(&in.ID, &in.RecordID, &in.InstructionType, &in.Serial, &in.Status,
		&in.CreatedAt, &delivery, &reply, &in.HasReminderSent, &content)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if delivery.Valid {
		in.DeliveryDate = &delivery.String
	}
	if reply.Valid {
		in.BankReplyDate = &reply.String
	}
	if content.Valid {
		in.GeneratedContentPath = &content.String
	}
	return in, err
}

func (r Repo) InsertInstructionTx(ctx context.Context, tx *sql.Tx, in domain.Instruction) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO instructions(record_id,instruction_type,serial,status,created_at,delivery_date,bank_reply_date,has_reminder_sent,generated_content_path)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		in.RecordID, in.InstructionType, nullable(in.Serial), in.Status, in.CreatedAt,
		in.DeliveryDate, in.BankReplyDate, in.HasReminderSent, in.GeneratedContentPath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetInstruction(ctx context.Context, id int64) (domain.Instruction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instructionColumns+` FROM instructions WHERE id=?`, id)
	return scanInstruction(row.Scan)
}

func (r Repo) GetInstructionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Instruction, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instructionColumns+` FROM instructions WHERE id=?`, id)
	return scanInstruction(row.Scan)
}

func (r Repo) ListInstructions(ctx context.Context, recordID string) ([]domain.Instruction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+instructionColumns+` FROM instructions WHERE record_id=? ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instruction
	for rows.Next() {
		in, err := scanInstruction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// UpdateInstructionTx patches the given columns on one instruction.
func (r Repo) UpdateInstructionTx(ctx context.Context, tx *sql.Tx, id int64, patch map[string]any) error {
	var (
		fields []string
		args   []any
	)
	for _, col := range []string{"status", "delivery_date", "bank_reply_date", "has_reminder_sent", "generated_content_path"} {
		if v, ok := patch[col]; ok {
			fields = append(fields, col+"=?")
			args = append(args, v)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE instructions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const eventColumns = `id,record_id,action_type,ts,user_email,entity_type,entity_id,details`

func scanEvent(scan func(dest ...any) error) (domain.LifecycleEvent, error) {
	var ev domain.LifecycleEvent
	var email, entityType, entityID sql.NullString
	err := scan(&ev.ID, &ev.RecordID, &ev.ActionType, &ev.TS, &email, &entityType, &entityID, &ev.Details)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if email.Valid {
		ev.UserEmail = &email.String
	}
	if entityType.Valid {
		ev.EntityType = &entityType.String
	}
	if entityID.Valid {
		ev.EntityID = &entityID.String
	}
	return ev, err
}

func (r Repo) ListEvents(ctx context.Context, recordID string) ([]domain.LifecycleEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM lifecycle_events WHERE record_id=? ORDER BY ts, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LifecycleEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// LatestEventID returns the newest lifecycle event id, 0 when the stream is
// empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM lifecycle_events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// EventsSince returns events newer than the given id, oldest first. Used by
// webhook dispatch to drain the audit stream incrementally.
func (r Repo) EventsSince(ctx context.Context, afterID int64, limit int) ([]domain.LifecycleEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM lifecycle_events WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LifecycleEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// RecentEvents returns the newest events across all records, newest first.
func (r Repo) RecentEvents(ctx context.Context, limit int) ([]domain.LifecycleEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM lifecycle_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LifecycleEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// EventsSinceForTenant is EventsSince scoped to one tenant's records, for
// tenant-registered webhook subscriptions.
func (r Repo) EventsSinceForTenant(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.LifecycleEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT e.id,e.record_id,e.action_type,e.ts,e.user_email,e.entity_type,e.entity_id,e.details
		FROM lifecycle_events e JOIN lg_records r ON r.id=e.record_id
		WHERE r.tenant_id=? AND e.id>? ORDER BY e.id LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LifecycleEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
