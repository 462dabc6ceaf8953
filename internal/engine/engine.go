package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"guardline/internal/config"
	"guardline/internal/domain"
	"guardline/internal/engine/access"
	"guardline/internal/events"
	"guardline/internal/repo"
	"guardline/internal/timeline"
)

// Engine owns every state transition. Each operation runs in one
// transaction and appends its audit event before committing.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Access access.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Access: access.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// ErrGracePeriod blocks mutating instruction actions while the tenant's
// subscription has lapsed.
var ErrGracePeriod = errors.New("tenant in grace period: instruction actions disabled")

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// serial builds a human-facing instruction reference like EXT-1A2B3C4D.
func serial(instructionType string) string {
	prefix := "INS"
	switch instructionType {
	case domain.InstrExtension:
		prefix = "EXT"
	case domain.InstrAmendment:
		prefix = "AMD"
	case domain.InstrRelease:
		prefix = "REL"
	case domain.InstrLiquidation:
		prefix = "LIQ"
	case domain.InstrDecreaseAmount:
		prefix = "DEC"
	case domain.InstrActivateNonOperative:
		prefix = "ACT"
	case domain.InstrReminderToBanks:
		prefix = "REM"
	}
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// graceActive reports whether the tenant is in its post-subscription grace
// window.
func (e Engine) graceActive(ctx context.Context, tenantID string) (bool, error) {
	t, err := e.Repo.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return t.Status == "grace", nil
}

// mutableRecord loads a record and verifies the actor may mutate it.
func (e Engine) mutableRecord(ctx context.Context, recordID string, actor access.Actor) (domain.LGRecord, error) {
	rec, err := e.Repo.GetRecord(ctx, recordID)
	if err != nil {
		return rec, err
	}
	if rec.TenantID != actor.TenantID {
		return rec, repo.ErrNotFound
	}
	if err := access.Require(actor.CanMutate(), "record.mutate"); err != nil {
		return rec, err
	}
	grace, err := e.graceActive(ctx, rec.TenantID)
	if err != nil {
		return rec, err
	}
	if grace {
		return rec, ErrGracePeriod
	}
	return rec, nil
}

// RecordCreateOptions are parameters for creating an LG record.
type RecordCreateOptions struct {
	ID           string
	TenantID     string
	LGNumber     string
	LGType       string
	Beneficiary  string
	IssuingBank  string
	Currency     string
	Amount       float64
	IssuanceDate string
	ExpiryDate   string
	Actor        access.Actor
}

func (e Engine) CreateRecord(ctx context.Context, opts RecordCreateOptions) (domain.LGRecord, error) {
	if opts.LGNumber == "" {
		return domain.LGRecord{}, errors.New("lg_number is required")
	}
	if opts.Beneficiary == "" {
		return domain.LGRecord{}, errors.New("beneficiary is required")
	}
	if opts.Currency == "" {
		return domain.LGRecord{}, errors.New("currency is required")
	}
	if opts.Amount <= 0 {
		return domain.LGRecord{}, errors.New("amount must be positive")
	}
	if opts.ExpiryDate == "" {
		return domain.LGRecord{}, errors.New("expiry_date is required")
	}
	if err := access.Require(opts.Actor.CanMutate(), "record.create"); err != nil {
		return domain.LGRecord{}, err
	}
	if _, err := e.Repo.GetTenant(ctx, opts.TenantID); err != nil {
		return domain.LGRecord{}, fmt.Errorf("tenant %s: %w", opts.TenantID, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LGRecord{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	rec := domain.LGRecord{
		ID:           opts.ID,
		TenantID:     opts.TenantID,
		LGNumber:     opts.LGNumber,
		LGType:       opts.LGType,
		Beneficiary:  opts.Beneficiary,
		IssuingBank:  opts.IssuingBank,
		Currency:     opts.Currency,
		Amount:       opts.Amount,
		IssuanceDate: opts.IssuanceDate,
		ExpiryDate:   opts.ExpiryDate,
		Status:       "valid",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.IssuanceDate == "" {
		rec.IssuanceDate = now
	}
	if err := e.Repo.InsertRecordTx(ctx, tx, rec); err != nil {
		return domain.LGRecord{}, fmt.Errorf("insert record: %w", err)
	}
	details := events.Details{
		"beneficiary": rec.Beneficiary,
		"amount":      rec.Amount,
		"currency":    rec.Currency,
		"expiry_date": rec.ExpiryDate,
	}
	if rec.IssuingBank != "" {
		details["issuing_bank"] = rec.IssuingBank
	}
	if rec.LGType != "" {
		details["lg_type"] = rec.LGType
	}
	if err := e.writer().Append(ctx, tx, timeline.ActionCreated, rec.ID, opts.Actor.Email, nil, details); err != nil {
		return domain.LGRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LGRecord{}, err
	}
	return rec, nil
}

// issueInstruction inserts an instruction row, patches the record, and
// appends the audit event, all in one transaction. The returned instruction
// carries its database id; the event links to it both ways (entity link and
// generated_instruction_id detail).
func (e Engine) issueInstruction(ctx context.Context, rec domain.LGRecord, instructionType, actionType string,
	actor access.Actor, recordPatch map[string]any, details events.Details) (domain.Instruction, error) {

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	in := domain.Instruction{
		RecordID:        rec.ID,
		InstructionType: instructionType,
		Serial:          serial(instructionType),
		Status:          domain.StatusInstructionIssued,
		CreatedAt:       now,
	}
	id, err := e.Repo.InsertInstructionTx(ctx, tx, in)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("insert instruction: %w", err)
	}
	in.ID = id

	if len(recordPatch) > 0 {
		if err := e.Repo.UpdateRecordTx(ctx, tx, rec.ID, now, recordPatch); err != nil {
			return domain.Instruction{}, fmt.Errorf("update record: %w", err)
		}
	}
	if details == nil {
		details = events.Details{}
	}
	details["generated_instruction_id"] = in.ID
	entity := &events.Entity{Type: "LGInstruction", ID: fmt.Sprintf("%d", in.ID)}
	if err := e.writer().Append(ctx, tx, actionType, rec.ID, actor.Email, entity, details); err != nil {
		return domain.Instruction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, err
	}
	return in, nil
}

// ExtendRecord moves the expiry date forward and issues an extension
// instruction.
func (e Engine) ExtendRecord(ctx context.Context, recordID, newExpiry string, actor access.Actor) (domain.Instruction, error) {
	if newExpiry == "" {
		return domain.Instruction{}, errors.New("new expiry date is required")
	}
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	oldT, err1 := time.Parse(time.RFC3339, rec.ExpiryDate)
	newT, err2 := time.Parse(time.RFC3339, newExpiry)
	if err1 == nil && err2 == nil && !newT.After(oldT) {
		return domain.Instruction{}, errors.New("new expiry must be after current expiry")
	}
	return e.issueInstruction(ctx, rec, domain.InstrExtension, timeline.ActionExtended, actor,
		map[string]any{"expiry_date": newExpiry},
		events.Details{
			"old_expiry_date": rec.ExpiryDate,
			"new_expiry_date": newExpiry,
			"amount":          rec.Amount,
			"currency":        rec.Currency,
		})
}

// FieldChange is one before/after pair in an amendment.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Fields a corporate user may amend directly.
var amendableFields = map[string]struct{}{
	"beneficiary":  {},
	"issuing_bank": {},
	"lg_type":      {},
	"expiry_date":  {},
}

// AmendRecord applies field-level changes and issues an amendment
// instruction whose event carries the full before/after diff.
func (e Engine) AmendRecord(ctx context.Context, recordID string, changes map[string]FieldChange, actor access.Actor) (domain.Instruction, error) {
	if len(changes) == 0 {
		return domain.Instruction{}, errors.New("at least one change is required")
	}
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	patch := map[string]any{}
	diff := map[string]any{}
	for field, ch := range changes {
		if _, ok := amendableFields[field]; !ok {
			return domain.Instruction{}, fmt.Errorf("field %s is not amendable", field)
		}
		patch[field] = ch.New
		diff[field] = map[string]any{"old": ch.Old, "new": ch.New}
	}
	return e.issueInstruction(ctx, rec, domain.InstrAmendment, timeline.ActionAmended, actor,
		patch, events.Details{"changes": diff})
}

// ReleaseRecord terminates the guarantee and issues a release instruction.
func (e Engine) ReleaseRecord(ctx context.Context, recordID, reason string, actor access.Actor) (domain.Instruction, error) {
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	if rec.Status != "valid" {
		return domain.Instruction{}, fmt.Errorf("record status %s cannot be released", rec.Status)
	}
	details := events.Details{"release_date": e.nowRFC3339()}
	if reason != "" {
		details["reason"] = reason
	}
	return e.issueInstruction(ctx, rec, domain.InstrRelease, timeline.ActionReleased, actor,
		map[string]any{"status": "released"}, details)
}

// LiquidateRecord calls the guarantee, fully or partially.
func (e Engine) LiquidateRecord(ctx context.Context, recordID string, amount float64, actor access.Actor) (domain.Instruction, error) {
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	if rec.Status != "valid" {
		return domain.Instruction{}, fmt.Errorf("record status %s cannot be liquidated", rec.Status)
	}
	if amount <= 0 || amount > rec.Amount {
		return domain.Instruction{}, errors.New("liquidation amount must be positive and within the record amount")
	}
	liquidationType := "partial"
	patch := map[string]any{"amount": rec.Amount - amount}
	if amount == rec.Amount {
		liquidationType = "full"
		patch = map[string]any{"status": "liquidated", "amount": 0.0}
	}
	return e.issueInstruction(ctx, rec, domain.InstrLiquidation, timeline.ActionLiquidated, actor,
		patch, events.Details{
			"liquidation_type": liquidationType,
			"amount":           amount,
			"currency":         rec.Currency,
		})
}

// DecreaseAmount lowers the guaranteed amount without liquidating.
func (e Engine) DecreaseAmount(ctx context.Context, recordID string, newAmount float64, actor access.Actor) (domain.Instruction, error) {
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	if newAmount <= 0 || newAmount >= rec.Amount {
		return domain.Instruction{}, errors.New("new amount must be positive and below the current amount")
	}
	return e.issueInstruction(ctx, rec, domain.InstrDecreaseAmount, timeline.ActionDecreasedAmount, actor,
		map[string]any{"amount": newAmount},
		events.Details{
			"old_amount": rec.Amount,
			"new_amount": newAmount,
			"currency":   rec.Currency,
		})
}

// ActivateNonOperative turns a non-operative guarantee operative once the
// advance payment lands.
func (e Engine) ActivateNonOperative(ctx context.Context, recordID, paymentReference string, actor access.Actor) (domain.Instruction, error) {
	if paymentReference == "" {
		return domain.Instruction{}, errors.New("payment reference is required")
	}
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	return e.issueInstruction(ctx, rec, domain.InstrActivateNonOperative, timeline.ActionActivated, actor,
		nil, events.Details{
			"payment_reference": paymentReference,
			"amount":            rec.Amount,
			"currency":          rec.Currency,
		})
}
