package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardline/internal/domain"
	"guardline/internal/engine/access"
	"guardline/internal/events"
	"guardline/internal/repo"
	"guardline/internal/timeline"
)

// instructionForActor loads an instruction plus its record, enforcing
// tenant scoping.
func (e Engine) instructionForActor(ctx context.Context, id int64, actor access.Actor) (domain.Instruction, domain.LGRecord, error) {
	if id <= 0 {
		return domain.Instruction{}, domain.LGRecord{}, errors.New("instruction id must be a positive integer")
	}
	in, err := e.Repo.GetInstruction(ctx, id)
	if err != nil {
		return domain.Instruction{}, domain.LGRecord{}, err
	}
	rec, err := e.Repo.GetRecord(ctx, in.RecordID)
	if err != nil {
		return domain.Instruction{}, domain.LGRecord{}, err
	}
	if rec.TenantID != actor.TenantID {
		return domain.Instruction{}, domain.LGRecord{}, repo.ErrNotFound
	}
	return in, rec, nil
}

// RecordDelivery stamps the delivery date on an instruction and audits it.
func (e Engine) RecordDelivery(ctx context.Context, id int64, deliveryDate, method string, actor access.Actor) (domain.Instruction, error) {
	if err := access.Require(actor.CanMutate(), "instruction.delivery"); err != nil {
		return domain.Instruction{}, err
	}
	in, rec, err := e.instructionForActor(ctx, id, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	if in.DeliveryDate != nil && *in.DeliveryDate != "" {
		return domain.Instruction{}, errors.New("delivery already recorded")
	}
	if deliveryDate == "" {
		deliveryDate = e.nowRFC3339()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, err
	}
	defer tx.Rollback()

	patch := map[string]any{"delivery_date": deliveryDate, "status": domain.StatusDeliveryConfirmed}
	if err := e.Repo.UpdateInstructionTx(ctx, tx, in.ID, patch); err != nil {
		return domain.Instruction{}, fmt.Errorf("update instruction: %w", err)
	}
	details := events.Details{"delivery_date": deliveryDate}
	if method != "" {
		details["delivery_method"] = method
	}
	entity := &events.Entity{Type: "LGInstruction", ID: fmt.Sprintf("%d", in.ID)}
	if err := e.writer().Append(ctx, tx, timeline.ActionDelivered, rec.ID, actor.Email, entity, details); err != nil {
		return domain.Instruction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, err
	}
	in.DeliveryDate = &deliveryDate
	in.Status = domain.StatusDeliveryConfirmed
	return in, nil
}

// RecordBankReply stamps the bank reply date, closing the reminder loop.
func (e Engine) RecordBankReply(ctx context.Context, id int64, replyDate, notes string, actor access.Actor) (domain.Instruction, error) {
	if err := access.Require(actor.CanMutate(), "instruction.bank_reply"); err != nil {
		return domain.Instruction{}, err
	}
	in, rec, err := e.instructionForActor(ctx, id, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	if in.BankReplyDate != nil && *in.BankReplyDate != "" {
		return domain.Instruction{}, errors.New("bank reply already recorded")
	}
	if replyDate == "" {
		replyDate = e.nowRFC3339()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, err
	}
	defer tx.Rollback()

	patch := map[string]any{"bank_reply_date": replyDate, "status": domain.StatusBankReplyReceived}
	if err := e.Repo.UpdateInstructionTx(ctx, tx, in.ID, patch); err != nil {
		return domain.Instruction{}, fmt.Errorf("update instruction: %w", err)
	}
	details := events.Details{"bank_reply_date": replyDate}
	if notes != "" {
		details["notes"] = notes
	}
	entity := &events.Entity{Type: "LGInstruction", ID: fmt.Sprintf("%d", in.ID)}
	if err := e.writer().Append(ctx, tx, timeline.ActionBankReply, rec.ID, actor.Email, entity, details); err != nil {
		return domain.Instruction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, err
	}
	in.BankReplyDate = &replyDate
	in.Status = domain.StatusBankReplyReceived
	return in, nil
}

// SendReminder issues a reminder-to-banks instruction for an unanswered
// one. Eligibility is the same pure gate the timeline surfaces; the engine
// re-checks it so the API cannot be driven past the rules.
func (e Engine) SendReminder(ctx context.Context, id int64, bankName string, actor access.Actor) (domain.Instruction, error) {
	in, rec, err := e.instructionForActor(ctx, id, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	grace, err := e.graceActive(ctx, rec.TenantID)
	if err != nil {
		return domain.Instruction{}, err
	}
	evs, err := e.Repo.ListEvents(ctx, rec.ID)
	if err != nil {
		return domain.Instruction{}, err
	}
	all, err := e.Repo.ListInstructions(ctx, rec.ID)
	if err != nil {
		return domain.Instruction{}, err
	}
	tctx := timeline.Context{
		AdminView:       actor.AdminView(),
		GracePeriod:     grace,
		Thresholds:      e.Repo.Thresholds(ctx, rec.TenantID, e.Config.Thresholds()),
		CanSendReminder: actor.CanSendReminder(),
		Now:             e.now(),
	}
	actions := timeline.Resolve(&in, all, timeline.ReminderFacts(evs), tctx)
	if !actions.SendReminder {
		return domain.Instruction{}, access.ForbiddenError{Action: "instruction.send_reminder"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	reminder := domain.Instruction{
		RecordID:        rec.ID,
		InstructionType: domain.InstrReminderToBanks,
		Serial:          serial(domain.InstrReminderToBanks),
		Status:          domain.StatusReminderIssued,
		CreatedAt:       now,
	}
	rid, err := e.Repo.InsertInstructionTx(ctx, tx, reminder)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("insert reminder: %w", err)
	}
	reminder.ID = rid
	if err := e.Repo.UpdateInstructionTx(ctx, tx, in.ID, map[string]any{"has_reminder_sent": true}); err != nil {
		return domain.Instruction{}, fmt.Errorf("flag original instruction: %w", err)
	}
	details := events.Details{
		"original_instruction_id":     in.ID,
		"original_instruction_serial": in.Serial,
	}
	if bankName != "" {
		details["bank_name"] = bankName
	}
	entity := &events.Entity{Type: "LGInstruction", ID: fmt.Sprintf("%d", reminder.ID)}
	if err := e.writer().Append(ctx, tx, timeline.ActionReminderSent, rec.ID, actor.Email, entity, details); err != nil {
		return domain.Instruction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, err
	}
	return reminder, nil
}

// CancellationWindow returns the configured cancel window as a duration.
func (e Engine) CancellationWindow() time.Duration {
	hours := 24
	if e.Config != nil && e.Config.Cancellation.WindowHours > 0 {
		hours = e.Config.Cancellation.WindowHours
	}
	return time.Duration(hours) * time.Hour
}

// CancelCountdown renders the remaining cancel window for an instruction.
func (e Engine) CancelCountdown(in domain.Instruction) string {
	return timeline.Countdown(in.CreatedAt, e.CancellationWindow(), e.now())
}

// CancelInstruction voids the latest cancellable instruction while its
// cancellation window is still open.
func (e Engine) CancelInstruction(ctx context.Context, id int64, reason string, actor access.Actor) (domain.Instruction, error) {
	if err := access.Require(actor.CanMutate(), "instruction.cancel"); err != nil {
		return domain.Instruction{}, err
	}
	in, rec, err := e.instructionForActor(ctx, id, actor)
	if err != nil {
		return domain.Instruction{}, err
	}
	grace, err := e.graceActive(ctx, rec.TenantID)
	if err != nil {
		return domain.Instruction{}, err
	}
	all, err := e.Repo.ListInstructions(ctx, rec.ID)
	if err != nil {
		return domain.Instruction{}, err
	}
	tctx := timeline.Context{
		AdminView:   actor.AdminView(),
		GracePeriod: grace,
		Thresholds:  e.Config.Thresholds(),
		Now:         e.now(),
	}
	if !timeline.Resolve(&in, all, nil, tctx).CancelEligible {
		return domain.Instruction{}, access.ForbiddenError{Action: "instruction.cancel"}
	}
	created, err := time.Parse(time.RFC3339, in.CreatedAt)
	if err == nil && e.now().After(created.Add(e.CancellationWindow())) {
		return domain.Instruction{}, errors.New("cancellation window has closed")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instruction{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateInstructionTx(ctx, tx, in.ID, map[string]any{"status": domain.StatusInstructionCancelled}); err != nil {
		return domain.Instruction{}, fmt.Errorf("update instruction: %w", err)
	}
	details := events.Details{"instruction_serial": in.Serial}
	if reason != "" {
		details["reason"] = reason
	}
	entity := &events.Entity{Type: "LGInstruction", ID: fmt.Sprintf("%d", in.ID)}
	if err := e.writer().Append(ctx, tx, timeline.ActionInstructionCanceled, rec.ID, actor.Email, entity, details); err != nil {
		return domain.Instruction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instruction{}, err
	}
	in.Status = domain.StatusInstructionCancelled
	return in, nil
}
