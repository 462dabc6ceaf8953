package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"guardline/internal/domain"
	"guardline/internal/engine/access"
	"guardline/internal/events"
	"guardline/internal/repo"
	"guardline/internal/timeline"
)

// SubmitApproval opens a maker-checker request for a record action. One
// pending request per record and action type at a time.
func (e Engine) SubmitApproval(ctx context.Context, recordID, actionType, payload string, actor access.Actor) (domain.ApprovalRequest, error) {
	if actionType == "" {
		return domain.ApprovalRequest{}, errors.New("action_type is required")
	}
	rec, err := e.mutableRecord(ctx, recordID, actor)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	pending, err := e.Repo.PendingApproval(ctx, rec.ID, actionType)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if pending {
		return domain.ApprovalRequest{}, fmt.Errorf("pending %s request already exists for record %s", actionType, rec.ID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer tx.Rollback()

	ar := domain.ApprovalRequest{
		ID:          uuid.NewString(),
		RecordID:    rec.ID,
		TenantID:    rec.TenantID,
		ActionType:  actionType,
		Payload:     payload,
		Status:      "pending",
		RequestedBy: actor.Email,
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertApprovalTx(ctx, tx, ar); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("insert approval: %w", err)
	}
	details := events.Details{
		"action_type":  actionType,
		"requested_by": actor.Email,
	}
	entity := &events.Entity{Type: "ApprovalRequest", ID: ar.ID}
	if err := e.writer().Append(ctx, tx, timeline.ActionApprovalSubmitted, rec.ID, actor.Email, entity, details); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalRequest{}, err
	}
	return ar, nil
}

// DecideApproval approves or rejects a pending request. The requester can
// never decide their own request.
func (e Engine) DecideApproval(ctx context.Context, id string, approve bool, reason string, actor access.Actor) (domain.ApprovalRequest, error) {
	if err := access.Require(actor.CanDecide(), "approval.decide"); err != nil {
		return domain.ApprovalRequest{}, err
	}
	ar, err := e.Repo.GetApproval(ctx, id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if ar.TenantID != actor.TenantID {
		return domain.ApprovalRequest{}, repo.ErrNotFound
	}
	if ar.Status != "pending" {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s already %s", ar.ID, ar.Status)
	}
	if ar.RequestedBy == actor.Email {
		return domain.ApprovalRequest{}, access.ForbiddenError{Action: "approval.decide_own"}
	}
	if !approve && reason == "" {
		return domain.ApprovalRequest{}, errors.New("rejection requires a reason")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer tx.Rollback()

	status := "approved"
	actionType := timeline.ActionApprovalApproved
	details := events.Details{"decided_by": actor.Email}
	if !approve {
		status = "rejected"
		actionType = timeline.ActionApprovalRejected
		details["reason"] = reason
	}
	now := e.nowRFC3339()
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := e.Repo.DecideApprovalTx(ctx, tx, ar.ID, status, actor.Email, now, reasonPtr); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("decide approval: %w", err)
	}
	entity := &events.Entity{Type: "ApprovalRequest", ID: ar.ID}
	if err := e.writer().Append(ctx, tx, actionType, ar.RecordID, actor.Email, entity, details); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalRequest{}, err
	}
	ar.Status = status
	ar.DecidedBy = &actor.Email
	ar.DecidedAt = &now
	ar.Reason = reasonPtr
	return ar, nil
}

// WithdrawApproval lets the requester pull a still-pending request.
func (e Engine) WithdrawApproval(ctx context.Context, id string, actor access.Actor) (domain.ApprovalRequest, error) {
	ar, err := e.Repo.GetApproval(ctx, id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if ar.TenantID != actor.TenantID {
		return domain.ApprovalRequest{}, repo.ErrNotFound
	}
	if ar.Status != "pending" {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s already %s", ar.ID, ar.Status)
	}
	if ar.RequestedBy != actor.Email {
		return domain.ApprovalRequest{}, access.ForbiddenError{Action: "approval.withdraw"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	if err := e.Repo.DecideApprovalTx(ctx, tx, ar.ID, "withdrawn", actor.Email, now, nil); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("withdraw approval: %w", err)
	}
	details := events.Details{"requested_by": actor.Email}
	entity := &events.Entity{Type: "ApprovalRequest", ID: ar.ID}
	if err := e.writer().Append(ctx, tx, timeline.ActionApprovalWithdrawn, ar.RecordID, actor.Email, entity, details); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalRequest{}, err
	}
	ar.Status = "withdrawn"
	ar.DecidedBy = &actor.Email
	ar.DecidedAt = &now
	return ar, nil
}
