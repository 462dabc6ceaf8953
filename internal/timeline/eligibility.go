package timeline

import (
	"fmt"
	"time"

	"guardline/internal/domain"
)

// Thresholds configure the reminder time-window checks. Values come from
// deployment settings with hardcoded fallbacks (see config package).
type Thresholds struct {
	DaysSinceDelivery    int
	DaysSinceIssuance    int
	MaxDaysSinceIssuance int
}

// DefaultThresholds returns the built-in reminder thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{DaysSinceDelivery: 7, DaysSinceIssuance: 3, MaxDaysSinceIssuance: 90}
}

// Context carries everything the eligibility rules depend on besides the
// event and instruction themselves. Now is injected; no rule reads the
// clock ambiently.
type Context struct {
	AdminView       bool
	GracePeriod     bool
	Thresholds      Thresholds
	CanSendReminder bool
	Now             time.Time
}

// DocumentStatus describes the delivery / bank-reply affordance for one
// instruction.
type DocumentStatus string

const (
	// DocRecordable offers the record action (end-user view, date unset).
	DocRecordable DocumentStatus = "recordable"
	// DocViewEvidence links to the recorded evidence document.
	DocViewEvidence DocumentStatus = "view_evidence"
	// DocRecordedNoDocument marks a recorded date without a document.
	DocRecordedNoDocument DocumentStatus = "recorded_no_document"
	// DocNotRecorded is the admin-view static label while the date is unset.
	DocNotRecorded DocumentStatus = "not_recorded"
)

// Actions are the per-event affordances the view may offer. All gates are
// pure functions of their inputs.
type Actions struct {
	CancelEligible     bool           `json:"cancel_eligible"`
	Delivery           DocumentStatus `json:"delivery,omitempty"`
	BankReply          DocumentStatus `json:"bank_reply,omitempty"`
	SendReminder       bool           `json:"send_reminder"`
	ViewIssuedReminder bool           `json:"view_issued_reminder"`
}

// cancellableTypes are the instruction types that may be cancelled while
// still un-actioned by the bank.
var cancellableTypes = map[string]struct{}{
	domain.InstrExtension:            {},
	domain.InstrLiquidation:          {},
	domain.InstrRelease:              {},
	domain.InstrDecreaseAmount:       {},
	domain.InstrActivateNonOperative: {},
}

var cancellableStatuses = map[string]struct{}{
	domain.StatusInstructionIssued: {},
	domain.StatusReminderIssued:    {},
}

// ReminderFacts scans the full event list for reminder-sent entries and
// returns the set of instruction ids they reference. Combined with the
// instruction's own flag via OR: either source alone marks the reminder as
// sent.
func ReminderFacts(events []domain.LifecycleEvent) map[int64]bool {
	facts := map[int64]bool{}
	for _, ev := range events {
		if ev.ActionType != ActionReminderSent {
			continue
		}
		details := decodeDetails(ev.Details)
		if details == nil {
			continue
		}
		if id, ok := anyToInstructionID(details["original_instruction_id"]); ok {
			facts[id] = true
		}
	}
	return facts
}

func reminderAlreadySent(inst domain.Instruction, facts map[int64]bool) bool {
	return inst.HasReminderSent || facts[inst.ID]
}

// LatestCancellableID returns the id of the single most-recently-created
// instruction of a cancellable type, or 0 when none exists. Only that
// instruction is ever cancel-eligible, even when older ones would also
// qualify on type and status.
func LatestCancellableID(instructions []domain.Instruction) int64 {
	var latestID int64
	var latestAt time.Time
	for _, inst := range instructions {
		if _, ok := cancellableTypes[inst.InstructionType]; !ok {
			continue
		}
		at, ok := parseEventTime(inst.CreatedAt)
		if !ok {
			continue
		}
		if latestID == 0 || at.After(latestAt) || (at.Equal(latestAt) && inst.ID > latestID) {
			latestID = inst.ID
			latestAt = at
		}
	}
	return latestID
}

// Resolve computes the action gates for one event's linked instruction.
// A nil instruction suppresses every instruction-scoped action.
func Resolve(inst *domain.Instruction, all []domain.Instruction, facts map[int64]bool, ctx Context) Actions {
	if inst == nil {
		return Actions{}
	}
	var a Actions
	a.CancelEligible = cancelEligible(*inst, all, ctx)
	a.Delivery = documentStatus(inst.DeliveryDate, inst.GeneratedContentPath, ctx.AdminView)
	a.BankReply = documentStatus(inst.BankReplyDate, inst.GeneratedContentPath, ctx.AdminView)
	sent := reminderAlreadySent(*inst, facts)
	a.SendReminder = sendReminderEligible(*inst, sent, ctx)
	a.ViewIssuedReminder = inst.ID > 0 &&
		(sent || inst.InstructionType == domain.InstrReminderToBanks)
	return a
}

func cancelEligible(inst domain.Instruction, all []domain.Instruction, ctx Context) bool {
	if ctx.AdminView || ctx.GracePeriod {
		return false
	}
	if _, ok := cancellableTypes[inst.InstructionType]; !ok {
		return false
	}
	if _, ok := cancellableStatuses[inst.Status]; !ok {
		return false
	}
	return inst.ID != 0 && inst.ID == LatestCancellableID(all)
}

func documentStatus(date *string, contentPath *string, adminView bool) DocumentStatus {
	if date == nil || *date == "" {
		if adminView {
			return DocNotRecorded
		}
		return DocRecordable
	}
	if contentPath != nil && *contentPath != "" {
		return DocViewEvidence
	}
	return DocRecordedNoDocument
}

func sendReminderEligible(inst domain.Instruction, alreadySent bool, ctx Context) bool {
	if ctx.AdminView || !ctx.CanSendReminder {
		return false
	}
	if inst.ID <= 0 {
		return false
	}
	if inst.BankReplyDate != nil && *inst.BankReplyDate != "" {
		return false
	}
	if inst.InstructionType == domain.InstrReminderToBanks {
		return false
	}
	if alreadySent {
		return false
	}
	return withinReminderWindow(inst, ctx)
}

func withinReminderWindow(inst domain.Instruction, ctx Context) bool {
	issued, ok := parseEventTime(inst.CreatedAt)
	if !ok {
		return false
	}
	daysSinceIssuance := ctx.Now.Sub(issued).Hours() / 24
	withinMax := daysSinceIssuance >= 0 && daysSinceIssuance <= float64(ctx.Thresholds.MaxDaysSinceIssuance)
	if inst.DeliveryDate != nil && *inst.DeliveryDate != "" {
		delivered, ok := parseEventTime(*inst.DeliveryDate)
		if !ok {
			return false
		}
		daysSinceDelivery := ctx.Now.Sub(delivered).Hours() / 24
		return daysSinceDelivery >= float64(ctx.Thresholds.DaysSinceDelivery) && withinMax
	}
	return daysSinceIssuance >= float64(ctx.Thresholds.DaysSinceIssuance) && withinMax
}

// Countdown renders the time remaining in the cancellation window, clamped
// at zero.
func Countdown(createdAt string, window time.Duration, now time.Time) string {
	created, ok := parseEventTime(createdAt)
	if !ok {
		return "0h 0m 0s"
	}
	remaining := created.Add(window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	h := int(remaining.Hours())
	m := int(remaining.Minutes()) % 60
	s := int(remaining.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func parseEventTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
