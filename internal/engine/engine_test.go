package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/engine"
	"guardline/internal/engine/access"
	"guardline/internal/migrate"
	"guardline/internal/timeline"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

var (
	maker   = access.Actor{Email: "maker@acme.test", TenantID: "acme", Role: access.RoleMaker}
	checker = access.Actor{Email: "checker@acme.test", TenantID: "acme", Role: access.RoleChecker}
	viewer  = access.Actor{Email: "viewer@acme.test", TenantID: "acme", Role: access.RoleViewer}
	admin   = access.Actor{Email: "ops@guardline.test", TenantID: "acme", Role: access.RoleAdmin}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx: context.Background(),
		now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	if _, err := eng.CreateTenant(env.Ctx, "acme", "Acme Contracting", checker.Email); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func (env *testEnv) createRecord(t *testing.T) string {
	t.Helper()
	rec, err := env.Engine.CreateRecord(env.Ctx, engine.RecordCreateOptions{
		TenantID:    "acme",
		LGNumber:    "LG-2024-001",
		Beneficiary: "Ministry of Works",
		IssuingBank: "First National",
		Currency:    "EGP",
		Amount:      1500000,
		ExpiryDate:  "2024-12-31T00:00:00Z",
		Actor:       maker,
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec.ID
}

func (env *testEnv) fullTimeline(t *testing.T, recordID string, actor access.Actor) timeline.ViewModel {
	t.Helper()
	vm, err := env.Engine.Timeline(env.Ctx, engine.TimelineOptions{
		RecordID:    recordID,
		NoSelection: true,
		Actor:       actor,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	return vm
}

func TestCreateRecordAppendsCreationEvent(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	vm := env.fullTimeline(t, recID, maker)
	if len(vm.Entries) != 1 {
		t.Fatalf("expected one event, got %d", len(vm.Entries))
	}
	entry := vm.Entries[0]
	if entry.Event.ActionType != timeline.ActionCreated {
		t.Fatalf("got %s", entry.Event.ActionType)
	}
	if entry.Actor != maker.Email {
		t.Fatalf("got actor %q", entry.Actor)
	}
	if !strings.Contains(entry.Summary, "Ministry of Works") ||
		!strings.Contains(entry.Summary, "EGP 1,500,000.00") {
		t.Fatalf("summary missing fields: %q", entry.Summary)
	}
}

func TestExtendIssuesLinkedInstruction(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	in, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if in.ID <= 0 {
		t.Fatalf("instruction must have a database id, got %d", in.ID)
	}
	vm := env.fullTimeline(t, recID, maker)
	entry := vm.Entries[0]
	if entry.Event.ActionType != timeline.ActionExtended {
		t.Fatalf("newest entry should be the extension, got %s", entry.Event.ActionType)
	}
	if entry.InstructionID == nil || *entry.InstructionID != in.ID {
		t.Fatalf("extension event not linked to instruction: %+v", entry)
	}
	if !strings.Contains(entry.Summary, "Dec 31, 2024 → Jun 30, 2025") {
		t.Fatalf("summary: %q", entry.Summary)
	}

	rec, err := env.Engine.Repo.GetRecord(env.Ctx, recID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExpiryDate != "2025-06-30T00:00:00Z" {
		t.Fatalf("expiry not moved: %s", rec.ExpiryDate)
	}
}

func TestExtendRejectsEarlierExpiry(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	if _, err := env.Engine.ExtendRecord(env.Ctx, recID, "2024-01-15T00:00:00Z", maker); err == nil {
		t.Fatal("expected rejection of earlier expiry")
	}
}

func TestAmendRecordCarriesDiff(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	_, err := env.Engine.AmendRecord(env.Ctx, recID, map[string]engine.FieldChange{
		"beneficiary": {Old: "Ministry of Works", New: "Ministry of Housing"},
	}, maker)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	vm := env.fullTimeline(t, recID, maker)
	if got := vm.Entries[0].Summary; !strings.Contains(got, "Beneficiary: Ministry of Works → Ministry of Housing") {
		t.Fatalf("summary: %q", got)
	}
	if _, err := env.Engine.AmendRecord(env.Ctx, recID, map[string]engine.FieldChange{
		"amount": {Old: 1, New: 2},
	}, maker); err == nil {
		t.Fatal("amount must not be amendable directly")
	}
}

func TestLiquidationFullAndPartial(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	if _, err := env.Engine.LiquidateRecord(env.Ctx, recID, 500000, maker); err != nil {
		t.Fatalf("partial liquidation: %v", err)
	}
	rec, _ := env.Engine.Repo.GetRecord(env.Ctx, recID)
	if rec.Amount != 1000000 || rec.Status != "valid" {
		t.Fatalf("after partial: amount=%v status=%s", rec.Amount, rec.Status)
	}
	if _, err := env.Engine.LiquidateRecord(env.Ctx, recID, 1000000, maker); err != nil {
		t.Fatalf("full liquidation: %v", err)
	}
	rec, _ = env.Engine.Repo.GetRecord(env.Ctx, recID)
	if rec.Status != "liquidated" {
		t.Fatalf("after full: status=%s", rec.Status)
	}
	if _, err := env.Engine.LiquidateRecord(env.Ctx, recID, 1, maker); err == nil {
		t.Fatal("liquidated record must reject further liquidation")
	}
}

func TestViewerCannotMutate(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	_, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", viewer)
	var forbidden access.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestGracePeriodBlocksInstructionActions(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	if err := env.Engine.SetTenantStatus(env.Ctx, "acme", "grace", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker); !errors.Is(err, engine.ErrGracePeriod) {
		t.Fatalf("expected grace-period error, got %v", err)
	}
	// The timeline stays readable while in grace.
	vm := env.fullTimeline(t, recID, maker)
	if len(vm.Entries) != 1 {
		t.Fatalf("timeline unavailable in grace: %d entries", len(vm.Entries))
	}
}

func TestCancelInstructionWindow(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	in, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker)
	if err != nil {
		t.Fatal(err)
	}
	env.advance(2 * time.Hour)
	cancelled, err := env.Engine.CancelInstruction(env.Ctx, in.ID, "issued in error", maker)
	if err != nil {
		t.Fatalf("cancel within window: %v", err)
	}
	if cancelled.Status != "Instruction Cancelled" {
		t.Fatalf("status: %s", cancelled.Status)
	}

	in2, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-12-31T00:00:00Z", maker)
	if err != nil {
		t.Fatal(err)
	}
	env.advance(25 * time.Hour)
	if _, err := env.Engine.CancelInstruction(env.Ctx, in2.ID, "", maker); err == nil {
		t.Fatal("expected closed-window rejection")
	}
}

func TestOnlyLatestInstructionCancellable(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	first, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker)
	if err != nil {
		t.Fatal(err)
	}
	env.advance(time.Minute)
	if _, err := env.Engine.DecreaseAmount(env.Ctx, recID, 1000000, maker); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelInstruction(env.Ctx, first.ID, "", maker); err == nil {
		t.Fatal("superseded instruction must not cancel")
	}
}

func TestSendReminderFlow(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	in, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker)
	if err != nil {
		t.Fatal(err)
	}
	// Too fresh: below the issuance threshold.
	if _, err := env.Engine.SendReminder(env.Ctx, in.ID, "First National", maker); err == nil {
		t.Fatal("reminder must wait out the issuance threshold")
	}
	env.advance(10 * 24 * time.Hour)
	reminder, err := env.Engine.SendReminder(env.Ctx, in.ID, "First National", maker)
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if reminder.InstructionType != "LG_REMINDER_TO_BANKS" {
		t.Fatalf("type: %s", reminder.InstructionType)
	}
	// Once sent, the gate closes for the original instruction.
	if _, err := env.Engine.SendReminder(env.Ctx, in.ID, "First National", maker); err == nil {
		t.Fatal("second reminder must be rejected")
	}
	vm := env.fullTimeline(t, recID, maker)
	entry := vm.Entries[0]
	if entry.Event.ActionType != timeline.ActionReminderSent {
		t.Fatalf("newest entry: %s", entry.Event.ActionType)
	}
	if !strings.Contains(entry.Summary, in.Serial) {
		t.Fatalf("summary should name the original serial: %q", entry.Summary)
	}
	// Admins never hold the send affordance.
	if _, err := env.Engine.SendReminder(env.Ctx, in.ID, "", admin); err == nil {
		t.Fatal("admin view must not send reminders")
	}
}

func TestThresholdOverridesFromSettings(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	in, err := env.Engine.ExtendRecord(env.Ctx, recID, "2025-06-30T00:00:00Z", maker)
	if err != nil {
		t.Fatal(err)
	}
	env.advance(24 * time.Hour)
	if _, err := env.Engine.SendReminder(env.Ctx, in.ID, "", maker); err == nil {
		t.Fatal("default threshold should still block at one day")
	}
	if err := env.Engine.Repo.SetSetting(env.Ctx, "acme", "reminder.days_since_issuance", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendReminder(env.Ctx, in.ID, "", maker); err != nil {
		t.Fatalf("override should unlock the reminder: %v", err)
	}
	// A malformed override falls back silently to the defaults.
	if err := env.Engine.Repo.SetSetting(env.Ctx, "acme", "reminder.days_since_issuance", "soon"); err != nil {
		t.Fatal(err)
	}
	got := env.Engine.Repo.Thresholds(env.Ctx, "acme", timeline.DefaultThresholds())
	if got.DaysSinceIssuance != 3 {
		t.Fatalf("malformed override must fall back, got %d", got.DaysSinceIssuance)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	ar, err := env.Engine.SubmitApproval(env.Ctx, recID, "LG_RELEASE", `{"reason":"contract complete"}`, maker)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, recID, "LG_RELEASE", "{}", maker); err == nil {
		t.Fatal("duplicate pending request must be rejected")
	}
	if _, err := env.Engine.DecideApproval(env.Ctx, ar.ID, true, "", maker); err == nil {
		t.Fatal("maker must not decide")
	}
	selfCheck := access.Actor{Email: maker.Email, TenantID: "acme", Role: access.RoleChecker}
	if _, err := env.Engine.DecideApproval(env.Ctx, ar.ID, true, "", selfCheck); err == nil {
		t.Fatal("requester must not decide their own request")
	}
	decided, err := env.Engine.DecideApproval(env.Ctx, ar.ID, true, "", checker)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != "approved" || decided.DecidedBy == nil || *decided.DecidedBy != checker.Email {
		t.Fatalf("decided: %+v", decided)
	}
	if _, err := env.Engine.DecideApproval(env.Ctx, ar.ID, false, "late", checker); err == nil {
		t.Fatal("settled request must not be decided again")
	}

	vm := env.fullTimeline(t, recID, maker)
	if vm.Entries[0].Event.ActionType != timeline.ActionApprovalApproved {
		t.Fatalf("newest entry: %s", vm.Entries[0].Event.ActionType)
	}
	if vm.Entries[0].Style.Category != "Approvals" {
		t.Fatalf("category: %s", vm.Entries[0].Style.Category)
	}
}

func TestWithdrawApproval(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	ar, err := env.Engine.SubmitApproval(env.Ctx, recID, "LG_RELEASE", "{}", maker)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.WithdrawApproval(env.Ctx, ar.ID, checker); err == nil {
		t.Fatal("only the requester may withdraw")
	}
	withdrawn, err := env.Engine.WithdrawApproval(env.Ctx, ar.ID, maker)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Status != "withdrawn" {
		t.Fatalf("status: %s", withdrawn.Status)
	}
}

func TestTimelineDefaultSelectionHidesSystemLogs(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	writer := env.Engine.Events
	writer.Now = env.Engine.Now
	if err := writer.Append(env.Ctx, tx, timeline.ActionNotificationSent, recID, "", nil,
		map[string]any{"channel": "email", "recipient": maker.Email}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	vm, err := env.Engine.Timeline(env.Ctx, engine.TimelineOptions{RecordID: recID, Actor: maker})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range vm.Entries {
		if e.Event.ActionType == timeline.ActionNotificationSent {
			t.Fatal("system log surfaced under the default selection")
		}
	}
	full := env.fullTimeline(t, recID, maker)
	if len(full.Entries) != len(vm.Entries)+1 {
		t.Fatalf("cleared selection should add the system log: %d vs %d", len(full.Entries), len(vm.Entries))
	}
	// The cleared selection admits everything yet still registers as one
	// deviation dimension on the badge.
	if full.ActiveFilterCount != 1 {
		t.Fatalf("badge count: want 1, got %d", full.ActiveFilterCount)
	}
}

func TestSweepRenewalReminders(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	swept, err := env.Engine.SweepRenewalReminders(env.Ctx, "acme", 30, "maker@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Fatalf("expiry a year out must not sweep at 30 days, got %d", swept)
	}
	swept, err = env.Engine.SweepRenewalReminders(env.Ctx, "acme", 400, "maker@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("want 1 sweep, got %d", swept)
	}
	vm := env.fullTimeline(t, recID, maker)
	entry := vm.Entries[0]
	if entry.Event.ActionType != timeline.ActionRenewalReminder {
		t.Fatalf("newest entry: %s", entry.Event.ActionType)
	}
	if entry.Actor != "System" {
		t.Fatalf("sweeps are system-actored, got %q", entry.Actor)
	}
	if !strings.Contains(entry.Summary, "Days until expiry") {
		t.Fatalf("summary: %q", entry.Summary)
	}
}

func TestTimelineScopedToTenant(t *testing.T) {
	env := newTestEnv(t)
	recID := env.createRecord(t)
	outsider := access.Actor{Email: "rival@other.test", TenantID: "other", Role: access.RoleMaker}
	if _, err := env.Engine.Timeline(env.Ctx, engine.TimelineOptions{RecordID: recID, Actor: outsider}); err == nil {
		t.Fatal("foreign tenant must not read the timeline")
	}
}
