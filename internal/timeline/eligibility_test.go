package timeline

import (
	"testing"
	"time"

	"guardline/internal/domain"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func userCtx() Context {
	return Context{Thresholds: DefaultThresholds(), CanSendReminder: true, Now: testNow}
}

func inst(id int64, instrType, status, createdAt string) domain.Instruction {
	return domain.Instruction{
		ID:              id,
		RecordID:        "rec-1",
		InstructionType: instrType,
		Status:          status,
		CreatedAt:       createdAt,
	}
}

func TestDeliveryAndBankReplyGates(t *testing.T) {
	i := inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-20T00:00:00Z")
	a := Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if a.Delivery != DocRecordable {
		t.Fatalf("unrecorded delivery in user view: want recordable, got %s", a.Delivery)
	}
	if a.BankReply != DocRecordable {
		t.Fatalf("unrecorded bank reply in user view: want recordable, got %s", a.BankReply)
	}

	admin := userCtx()
	admin.AdminView = true
	a = Resolve(&i, []domain.Instruction{i}, nil, admin)
	if a.Delivery != DocNotRecorded {
		t.Fatalf("admin view with unset date: want not_recorded, got %s", a.Delivery)
	}

	i.DeliveryDate = strp("2024-05-25T00:00:00Z")
	a = Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if a.Delivery != DocRecordedNoDocument {
		t.Fatalf("recorded without document: got %s", a.Delivery)
	}
	i.GeneratedContentPath = strp("/docs/instr-1.pdf")
	a = Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if a.Delivery != DocViewEvidence {
		t.Fatalf("recorded with document: got %s", a.Delivery)
	}
	// Exactly one of recordable/static applies per gate, independently.
	if a.BankReply != DocRecordable {
		t.Fatalf("bank reply gate must stay independent, got %s", a.BankReply)
	}
}

func TestOnlyLatestCancellableIsEligible(t *testing.T) {
	a := inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-01T00:00:00Z")
	b := inst(2, domain.InstrRelease, domain.StatusInstructionIssued, "2024-05-10T00:00:00Z")
	all := []domain.Instruction{a, b}

	got := Resolve(&a, all, nil, userCtx())
	if got.CancelEligible {
		t.Fatal("older cancellable instruction must not be eligible")
	}
	got = Resolve(&b, all, nil, userCtx())
	if !got.CancelEligible {
		t.Fatal("latest cancellable instruction must be eligible")
	}
}

func TestCancelBlockedByRoleGraceAndStatus(t *testing.T) {
	i := inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-01T00:00:00Z")
	all := []domain.Instruction{i}

	admin := userCtx()
	admin.AdminView = true
	if Resolve(&i, all, nil, admin).CancelEligible {
		t.Fatal("admin view must not cancel")
	}
	grace := userCtx()
	grace.GracePeriod = true
	if Resolve(&i, all, nil, grace).CancelEligible {
		t.Fatal("grace period must not cancel")
	}
	i.Status = domain.StatusInstructionCancelled
	if Resolve(&i, []domain.Instruction{i}, nil, userCtx()).CancelEligible {
		t.Fatal("cancelled instruction must not cancel again")
	}
	rem := inst(3, domain.InstrReminderToBanks, domain.StatusReminderIssued, "2024-05-20T00:00:00Z")
	if Resolve(&rem, []domain.Instruction{rem}, nil, userCtx()).CancelEligible {
		t.Fatal("non-cancellable type must not be eligible")
	}
}

func TestSendReminderTimeWindow(t *testing.T) {
	// Issued 10 days ago, no delivery: daysSinceIssuance 10 >= 3, within max.
	i := inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-22T12:00:00Z")
	a := Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if !a.SendReminder {
		t.Fatal("expected reminder eligible without delivery")
	}

	// Delivered yesterday: daysSinceDelivery 1 < 7 blocks.
	i.DeliveryDate = strp("2024-05-31T12:00:00Z")
	a = Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if a.SendReminder {
		t.Fatal("fresh delivery must block reminder")
	}

	// Delivered 10 days ago: eligible again.
	i.DeliveryDate = strp("2024-05-22T12:00:00Z")
	a = Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if !a.SendReminder {
		t.Fatal("aged delivery must allow reminder")
	}

	// Issued beyond the max window.
	old := inst(2, domain.InstrExtension, domain.StatusInstructionIssued, "2023-01-01T00:00:00Z")
	a = Resolve(&old, []domain.Instruction{old}, nil, userCtx())
	if a.SendReminder {
		t.Fatal("instruction older than max issuance window must not remind")
	}

	// Bank reply recorded closes the loop.
	i.BankReplyDate = strp("2024-05-30T00:00:00Z")
	a = Resolve(&i, []domain.Instruction{i}, nil, userCtx())
	if a.SendReminder {
		t.Fatal("bank reply must block reminder")
	}
}

func TestReminderSentFactsFromEitherSource(t *testing.T) {
	i := inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-22T12:00:00Z")

	// Source one: the instruction flag.
	flagged := i
	flagged.HasReminderSent = true
	a := Resolve(&flagged, []domain.Instruction{flagged}, nil, userCtx())
	if a.SendReminder || !a.ViewIssuedReminder {
		t.Fatalf("flag source: send=%v view=%v", a.SendReminder, a.ViewIssuedReminder)
	}

	// Source two: the audit-log scan.
	events := []domain.LifecycleEvent{{
		ID:         9,
		RecordID:   "rec-1",
		ActionType: ActionReminderSent,
		TS:         "2024-05-25T00:00:00Z",
		Details:    `{"original_instruction_id": 1}`,
	}}
	facts := ReminderFacts(events)
	a = Resolve(&i, []domain.Instruction{i}, facts, userCtx())
	if a.SendReminder || !a.ViewIssuedReminder {
		t.Fatalf("event source: send=%v view=%v", a.SendReminder, a.ViewIssuedReminder)
	}
}

func TestSendAndViewReminderMutuallyExclusive(t *testing.T) {
	cases := []struct {
		name  string
		inst  domain.Instruction
		facts map[int64]bool
	}{
		{"fresh extension", inst(1, domain.InstrExtension, domain.StatusInstructionIssued, "2024-05-22T12:00:00Z"), nil},
		{"reminder instruction", inst(2, domain.InstrReminderToBanks, domain.StatusReminderIssued, "2024-05-22T12:00:00Z"), nil},
		{"already reminded", inst(3, domain.InstrExtension, domain.StatusReminderIssued, "2024-05-22T12:00:00Z"), map[int64]bool{3: true}},
	}
	for _, tc := range cases {
		a := Resolve(&tc.inst, []domain.Instruction{tc.inst}, tc.facts, userCtx())
		if a.SendReminder && a.ViewIssuedReminder {
			t.Fatalf("%s: both reminder affordances active", tc.name)
		}
	}
}

func TestIntegerIDDisciplineSuppressesActions(t *testing.T) {
	synthetic := inst(0, domain.InstrReminderToBanks, domain.StatusReminderIssued, "2024-05-22T12:00:00Z")
	a := Resolve(&synthetic, []domain.Instruction{synthetic}, nil, userCtx())
	if a.SendReminder || a.ViewIssuedReminder {
		t.Fatal("non-integer instruction id must suppress reminder actions")
	}
}

func TestNilInstructionSuppressesEverything(t *testing.T) {
	a := Resolve(nil, nil, nil, userCtx())
	if a.CancelEligible || a.SendReminder || a.ViewIssuedReminder || a.Delivery != "" || a.BankReply != "" {
		t.Fatalf("nil instruction must yield zero actions: %+v", a)
	}
}

func TestCountdownClampsAtZero(t *testing.T) {
	created := testNow.Add(-100 * time.Hour).Format(time.RFC3339)
	got := Countdown(created, 24*time.Hour, testNow)
	if got != "0h 0m 0s" {
		t.Fatalf("expired window: want 0h 0m 0s, got %q", got)
	}
	recent := testNow.Add(-30 * time.Minute).Format(time.RFC3339)
	got = Countdown(recent, time.Hour, testNow)
	if got != "0h 30m 0s" {
		t.Fatalf("running window: got %q", got)
	}
}
