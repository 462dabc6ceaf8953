package timeline

import (
	"testing"
	"time"

	"guardline/internal/domain"
)

func evt(id int64, actionType, ts string) domain.LifecycleEvent {
	return domain.LifecycleEvent{ID: id, RecordID: "rec-1", ActionType: actionType, TS: ts, Details: "{}"}
}

func sampleEvents() []domain.LifecycleEvent {
	return []domain.LifecycleEvent{
		evt(1, ActionCreated, "2024-01-10T09:00:00Z"),
		evt(2, ActionExtended, "2024-02-01T09:00:00Z"),
		evt(3, ActionNotificationSent, "2024-02-01T09:00:05Z"),
		evt(4, "LEGACY_IMPORT", "2024-02-02T12:00:00Z"),
		evt(5, ActionApprovalSubmitted, "2024-02-03T08:00:00Z"),
	}
}

func TestInitialSelectionExcludesSystemLogsAndUnmapped(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	for _, want := range []string{ActionCreated, ActionExtended, ActionApprovalSubmitted} {
		if !fs.Selection.Has(want) {
			t.Fatalf("expected %s selected initially", want)
		}
	}
	if fs.Selection.Has(ActionNotificationSent) {
		t.Fatal("system log type should start deselected")
	}
	if fs.Selection.Has(OtherUnmapped) {
		t.Fatal("unmapped bucket should start deselected")
	}
}

func TestEmptySelectionAdmitsEverything(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.ClearAll()
	for _, ev := range sampleEvents() {
		if !fs.Matches(ev) {
			t.Fatalf("empty selection must admit %s", ev.ActionType)
		}
	}
}

func TestSubsetExcludesUnmappedWithoutOtherBucket(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.Selection = SelectionOf(ActionCreated, ActionExtended)
	if fs.Matches(evt(4, "LEGACY_IMPORT", "2024-02-02T12:00:00Z")) {
		t.Fatal("unmapped event must not pass without Other_Unmapped selected")
	}
	fs.ToggleType(OtherUnmapped)
	if !fs.Matches(evt(4, "LEGACY_IMPORT", "2024-02-02T12:00:00Z")) {
		t.Fatal("unmapped event must pass once Other_Unmapped selected")
	}
}

func TestToggleCategoryDoubleApplicationRestores(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	before := fs.Selection.Types()
	fs.ToggleCategory(CategorySystemLogs)
	fs.ToggleCategory(CategorySystemLogs)
	after := fs.Selection.Types()
	if len(before) != len(after) {
		t.Fatalf("selection changed: %v vs %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("selection changed: %v vs %v", before, after)
		}
	}
}

func TestToggleCategoryPartialSelectsRest(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	// Milestones available here: LG_CREATED, LG_EXTENDED. Deselect one, then
	// toggling the category must select the rest, not flip each.
	fs.ToggleType(ActionExtended)
	fs.ToggleCategory(CategoryMilestones)
	if !fs.Selection.Has(ActionCreated) || !fs.Selection.Has(ActionExtended) {
		t.Fatal("partial selection must resolve to all selected")
	}
	fs.ToggleCategory(CategoryMilestones)
	if fs.Selection.Has(ActionCreated) || fs.Selection.Has(ActionExtended) {
		t.Fatal("full selection must resolve to none selected")
	}
}

func TestIsCategoryActiveAnySelected(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.Selection = SelectionOf(ActionCreated)
	if !fs.IsCategoryActive(CategoryMilestones) {
		t.Fatal("one selected type should mark category active")
	}
	if fs.IsCategoryActive(CategorySystemLogs) {
		t.Fatal("no selected types should mark category inactive")
	}
}

func TestActiveFilterCount(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.SelectAll()
	if got := fs.ActiveFilterCount(); got != 0 {
		t.Fatalf("full selection, no dates: want 0, got %d", got)
	}
	fs.ToggleType(ActionCreated)
	if got := fs.ActiveFilterCount(); got != 1 {
		t.Fatalf("type deviation: want 1, got %d", got)
	}
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fs.SetDateRange(&from, nil)
	if got := fs.ActiveFilterCount(); got != 2 {
		t.Fatalf("type deviation plus date bound: want 2, got %d", got)
	}
	fs.SelectAll()
	if got := fs.ActiveFilterCount(); got != 1 {
		t.Fatalf("date bound only: want 1, got %d", got)
	}
}

func TestDateRangeInclusiveDayBounds(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.ClearAll()
	from := time.Date(2024, 2, 1, 23, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 2, 0, 30, 0, 0, time.UTC)
	fs.SetDateRange(&from, &to)
	if !fs.Matches(evt(2, ActionExtended, "2024-02-01T09:00:00Z")) {
		t.Fatal("event earlier on the from-day must pass (day granularity)")
	}
	if !fs.Matches(evt(4, "LEGACY_IMPORT", "2024-02-02T23:59:00Z")) {
		t.Fatal("event later on the to-day must pass (day granularity)")
	}
	if fs.Matches(evt(1, ActionCreated, "2024-01-10T09:00:00Z")) {
		t.Fatal("event before range must be excluded")
	}
}

func TestToggleTypeEmptyingCollapsesToAll(t *testing.T) {
	fs := NewFilterState(sampleEvents())
	fs.Selection = SelectionOf(ActionCreated)
	fs.ToggleType(ActionCreated)
	if !fs.Selection.All() {
		t.Fatal("removing the last selected type must yield the all selection")
	}
	if !fs.Matches(evt(3, ActionNotificationSent, "2024-02-01T09:00:05Z")) {
		t.Fatal("all selection must admit every type")
	}
}
