package timeline

import (
	"sort"
	"time"

	"guardline/internal/domain"
)

// TypeSelection is the set of action types an operator has selected. The
// empty selection is represented explicitly as "all": it applies no type
// filter and admits every event. This mirrors the console behavior where
// clearing the selection shows everything, without overloading an empty
// collection as a sentinel.
type TypeSelection struct {
	types map[string]struct{}
}

// SelectionAll returns the no-filter selection.
func SelectionAll() TypeSelection {
	return TypeSelection{}
}

// SelectionOf builds a subset selection; with no arguments it is
// equivalent to SelectionAll.
func SelectionOf(types ...string) TypeSelection {
	s := TypeSelection{}
	for _, t := range types {
		s.add(t)
	}
	return s
}

// All reports whether no type filter applies.
func (s TypeSelection) All() bool { return len(s.types) == 0 }

// Has reports whether a type is explicitly selected. It is false for every
// type under the all selection; use Admits for filtering.
func (s TypeSelection) Has(t string) bool {
	_, ok := s.types[t]
	return ok
}

// Size is the number of explicitly selected types (zero for all).
func (s TypeSelection) Size() int { return len(s.types) }

// Types returns the explicit selection in sorted order.
func (s TypeSelection) Types() []string {
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *TypeSelection) add(t string) {
	if s.types == nil {
		s.types = map[string]struct{}{}
	}
	s.types[t] = struct{}{}
}

func (s *TypeSelection) remove(t string) {
	delete(s.types, t)
	if len(s.types) == 0 {
		s.types = nil
	}
}

// FilterState holds the session-scoped filter for one timeline view. It is
// not persisted; the owning view rebuilds it from the event set.
type FilterState struct {
	Selection TypeSelection
	From      *time.Time
	To        *time.Time

	available map[string]struct{}
}

// NewFilterState derives the available type set from the events and seeds
// the selection with the types present in the Core Milestones, Logistics
// and Approvals categories. System Logs and unmapped types start
// deselected.
func NewFilterState(events []domain.LifecycleEvent) *FilterState {
	fs := &FilterState{available: map[string]struct{}{}}
	for _, ev := range events {
		if ev.ActionType == ActionDocumentUploaded {
			continue
		}
		if IsMapped(ev.ActionType) {
			fs.available[ev.ActionType] = struct{}{}
			switch CategoryOf(ev.ActionType) {
			case CategoryMilestones, CategoryLogistics, CategoryApprovals:
				fs.Selection.add(ev.ActionType)
			}
		} else {
			fs.available[OtherUnmapped] = struct{}{}
		}
	}
	return fs
}

// AvailableTypes lists the selectable types (including Other_Unmapped when
// unmapped events exist) in sorted order.
func (fs *FilterState) AvailableTypes() []string {
	out := make([]string, 0, len(fs.available))
	for t := range fs.available {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ToggleType flips one type in or out of the selection.
func (fs *FilterState) ToggleType(t string) {
	if fs.Selection.Has(t) {
		fs.Selection.remove(t)
		return
	}
	fs.Selection.add(t)
}

// availableIn returns the category's types that actually occur in the
// event set. Other_Unmapped is its own single-member pseudo-category.
func (fs *FilterState) availableIn(category string) []string {
	if category == OtherUnmapped {
		if _, ok := fs.available[OtherUnmapped]; ok {
			return []string{OtherUnmapped}
		}
		return nil
	}
	var out []string
	for _, t := range Categories[category] {
		if _, ok := fs.available[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ToggleCategory applies select-all-or-none semantics: if every available
// type of the category is selected, all are deselected; any partial
// selection resolves to selecting the rest.
func (fs *FilterState) ToggleCategory(category string) {
	avail := fs.availableIn(category)
	if len(avail) == 0 {
		return
	}
	allSelected := true
	for _, t := range avail {
		if !fs.Selection.Has(t) {
			allSelected = false
			break
		}
	}
	for _, t := range avail {
		if allSelected {
			fs.Selection.remove(t)
		} else {
			fs.Selection.add(t)
		}
	}
}

// IsCategoryActive reports whether at least one available type of the
// category is selected. Note the asymmetry with ToggleCategory, which
// keys on all types being selected.
func (fs *FilterState) IsCategoryActive(category string) bool {
	for _, t := range fs.availableIn(category) {
		if fs.Selection.Has(t) {
			return true
		}
	}
	return false
}

// SelectAll selects every available type.
func (fs *FilterState) SelectAll() {
	fs.Selection = SelectionOf(fs.AvailableTypes()...)
}

// ClearAll resets to the no-filter selection, which admits every event.
func (fs *FilterState) ClearAll() {
	fs.Selection = SelectionAll()
}

// SetDateRange bounds the timeline inclusively at day granularity. Nil
// clears a bound.
func (fs *FilterState) SetDateRange(from, to *time.Time) {
	fs.From = from
	fs.To = to
}

// Matches is the filter predicate over a single event.
func (fs *FilterState) Matches(ev domain.LifecycleEvent) bool {
	if !fs.matchesDate(ev) {
		return false
	}
	if fs.Selection.All() {
		return true
	}
	if !IsMapped(ev.ActionType) {
		return fs.Selection.Has(OtherUnmapped)
	}
	return fs.Selection.Has(ev.ActionType)
}

func (fs *FilterState) matchesDate(ev domain.LifecycleEvent) bool {
	if fs.From == nil && fs.To == nil {
		return true
	}
	ts, err := time.Parse(time.RFC3339, ev.TS)
	if err != nil {
		return false
	}
	day := truncateDay(ts)
	if fs.From != nil && day.Before(truncateDay(*fs.From)) {
		return false
	}
	if fs.To != nil && day.After(truncateDay(*fs.To)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ActiveFilterCount is the badge metric: one for any date bound plus one
// for any deviation of the selection size from the available-type count.
// The granularity is deliberate; it counts dimensions, not types.
func (fs *FilterState) ActiveFilterCount() int {
	count := 0
	if fs.From != nil || fs.To != nil {
		count++
	}
	if fs.Selection.Size() != len(fs.available) {
		count++
	}
	return count
}
