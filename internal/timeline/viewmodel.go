package timeline

import (
	"sort"

	"guardline/internal/domain"
)

// Entry is one annotated timeline row.
type Entry struct {
	Event         domain.LifecycleEvent `json:"event"`
	Actor         string                `json:"actor"`
	Style         Style                 `json:"style"`
	Summary       string                `json:"summary"`
	InstructionID *int64                `json:"instruction_id,omitempty"`
	Actions       Actions               `json:"actions"`
}

// ViewModel is the fully derived timeline handed to the view layer.
type ViewModel struct {
	Entries           []Entry  `json:"entries"`
	AvailableTypes    []string `json:"available_types"`
	ActiveFilterCount int      `json:"active_filter_count"`
}

// Compute recomputes the whole view-model from scratch. It is pure over its
// inputs and cheap enough to re-run on every state change; there is no
// incremental path.
func Compute(events []domain.LifecycleEvent, instructions []domain.Instruction, filter *FilterState, ctx Context) ViewModel {
	if filter == nil {
		filter = NewFilterState(events)
	}
	byID := make(map[int64]domain.Instruction, len(instructions))
	for _, inst := range instructions {
		byID[inst.ID] = inst
	}
	facts := ReminderFacts(events)

	kept := make([]domain.LifecycleEvent, 0, len(events))
	for _, ev := range events {
		if ev.ActionType == ActionDocumentUploaded {
			continue
		}
		if !filter.Matches(ev) {
			continue
		}
		kept = append(kept, ev)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		ti, iok := parseEventTime(kept[i].TS)
		tj, jok := parseEventTime(kept[j].TS)
		if iok && jok && !ti.Equal(tj) {
			return ti.After(tj)
		}
		return kept[i].ID > kept[j].ID
	})

	vm := ViewModel{
		Entries:           make([]Entry, 0, len(kept)),
		AvailableTypes:    filter.AvailableTypes(),
		ActiveFilterCount: filter.ActiveFilterCount(),
	}
	for _, ev := range kept {
		entry := Entry{
			Event:   ev,
			Actor:   actorLabel(ev),
			Style:   Classify(ev.ActionType),
			Summary: FormatDetails(ev.ActionType, decodeDetails(ev.Details)),
		}
		inst := ResolveLinkedInstruction(ev, byID)
		if inst != nil {
			id := inst.ID
			entry.InstructionID = &id
		}
		entry.Actions = Resolve(inst, instructions, facts, ctx)
		vm.Entries = append(vm.Entries, entry)
	}
	return vm
}

func actorLabel(ev domain.LifecycleEvent) string {
	if ev.UserEmail == nil || *ev.UserEmail == "" {
		return "System"
	}
	return *ev.UserEmail
}
