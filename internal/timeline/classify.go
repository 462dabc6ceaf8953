package timeline

import (
	"encoding/json"
	"strconv"

	"guardline/internal/domain"
)

// Tone selects the visual treatment of a timeline entry.
type Tone string

const (
	ToneSystem      Tone = "system"
	ToneMilestone   Tone = "milestone"
	ToneHighlighted Tone = "highlighted"
)

// Style describes how a single event renders in the timeline.
type Style struct {
	Category string `json:"category"`
	Icon     string `json:"icon"`
	Tone     Tone   `json:"tone" enum:"system,milestone,highlighted"`
	IsSystem bool   `json:"is_system"`
}

var icons = map[string]string{
	ActionCreated:             "plus-circle",
	ActionExtended:            "calendar-plus",
	ActionAmended:             "pencil",
	ActionReleased:            "unlock",
	ActionLiquidated:          "banknote",
	ActionDecreasedAmount:     "trending-down",
	ActionActivated:           "zap",
	ActionDelivered:           "truck",
	ActionBankReply:           "mail-check",
	ActionReminderSent:        "bell",
	ActionRenewalReminder:     "bell-ring",
	ActionInstructionCanceled: "x-circle",
	ActionApprovalSubmitted:   "file-question",
	ActionApprovalApproved:    "check-circle",
	ActionApprovalRejected:    "shield-x",
	ActionApprovalWithdrawn:   "undo",
	ActionNotificationSent:    "send",
	ActionEmailFailed:         "mail-warning",
	ActionMigrationRecorded:   "database",
}

const fallbackIcon = "activity"

// Classify is total over all action type strings: unknown types get the
// fallback icon and the highlighted tone. Precedence is System Logs, then
// Core Milestones, then the default.
func Classify(actionType string) Style {
	cat := CategoryOf(actionType)
	icon, ok := icons[actionType]
	if !ok {
		icon = fallbackIcon
	}
	s := Style{Category: cat, Icon: icon}
	switch cat {
	case CategorySystemLogs:
		s.Tone = ToneSystem
		s.IsSystem = true
	case CategoryMilestones:
		s.Tone = ToneMilestone
	default:
		s.Tone = ToneHighlighted
	}
	return s
}

// linkedInstructionEntity is the entity type that marks a direct link.
const linkedInstructionEntity = "LGInstruction"

// Detail keys that cross-reference an instruction, in resolution priority
// order.
var instructionRefKeys = []string{"generated_instruction_id", "instruction_id", "new_instruction_id"}

// ResolveLinkedInstruction finds the instruction an event refers to. The
// direct entity link wins; otherwise the three detail keys are tried in
// order and the first non-empty match is looked up. At most one instruction
// resolves per event; nil means the event has none.
func ResolveLinkedInstruction(ev domain.LifecycleEvent, byID map[int64]domain.Instruction) *domain.Instruction {
	if ev.EntityType != nil && *ev.EntityType == linkedInstructionEntity && ev.EntityID != nil {
		if id, ok := parseInstructionID(*ev.EntityID); ok {
			if inst, found := byID[id]; found {
				return &inst
			}
		}
		return nil
	}
	details := decodeDetails(ev.Details)
	if details == nil {
		return nil
	}
	for _, key := range instructionRefKeys {
		raw, ok := details[key]
		if !ok || raw == nil {
			continue
		}
		id, ok := anyToInstructionID(raw)
		if !ok {
			continue
		}
		if inst, found := byID[id]; found {
			return &inst
		}
		return nil
	}
	return nil
}

func decodeDetails(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func parseInstructionID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// anyToInstructionID accepts the shapes JSON decoding produces for an id
// reference. Non-integer values (synthetic ids) do not resolve.
func anyToInstructionID(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) || t <= 0 {
			return 0, false
		}
		return int64(t), true
	case string:
		return parseInstructionID(t)
	case json.Number:
		id, err := t.Int64()
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
