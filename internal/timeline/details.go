package timeline

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	noDetails   = "No specific details available."
	dateLayout  = "Jan 02, 2006"
	diffArrow   = " → "
	naSentinel  = "N/A"
	fragmentSep = ", "
)

// Detail keys never surfaced by the fallback renderer.
var suppressedKeys = map[string]struct{}{
	"id":      {},
	"user_id": {},
	"lg_id":   {},
}

type fragment struct {
	label string
	value string
}

// FormatDetails renders a one-line human summary for an event's detail
// payload. It is total: unknown action types take the fallback path, every
// per-field parse failure degrades to omitting that field, and the result
// never carries stray separators or literal null markers.
func FormatDetails(actionType string, details map[string]any) string {
	var frags []fragment
	switch actionType {
	case ActionCreated:
		frags = appendText(frags, "Beneficiary", details, "beneficiary")
		frags = appendAmount(frags, "Amount", details, "amount", "currency")
		frags = appendDate(frags, "Expiry", details, "expiry_date")
		frags = appendText(frags, "Issuing bank", details, "issuing_bank")
		frags = appendText(frags, "Type", details, "lg_type")
	case ActionExtended:
		frags = appendDatePair(frags, "Extended expiry", details, "old_expiry_date", "new_expiry_date")
		frags = appendAmount(frags, "Amount", details, "amount", "currency")
	case ActionAmended:
		frags = append(frags, diffFragments(details)...)
	case ActionReleased:
		frags = appendDate(frags, "Released on", details, "release_date")
		frags = appendText(frags, "Reason", details, "reason")
	case ActionLiquidated:
		frags = appendText(frags, "Liquidation", details, "liquidation_type")
		frags = appendAmount(frags, "Amount", details, "amount", "currency")
	case ActionDecreasedAmount:
		frags = appendAmountPair(frags, "Decreased amount", details, "old_amount", "new_amount", "currency")
	case ActionActivated:
		frags = appendText(frags, "Payment reference", details, "payment_reference")
		frags = appendAmount(frags, "Amount", details, "amount", "currency")
	case ActionDelivered:
		frags = appendDate(frags, "Delivered on", details, "delivery_date")
		frags = appendText(frags, "Method", details, "delivery_method")
	case ActionBankReply:
		frags = appendDate(frags, "Reply received", details, "bank_reply_date")
		frags = appendText(frags, "Notes", details, "notes")
	case ActionReminderSent:
		frags = appendText(frags, "Reminder for instruction", details, "original_instruction_serial")
		frags = appendText(frags, "Sent to", details, "bank_name")
	case ActionRenewalReminder:
		frags = appendText(frags, "Days until expiry", details, "days_until_expiry")
		frags = appendText(frags, "Recipient", details, "recipient")
	case ActionInstructionCanceled:
		frags = appendText(frags, "Instruction", details, "instruction_serial")
		frags = appendText(frags, "Reason", details, "reason")
	case ActionApprovalSubmitted:
		frags = appendText(frags, "Action", details, "action_type")
		frags = appendText(frags, "Requested by", details, "requested_by")
	case ActionApprovalApproved:
		frags = appendText(frags, "Approved by", details, "decided_by")
	case ActionApprovalRejected:
		frags = appendText(frags, "Rejected by", details, "decided_by")
		frags = appendText(frags, "Reason", details, "reason")
	case ActionApprovalWithdrawn:
		frags = appendText(frags, "Withdrawn by", details, "requested_by")
	case ActionNotificationSent:
		frags = appendText(frags, "Channel", details, "channel")
		frags = appendText(frags, "Recipient", details, "recipient")
		frags = appendText(frags, "Subject", details, "subject")
	default:
		frags = fallbackFragments(details)
	}
	return joinFragments(frags)
}

func joinFragments(frags []fragment) string {
	if len(frags) == 0 {
		return noDetails
	}
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.label+": "+f.value)
	}
	return strings.Join(parts, fragmentSep)
}

// scalarText normalizes a detail value to display text. Empty strings, the
// "N/A" sentinel, nulls and non-scalar values yield ok=false.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == naSentinel {
			return "", false
		}
		return s, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// FormatDate parses a detail date and renders it as "Jan 02, 2006".
// Unparseable input returns ok=false rather than erroring.
func FormatDate(v any) (string, bool) {
	s, ok := scalarText(v)
	if !ok {
		return "", false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout), true
		}
	}
	return "", false
}

// FormatAmount renders a monetary value with two decimals, thousands
// separators and a currency prefix. Values that fail numeric parsing
// return ok=false.
func FormatAmount(v any, currency string) (string, bool) {
	var amount float64
	switch t := v.(type) {
	case float64:
		amount = t
	case int:
		amount = float64(t)
	case int64:
		amount = float64(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" || s == naSentinel {
			return "", false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", false
		}
		amount = parsed
	default:
		return "", false
	}
	formatted := humanize.FormatFloat("#,###.##", amount)
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return formatted, true
	}
	return currency + " " + formatted, true
}

func appendText(frags []fragment, label string, details map[string]any, key string) []fragment {
	if s, ok := scalarText(details[key]); ok {
		frags = append(frags, fragment{label, s})
	}
	return frags
}

func appendDate(frags []fragment, label string, details map[string]any, key string) []fragment {
	if s, ok := FormatDate(details[key]); ok {
		frags = append(frags, fragment{label, s})
	}
	return frags
}

func appendAmount(frags []fragment, label string, details map[string]any, amountKey, currencyKey string) []fragment {
	currency, _ := scalarText(details[currencyKey])
	if s, ok := FormatAmount(details[amountKey], currency); ok {
		frags = append(frags, fragment{label, s})
	}
	return frags
}

func appendDatePair(frags []fragment, label string, details map[string]any, oldKey, newKey string) []fragment {
	oldVal, okOld := FormatDate(details[oldKey])
	newVal, okNew := FormatDate(details[newKey])
	if !okOld || !okNew {
		return frags
	}
	return append(frags, fragment{label, oldVal + diffArrow + newVal})
}

func appendAmountPair(frags []fragment, label string, details map[string]any, oldKey, newKey, currencyKey string) []fragment {
	currency, _ := scalarText(details[currencyKey])
	oldVal, okOld := FormatAmount(details[oldKey], currency)
	newVal, okNew := FormatAmount(details[newKey], currency)
	if !okOld || !okNew {
		return frags
	}
	return append(frags, fragment{label, oldVal + diffArrow + newVal})
}

// Keys carrying an amendment change map, in resolution priority order.
var diffKeys = []string{"changes", "diff", "amended_fields"}

// diffFragments renders per-field "Label: old → new" entries for amendment
// events. Fields whose key contains "date" get date formatting; pairs with
// no meaningful old or new value are skipped.
func diffFragments(details map[string]any) []fragment {
	var changes map[string]any
	for _, key := range diffKeys {
		if m, ok := details[key].(map[string]any); ok && m != nil {
			changes = m
			break
		}
	}
	if changes == nil {
		return nil
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var frags []fragment
	for _, field := range keys {
		pair, ok := changes[field].(map[string]any)
		if !ok {
			continue
		}
		oldVal, okOld := changeSide(field, pair["old"])
		newVal, okNew := changeSide(field, pair["new"])
		if !okOld && !okNew {
			continue
		}
		if !okOld {
			oldVal = "—"
		}
		if !okNew {
			newVal = "—"
		}
		frags = append(frags, fragment{prettyLabel(field), oldVal + diffArrow + newVal})
	}
	return frags
}

func changeSide(field string, v any) (string, bool) {
	if strings.Contains(strings.ToLower(field), "date") {
		return FormatDate(v)
	}
	return scalarText(v)
}

// fallbackFragments renders every scalar detail entry for an unrecognized
// action type, skipping bookkeeping keys.
func fallbackFragments(details map[string]any) []fragment {
	keys := make([]string, 0, len(details))
	for k := range details {
		if _, skip := suppressedKeys[strings.ToLower(k)]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var frags []fragment
	for _, k := range keys {
		if s, ok := scalarText(details[k]); ok {
			frags = append(frags, fragment{prettyLabel(k), s})
		}
	}
	return frags
}

func prettyLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	if len(words) == 0 {
		return key
	}
	first := words[0]
	words[0] = strings.ToUpper(first[:1]) + first[1:]
	return strings.Join(words, " ")
}
