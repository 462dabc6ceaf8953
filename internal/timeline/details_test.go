package timeline

import (
	"strings"
	"testing"
)

func TestFormatDetailsExtendedExpiry(t *testing.T) {
	got := FormatDetails(ActionExtended, map[string]any{
		"old_expiry_date": "2024-01-01",
		"new_expiry_date": "2024-06-01",
	})
	want := "Extended expiry: Jan 01, 2024 → Jun 01, 2024"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatDetailsSuppressesEmptyFields(t *testing.T) {
	got := FormatDetails(ActionCreated, map[string]any{
		"beneficiary":  "Acme Construction",
		"amount":       250000.0,
		"currency":     "USD",
		"expiry_date":  "N/A",
		"issuing_bank": "",
		"lg_type":      nil,
	})
	want := "Beneficiary: Acme Construction, Amount: USD 250,000.00"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatDetailsAmountParseFailureDropsField(t *testing.T) {
	got := FormatDetails(ActionCreated, map[string]any{
		"beneficiary": "Acme",
		"amount":      "not-a-number",
		"currency":    "EUR",
	})
	if got != "Beneficiary: Acme" {
		t.Fatalf("expected amount dropped, got %q", got)
	}
}

func TestFormatDetailsInvalidDateDropsField(t *testing.T) {
	got := FormatDetails(ActionReleased, map[string]any{
		"release_date": "yesterday-ish",
		"reason":       "project completed",
	})
	if got != "Reason: project completed" {
		t.Fatalf("expected date dropped, got %q", got)
	}
}

func TestFormatDetailsAmendmentDiff(t *testing.T) {
	got := FormatDetails(ActionAmended, map[string]any{
		"changes": map[string]any{
			"expiry_date": map[string]any{"old": "2024-01-01", "new": "2024-06-01"},
			"beneficiary": map[string]any{"old": "Acme", "new": "Acme Holdings"},
		},
	})
	if !strings.Contains(got, "Expiry date: Jan 01, 2024 → Jun 01, 2024") {
		t.Fatalf("missing date diff in %q", got)
	}
	if !strings.Contains(got, "Beneficiary: Acme → Acme Holdings") {
		t.Fatalf("missing plain diff in %q", got)
	}
}

func TestFormatDetailsDiffKeyPriority(t *testing.T) {
	got := FormatDetails(ActionAmended, map[string]any{
		"changes": map[string]any{
			"beneficiary": map[string]any{"old": "A", "new": "B"},
		},
		"diff": map[string]any{
			"beneficiary": map[string]any{"old": "X", "new": "Y"},
		},
	})
	if got != "Beneficiary: A → B" {
		t.Fatalf("changes should win over diff, got %q", got)
	}
}

func TestFormatDetailsFallbackSkipsBookkeepingKeys(t *testing.T) {
	got := FormatDetails("SOMETHING_NEW", map[string]any{
		"ID":        77,
		"User_Id":   "u-1",
		"lg_id":     "r-1",
		"bank_name": "First National",
		"attempts":  3.0,
		"nested":    map[string]any{"x": 1},
	})
	if strings.Contains(got, "77") || strings.Contains(got, "u-1") || strings.Contains(got, "r-1") {
		t.Fatalf("bookkeeping keys leaked: %q", got)
	}
	if !strings.Contains(got, "Bank name: First National") {
		t.Fatalf("missing scalar field in %q", got)
	}
	if !strings.Contains(got, "Attempts: 3") {
		t.Fatalf("missing numeric field in %q", got)
	}
	if strings.Contains(got, "nested") {
		t.Fatalf("nested object should not render: %q", got)
	}
}

func TestFormatDetailsEmptyResultPlaceholder(t *testing.T) {
	for _, details := range []map[string]any{nil, {}, {"id": 1, "amount": "N/A"}} {
		got := FormatDetails(ActionCreated, details)
		if got != "No specific details available." {
			t.Fatalf("expected placeholder for %v, got %q", details, got)
		}
	}
}

func TestFormatDetailsNeverEmitsNullOrStraySeparators(t *testing.T) {
	payloads := []map[string]any{
		{"beneficiary": nil, "amount": "N/A", "currency": ""},
		{"old_expiry_date": "garbage", "new_expiry_date": "2024-06-01"},
		{"reason": "", "release_date": nil},
	}
	for _, actionType := range []string{ActionCreated, ActionExtended, ActionReleased, "UNKNOWN_TYPE"} {
		for _, p := range payloads {
			got := FormatDetails(actionType, p)
			if strings.Contains(got, "null") || strings.Contains(got, "undefined") {
				t.Fatalf("%s: literal null marker in %q", actionType, got)
			}
			if strings.HasPrefix(got, ", ") || strings.HasSuffix(got, ", ") || strings.Contains(got, ", ,") {
				t.Fatalf("%s: stray separator in %q", actionType, got)
			}
		}
	}
}

func TestFormatAmountThousandsGrouping(t *testing.T) {
	got, ok := FormatAmount(1234567.891, "EGP")
	if !ok {
		t.Fatal("expected parse success")
	}
	if got != "EGP 1,234,567.89" {
		t.Fatalf("got %q", got)
	}
}
