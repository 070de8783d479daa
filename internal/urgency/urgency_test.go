package urgency

import (
	"testing"
	"time"

	"maincontrol/internal/calendar"
	"maincontrol/internal/sla"
)

func TestForDays(t *testing.T) {
	table := sla.Default()
	cases := []struct {
		days   int
		region string
		label  string
	}{
		{-1, "Peninsula", LabelOverdue},
		{0, "Peninsula", LabelUrgent},
		{4, "Peninsula", LabelUrgent},
		{5, "Peninsula", LabelOnTime},
		{2, "Mallorca", LabelUrgent},
		{3, "Mallorca", LabelOnTime},
		{12, "Tenerife", LabelUrgent},
		{13, "Tenerife", LabelOnTime},
		{4, "", LabelUrgent},
		{4, "Unknown Place", LabelUrgent},
		{calendar.NoDueDate, "Peninsula", LabelOnTime},
	}
	for _, tc := range cases {
		if got := ForDays(table, tc.days, tc.region); got.Label != tc.label {
			t.Fatalf("%d days in %q: expected %s, got %s", tc.days, tc.region, tc.label, got.Label)
		}
	}
}

func TestForDaysStyles(t *testing.T) {
	cases := map[int]string{-3: StyleDestructive, 1: StyleWarning, 25: StyleSuccess}
	for days, style := range cases {
		if got := ForDays(sla.Default(), days, "Peninsula").Style; got != style {
			t.Fatalf("%d days: expected %s, got %s", days, style, got)
		}
	}
}

func TestForOrder(t *testing.T) {
	// Monday 2 June 2025.
	now := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	table := sla.Default()

	if _, ok := ForOrder(table, now, nil, "Peninsula"); ok {
		t.Fatalf("expected no badge without due date")
	}
	bad := "next tuesday"
	if _, ok := ForOrder(table, now, &bad, "Peninsula"); ok {
		t.Fatalf("expected no badge for unparseable due date")
	}

	late := "2025-05-30"
	b, ok := ForOrder(table, now, &late, "Peninsula")
	if !ok || b.Label != LabelOverdue {
		t.Fatalf("expected overdue badge, got %+v %v", b, ok)
	}

	far := calendar.FormatDate(calendar.AddWorkdays(now, calendar.NoDueDate))
	b, ok = ForOrder(table, now, &far, "Peninsula")
	if !ok || b.Label != LabelOnTime {
		t.Fatalf("real due date %s must keep its badge, got %+v %v", far, b, ok)
	}
}

func TestThresholdFollowsConfiguredTable(t *testing.T) {
	table, err := sla.NewTable(map[string]sla.Budget{
		"Peninsula": {TotalDays: 12, ReceptionDays: 2, ProductionDays: 4, ShippingDays: 6},
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if got := Threshold(table, "Peninsula"); got != 7 {
		t.Fatalf("expected threshold 7, got %d", got)
	}
	if got := ForDays(table, 6, "Peninsula"); got.Label != LabelUrgent {
		t.Fatalf("expected urgent, got %s", got.Label)
	}
}
