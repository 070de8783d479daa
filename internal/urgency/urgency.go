// Package urgency turns remaining workdays into the delivery badge shown next
// to each order. It is independent of the priority level: the threshold here
// follows the region's shipping days.
package urgency

import (
	"time"

	"maincontrol/internal/calendar"
	"maincontrol/internal/sla"
)

const (
	LabelOverdue = "OVERDUE"
	LabelUrgent  = "URGENT"
	LabelOnTime  = "ON_TIME"
)

const (
	StyleDestructive = "destructive"
	StyleWarning     = "warning"
	StyleSuccess     = "success"
)

// Badge is the label and display style for one order's delivery urgency.
type Badge struct {
	Label string `json:"label" enum:"OVERDUE,URGENT,ON_TIME"`
	Style string `json:"style" enum:"destructive,warning,success"`
}

// Threshold is the number of remaining workdays at or below which an order
// in region is urgent.
func Threshold(t sla.Table, region string) int {
	return t.ShippingWorkdays(region) + 1
}

// ForDays classifies daysRemaining for region.
func ForDays(t sla.Table, daysRemaining int, region string) Badge {
	switch {
	case daysRemaining < 0:
		return Badge{Label: LabelOverdue, Style: StyleDestructive}
	case daysRemaining <= Threshold(t, region):
		return Badge{Label: LabelUrgent, Style: StyleWarning}
	default:
		return Badge{Label: LabelOnTime, Style: StyleSuccess}
	}
}

// ForOrder badges an order due on due as seen from now. ok is false when due
// is absent or cannot be parsed.
func ForOrder(t sla.Table, now time.Time, due *string, region string) (Badge, bool) {
	if due == nil {
		return Badge{}, false
	}
	date, ok := calendar.ParseDate(*due, now.Location())
	if !ok {
		return Badge{}, false
	}
	return ForDays(t, calendar.WorkdaysBetween(now, date), region), true
}
