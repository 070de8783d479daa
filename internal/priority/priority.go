// Package priority ranks a batch of work orders for the production floor.
//
// Scores are built from strictly separated tiers so that a higher tier always
// outranks every combination of the tiers below it:
//
//	Canary shipping window   10000
//	grouped material/date     5000
//	due date urgency         0..2000
package priority

import (
	"sort"
	"strings"
	"time"

	"maincontrol/internal/calendar"
	"maincontrol/internal/domain"
)

const (
	CanaryWindowBonus    = 10000
	GroupedMaterialBonus = 5000
	OverdueBonus         = 2000
	CriticalBonus        = 1000

	criticalDays   = 2
	gradedHorizon  = 30
	gradedPerDay   = 10
	noFabricKey    = "N/D"
	groupThreshold = 2
)

var canaryMarkers = []string{
	"CANARIAS",
	"TENERIFE",
	"GRAN CANARIA",
	"PALMA",
	"GOMERA",
	"HIERRO",
	"LANZAROTE",
	"FUERTEVENTURA",
}

// IsCanaryRegion matches the region against the Canary Islands names by
// substring, so "Santa Cruz de Tenerife" counts. "PALMA" also matches
// unrelated names containing it.
func IsCanaryRegion(region string) bool {
	upper := strings.ToUpper(region)
	for _, m := range canaryMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// IsShippingWindow reports whether t falls Sunday through Wednesday, the days
// Canary freight still has to be prepared for the weekly sailing.
func IsShippingWindow(t time.Time) bool {
	return t.Weekday() <= time.Wednesday
}

// GroupKey identifies orders that can be produced together.
func GroupKey(o domain.WorkOrder) string {
	fabric := noFabricKey
	if o.Fabric != nil && *o.Fabric != "" {
		fabric = *o.Fabric
	}
	return fabric + "_" + calendar.DateKey(o.DueDate)
}

func groupCounts(orders []domain.WorkOrder) map[string]int {
	counts := make(map[string]int, len(orders))
	for _, o := range orders {
		counts[GroupKey(o)]++
	}
	return counts
}

// Scorer ranks work orders relative to Now.
type Scorer struct {
	Now func() time.Time
}

// New returns a Scorer pinned to now, so a whole batch is ranked against
// the same instant.
func New(now time.Time) Scorer {
	return Scorer{Now: func() time.Time { return now }}
}

func (s Scorer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CanariasUrgent reports whether region gets the shipping window bonus right now.
func (s Scorer) CanariasUrgent(region string) bool {
	return IsCanaryRegion(region) && IsShippingWindow(s.now())
}

// DaysRemaining is calendar.WorkdaysRemaining against Now.
func (s Scorer) DaysRemaining(due *string) int {
	return calendar.WorkdaysRemaining(s.now(), due)
}

// Score computes the composite priority for o. grouped comes from the batch
// the order is ranked in.
func (s Scorer) Score(o domain.WorkOrder, grouped bool) int {
	score := 0
	if s.CanariasUrgent(o.Region) {
		score += CanaryWindowBonus
	}
	if grouped {
		score += GroupedMaterialBonus
	}
	return score + urgencyPoints(s.DaysRemaining(o.DueDate))
}

func urgencyPoints(days int) int {
	switch {
	case days <= 0:
		return OverdueBonus
	case days <= criticalDays:
		return CriticalBonus
	default:
		return max(0, (gradedHorizon-days)*gradedPerDay)
	}
}

// Level classifies an annotated order. The precedence is independent of the
// score tiers: Canary urgency is checked before the two-day deadline.
func (s Scorer) Level(o domain.PrioritizedWorkOrder) domain.PriorityLevel {
	switch {
	case o.IsCanariasUrgent:
		return domain.PriorityWarning
	case s.DaysRemaining(o.DueDate) <= criticalDays:
		return domain.PriorityCritical
	case o.IsGroupedMaterial:
		return domain.PriorityMaterial
	default:
		return domain.PriorityNormal
	}
}

// Sort annotates every order and returns them by descending score. Ties keep
// input order. The input slice is not modified.
func (s Scorer) Sort(orders []domain.WorkOrder) []domain.PrioritizedWorkOrder {
	out := make([]domain.PrioritizedWorkOrder, 0, len(orders))
	if len(orders) == 0 {
		return out
	}
	// Pin the clock so every order in the batch is judged against the same instant.
	now := s.now()
	pinned := Scorer{Now: func() time.Time { return now }}
	counts := groupCounts(orders)
	for _, o := range orders {
		grouped := counts[GroupKey(o)] >= groupThreshold
		p := domain.PrioritizedWorkOrder{
			WorkOrder:         o,
			IsGroupedMaterial: grouped,
			IsCanariasUrgent:  pinned.CanariasUrgent(o.Region),
			PriorityScore:     pinned.Score(o, grouped),
		}
		if grouped && o.Fabric != nil && *o.Fabric != "" {
			name := *o.Fabric
			p.GroupMaterialName = &name
		}
		p.PriorityLevel = pinned.Level(p)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out
}
