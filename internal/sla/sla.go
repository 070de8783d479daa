// Package sla holds the regional delivery budgets, in workdays, that bound
// how long an order may spend in reception, production and shipping.
package sla

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"maincontrol/internal/calendar"
)

// DefaultRegion is the key used for blank and unknown regions.
const DefaultRegion = "DEFAULT"

// Budget is the workday allowance for one region.
type Budget struct {
	TotalDays      int `json:"total_days" yaml:"total_days"`
	ReceptionDays  int `json:"reception_days" yaml:"reception_days"`
	ProductionDays int `json:"production_days" yaml:"production_days"`
	ShippingDays   int `json:"shipping_days" yaml:"shipping_days"`
}

// Validate checks the budget is non-negative and that its phases add up to the total.
func (b Budget) Validate() error {
	if b.TotalDays < 0 || b.ReceptionDays < 0 || b.ProductionDays < 0 || b.ShippingDays < 0 {
		return fmt.Errorf("negative day count in %+v", b)
	}
	if sum := b.ReceptionDays + b.ProductionDays + b.ShippingDays; sum != b.TotalDays {
		return fmt.Errorf("total_days %d does not match reception+production+shipping %d", b.TotalDays, sum)
	}
	return nil
}

var (
	balearic  = Budget{TotalDays: 7, ReceptionDays: 2, ProductionDays: 4, ShippingDays: 1}
	peninsula = Budget{TotalDays: 10, ReceptionDays: 2, ProductionDays: 5, ShippingDays: 3}
	canary    = Budget{TotalDays: 20, ReceptionDays: 2, ProductionDays: 7, ShippingDays: 11}
)

var builtin = map[string]Budget{
	"MALLORCA":   balearic,
	"MENORCA":    balearic,
	"IBIZA":      balearic,
	"FORMENTERA": balearic,
	"BALEARES":   balearic,

	"PENINSULA": peninsula,

	"TENERIFE":      canary,
	"GRAN_CANARIA":  canary,
	"LANZAROTE":     canary,
	"FUERTEVENTURA": canary,
	"LA_PALMA":      canary,
	"LA_GOMERA":     canary,
	"EL_HIERRO":     canary,
	"CANARIAS":      canary,

	DefaultRegion: peninsula,
}

var defaultTable = mustTable(builtin)

// Table is an immutable region to Budget lookup. The zero value behaves like Default().
type Table struct {
	budgets map[string]Budget
}

// Default returns the built-in table.
func Default() Table {
	return defaultTable
}

// NewTable returns the built-in table with overrides applied on top.
// Override keys are normalized like lookups.
func NewTable(overrides map[string]Budget) (Table, error) {
	merged := make(map[string]Budget, len(builtin)+len(overrides))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range overrides {
		key := NormalizeRegion(k)
		if key == "" {
			return Table{}, fmt.Errorf("sla override with empty region")
		}
		merged[key] = v
	}
	return newTable(merged)
}

func newTable(budgets map[string]Budget) (Table, error) {
	if _, ok := budgets[DefaultRegion]; !ok {
		return Table{}, fmt.Errorf("sla table has no %s entry", DefaultRegion)
	}
	for region, b := range budgets {
		if err := b.Validate(); err != nil {
			return Table{}, fmt.Errorf("sla region %s: %w", region, err)
		}
	}
	return Table{budgets: budgets}, nil
}

func mustTable(budgets map[string]Budget) Table {
	t, err := newTable(budgets)
	if err != nil {
		panic(err)
	}
	return t
}

// NormalizeRegion uppercases and trims the name and joins words with underscores.
func NormalizeRegion(region string) string {
	return strings.Join(strings.Fields(strings.ToUpper(region)), "_")
}

// Breakdown returns the budget for region, falling back to DEFAULT.
func (t Table) Breakdown(region string) Budget {
	budgets := t.budgets
	if budgets == nil {
		budgets = defaultTable.budgets
	}
	if strings.TrimSpace(region) == "" {
		return budgets[DefaultRegion]
	}
	if b, ok := budgets[NormalizeRegion(region)]; ok {
		return b
	}
	return budgets[DefaultRegion]
}

func (t Table) ProductionWorkdays(region string) int { return t.Breakdown(region).ProductionDays }
func (t Table) ShippingWorkdays(region string) int   { return t.Breakdown(region).ShippingDays }
func (t Table) ReceptionWorkdays(region string) int  { return t.Breakdown(region).ReceptionDays }
func (t Table) SLAWorkdays(region string) int        { return t.Breakdown(region).TotalDays }

// Regions lists the configured region keys in sorted order.
func (t Table) Regions() []string {
	budgets := t.budgets
	if budgets == nil {
		budgets = defaultTable.budgets
	}
	keys := make([]string, 0, len(budgets))
	for k := range budgets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schedule is the projected set of milestones for an order starting on Start.
type Schedule struct {
	Region        string    `json:"region"`
	Budget        Budget    `json:"budget"`
	Start         time.Time `json:"start"`
	ReceptionEnd  time.Time `json:"reception_end"`
	ProductionEnd time.Time `json:"production_end"`
	DeliveryDate  time.Time `json:"delivery_date"`
}

// Schedule projects the phase boundaries for an order in region starting at start.
func (t Table) Schedule(start time.Time, region string) Schedule {
	b := t.Breakdown(region)
	key := NormalizeRegion(region)
	if key == "" {
		key = DefaultRegion
	}
	reception := calendar.AddWorkdays(start, b.ReceptionDays)
	production := calendar.AddWorkdays(reception, b.ProductionDays)
	return Schedule{
		Region:        key,
		Budget:        b,
		Start:         calendar.Midnight(start),
		ReceptionEnd:  reception,
		ProductionEnd: production,
		DeliveryDate:  calendar.AddWorkdays(production, b.ShippingDays),
	}
}

// Breakdown looks region up in the built-in table.
func Breakdown(region string) Budget { return defaultTable.Breakdown(region) }

func ProductionWorkdays(region string) int { return defaultTable.ProductionWorkdays(region) }
func ShippingWorkdays(region string) int   { return defaultTable.ShippingWorkdays(region) }
func ReceptionWorkdays(region string) int  { return defaultTable.ReceptionWorkdays(region) }
func SLAWorkdays(region string) int        { return defaultTable.SLAWorkdays(region) }
