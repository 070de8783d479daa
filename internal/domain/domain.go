package domain

// Work order statuses in production order. Shipped and cancelled are terminal.
const (
	StatusPending      = "pending"
	StatusInProduction = "in_production"
	StatusQualityCheck = "quality_check"
	StatusReady        = "ready"
	StatusShipped      = "shipped"
	StatusCancelled    = "cancelled"
)

// Statuses lists every known work order status.
var Statuses = []string{StatusPending, StatusInProduction, StatusQualityCheck, StatusReady, StatusShipped, StatusCancelled}

// ActiveStatuses are the statuses ranked together in the production queue.
var ActiveStatuses = []string{StatusPending, StatusInProduction, StatusQualityCheck, StatusReady}

// IsTerminalStatus reports whether no further transition is allowed from s.
func IsTerminalStatus(s string) bool {
	return s == StatusShipped || s == StatusCancelled
}

// IsKnownStatus reports whether s is one of Statuses.
func IsKnownStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// WorkOrder is one production order as stored. Fabric and DueDate are optional.
type WorkOrder struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"order_number"`
	Customer    string  `json:"customer,omitempty"`
	Region      string  `json:"region"`
	Fabric      *string `json:"fabric,omitempty"`
	Quantity    int     `json:"quantity"`
	Status      string  `json:"status" enum:"pending,in_production,quality_check,ready,shipped,cancelled"`
	DueDate     *string `json:"due_date,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// PriorityLevel is the coarse label the floor sees next to a ranked order.
type PriorityLevel string

const (
	PriorityCritical PriorityLevel = "critical"
	PriorityWarning  PriorityLevel = "warning"
	PriorityMaterial PriorityLevel = "material"
	PriorityNormal   PriorityLevel = "normal"
)

// PrioritizedWorkOrder is a WorkOrder annotated with its rank in one scoring batch.
type PrioritizedWorkOrder struct {
	WorkOrder
	PriorityScore     int           `json:"priority_score"`
	IsGroupedMaterial bool          `json:"is_grouped_material"`
	GroupMaterialName *string       `json:"group_material_name,omitempty"`
	IsCanariasUrgent  bool          `json:"is_canarias_urgent"`
	PriorityLevel     PriorityLevel `json:"priority_level" enum:"critical,warning,material,normal"`
}

// Event is an entry of the append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
