package server

import (
	"maincontrol/internal/calendar"
	"maincontrol/internal/domain"
	"maincontrol/internal/engine"
	"maincontrol/internal/sla"
)

// Request payloads

type CreateWorkOrderRequest struct {
	ID          *string `json:"id,omitempty"`
	OrderNumber string  `json:"order_number" minLength:"1"`
	Customer    *string `json:"customer,omitempty"`
	Region      string  `json:"region" minLength:"1"`
	Fabric      *string `json:"fabric,omitempty"`
	Quantity    *int    `json:"quantity,omitempty" minimum:"1"`
	DueDate     *string `json:"due_date,omitempty" doc:"YYYY-MM-DD or RFC3339; projected from the regional SLA when omitted"`
	Notes       *string `json:"notes,omitempty"`
}

type UpdateWorkOrderRequest struct {
	Status   *string `json:"status,omitempty" enum:"pending,in_production,quality_check,ready,shipped,cancelled"`
	Customer *string `json:"customer,omitempty"`
	Region   *string `json:"region,omitempty"`
	Fabric   *string `json:"fabric,omitempty" doc:"empty string clears the fabric"`
	Quantity *int    `json:"quantity,omitempty" minimum:"1"`
	DueDate  *string `json:"due_date,omitempty" doc:"empty string clears the due date"`
	Notes    *string `json:"notes,omitempty"`
	Force    bool    `json:"force,omitempty" doc:"skip the status transition table"`
}

// Responses

type WorkOrderList struct {
	Items []domain.WorkOrder `json:"items"`
}

type QueueResponse struct {
	Items []engine.QueueItem `json:"items"`
	Count int                `json:"count"`
	Now   string             `json:"now" format:"date-time"`
}

type RegionList struct {
	Items []engine.RegionBudget `json:"items"`
}

type RegionDetail struct {
	Region          string     `json:"region"`
	Budget          sla.Budget `json:"budget"`
	UrgentThreshold int        `json:"urgent_threshold" doc:"remaining workdays at or below which orders are flagged URGENT"`
	CanaryRegion    bool       `json:"canary_region"`
}

type ScheduleResponse struct {
	Region        string     `json:"region"`
	Budget        sla.Budget `json:"budget"`
	Start         string     `json:"start" format:"date"`
	ReceptionEnd  string     `json:"reception_end" format:"date"`
	ProductionEnd string     `json:"production_end" format:"date"`
	DeliveryDate  string     `json:"delivery_date" format:"date"`
}

type WorkdaysResponse struct {
	Start    string `json:"start" format:"date"`
	End      string `json:"end" format:"date"`
	Workdays int    `json:"workdays"`
}

type EventList struct {
	Items []domain.Event `json:"items"`
}

func scheduleResponse(s sla.Schedule) ScheduleResponse {
	return ScheduleResponse{
		Region:        s.Region,
		Budget:        s.Budget,
		Start:         calendar.FormatDate(s.Start),
		ReceptionEnd:  calendar.FormatDate(s.ReceptionEnd),
		ProductionEnd: calendar.FormatDate(s.ProductionEnd),
		DeliveryDate:  calendar.FormatDate(s.DeliveryDate),
	}
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
