package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"maincontrol/internal/calendar"
	"maincontrol/internal/config"
	"maincontrol/internal/domain"
	"maincontrol/internal/events"
	"maincontrol/internal/logging"
	"maincontrol/internal/priority"
	"maincontrol/internal/repo"
	"maincontrol/internal/sla"
	"maincontrol/internal/urgency"
)

// ErrInvalidInput marks errors caused by the caller's arguments.
var ErrInvalidInput = errors.New("invalid input")

// TransitionError is returned when a status change is not allowed.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid work order status transition %s -> %s", e.From, e.To)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	SLA    sla.Table
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		SLA:    cfg.SLATable(),
		Now:    time.Now,
		Logger: logger.With("component", "engine"),
	}
}

// now returns the engine clock in the configured timezone.
func (e Engine) now() time.Time {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	if e.Config != nil {
		return t.In(e.Config.Location())
	}
	return t
}

// writer stamps events with the engine clock unless one was set.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) log() *slog.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	return e.Config.Location()
}

// Clock returns the current engine time in the configured timezone.
func (e Engine) Clock() time.Time {
	return e.now()
}

func (e Engine) activeStatuses() []string {
	if e.Config != nil && len(e.Config.Queue.ActiveStatuses) > 0 {
		return e.Config.Queue.ActiveStatuses
	}
	return domain.ActiveStatuses
}

// WorkOrderCreateOptions are parameters for creating a work order.
type WorkOrderCreateOptions struct {
	ID          string
	OrderNumber string
	Customer    string
	Region      string
	Fabric      string
	Quantity    int
	DueDate     string
	Notes       string
	ActorID     string
}

func (e Engine) CreateWorkOrder(ctx context.Context, opts WorkOrderCreateOptions) (domain.WorkOrder, error) {
	opts.OrderNumber = strings.TrimSpace(opts.OrderNumber)
	opts.Region = strings.TrimSpace(opts.Region)
	if opts.OrderNumber == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: order number is required", ErrInvalidInput)
	}
	if opts.Region == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: region is required", ErrInvalidInput)
	}
	if opts.Quantity < 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if opts.Quantity == 0 {
		opts.Quantity = 1
	}
	now := e.now()
	due, err := e.resolveDueDate(now, opts.DueDate, opts.Region)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	ts := now.UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OrderNumber+"|"+ts)).String()
	}
	wo := domain.WorkOrder{
		ID:          id,
		OrderNumber: opts.OrderNumber,
		Customer:    strings.TrimSpace(opts.Customer),
		Region:      opts.Region,
		Fabric:      optionalString(strings.TrimSpace(opts.Fabric)),
		Quantity:    opts.Quantity,
		Status:      domain.StatusPending,
		DueDate:     &due,
		Notes:       opts.Notes,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkOrder(ctx, tx, wo); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return domain.WorkOrder{}, fmt.Errorf("%w: order number %s already exists", ErrInvalidInput, wo.OrderNumber)
		}
		return domain.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.WorkOrderCreated, "work_order", wo.ID, opts.ActorID, events.EventPayload{
		"order_number": wo.OrderNumber,
		"region":       wo.Region,
		"due_date":     due,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.log().Info("work order created", "id", wo.ID, "order_number", wo.OrderNumber, "region", wo.Region, "due_date", due)
	return wo, nil
}

// resolveDueDate validates an explicit due date or projects one from the
// region's total SLA.
func (e Engine) resolveDueDate(now time.Time, raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return calendar.FormatDate(calendar.AddWorkdays(now, e.SLA.SLAWorkdays(region))), nil
	}
	if _, ok := calendar.ParseDate(raw, now.Location()); !ok {
		return "", fmt.Errorf("%w: due date %q", ErrInvalidInput, raw)
	}
	return raw, nil
}

// WorkOrderUpdateOptions carries the fields to change. Nil pointers leave a
// field untouched; an empty Fabric or DueDate clears it.
type WorkOrderUpdateOptions struct {
	ID       string
	Status   string
	Customer *string
	Region   *string
	Fabric   *string
	Quantity *int
	DueDate  *string
	Notes    *string
	ActorID  string
	Force    bool
}

func (e Engine) UpdateWorkOrder(ctx context.Context, opts WorkOrderUpdateOptions) (domain.WorkOrder, error) {
	found, err := e.Repo.FindWorkOrder(ctx, opts.ID)
	if err != nil {
		return found, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return found, err
	}
	defer tx.Rollback()

	// Transitions are checked against the row as seen by this transaction.
	current, err := e.Repo.GetWorkOrderTx(ctx, tx, found.ID)
	if err != nil {
		return found, err
	}
	wo := current
	changed := map[string]any{}

	if opts.Customer != nil {
		wo.Customer = strings.TrimSpace(*opts.Customer)
		changed["customer"] = wo.Customer
	}
	if opts.Region != nil {
		region := strings.TrimSpace(*opts.Region)
		if region == "" {
			return current, fmt.Errorf("%w: region is required", ErrInvalidInput)
		}
		wo.Region = region
		changed["region"] = region
	}
	if opts.Fabric != nil {
		wo.Fabric = optionalString(strings.TrimSpace(*opts.Fabric))
		changed["fabric"] = strings.TrimSpace(*opts.Fabric)
	}
	if opts.Quantity != nil {
		if *opts.Quantity < 1 {
			return current, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}
		wo.Quantity = *opts.Quantity
		changed["quantity"] = wo.Quantity
	}
	if opts.DueDate != nil {
		raw := strings.TrimSpace(*opts.DueDate)
		if raw != "" {
			if _, ok := calendar.ParseDate(raw, e.location()); !ok {
				return current, fmt.Errorf("%w: due date %q", ErrInvalidInput, raw)
			}
		}
		wo.DueDate = optionalString(raw)
		changed["due_date"] = raw
	}
	if opts.Notes != nil {
		wo.Notes = *opts.Notes
		changed["notes"] = wo.Notes
	}
	if opts.Status != "" && opts.Status != wo.Status {
		if !domain.IsKnownStatus(opts.Status) {
			return current, fmt.Errorf("%w: unknown status %s", ErrInvalidInput, opts.Status)
		}
		if err := ensureTransition(wo.Status, opts.Status, opts.Force); err != nil {
			return current, err
		}
		wo.Status = opts.Status
	}
	wo.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateWorkOrder(ctx, tx, wo); err != nil {
		return current, err
	}
	if wo.Status != current.Status {
		if err := e.writer().Append(ctx, tx, events.WorkOrderStatus, "work_order", wo.ID, opts.ActorID, events.EventPayload{
			"from_status": current.Status,
			"to_status":   wo.Status,
			"forced":      opts.Force,
		}); err != nil {
			return current, err
		}
	}
	if len(changed) > 0 {
		if err := e.writer().Append(ctx, tx, events.WorkOrderUpdated, "work_order", wo.ID, opts.ActorID, events.EventPayload(changed)); err != nil {
			return current, err
		}
	}
	if err := tx.Commit(); err != nil {
		return current, err
	}
	e.log().Info("work order updated", "id", wo.ID, "status", wo.Status, "fields", len(changed))
	return wo, nil
}

var transitions = map[string][]string{
	domain.StatusPending:      {domain.StatusInProduction, domain.StatusCancelled},
	domain.StatusInProduction: {domain.StatusQualityCheck, domain.StatusCancelled},
	domain.StatusQualityCheck: {domain.StatusReady, domain.StatusInProduction, domain.StatusCancelled},
	domain.StatusReady:        {domain.StatusShipped, domain.StatusCancelled},
}

func ensureTransition(from, to string, force bool) error {
	if force {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

func (e Engine) GetWorkOrder(ctx context.Context, ref string) (domain.WorkOrder, error) {
	return e.Repo.FindWorkOrder(ctx, ref)
}

func (e Engine) ListWorkOrders(ctx context.Context, f repo.WorkOrderFilters) ([]domain.WorkOrder, error) {
	return e.Repo.ListWorkOrders(ctx, f)
}

// QueueOptions narrows the ranked queue. Filtering happens after ranking.
type QueueOptions struct {
	Region string
	Limit  int
}

// QueueItem is one ranked row of the production queue.
type QueueItem struct {
	domain.PrioritizedWorkOrder
	DaysRemaining int            `json:"days_remaining"`
	Badge         *urgency.Badge `json:"badge,omitempty"`
}

// ProductionQueue ranks every active work order and returns them highest
// priority first.
func (e Engine) ProductionQueue(ctx context.Context, opts QueueOptions) ([]QueueItem, error) {
	batch, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{Statuses: e.activeStatuses()})
	if err != nil {
		return nil, err
	}
	now := e.now()
	scorer := priority.New(now)
	ranked := scorer.Sort(batch)
	region := sla.NormalizeRegion(opts.Region)
	items := make([]QueueItem, 0, len(ranked))
	for _, p := range ranked {
		if region != "" && sla.NormalizeRegion(p.Region) != region {
			continue
		}
		days := scorer.DaysRemaining(p.DueDate)
		item := QueueItem{PrioritizedWorkOrder: p, DaysRemaining: days}
		if b, ok := urgency.ForOrder(e.SLA, now, p.DueDate, p.Region); ok {
			item.Badge = &b
		}
		items = append(items, item)
		if opts.Limit > 0 && len(items) >= opts.Limit {
			break
		}
	}
	e.log().Debug("queue ranked", "batch", len(batch), "returned", len(items), "region", opts.Region)
	return items, nil
}

// DeliverySchedule projects the SLA milestones for an order in region
// starting on start. A zero start means today.
func (e Engine) DeliverySchedule(start time.Time, region string) sla.Schedule {
	if start.IsZero() {
		start = e.now()
	}
	return e.SLA.Schedule(start.In(e.location()), region)
}

func (e Engine) Breakdown(region string) sla.Budget {
	return e.SLA.Breakdown(region)
}

// RegionBudget pairs a region key with its budget.
type RegionBudget struct {
	Region string     `json:"region"`
	Budget sla.Budget `json:"budget"`
}

func (e Engine) Regions() []RegionBudget {
	keys := e.SLA.Regions()
	out := make([]RegionBudget, 0, len(keys))
	for _, k := range keys {
		out = append(out, RegionBudget{Region: k, Budget: e.SLA.Breakdown(k)})
	}
	return out
}

// StatusSummary counts work orders per status.
type StatusSummary struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	ByStatus map[string]int `json:"by_status"`
	Now      string         `json:"now" format:"date-time"`
}

func (e Engine) Status(ctx context.Context) (StatusSummary, error) {
	counts, err := e.Repo.CountByStatus(ctx)
	if err != nil {
		return StatusSummary{}, fmt.Errorf("count work orders: %w", err)
	}
	s := StatusSummary{ByStatus: map[string]int{}, Now: e.now().Format(time.RFC3339)}
	for _, st := range domain.Statuses {
		s.ByStatus[st] = counts[st]
		s.Total += counts[st]
	}
	for _, st := range e.activeStatuses() {
		s.Active += counts[st]
	}
	return s, nil
}

func (e Engine) LatestEvents(ctx context.Context, limit int, entityID string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, entityID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
