package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"maincontrol/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

var workOrderColumns = []string{
	"id", "order_number", "customer", "region", "fabric", "quantity",
	"status", "due_date", "notes", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	var customer, fabric, dueDate, notes sql.NullString
	err := row.Scan(&wo.ID, &wo.OrderNumber, &customer, &wo.Region, &fabric, &wo.Quantity,
		&wo.Status, &dueDate, &notes, &wo.CreatedAt, &wo.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wo, ErrNotFound
	}
	if err != nil {
		return wo, err
	}
	wo.Customer = customer.String
	wo.Notes = notes.String
	if fabric.Valid {
		wo.Fabric = &fabric.String
	}
	if dueDate.Valid {
		wo.DueDate = &dueDate.String
	}
	return wo, nil
}

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(id,order_number,customer,region,fabric,quantity,status,due_date,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		wo.ID, wo.OrderNumber, nullable(wo.Customer), wo.Region, nullableStringPtr(wo.Fabric), wo.Quantity,
		wo.Status, nullableStringPtr(wo.DueDate), nullable(wo.Notes), wo.CreatedAt, wo.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder) error {
	query, args, err := sq.Update("work_orders").
		Set("customer", nullable(wo.Customer)).
		Set("region", wo.Region).
		Set("fabric", nullableStringPtr(wo.Fabric)).
		Set("quantity", wo.Quantity).
		Set("status", wo.Status).
		Set("due_date", nullableStringPtr(wo.DueDate)).
		Set("notes", nullable(wo.Notes)).
		Set("updated_at", wo.UpdatedAt).
		Where(sq.Eq{"id": wo.ID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func selectWorkOrders() sq.SelectBuilder {
	return sq.Select(workOrderColumns...).From("work_orders")
}

func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	query, args, err := selectWorkOrders().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return scanWorkOrder(tx.QueryRowContext(ctx, query, args...))
}

// FindWorkOrder resolves either an id or an order number.
func (r Repo) FindWorkOrder(ctx context.Context, ref string) (domain.WorkOrder, error) {
	query, args, err := selectWorkOrders().
		Where(sq.Or{sq.Eq{"id": ref}, sq.Eq{"order_number": ref}}).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return scanWorkOrder(r.DB.QueryRowContext(ctx, query, args...))
}

type WorkOrderFilters struct {
	Statuses []string
	Region   string
	Fabric   string
	Limit    int
}

// ListWorkOrders returns matching orders in insertion order.
func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	b := selectWorkOrders()
	if len(f.Statuses) > 0 {
		b = b.Where(sq.Eq{"status": f.Statuses})
	}
	if f.Region != "" {
		b = b.Where("UPPER(TRIM(region)) = UPPER(TRIM(?))", f.Region)
	}
	if f.Fabric != "" {
		b = b.Where(sq.Eq{"fabric": f.Fabric})
	}
	b = b.OrderBy("created_at ASC", "rowid ASC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	defer rows.Close()
	res := []domain.WorkOrder{}
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, wo)
	}
	return res, rows.Err()
}

func (r Repo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func selectEvents() sq.SelectBuilder {
	return sq.Select("id", "ts", "type", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").From("events")
}

// LatestEvents returns the newest events first, optionally for one entity.
func (r Repo) LatestEvents(ctx context.Context, limit int, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	b := selectEvents().OrderBy("id DESC").Limit(uint64(limit))
	if entityID != "" {
		b = b.Where(sq.Eq{"entity_id": entityID})
	}
	return r.queryEvents(ctx, b)
}

// EventsAfter returns up to limit events with id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, selectEvents().Where(sq.Gt{"id": afterID}).OrderBy("id ASC").Limit(uint64(limit)))
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, b sq.SelectBuilder) ([]domain.Event, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
