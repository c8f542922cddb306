package takehome

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const orderCols = `id, patient_id, days, risk_level, to_char(start_date, 'YYYY-MM-DD'),
	to_char(end_date, 'YYYY-MM-DD'), status, notes, created_by, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.Days, &o.RiskLevel, &o.StartDate,
		&o.EndDate, &o.Status, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO takehome_orders (patient_id, days, risk_level, start_date, end_date, status, notes, created_by)
		VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		o.PatientID, o.Days, o.RiskLevel, o.StartDate, o.EndDate, o.Status, o.Notes, o.CreatedBy,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d not found", o.PatientID)
	}
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := r.scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM takehome_orders WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("take-home order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get take-home order: %w", err)
	}
	return o, nil
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, o *Order) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE takehome_orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING updated_at`, o.ID, o.Status).Scan(&o.UpdatedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update take-home order: %w", err)
	}
	return true, nil
}

func (r *orderRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	var conds []string
	var args []interface{}
	if v := params["patient_id"]; v != "" {
		pid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, 0, apperr.Validation("invalid patient_id: %s", v)
		}
		args = append(args, pid)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if v := params["status"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM takehome_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count take-home orders: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM takehome_orders%s ORDER BY start_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		orderCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search take-home orders: %w", err)
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// =========== Kit Repository ===========

type kitRepoPG struct{ pool *pgxpool.Pool }

func NewKitRepoPG(pool *pgxpool.Pool) KitRepository {
	return &kitRepoPG{pool: pool}
}

func (r *kitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const kitCols = `id, order_id, bottle_id, dose_mg, day_number, status, prepared_by, created_at`

func (r *kitRepoPG) Create(ctx context.Context, k *Kit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO takehome_kits (order_id, bottle_id, dose_mg, day_number, status, prepared_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		k.OrderID, k.BottleID, k.DoseMg, k.DayNumber, k.Status, k.PreparedBy,
	).Scan(&k.ID, &k.CreatedAt)
	switch {
	case db.IsUniqueViolation(err):
		return apperr.Conflict("a kit for day %d already exists", k.DayNumber)
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("order or bottle not found")
	}
	return err
}

func (r *kitRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Kit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+kitCols+` FROM takehome_kits WHERE order_id = $1 ORDER BY day_number`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list take-home kits: %w", err)
	}
	defer rows.Close()
	var items []*Kit
	for rows.Next() {
		var k Kit
		if err := rows.Scan(&k.ID, &k.OrderID, &k.BottleID, &k.DoseMg, &k.DayNumber, &k.Status, &k.PreparedBy, &k.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &k)
	}
	return items, rows.Err()
}
