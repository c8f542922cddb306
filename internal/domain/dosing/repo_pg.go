package dosing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Bottle Repository ===========

type bottleRepoPG struct{ pool *pgxpool.Pool }

func NewBottleRepoPG(pool *pgxpool.Pool) BottleRepository {
	return &bottleRepoPG{pool: pool}
}

func (r *bottleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const bottleCols = `id, medication_id, lot_number, initial_volume_ml, current_volume_ml, status,
	opened_at, retired_at, created_at`

func (r *bottleRepoPG) scanBottle(row pgx.Row) (*Bottle, error) {
	var b Bottle
	err := row.Scan(&b.ID, &b.MedicationID, &b.LotNumber, &b.InitialVolumeMl, &b.CurrentVolumeMl, &b.Status,
		&b.OpenedAt, &b.RetiredAt, &b.CreatedAt)
	return &b, err
}

func (r *bottleRepoPG) Create(ctx context.Context, b *Bottle) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bottles (medication_id, lot_number, initial_volume_ml, current_volume_ml, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		b.MedicationID, b.LotNumber, b.InitialVolumeMl, b.CurrentVolumeMl, b.Status,
	).Scan(&b.ID, &b.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("medication %s not found", b.MedicationID)
	}
	return err
}

func (r *bottleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error) {
	b, err := r.scanBottle(r.conn(ctx).QueryRow(ctx, `SELECT `+bottleCols+` FROM bottles WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bottle %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bottle: %w", err)
	}
	return b, nil
}

func (r *bottleRepoPG) active(ctx context.Context, query string, medicationID uuid.UUID) (*Bottle, error) {
	b, err := r.scanBottle(r.conn(ctx).QueryRow(ctx, query, medicationID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("no active bottle for medication %s", medicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active bottle: %w", err)
	}
	return b, nil
}

func (r *bottleRepoPG) GetActive(ctx context.Context, medicationID uuid.UUID) (*Bottle, error) {
	return r.active(ctx, `SELECT `+bottleCols+` FROM bottles WHERE medication_id = $1 AND status = 'active'`, medicationID)
}

func (r *bottleRepoPG) GetActiveForUpdate(ctx context.Context, medicationID uuid.UUID) (*Bottle, error) {
	return r.active(ctx, `SELECT `+bottleCols+` FROM bottles WHERE medication_id = $1 AND status = 'active' FOR UPDATE`, medicationID)
}

func (r *bottleRepoPG) LockPair(ctx context.Context, a, b uuid.UUID) (map[uuid.UUID]*Bottle, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bottleCols+` FROM bottles
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`, []uuid.UUID{a, b})
	if err != nil {
		return nil, fmt.Errorf("lock bottles: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*Bottle, 2)
	for rows.Next() {
		bt, err := r.scanBottle(rows)
		if err != nil {
			return nil, err
		}
		out[bt.ID] = bt
	}
	return out, rows.Err()
}

func (r *bottleRepoPG) Retire(ctx context.Context, id uuid.UUID, finalVolumeMl decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bottles SET status = 'retired', current_volume_ml = $2, retired_at = NOW()
		WHERE id = $1`, id, finalVolumeMl)
	if err != nil {
		return fmt.Errorf("retire bottle: %w", err)
	}
	return nil
}

func (r *bottleRepoPG) Activate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bottles SET status = 'active', opened_at = COALESCE(opened_at, NOW())
		WHERE id = $1`, id)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("another bottle of this medication is already active")
	}
	if err != nil {
		return fmt.Errorf("activate bottle: %w", err)
	}
	return nil
}

func (r *bottleRepoPG) Draw(ctx context.Context, id uuid.UUID, volumeMl decimal.Decimal) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bottles SET current_volume_ml = current_volume_ml - $2
		WHERE id = $1 AND status = 'active' AND current_volume_ml >= $2`, id, volumeMl)
	if err != nil {
		return false, fmt.Errorf("draw from bottle: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bottleRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Bottle, int, error) {
	var conds []string
	var args []interface{}
	if v := params["medication_id"]; v != "" {
		mid, err := uuid.Parse(v)
		if err != nil {
			return nil, 0, apperr.Validation("invalid medication_id: %s", v)
		}
		args = append(args, mid)
		conds = append(conds, fmt.Sprintf("medication_id = $%d", len(args)))
	}
	if v := params["status"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if v := params["lot_number"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("lot_number = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bottles`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bottles: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM bottles%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		bottleCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search bottles: %w", err)
	}
	defer rows.Close()
	var items []*Bottle
	for rows.Next() {
		b, err := r.scanBottle(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// =========== Changeover Repository ===========

type changeoverRepoPG struct{ pool *pgxpool.Pool }

func NewChangeoverRepoPG(pool *pgxpool.Pool) ChangeoverRepository {
	return &changeoverRepoPG{pool: pool}
}

func (r *changeoverRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const changeoverCols = `id, old_bottle_id, new_bottle_id, measured_volume_ml, expected_volume_ml, variance_ml,
	witness1_signature, witness2_signature, performed_by, performed_at`

func (r *changeoverRepoPG) Create(ctx context.Context, c *Changeover) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bottle_changeovers (old_bottle_id, new_bottle_id, measured_volume_ml, expected_volume_ml,
			variance_ml, witness1_signature, witness2_signature, performed_by, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		c.OldBottleID, c.NewBottleID, c.MeasuredVolumeMl, c.ExpectedVolumeMl,
		c.VarianceMl, c.Witness1Signature, c.Witness2Signature, c.PerformedBy, c.PerformedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert bottle changeover: %w", err)
	}
	return nil
}

func (r *changeoverRepoPG) ListByBottle(ctx context.Context, bottleID uuid.UUID) ([]*Changeover, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+changeoverCols+` FROM bottle_changeovers
		WHERE old_bottle_id = $1 OR new_bottle_id = $1 ORDER BY performed_at DESC`, bottleID)
	if err != nil {
		return nil, fmt.Errorf("list bottle changeovers: %w", err)
	}
	defer rows.Close()
	var items []*Changeover
	for rows.Next() {
		var c Changeover
		if err := rows.Scan(&c.ID, &c.OldBottleID, &c.NewBottleID, &c.MeasuredVolumeMl, &c.ExpectedVolumeMl, &c.VarianceMl,
			&c.Witness1Signature, &c.Witness2Signature, &c.PerformedBy, &c.PerformedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// =========== Dispensation Repository ===========

type dispensationRepoPG struct{ pool *pgxpool.Pool }

func NewDispensationRepoPG(pool *pgxpool.Pool) DispensationRepository {
	return &dispensationRepoPG{pool: pool}
}

func (r *dispensationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const dispensationCols = `id, patient_id, patient_medication_id, bottle_id, dose_mg, volume_ml, dispensed_by, dispensed_at`

func (r *dispensationRepoPG) Create(ctx context.Context, d *Dispensation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dose_dispensations (patient_id, patient_medication_id, bottle_id, dose_mg, volume_ml, dispensed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, dispensed_at`,
		d.PatientID, d.PatientMedicationID, d.BottleID, d.DoseMg, d.VolumeMl, d.DispensedBy,
	).Scan(&d.ID, &d.DispensedAt)
	if err != nil {
		return fmt.Errorf("insert dose dispensation: %w", err)
	}
	return nil
}

func (r *dispensationRepoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Dispensation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dose_dispensations WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dose dispensations: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+dispensationCols+` FROM dose_dispensations
		WHERE patient_id = $1 ORDER BY dispensed_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dose dispensations: %w", err)
	}
	defer rows.Close()
	var items []*Dispensation
	for rows.Next() {
		var d Dispensation
		if err := rows.Scan(&d.ID, &d.PatientID, &d.PatientMedicationID, &d.BottleID, &d.DoseMg, &d.VolumeMl,
			&d.DispensedBy, &d.DispensedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	return items, total, rows.Err()
}

func (r *dispensationRepoPG) TotalSince(ctx context.Context, patientMedicationID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(dose_mg), 0) FROM dose_dispensations
		WHERE patient_medication_id = $1 AND dispensed_at >= $2`, patientMedicationID, since,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum dose dispensations: %w", err)
	}
	return total, nil
}

// =========== Order Lookup ===========

type orderLookupPG struct{ pool *pgxpool.Pool }

func NewOrderLookupPG(pool *pgxpool.Pool) OrderLookup {
	return &orderLookupPG{pool: pool}
}

func (r *orderLookupPG) ActiveOrder(ctx context.Context, patientID int64, medicationID *uuid.UUID) (*ActiveOrder, error) {
	return r.activeOrder(ctx, patientID, medicationID, "")
}

func (r *orderLookupPG) ActiveOrderForUpdate(ctx context.Context, patientID int64, medicationID *uuid.UUID) (*ActiveOrder, error) {
	return r.activeOrder(ctx, patientID, medicationID, "FOR UPDATE OF pm")
}

func (r *orderLookupPG) activeOrder(ctx context.Context, patientID int64, medicationID *uuid.UUID, lock string) (*ActiveOrder, error) {
	var o ActiveOrder
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT pm.id, pm.patient_id, pm.medication_id, m.name, pm.daily_dose_mg, m.concentration_mg_per_ml
		FROM patient_medications pm
		JOIN medications m ON m.id = pm.medication_id
		WHERE pm.patient_id = $1 AND pm.status = 'active'
		  AND ($2::uuid IS NULL OR pm.medication_id = $2::uuid)
		ORDER BY pm.created_at DESC
		LIMIT 1 `+lock, patientID, medicationID,
	).Scan(&o.PatientMedicationID, &o.PatientID, &o.MedicationID, &o.MedicationName, &o.DailyDoseMg, &o.ConcentrationMgPerMl)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("no active order for patient %d", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active order: %w", err)
	}
	return &o, nil
}
