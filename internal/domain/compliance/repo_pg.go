package compliance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Hold Repository ===========

type holdRepoPG struct{ pool *pgxpool.Pool }

func NewHoldRepoPG(pool *pgxpool.Pool) HoldRepository {
	return &holdRepoPG{pool: pool}
}

func (r *holdRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const holdCols = `id, patient_id, reason_code, opened_by, opened_time, status,
	requires_counselor, notes, closed_at, closed_by`

func (r *holdRepoPG) scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	err := row.Scan(&h.ID, &h.PatientID, &h.ReasonCode, &h.OpenedBy, &h.OpenedTime, &h.Status,
		&h.RequiresCounselor, &h.Notes, &h.ClosedAt, &h.ClosedBy)
	return &h, err
}

func (r *holdRepoPG) Create(ctx context.Context, h *Hold) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO compliance_holds (patient_id, reason_code, opened_by, opened_time, status, requires_counselor, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id) WHERE status = 'open' AND reason_code = 'positive_uds' DO NOTHING
		RETURNING id`,
		h.PatientID, h.ReasonCode, h.OpenedBy, h.OpenedTime, h.Status, h.RequiresCounselor, h.Notes,
	).Scan(&h.ID)
	switch {
	case db.IsNoRows(err):
		// Another open positive-screen hold took the slot.
		return apperr.Conflict("patient %d already has an open %s hold", h.PatientID, h.ReasonCode).WithCode(CodeHoldAlreadyOpen)
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("patient %d not found", h.PatientID)
	}
	return err
}

func (r *holdRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Hold, error) {
	h, err := r.scanHold(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("compliance hold %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get compliance hold: %w", err)
	}
	return h, nil
}

func (r *holdRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hold, error) {
	return r.get(ctx, `SELECT `+holdCols+` FROM compliance_holds WHERE id = $1`, id)
}

func (r *holdRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Hold, error) {
	return r.get(ctx, `SELECT `+holdCols+` FROM compliance_holds WHERE id = $1 FOR UPDATE`, id)
}

func (r *holdRepoPG) List(ctx context.Context, status string, limit int) ([]*Hold, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+holdCols+` FROM compliance_holds
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY opened_time DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list compliance holds: %w", err)
	}
	defer rows.Close()
	var items []*Hold
	for rows.Next() {
		h, err := r.scanHold(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func (r *holdRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE compliance_holds SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update compliance hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("compliance hold %s not found", id)
	}
	return nil
}

func (r *holdRepoPG) Close(ctx context.Context, h *Hold) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE compliance_holds SET status = 'closed', closed_by = $2, closed_at = NOW(),
			notes = COALESCE($3, notes)
		WHERE id = $1
		RETURNING status, closed_at, notes`,
		h.ID, h.ClosedBy, h.Notes,
	).Scan(&h.Status, &h.ClosedAt, &h.Notes)
}

func (r *holdRepoPG) HasOpen(ctx context.Context, patientID int64, reasonCode string) (bool, error) {
	var found bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM compliance_holds
			WHERE patient_id = $1 AND status = 'open' AND ($2::text = '' OR reason_code = $2::text)
		)`, patientID, reasonCode).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check open holds: %w", err)
	}
	return found, nil
}

// =========== Override Repository ===========

type overrideRepoPG struct{ pool *pgxpool.Pool }

func NewOverrideRepoPG(pool *pgxpool.Pool) OverrideRepository {
	return &overrideRepoPG{pool: pool}
}

func (r *overrideRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const overrideCols = `id, hold_id, override_reason, override_type, overridden_by, override_time,
	requires_md_review, review_by, reviewed_at, reviewed_by, review_notes`

func (r *overrideRepoPG) scanOverride(row pgx.Row) (*Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.HoldID, &o.OverrideReason, &o.OverrideType, &o.OverriddenBy, &o.OverrideTime,
		&o.RequiresMDReview, &o.ReviewBy, &o.ReviewedAt, &o.ReviewedBy, &o.ReviewNotes)
	return &o, err
}

func (r *overrideRepoPG) Create(ctx context.Context, o *Override) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO compliance_hold_overrides (hold_id, override_reason, override_type, overridden_by,
			override_time, requires_md_review, review_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		o.HoldID, o.OverrideReason, o.OverrideType, o.OverriddenBy,
		o.OverrideTime, o.RequiresMDReview, o.ReviewBy,
	).Scan(&o.ID)
}

func (r *overrideRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Override, error) {
	o, err := r.scanOverride(r.conn(ctx).QueryRow(ctx,
		`SELECT `+overrideCols+` FROM compliance_hold_overrides WHERE id = $1 FOR UPDATE`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("override %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return o, nil
}

func (r *overrideRepoPG) ListByHold(ctx context.Context, holdID uuid.UUID) ([]*Override, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+overrideCols+` FROM compliance_hold_overrides
		WHERE hold_id = $1 ORDER BY override_time DESC`, holdID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()
	var items []*Override
	for rows.Next() {
		o, err := r.scanOverride(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *overrideRepoPG) MarkReviewed(ctx context.Context, o *Override) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE compliance_hold_overrides
		SET reviewed_at = NOW(), reviewed_by = $2, review_notes = $3
		WHERE id = $1
		RETURNING reviewed_at`,
		o.ID, o.ReviewedBy, o.ReviewNotes,
	).Scan(&o.ReviewedAt)
}

// =========== Name Resolver ===========

type nameResolverPG struct{ pool *pgxpool.Pool }

// NewNameResolverPG resolves patient names from dispensing_patients, then
// patients, and staff names from staff.
func NewNameResolverPG(pool *pgxpool.Pool) NameResolver {
	return &nameResolverPG{pool: pool}
}

func (r *nameResolverPG) PatientNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	q := db.Conn(ctx, r.pool)

	if err := collectNames(ctx, q, names,
		`SELECT patient_id, display_name FROM dispensing_patients
		 WHERE patient_id = ANY($1) AND btrim(display_name) <> ''`, ids); err != nil {
		return nil, fmt.Errorf("resolve dispensing names: %w", err)
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return names, nil
	}
	if err := collectNames(ctx, q, names,
		`SELECT id, btrim(first_name || ' ' || last_name) FROM patients
		 WHERE id = ANY($1) AND btrim(first_name || ' ' || last_name) <> ''`, missing); err != nil {
		return nil, fmt.Errorf("resolve patient names: %w", err)
	}
	return names, nil
}

func (r *nameResolverPG) StaffNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	if err := collectNames(ctx, db.Conn(ctx, r.pool), names,
		`SELECT id, display_name FROM staff WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("resolve staff names: %w", err)
	}
	return names, nil
}

func collectNames[K comparable](ctx context.Context, q db.Querier, into map[K]string, query string, ids []K) error {
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id K
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		into[id] = name
	}
	return rows.Err()
}
