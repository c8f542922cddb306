package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Snapshot Repository ===========

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

func (r *snapshotRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const lineCols = `id, snapshot_id, medication_id, schedule, counting_method, expected_qty, counted_qty, variance`

// Create batches the line inserts. It must run inside a transaction so that a
// failed line leaves no partial snapshot.
func (r *snapshotRepoPG) Create(ctx context.Context, s *Snapshot) error {
	q := r.conn(ctx)
	if err := q.QueryRow(ctx, `
		INSERT INTO inventory_snapshots (taken_by, notes)
		VALUES ($1, $2)
		RETURNING id, taken_at`, s.TakenBy, s.Notes,
	).Scan(&s.ID, &s.TakenAt); err != nil {
		return fmt.Errorf("insert inventory snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range s.Lines {
		l.SnapshotID = s.ID
		batch.Queue(`
			INSERT INTO inventory_snapshot_lines (snapshot_id, medication_id, schedule, counting_method,
				expected_qty, counted_qty, variance)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			l.SnapshotID, l.MedicationID, l.Schedule, l.CountingMethod, l.ExpectedQty, l.CountedQty, l.Variance)
	}
	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for _, l := range s.Lines {
		if err := br.QueryRow().Scan(&l.ID); err != nil {
			if db.IsForeignKeyViolation(err) {
				return apperr.NotFound("medication %s not found", l.MedicationID)
			}
			return fmt.Errorf("insert inventory snapshot line: %w", err)
		}
	}
	s.LineCount = len(s.Lines)
	return br.Close()
}

func (r *snapshotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	var s Snapshot
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, taken_by, taken_at, notes FROM inventory_snapshots WHERE id = $1`, id).
		Scan(&s.ID, &s.TakenBy, &s.TakenAt, &s.Notes)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("inventory snapshot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory snapshot: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineCols+` FROM inventory_snapshot_lines
		WHERE snapshot_id = $1 ORDER BY schedule NULLS LAST, medication_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list inventory snapshot lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SnapshotID, &l.MedicationID, &l.Schedule, &l.CountingMethod,
			&l.ExpectedQty, &l.CountedQty, &l.Variance); err != nil {
			return nil, err
		}
		s.Lines = append(s.Lines, &l)
	}
	s.LineCount = len(s.Lines)
	return &s, rows.Err()
}

func (r *snapshotRepoPG) List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM inventory_snapshots`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inventory snapshots: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.taken_by, s.taken_at, s.notes,
			(SELECT COUNT(*) FROM inventory_snapshot_lines l WHERE l.snapshot_id = s.id)
		FROM inventory_snapshots s
		ORDER BY s.taken_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list inventory snapshots: %w", err)
	}
	defer rows.Close()
	var items []*Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.TakenBy, &s.TakenAt, &s.Notes, &s.LineCount); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}

// =========== Stock Lookup ===========

type stockLookupPG struct{ pool *pgxpool.Pool }

func NewStockLookupPG(pool *pgxpool.Pool) StockLookup {
	return &stockLookupPG{pool: pool}
}

func (r *stockLookupPG) Medications(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, name, schedule FROM medications WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup medications: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*Medication, len(ids))
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.Name, &m.Schedule); err != nil {
			return nil, err
		}
		out[m.ID] = &m
	}
	return out, rows.Err()
}

func (r *stockLookupPG) OnHand(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT medication_id, COALESCE(SUM(current_volume_ml), 0)
		FROM bottles
		WHERE medication_id = ANY($1) AND status <> 'retired'
		GROUP BY medication_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("sum bottle stock: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]decimal.Decimal, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}
