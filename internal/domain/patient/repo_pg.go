package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, mrn, first_name, last_name, to_char(date_of_birth, 'YYYY-MM-DD'),
	phone, risk_level, active, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Phone, &p.RiskLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (mrn, first_name, last_name, date_of_birth, phone, risk_level, active)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.RiskLevel, p.Active,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("patient with mrn %s already exists", p.MRN)
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET mrn=$2, first_name=$3, last_name=$4, date_of_birth=$5::date,
			phone=$6, active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Active,
	).Scan(&p.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return apperr.NotFound("patient %d not found", p.ID)
	case db.IsUniqueViolation(err):
		return apperr.Conflict("patient with mrn %s already exists", p.MRN)
	}
	return err
}

func (r *patientRepoPG) UpdateRiskLevel(ctx context.Context, id int64, riskLevel string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET risk_level = $2, updated_at = NOW() WHERE id = $1`, id, riskLevel)
	if err != nil {
		return fmt.Errorf("update risk level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %d not found", id)
	}
	return nil
}

func (r *patientRepoPG) SetDispensingName(ctx context.Context, id int64, name string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dispensing_patients (patient_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (patient_id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()`,
		id, name)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d not found", id)
	}
	return err
}

func (r *patientRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	where, args := patientFilter(params)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// patientFilter builds the WHERE clause for the supported search params:
// name (substring of first or last name), mrn, risk_level and active.
func patientFilter(params map[string]string) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if v := params["name"]; v != "" {
		args = append(args, "%"+strings.ToLower(v)+"%")
		conds = append(conds, fmt.Sprintf("(lower(first_name) LIKE $%[1]d OR lower(last_name) LIKE $%[1]d)", len(args)))
	}
	if v := params["mrn"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("mrn = $%d", len(args)))
	}
	if v := params["risk_level"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("risk_level = $%d", len(args)))
	}
	if v := params["active"]; v != "" {
		args = append(args, v == "true")
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =========== Drug Screen Repository ===========

type drugScreenRepoPG struct{ pool *pgxpool.Pool }

func NewDrugScreenRepoPG(pool *pgxpool.Pool) DrugScreenRepository {
	return &drugScreenRepoPG{pool: pool}
}

func (r *drugScreenRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const screenCols = `id, patient_id, collected_at, result, substances, recorded_by, created_at`

func (r *drugScreenRepoPG) scanScreen(row pgx.Row) (*DrugScreen, error) {
	var ds DrugScreen
	err := row.Scan(&ds.ID, &ds.PatientID, &ds.CollectedAt, &ds.Result, &ds.Substances, &ds.RecordedBy, &ds.CreatedAt)
	return &ds, err
}

func (r *drugScreenRepoPG) Create(ctx context.Context, ds *DrugScreen) error {
	if ds.Substances == nil {
		ds.Substances = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_screens (patient_id, collected_at, result, substances, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		ds.PatientID, ds.CollectedAt, ds.Result, ds.Substances, ds.RecordedBy,
	).Scan(&ds.ID, &ds.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d not found", ds.PatientID)
	}
	return err
}

func (r *drugScreenRepoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*DrugScreen, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM drug_screens WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count drug screens: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+screenCols+` FROM drug_screens
		WHERE patient_id = $1 ORDER BY collected_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list drug screens: %w", err)
	}
	defer rows.Close()
	var items []*DrugScreen
	for rows.Next() {
		ds, err := r.scanScreen(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ds)
	}
	return items, total, rows.Err()
}

func (r *drugScreenRepoPG) HasPositiveSince(ctx context.Context, patientID int64, since time.Time) (bool, error) {
	var found bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM drug_screens
			WHERE patient_id = $1 AND result = 'positive' AND collected_at >= $2
		)`, patientID, since).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check positive drug screens: %w", err)
	}
	return found, nil
}
