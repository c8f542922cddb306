package medication

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medCols = `id, name, schedule, concentration_mg_per_ml, form, active, created_at`

func (r *medicationRepoPG) scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Name, &m.Schedule, &m.ConcentrationMgPerMl, &m.Form, &m.Active, &m.CreatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medications (name, schedule, concentration_mg_per_ml, form, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		m.Name, m.Schedule, m.ConcentrationMgPerMl, m.Form, m.Active,
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medications WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medication %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medications SET name=$2, schedule=$3, concentration_mg_per_ml=$4, form=$5, active=$6
		WHERE id = $1`,
		m.ID, m.Name, m.Schedule, m.ConcentrationMgPerMl, m.Form, m.Active)
	if err != nil {
		return fmt.Errorf("update medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("medication %s not found", m.ID)
	}
	return nil
}

func (r *medicationRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medications`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medications: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications`+where+
		` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := r.scanMed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// =========== Patient Medication Repository ===========

type patientMedRepoPG struct{ pool *pgxpool.Pool }

func NewPatientMedicationRepoPG(pool *pgxpool.Pool) PatientMedicationRepository {
	return &patientMedRepoPG{pool: pool}
}

func (r *patientMedRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const pmCols = `pm.id, pm.patient_id, pm.medication_id, m.name, pm.daily_dose_mg, pm.status,
	to_char(pm.start_date, 'YYYY-MM-DD'), pm.prescriber_id, pm.discontinue_reason,
	pm.discontinued_by, pm.discontinued_at, pm.created_at`

const pmFrom = ` FROM patient_medications pm JOIN medications m ON m.id = pm.medication_id`

func (r *patientMedRepoPG) scanPM(row pgx.Row) (*PatientMedication, error) {
	var pm PatientMedication
	err := row.Scan(&pm.ID, &pm.PatientID, &pm.MedicationID, &pm.MedicationName, &pm.DailyDoseMg, &pm.Status,
		&pm.StartDate, &pm.PrescriberID, &pm.DiscontinueReason,
		&pm.DiscontinuedBy, &pm.DiscontinuedAt, &pm.CreatedAt)
	return &pm, err
}

func (r *patientMedRepoPG) Create(ctx context.Context, pm *PatientMedication) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_medications (patient_id, medication_id, daily_dose_mg, status, start_date, prescriber_id)
		VALUES ($1, $2, $3, $4, $5::date, $6)
		RETURNING id, created_at`,
		pm.PatientID, pm.MedicationID, pm.DailyDoseMg, pm.Status, pm.StartDate, pm.PrescriberID,
	).Scan(&pm.ID, &pm.CreatedAt)
	switch {
	case db.IsUniqueViolation(err):
		return apperr.Conflict("patient %d already has an active order for this medication", pm.PatientID)
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("patient or medication not found")
	}
	return err
}

func (r *patientMedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientMedication, error) {
	pm, err := r.scanPM(r.conn(ctx).QueryRow(ctx, `SELECT `+pmCols+pmFrom+` WHERE pm.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient medication %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient medication: %w", err)
	}
	return pm, nil
}

func (r *patientMedRepoPG) ListByPatient(ctx context.Context, patientID int64, status string, limit, offset int) ([]*PatientMedication, int, error) {
	where := ` WHERE pm.patient_id = $1 AND ($2::text = '' OR pm.status = $2::text)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+pmFrom+where, patientID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient medications: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pmCols+pmFrom+where+
		` ORDER BY pm.created_at DESC LIMIT $3 OFFSET $4`, patientID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient medications: %w", err)
	}
	defer rows.Close()
	var items []*PatientMedication
	for rows.Next() {
		pm, err := r.scanPM(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, pm)
	}
	return items, total, rows.Err()
}

func (r *patientMedRepoPG) Discontinue(ctx context.Context, pm *PatientMedication) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_medications
		SET status = 'discontinued', discontinue_reason = $2, discontinued_by = $3, discontinued_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING status, discontinued_at`,
		pm.ID, pm.DiscontinueReason, pm.DiscontinuedBy,
	).Scan(&pm.Status, &pm.DiscontinuedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("discontinue patient medication: %w", err)
	}
	return true, nil
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, patient_id, prescriber_id, medication_name, dose, quantity, refills, status,
	cancel_reason, cancelled_by, cancelled_at, created_at`

func (r *prescriptionRepoPG) scanRx(row pgx.Row) (*Prescription, error) {
	var rx Prescription
	err := row.Scan(&rx.ID, &rx.PatientID, &rx.PrescriberID, &rx.MedicationName, &rx.Dose, &rx.Quantity, &rx.Refills, &rx.Status,
		&rx.CancelReason, &rx.CancelledBy, &rx.CancelledAt, &rx.CreatedAt)
	return &rx, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, rx *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (patient_id, prescriber_id, medication_name, dose, quantity, refills, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rx.PatientID, rx.PrescriberID, rx.MedicationName, rx.Dose, rx.Quantity, rx.Refills, rx.Status,
	).Scan(&rx.ID, &rx.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d not found", rx.PatientID)
	}
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	rx, err := r.scanRx(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return rx, nil
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID int64, status string, limit, offset int) ([]*Prescription, int, error) {
	where := ` WHERE patient_id = $1 AND ($2::text = '' OR status = $2::text)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions`+where, patientID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rxCols+` FROM prescriptions`+where+
		` ORDER BY created_at DESC LIMIT $3 OFFSET $4`, patientID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		rx, err := r.scanRx(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rx)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) Cancel(ctx context.Context, rx *Prescription) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions
		SET status = 'cancelled', cancel_reason = $2, cancelled_by = $3, cancelled_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING status, cancelled_at`,
		rx.ID, rx.CancelReason, rx.CancelledBy,
	).Scan(&rx.Status, &rx.CancelledAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancel prescription: %w", err)
	}
	return true, nil
}
