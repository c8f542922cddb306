package scheduling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, provider_id, start_time, end_time, status, appointment_type,
	reason, reminder_sent_at, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.StartTime, &a.EndTime, &a.Status, &a.AppointmentType,
		&a.Reason, &a.ReminderSentAt, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, provider_id, start_time, end_time, status, appointment_type, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.ProviderID, a.StartTime, a.EndTime, a.Status, a.AppointmentType, a.Reason,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d or provider not found", a.PatientID)
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET provider_id = $2, start_time = $3, end_time = $4, status = $5,
			appointment_type = $6, reason = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ProviderID, a.StartTime, a.EndTime, a.Status, a.AppointmentType, a.Reason,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("provider not found")
	}
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment %s not found", id)
	}
	return nil
}

func (r *appointmentRepoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET reminder_sent_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark appointment reminded: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
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
	if v := params["provider_id"]; v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return nil, 0, apperr.Validation("invalid provider_id: %s", v)
		}
		args = append(args, pid)
		conds = append(conds, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if v := params["status"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if v := params["from"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("start_time >= $%d::timestamptz", len(args)))
	}
	if v := params["to"]; v != "" {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("start_time < $%d::timestamptz", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM appointments%s ORDER BY start_time LIMIT $%d OFFSET $%d`,
		apptCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) DueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE status = 'scheduled' AND reminder_sent_at IS NULL
		  AND start_time >= $1 AND start_time < $2
		ORDER BY start_time`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments due for reminder: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
