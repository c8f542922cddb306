// Package reporting serves the program's regulatory measures: census by risk
// level, take-home volume, hold and override activity, drug-screen positivity
// and controlled-substance variance.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// MeasureDefinition defines a reporting measure with its SQL query. Windowed
// measures take the reporting period as $1 (from, inclusive) and $2 (to,
// exclusive).
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
	Windowed    bool   `json:"windowed"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	From        *string                  `json:"from,omitempty"`
	To          *string                  `json:"to,omitempty"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "census-by-risk-level",
		Name:        "Census by Risk Level",
		Description: "Active patients grouped by take-home risk level",
		SQL: `SELECT risk_level, COUNT(*) AS total FROM patients
		      WHERE active GROUP BY risk_level ORDER BY risk_level`,
	},
	{
		ID:          "takehome-orders",
		Name:        "Take-Home Orders",
		Description: "Take-home orders started in the period by risk level and status, with total dispensed days",
		SQL: `SELECT risk_level, status, COUNT(*) AS orders, COALESCE(SUM(days), 0) AS total_days
		      FROM takehome_orders WHERE start_date >= $1 AND start_date < $2
		      GROUP BY risk_level, status ORDER BY risk_level, status`,
		Windowed: true,
	},
	{
		ID:          "open-compliance-holds",
		Name:        "Open Compliance Holds",
		Description: "Currently open holds grouped by reason code",
		SQL: `SELECT reason_code, COUNT(*) AS total, MIN(opened_time) AS oldest
		      FROM compliance_holds WHERE status = 'open' GROUP BY reason_code ORDER BY total DESC`,
	},
	{
		ID:          "overrides-awaiting-review",
		Name:        "Overrides Awaiting Medical Director Review",
		Description: "Hold overrides requiring review, flagged when past their review deadline",
		SQL: `SELECT o.id, o.hold_id, o.override_type, o.override_time, o.review_by,
		             o.review_by < NOW() AS overdue
		      FROM compliance_hold_overrides o
		      WHERE o.requires_md_review AND o.reviewed_at IS NULL
		      ORDER BY o.review_by`,
	},
	{
		ID:          "uds-positivity",
		Name:        "Drug Screen Positivity",
		Description: "Urine drug screens collected in the period by result",
		SQL: `SELECT result, COUNT(*) AS total FROM drug_screens
		      WHERE collected_at >= $1 AND collected_at < $2
		      GROUP BY result ORDER BY result`,
		Windowed: true,
	},
	{
		ID:          "changeover-variance",
		Name:        "Bottle Changeover Variance",
		Description: "Net and absolute volume variance recorded at bottle changeover, per medication",
		SQL: `SELECT m.name AS medication, COUNT(*) AS changeovers,
		             SUM(c.variance_ml) AS net_variance_ml, SUM(ABS(c.variance_ml)) AS abs_variance_ml
		      FROM bottle_changeovers c
		      JOIN bottles b ON b.id = c.old_bottle_id
		      JOIN medications m ON m.id = b.medication_id
		      WHERE c.performed_at >= $1 AND c.performed_at < $2
		      GROUP BY m.name ORDER BY m.name`,
		Windowed: true,
	},
	{
		ID:          "inventory-variance",
		Name:        "Controlled Substance Count Variance",
		Description: "Inventory count lines with non-zero variance in the period",
		SQL: `SELECT s.taken_at, m.name AS medication, l.schedule, l.counting_method,
		             l.expected_qty, l.counted_qty, l.variance
		      FROM inventory_snapshot_lines l
		      JOIN inventory_snapshots s ON s.id = l.snapshot_id
		      JOIN medications m ON m.id = l.medication_id
		      WHERE s.taken_at >= $1 AND s.taken_at < $2 AND l.variance <> 0
		      ORDER BY s.taken_at DESC`,
		Windowed: true,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

type queryFunc func(ctx context.Context, sql string, args ...any) ([]map[string]interface{}, error)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	query queryFunc
	now   func() time.Time
}

func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{
		query: func(ctx context.Context, sql string, args ...any) ([]map[string]interface{}, error) {
			return collect(ctx, db.Conn(ctx, pool), sql, args...)
		},
		now: time.Now,
	}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RolePhysician, auth.RolePharmacist))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs a measure. Windowed measures read ?from= and ?to=
// (YYYY-MM-DD); the default period is the last 30 days.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return apperr.NotFound("measure %q not found", c.Param("id"))
	}

	report := MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
	}

	var args []any
	if measure.Windowed {
		from, to, err := h.period(c.QueryParam("from"), c.QueryParam("to"))
		if err != nil {
			return err
		}
		args = []any{from, to}
		f, t := from.Format(time.DateOnly), to.Format(time.DateOnly)
		report.From, report.To = &f, &t
	}

	results, err := h.query(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return apperr.Internal(fmt.Errorf("evaluate %s: %w", measure.ID, err))
	}
	report.Results = results
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) period(fromStr, toStr string) (time.Time, time.Time, error) {
	today := h.now().UTC().Truncate(24 * time.Hour)
	to := today.AddDate(0, 0, 1)
	from := today.AddDate(0, 0, -30)

	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.DateOnly, fromStr); err != nil {
			return from, to, apperr.Validation("from must be a date in YYYY-MM-DD format")
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.DateOnly, toStr); err != nil {
			return from, to, apperr.Validation("to must be a date in YYYY-MM-DD format")
		}
	}
	if !from.Before(to) {
		return from, to, apperr.Validation("from must be before to")
	}
	return from, to, nil
}

func collect(ctx context.Context, q db.Querier, sql string, args ...any) ([]map[string]interface{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
