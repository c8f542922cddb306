package hipaa

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// MaxExportRows caps a single CSV export.
const MaxExportRows = 5000

// AuditQuery filters audit_log rows. Zero values match everything.
type AuditQuery struct {
	Entity   string
	EntityID string
	Action   string
	ActorID  *uuid.UUID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// AccessQuery filters phi_access_log rows.
type AccessQuery struct {
	UserID    string
	PatientID string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// AccessRecord is a stored AccessEntry.
type AccessRecord struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Roles      []string  `json:"roles"`
	Resource   string    `json:"resource"`
	PatientID  *string   `json:"patient_id,omitempty"`
	Action     string    `json:"action"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	IPAddress  string    `json:"ip_address,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	AccessedAt time.Time `json:"accessed_at"`
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// where builds the shared WHERE clause for an audit_log query.
func (q AuditQuery) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Entity != "" {
		add("entity = $%d", q.Entity)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.ActorID != nil {
		add("actor_id = $%d", *q.ActorID)
	}
	if q.From != nil {
		add("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("created_at < $%d", *q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q AccessQuery) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.PatientID != "" {
		add("patient_id = $%d", q.PatientID)
	}
	if q.From != nil {
		add("accessed_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("accessed_at < $%d", *q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// AuditTrail reads back what AuditLogger wrote.
type AuditTrail struct {
	pool *pgxpool.Pool
}

func NewAuditTrail(pool *pgxpool.Pool) *AuditTrail {
	return &AuditTrail{pool: pool}
}

// SearchRecords returns matching audit_log rows, newest first, and the total.
func (t *AuditTrail) SearchRecords(ctx context.Context, q AuditQuery) ([]*AuditRecord, int, error) {
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	where, args := q.where()
	conn := db.Conn(ctx, t.pool)

	var total int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count records: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, entity, entity_id, action, actor_id, detail, created_at
		FROM audit_log%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: search records: %w", err)
	}
	defer rows.Close()

	out := []*AuditRecord{}
	for rows.Next() {
		var r AuditRecord
		var detail []byte
		if err := rows.Scan(&r.ID, &r.Entity, &r.EntityID, &r.Action, &r.ActorID, &detail, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan record: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &r.Detail); err != nil {
				return nil, 0, fmt.Errorf("audit: decode detail of %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, total, rows.Err()
}

// SearchAccess returns matching phi_access_log rows, newest first.
func (t *AuditTrail) SearchAccess(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	where, args := q.where()
	conn := db.Conn(ctx, t.pool)

	var total int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM phi_access_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count access: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, COALESCE(user_id, ''), COALESCE(roles, '{}'), resource, patient_id, action,
		method, path, status_code, COALESCE(ip_address, ''), COALESCE(request_id, ''), accessed_at
		FROM phi_access_log%s ORDER BY accessed_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: search access: %w", err)
	}
	defer rows.Close()

	out := []*AccessRecord{}
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Roles, &r.Resource, &r.PatientID, &r.Action,
			&r.Method, &r.Path, &r.StatusCode, &r.IPAddress, &r.RequestID, &r.AccessedAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan access: %w", err)
		}
		out = append(out, &r)
	}
	return out, total, rows.Err()
}

var csvHeader = []string{"id", "created_at", "entity", "entity_id", "action", "actor_id", "detail"}

// WriteRecordsCSV writes records as CSV with a header row.
func WriteRecordsCSV(w io.Writer, records []*AuditRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, r := range records {
		actor := ""
		if r.ActorID != nil {
			actor = r.ActorID.String()
		}
		detail := ""
		if len(r.Detail) > 0 {
			b, err := json.Marshal(r.Detail)
			if err != nil {
				return fmt.Errorf("audit export csv: encode detail: %w", err)
			}
			detail = string(b)
		}
		row := []string{
			r.ID.String(), r.CreatedAt.UTC().Format(time.RFC3339), r.Entity, r.EntityID, r.Action, actor, detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AuditSearcher is the read side used by AuditHandler.
type AuditSearcher interface {
	SearchRecords(ctx context.Context, q AuditQuery) ([]*AuditRecord, int, error)
	SearchAccess(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error)
}

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	trail AuditSearcher
}

func NewAuditHandler(trail AuditSearcher) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// RegisterRoutes mounts the handlers on g. The caller applies the role check.
func (h *AuditHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/audit/records", h.SearchRecords)
	g.GET("/audit/records/export", h.ExportRecords)
	g.GET("/audit/access", h.SearchAccess)
}

func parseWindow(c echo.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	for name, dst := range map[string]**time.Time{"from": &from, "to": &to} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
		}
		*dst = &ts
	}
	return from, to, nil
}

func parseAuditQuery(c echo.Context) (AuditQuery, error) {
	q := AuditQuery{
		Entity:   c.QueryParam("entity"),
		EntityID: c.QueryParam("entity_id"),
		Action:   c.QueryParam("action"),
	}
	if v := c.QueryParam("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid actor_id")
		}
		q.ActorID = &id
	}
	from, to, err := parseWindow(c)
	if err != nil {
		return q, err
	}
	q.From, q.To = from, to
	q.Limit, _ = strconv.Atoi(c.QueryParam("_count"))
	q.Offset, _ = strconv.Atoi(c.QueryParam("_offset"))
	return q, nil
}

func (h *AuditHandler) SearchRecords(c echo.Context) error {
	q, err := parseAuditQuery(c)
	if err != nil {
		return err
	}
	records, total, err := h.trail.SearchRecords(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": records, "total": total})
}

// ExportRecords streams matching records as CSV.
func (h *AuditHandler) ExportRecords(c echo.Context) error {
	q, err := parseAuditQuery(c)
	if err != nil {
		return err
	}
	q.Limit, q.Offset = MaxExportRows, 0
	records, _, err := h.trail.SearchRecords(c.Request().Context(), q)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.csv\"", time.Now().UTC().Format("20060102_150405")))
	c.Response().WriteHeader(http.StatusOK)
	return WriteRecordsCSV(c.Response(), records)
}

func (h *AuditHandler) SearchAccess(c echo.Context) error {
	from, to, err := parseWindow(c)
	if err != nil {
		return err
	}
	q := AccessQuery{
		UserID:    c.QueryParam("user_id"),
		PatientID: c.QueryParam("patient_id"),
		From:      from,
		To:        to,
	}
	q.Limit, _ = strconv.Atoi(c.QueryParam("_count"))
	q.Offset, _ = strconv.Atoi(c.QueryParam("_offset"))
	entries, total, err := h.trail.SearchAccess(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries, "total": total})
}
