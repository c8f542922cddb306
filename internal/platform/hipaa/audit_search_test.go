package hipaa

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestAuditQuery_Where(t *testing.T) {
	actor := uuid.MustParse("5b0d7c0e-3f1a-4b7e-9c55-0a9f1b2c3d4e")
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	where, args := AuditQuery{Entity: "compliance_hold", Action: ActionOverride, ActorID: &actor, From: &from}.where()

	want := " WHERE entity = $1 AND action = $2 AND actor_id = $3 AND created_at >= $4"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 4 || args[2] != actor {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestAuditQuery_WhereEmpty(t *testing.T) {
	where, args := AuditQuery{}.where()
	if where != "" || args != nil {
		t.Errorf("expected no filter, got %q %v", where, args)
	}
}

func TestAccessQuery_Where(t *testing.T) {
	where, args := AccessQuery{PatientID: "42"}.where()
	if where != " WHERE patient_id = $1" || len(args) != 1 {
		t.Errorf("unexpected filter: %q %v", where, args)
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct{ limit, offset, wantLimit, wantOffset int }{
		{0, 0, 50, 0},
		{10, 5, 10, 5},
		{9000, -3, 500, 0},
	}
	for _, tc := range cases {
		l, o := clampPage(tc.limit, tc.offset)
		if l != tc.wantLimit || o != tc.wantOffset {
			t.Errorf("clampPage(%d,%d) = %d,%d", tc.limit, tc.offset, l, o)
		}
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	actor := uuid.New()
	records := []*AuditRecord{
		{
			ID: uuid.New(), Entity: "bottle_changeover", EntityID: "c1", Action: ActionChangeover,
			ActorID: &actor, Detail: map[string]interface{}{"variance_ml": "-1.5"},
			CreatedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		},
		{ID: uuid.New(), Entity: "inventory_snapshot", EntityID: "s1", Action: ActionSnapshot},
	}

	var buf bytes.Buffer
	if err := WriteRecordsCSV(&buf, records); err != nil {
		t.Fatalf("WriteRecordsCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][1] != "2024-03-15T09:00:00Z" || rows[1][5] != actor.String() {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if !strings.Contains(rows[1][6], "variance_ml") {
		t.Errorf("expected detail json, got %q", rows[1][6])
	}
	if rows[2][5] != "" || rows[2][6] != "" {
		t.Errorf("expected empty actor and detail, got %v", rows[2])
	}
}

type stubTrail struct {
	lastRecords AuditQuery
	lastAccess  AccessQuery
	records     []*AuditRecord
}

func (s *stubTrail) SearchRecords(_ context.Context, q AuditQuery) ([]*AuditRecord, int, error) {
	s.lastRecords = q
	return s.records, len(s.records), nil
}

func (s *stubTrail) SearchAccess(_ context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	s.lastAccess = q
	return []*AccessRecord{}, 0, nil
}

func TestAuditHandler_SearchRecordsFilters(t *testing.T) {
	trail := &stubTrail{}
	h := NewAuditHandler(trail)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/audit/records?entity=compliance_hold&from=2024-03-01T00:00:00Z&_count=10", nil)
	rec := httptest.NewRecorder()
	if err := h.SearchRecords(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if trail.lastRecords.Entity != "compliance_hold" || trail.lastRecords.From == nil || trail.lastRecords.Limit != 10 {
		t.Errorf("filters not passed through: %+v", trail.lastRecords)
	}
}

func TestAuditHandler_BadTimestamp(t *testing.T) {
	h := NewAuditHandler(&stubTrail{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/audit/access?to=yesterday", nil)
	err := h.SearchAccess(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestAuditHandler_BadActor(t *testing.T) {
	h := NewAuditHandler(&stubTrail{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/audit/records?actor_id=nurse", nil)
	err := h.SearchRecords(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestAuditHandler_ExportRecords(t *testing.T) {
	trail := &stubTrail{records: []*AuditRecord{{ID: uuid.New(), Entity: "compliance_override", EntityID: "o1", Action: ActionOverride}}}
	h := NewAuditHandler(trail)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/audit/records/export?_count=3", nil)
	rec := httptest.NewRecorder()
	if err := h.ExportRecords(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}
	if trail.lastRecords.Limit != MaxExportRows {
		t.Errorf("expected export limit %d, got %d", MaxExportRows, trail.lastRecords.Limit)
	}
	if !strings.Contains(rec.Body.String(), "compliance_override") {
		t.Errorf("expected record in body: %s", rec.Body.String())
	}
}
