// Package hipaa records who touched which clinical record. Regulated state
// changes (hold overrides, bottle changeovers, inventory counts) write an
// AuditRecord inside the same transaction as the change; every API call
// writes an AccessEntry after the response.
package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// Audit actions for regulated changes.
const (
	ActionCreate      = "create"
	ActionOverride    = "override"
	ActionReview      = "review"
	ActionClose       = "close"
	ActionChangeover  = "changeover"
	ActionDispense    = "dispense"
	ActionSnapshot    = "snapshot"
	ActionCancel      = "cancel"
	ActionDiscontinue = "discontinue"
	ActionActivate    = "activate"
	ActionRemind      = "remind"
)

// AuditRecord is a row in audit_log.
type AuditRecord struct {
	ID        uuid.UUID              `json:"id"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entity_id"`
	Action    string                 `json:"action"`
	ActorID   *uuid.UUID             `json:"actor_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AccessEntry is a row in phi_access_log.
type AccessEntry struct {
	UserID     string
	Roles      []string
	Resource   string
	PatientID  string
	Action     string
	Method     string
	Path       string
	StatusCode int
	IPAddress  string
	UserAgent  string
	RequestID  string
	AccessedAt time.Time
}

// Recorder persists audit records. Services take this interface; AuditLogger
// is the Postgres implementation.
type Recorder interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

// AuditLogger writes audit rows through the transaction or tenant connection
// found in ctx, falling back to the pool.
type AuditLogger struct {
	pool *pgxpool.Pool
}

func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record inserts rec. Called inside a service transaction, the row commits or
// rolls back with the change it describes.
func (a *AuditLogger) Record(ctx context.Context, rec *AuditRecord) error {
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	err = db.Conn(ctx, a.pool).QueryRow(ctx,
		`INSERT INTO audit_log (entity, entity_id, action, actor_id, detail)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		rec.Entity, rec.EntityID, rec.Action, rec.ActorID, detail,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert %s %s: %w", rec.Entity, rec.Action, err)
	}
	return nil
}

// RecordAccess inserts an API access entry.
func (a *AuditLogger) RecordAccess(ctx context.Context, e AccessEntry) error {
	if e.AccessedAt.IsZero() {
		e.AccessedAt = time.Now().UTC()
	}
	_, err := db.Conn(ctx, a.pool).Exec(ctx,
		`INSERT INTO phi_access_log (user_id, roles, resource, patient_id, action, method, path,
		     status_code, ip_address, user_agent, request_id, accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.UserID, e.Roles, e.Resource, nullable(e.PatientID), e.Action, e.Method, e.Path,
		e.StatusCode, e.IPAddress, e.UserAgent, e.RequestID, e.AccessedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert access entry: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
