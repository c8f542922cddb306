package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
	commitHooks contextKey = "db_commit_hooks"
)

// ClinicHeader names the clinic for requests that carry no tenant claim.
const ClinicHeader = "X-Clinic-ID"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the Postgres schema that holds a clinic's data.
func SchemaFor(tenantID string) string {
	return "tenant_" + tenantID
}

// TenantMiddleware resolves the clinic for the request, pins a pooled
// connection to its schema and stores both in the request context.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx, release, err := BindTenant(c.Request().Context(), pool, tenantID)
			if err != nil {
				if errors.Is(err, errAcquire) {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

// extractTenantID prefers the tenant claim set by the auth middleware, then
// the clinic header, then the clinic query parameter used by websocket
// clients that cannot set headers.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get(ClinicHeader); tid != "" {
		return tid
	}
	if tid := c.QueryParam("clinic"); tid != "" {
		return tid
	}
	return defaultTenant
}

var errAcquire = errors.New("acquire connection")

// BindTenant acquires a connection whose search_path points at the clinic's
// schema and returns a context carrying it. The caller must call release.
func BindTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return ctx, func() {}, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("%w: %v", errAcquire, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(tenantID))); err != nil {
		conn.Release()
		return ctx, func() {}, fmt.Errorf("set search_path for %s: %w", tenantID, err)
	}
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the schema for a clinic and, when migrations is
// non-nil, brings it up to date.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrations fs.FS) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := SchemaFor(tenantID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
