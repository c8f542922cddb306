// Package integration runs the services against a real Postgres. Set
// EMR_TEST_DATABASE_URL to reuse a server; otherwise a Docker container is
// started, and the suite is skipped when Docker is unavailable.
package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/compliance"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/dosing"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/inventory"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/medication"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/patient"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/takehome"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/migrations"
)

var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	var (
		pool *pgxpool.Pool
		stop = func() {}
		err  error
	)
	if url := os.Getenv("EMR_TEST_DATABASE_URL"); url != "" {
		pool, err = db.NewPool(ctx, url, 10, 1)
	} else {
		if !dockerAvailable() {
			fmt.Fprintln(os.Stderr, "skipping integration tests: docker not found and EMR_TEST_DATABASE_URL unset")
			os.Exit(0)
		}
		pool, stop, err = startPostgres(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration database: %v\n", err)
		os.Exit(1)
	}
	globalPool = pool

	code := m.Run()
	pool.Close()
	stop()
	os.Exit(code)
}

// dockerAvailable reports whether testcontainers has a daemon to talk to,
// either a local docker binary or an explicit DOCKER_HOST.
func dockerAvailable() bool {
	if os.Getenv("DOCKER_HOST") != "" {
		return true
	}
	_, err := exec.LookPath("docker")
	return err == nil
}

// devStaff is seeded by the core migration.
var devStaff = uuid.MustParse(auth.DevUserID)

// clinic is one migrated tenant schema with every service wired to it.
type clinic struct {
	id         string
	ctx        context.Context
	patients   *patient.Service
	meds       *medication.Service
	compliance *compliance.Service
	takehome   *takehome.Service
	dosing     *dosing.Service
	inventory  *inventory.Service
}

// newClinic creates a fresh schema, binds a connection to it the way the
// tenant middleware does and builds the services on top.
func newClinic(t *testing.T) *clinic {
	t.Helper()
	ctx := context.Background()
	tenantID := "it_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	if err := db.CreateTenantSchema(ctx, globalPool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		if _, err := globalPool.Exec(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaFor(tenantID))); err != nil {
			t.Logf("warning: failed to drop schema for %s: %v", tenantID, err)
		}
	})

	tctx, release, err := db.BindTenant(ctx, globalPool, tenantID)
	if err != nil {
		t.Fatalf("bind tenant: %v", err)
	}
	t.Cleanup(release)

	txm := db.NewTxManager(globalPool)
	audit := hipaa.NewAuditLogger(globalPool)

	c := &clinic{id: tenantID, ctx: tctx}
	c.patients = patient.NewService(patient.NewPatientRepoPG(globalPool), patient.NewDrugScreenRepoPG(globalPool), txm)
	c.meds = medication.NewService(
		medication.NewMedicationRepoPG(globalPool),
		medication.NewPatientMedicationRepoPG(globalPool),
		medication.NewPrescriptionRepoPG(globalPool),
		txm, audit,
	)
	c.compliance = compliance.NewService(
		compliance.NewHoldRepoPG(globalPool),
		compliance.NewOverrideRepoPG(globalPool),
		compliance.NewNameResolverPG(globalPool),
		txm, audit, zerolog.Nop(),
	)
	c.patients.SetHoldOpener(c.compliance, true)
	c.takehome = takehome.NewService(
		takehome.NewOrderRepoPG(globalPool),
		takehome.NewKitRepoPG(globalPool),
		c.compliance, c.patients, c.patients,
		takehome.Policy{LookbackDays: 30, AutoHoldOnPositive: true},
	)
	c.dosing = dosing.NewService(
		dosing.NewBottleRepoPG(globalPool),
		dosing.NewChangeoverRepoPG(globalPool),
		dosing.NewDispensationRepoPG(globalPool),
		dosing.NewOrderLookupPG(globalPool),
		txm, audit,
	)
	c.inventory = inventory.NewService(inventory.NewSnapshotRepoPG(globalPool), inventory.NewStockLookupPG(globalPool), txm, audit)
	return c
}

// session binds another connection to the clinic, for tests that need
// concurrent transactions.
func (c *clinic) session(t *testing.T) context.Context {
	t.Helper()
	ctx, release, err := db.BindTenant(context.Background(), globalPool, c.id)
	if err != nil {
		t.Fatalf("bind tenant: %v", err)
	}
	t.Cleanup(release)
	return ctx
}

func (c *clinic) createPatient(t *testing.T, mrn, risk string) *patient.Patient {
	t.Helper()
	phone := "+15550142"
	p := &patient.Patient{MRN: mrn, FirstName: "Jordan", LastName: "Doe", RiskLevel: risk, Phone: &phone}
	if err := c.patients.CreatePatient(c.ctx, p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func (c *clinic) createMedication(t *testing.T, name, schedule string, conc int64) *medication.Medication {
	t.Helper()
	m := &medication.Medication{Name: name, ConcentrationMgPerMl: decimal.NewFromInt(conc)}
	if schedule != "" {
		m.Schedule = &schedule
	}
	if err := c.meds.CreateMedication(c.ctx, m); err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return m
}

func (c *clinic) createBottle(t *testing.T, medID uuid.UUID, lot string, ml int64) *dosing.Bottle {
	t.Helper()
	b := &dosing.Bottle{MedicationID: medID, LotNumber: lot, InitialVolumeMl: decimal.NewFromInt(ml)}
	if err := c.dosing.CreateBottle(c.ctx, b); err != nil {
		t.Fatalf("create bottle: %v", err)
	}
	return b
}

// auditCount counts audit_log rows for an entity and action.
func (c *clinic) auditCount(t *testing.T, entity, action string) int {
	t.Helper()
	var n int
	err := db.ConnFromContext(c.ctx).QueryRow(c.ctx,
		`SELECT COUNT(*) FROM audit_log WHERE entity = $1 AND action = $2`, entity, action).Scan(&n)
	if err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return n
}
