package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/config"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/compliance"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/dosing"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/inventory"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/medication"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/patient"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/scheduling"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/domain/takehome"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/apperr"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/auth"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/hipaa"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/middleware"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/notification"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/reporting"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/websocket"
	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "emr-server",
		Short:        "Opioid treatment program EMR API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the EMR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(tenant)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Clinic whose schema is migrated")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(tenant)
			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Clinic whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinic schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating clinic schema: %s\n", db.SchemaFor(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrationSource(dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Clinic created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")
	createCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")

	cmd.AddCommand(createCmd)
	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Appointment reminders",
	}

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Text every scheduled appointment in the window that has not been reminded",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			within, _ := cmd.Flags().GetDuration("within")

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			loc, _ := cfg.Location()

			// Reminders run outside a request, so bind the clinic schema the
			// way the tenant middleware does.
			ctx, release, err := db.BindTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), patient.NewDrugScreenRepoPG(pool), db.NewTxManager(pool))
			notifier := notification.NewNotifier(newSMSSender(cfg, logger), notification.NewTemplateEngine(), logger, nil)
			svc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), patientSvc, notifier, logger)
			svc.SetLocation(loc)

			sent, failed, err := svc.SendDueReminders(ctx, within)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reminders sent: %d, failed: %d\n", sent, failed)
			return nil
		},
	}
	sendCmd.Flags().String("tenant", "default", "Clinic whose appointments are reminded")
	sendCmd.Flags().Duration("within", 24*time.Hour, "Remind appointments starting within this window")

	cmd.AddCommand(sendCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 staff token signed with AUTH_SIGNING_KEY (development and test clinics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("token issuing is disabled in production")
			}
			staff, _ := cmd.Flags().GetString("staff")
			name, _ := cmd.Flags().GetString("name")
			tenant, _ := cmd.Flags().GetString("tenant")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tok, err := auth.SignToken([]byte(cfg.AuthSigningKey), staff, name, tenant, splitRoles(roles), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("staff", auth.DevUserID, "Staff UUID placed in the subject")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("tenant", "default", "Clinic identifier")
	cmd.Flags().String("roles", auth.RoleNurse, "Comma-separated roles")
	cmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")
	return cmd
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// newSMSSender returns a Twilio sender when credentials are configured and a
// logging sender otherwise.
func newSMSSender(cfg *config.Config, logger zerolog.Logger) notification.SMSSender {
	if cfg.SMSConfigured() {
		return notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	logger.Warn().Msg("Twilio is not configured; SMS messages are logged only")
	return notification.NewLogSender(logger)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	auditLogger := hipaa.NewAuditLogger(pool)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.NewMetrics(reg).Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.ClinicHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	// Health and metrics sit outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Auth middleware
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		api.Use(auth.DevAuthMiddleware(cfg.DefaultTenant))
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Tenant and audit middleware
	api.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	api.Use(middleware.Audit(logger, auditLogger))

	txm := db.NewTxManager(pool)
	notifier := notification.NewNotifier(newSMSSender(cfg, logger), notification.NewTemplateEngine(), logger, reg)

	// Patients and drug screens
	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), patient.NewDrugScreenRepoPG(pool), txm)
	patient.NewHandler(patientSvc).RegisterRoutes(api)

	// Formulary, orders and prescriptions
	medicationSvc := medication.NewService(
		medication.NewMedicationRepoPG(pool),
		medication.NewPatientMedicationRepoPG(pool),
		medication.NewPrescriptionRepoPG(pool),
		txm,
		auditLogger,
	)
	medication.NewHandler(medicationSvc).RegisterRoutes(api)

	// Compliance holds and overrides
	complianceSvc := compliance.NewService(
		compliance.NewHoldRepoPG(pool),
		compliance.NewOverrideRepoPG(pool),
		compliance.NewNameResolverPG(pool),
		txm,
		auditLogger,
		logger,
	)
	complianceSvc.SetNotifier(notifier, cfg.MedicalDirectorPhone)
	alerts := websocket.NewHub(logger)
	complianceSvc.SetEventPublisher(alerts)
	websocket.NewHandler(alerts, cfg.CORSOrigins).RegisterRoutes(
		api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleChargeNurse, auth.RolePhysician, auth.RoleAdmin)))
	compliance.NewHandler(complianceSvc).RegisterRoutes(api)
	patientSvc.SetHoldOpener(complianceSvc, cfg.AutoHoldOnPositiveUDS)

	// Take-home orders and kits
	takehomeSvc := takehome.NewService(
		takehome.NewOrderRepoPG(pool),
		takehome.NewKitRepoPG(pool),
		complianceSvc,
		patientSvc,
		patientSvc,
		takehome.Policy{LookbackDays: cfg.UDSLookbackDays, AutoHoldOnPositive: cfg.AutoHoldOnPositiveUDS},
	)
	takehome.NewHandler(takehomeSvc).RegisterRoutes(api)

	// Dose preparation, dispensing and bottles
	dosingSvc := dosing.NewService(
		dosing.NewBottleRepoPG(pool),
		dosing.NewChangeoverRepoPG(pool),
		dosing.NewDispensationRepoPG(pool),
		dosing.NewOrderLookupPG(pool),
		txm,
		auditLogger,
	)
	dosingSvc.SetLocation(loc)
	dosing.NewHandler(dosingSvc).RegisterRoutes(api)

	// Controlled-substance inventory
	inventorySvc := inventory.NewService(inventory.NewSnapshotRepoPG(pool), inventory.NewStockLookupPG(pool), txm, auditLogger)
	inventory.NewHandler(inventorySvc).RegisterRoutes(api)

	// Appointments and reminders
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), patientSvc, notifier, logger)
	schedulingSvc.SetLocation(loc)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(api)

	// Reports and the audit trail
	reporting.NewHandler(pool).RegisterRoutes(api)
	hipaa.NewAuditHandler(hipaa.NewAuditTrail(pool)).RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleAdmin)))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("clinic_timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
