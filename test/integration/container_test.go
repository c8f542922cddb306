package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

const postgresImage = "postgres:16-alpine"

// startPostgres runs a throwaway Postgres container and returns a pool
// connected to it.
func startPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "emr",
				"POSTGRES_USER":     "emr",
				"POSTGRES_PASSWORD": "emr",
			},
			// The init script restarts the server once, so the first ready
			// line is not the one that accepts TCP connections.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	stop := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("postgres host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("postgres port: %w", err)
	}
	url := fmt.Sprintf("postgres://emr:emr@%s:%s/emr?sslmode=disable", host, port.Port())

	pool, err := waitForPool(ctx, url, 30*time.Second)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return pool, stop, nil
}

// waitForPool retries db.NewPool until the server accepts connections.
func waitForPool(ctx context.Context, url string, timeout time.Duration) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attempt, cancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err := db.NewPool(attempt, url, 10, 1)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
}
