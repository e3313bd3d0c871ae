package database

import (
	"context"
	"fmt"

	dbsql "spyglass/pkg/database/sql"
	"spyglass/pkg/logging"
)

// MigratePostgres applies the embedded PostgreSQL schema. Statements are
// idempotent so the call is safe on every startup.
func MigratePostgres(db PostgresConn, logger logging.Logger) error {
	content, err := dbsql.Content.ReadFile("schema/spyglass.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	if _, err := db.Exec(string(content)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("PostgreSQL schema applied")
	return nil
}

// MigrateClickHouse applies the embedded ClickHouse schema on the native
// connection. ClickHouse rejects multi-statement execs, so the file holds a
// single statement.
func MigrateClickHouse(ctx context.Context, conn ClickHouseNativeConn, logger logging.Logger) error {
	content, err := dbsql.Content.ReadFile("clickhouse/spyglass.sql")
	if err != nil {
		return fmt.Errorf("read embedded clickhouse schema: %w", err)
	}

	if err := conn.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("apply clickhouse schema: %w", err)
	}

	logger.Info("ClickHouse schema applied")
	return nil
}
