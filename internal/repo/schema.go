package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// baseTable is the shape of installations that predate updated_at.
const baseTable = `
	CREATE TABLE IF NOT EXISTS tasks (
		id          BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		summary     TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

type optionalColumn struct {
	name       string
	definition string
}

// optionalColumns are added in place when missing. Additive only.
var optionalColumns = []optionalColumn{
	{name: "updated_at", definition: "TIMESTAMPTZ"},
	{name: "version", definition: "INTEGER NOT NULL DEFAULT 1"},
	{name: "summary_state", definition: "TEXT NOT NULL DEFAULT 'fresh'"},
}

var trailingStatements = []string{
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key         TEXT PRIMARY KEY,
		resource_id BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_summary_state ON tasks (summary_state)`,
}

// EnsureSchema creates the tasks table if needed and adds any optional column
// an older dataset lacks. It returns the names of the columns it added, so a
// second run on the same database returns nothing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) ([]string, error) {
	if _, err := pool.Exec(ctx, baseTable); err != nil {
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	var added []string
	for _, col := range optionalColumns {
		exists, err := columnExists(ctx, pool, "tasks", col.name)
		if err != nil {
			return added, fmt.Errorf("inspect column %s: %w", col.name, err)
		}
		if exists {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE tasks ADD COLUMN IF NOT EXISTS %s %s", col.name, col.definition)
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return added, fmt.Errorf("add column %s: %w", col.name, err)
		}
		logger.Info("Database migrated: added column", zap.String("table", "tasks"), zap.String("column", col.name))
		added = append(added, col.name)
	}

	for _, stmt := range trailingStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return added, fmt.Errorf("ensure schema: %w", err)
		}
	}

	return added, nil
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, table, column string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = $1
			  AND column_name = $2
		)
	`, table, column).Scan(&exists)
	return exists, err
}
