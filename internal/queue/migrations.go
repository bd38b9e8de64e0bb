package queue

import (
	"database/sql"
	"fmt"

	"repoops/internal/logging"
)

// migration defines an additive column migration.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations for databases created before the
// column existed. CREATE TABLE IF NOT EXISTS never alters existing tables, so
// upgrades happen here.
var pendingMigrations = []migration{
	{"work_items", "occurrences", "INTEGER NOT NULL DEFAULT 1"},
	{"work_items", "error", "TEXT NOT NULL DEFAULT ''"},
}

// runMigrations applies pending column migrations to an existing database.
func runMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			// Column may already exist in a different form; don't fail startup
			logging.QueueWarn("migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
		logging.Queue("migration applied: added %s.%s", m.Table, m.Column)
	}
	if applied > 0 {
		logging.Queue("schema migrations complete: applied=%d", applied)
	}
	return nil
}

// columnExists checks if a column exists using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
