// Package exports evolves the data_exports table schema so the application
// can track per-user ownership of export artifacts.
package exports

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kasaweb/kasa-monitor-ops/internal/audit"
	"github.com/kasaweb/kasa-monitor-ops/internal/store"
)

const (
	// TableName is the application table being migrated.
	TableName = "data_exports"
	// ColumnName is the ownership column added by the migration.
	ColumnName = "user_id"

	migrationName = "add_user_id_column"
)

// Result is the terminal state of one migration run.
type Result int

const (
	// Migrated means the user_id column was added and committed.
	Migrated Result = iota
	// AlreadyMigrated means the column was already present; nothing changed.
	AlreadyMigrated
	// NoTable means the database has no data_exports table; nothing changed.
	NoTable
	// NoFile means the database file does not exist; nothing changed.
	NoFile
	// FailedTransient means a retryable store error (e.g. lock contention)
	// prevented the migration.
	FailedTransient
	// FailedFatal means a non-retryable store error prevented the migration.
	FailedFatal
)

func (r Result) String() string {
	switch r {
	case Migrated:
		return "migrated"
	case AlreadyMigrated:
		return "already-migrated"
	case NoTable:
		return "no-table"
	case NoFile:
		return "no-file"
	case FailedTransient:
		return "failed-transient"
	case FailedFatal:
		return "failed-fatal"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Success reports whether r is a terminal state the operator should treat
// as success. No-op states are successes; the schema is already where the
// application needs it to be (or there is nothing to act on).
func (r Result) Success() bool {
	switch r {
	case Migrated, AlreadyMigrated, NoTable, NoFile:
		return true
	default:
		return false
	}
}

// migrationDetails is the structured payload recorded in the audit row.
type migrationDetails struct {
	Migration string `json:"migration"`
	Table     string `json:"table"`
}

// Migrator adds the nullable user_id column to data_exports, idempotently.
// Progress markers for the operator go to out; diagnostics go to the logger.
type Migrator struct {
	log *zap.Logger
	out io.Writer
}

// NewMigrator returns a Migrator writing operator progress to out.
func NewMigrator(log *zap.Logger, out io.Writer) *Migrator {
	return &Migrator{log: log, out: out}
}

// Run executes the migration against the database at dbPath and returns the
// terminal state. The error is non-nil only for the Failed* results. The
// schema change commits strictly before the audit insert is attempted, and
// an audit failure after a committed schema change is reported as a warning,
// not an error.
func (m *Migrator) Run(ctx context.Context, dbPath string) (Result, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(m.out, "Database file %s does not exist; nothing to migrate.\n", dbPath)
		return NoFile, nil
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return m.fail("open database", err)
	}
	defer s.Close()

	tableExists, err := s.TableExists(ctx, TableName)
	if err != nil {
		return m.fail("check table", err)
	}
	if !tableExists {
		fmt.Fprintf(m.out, "%s table does not exist yet; nothing to migrate.\n", TableName)
		return NoTable, nil
	}

	hasColumn, err := s.HasColumn(ctx, TableName, ColumnName)
	if err != nil {
		return m.fail("check column", err)
	}
	if hasColumn {
		fmt.Fprintf(m.out, "Migration not needed: %s column already exists.\n", ColumnName)
		return AlreadyMigrated, nil
	}

	// Nullable, no default: existing rows materialize the column as NULL.
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER", TableName, ColumnName))
		return err
	})
	if err != nil {
		return m.fail("alter table", err)
	}

	fmt.Fprintf(m.out, "Migration completed successfully: added %s column to %s.\n", ColumnName, TableName)
	m.log.Info("schema migration committed",
		zap.String("table", TableName),
		zap.String("column", ColumnName),
	)

	m.recordAudit(ctx, s)

	return Migrated, nil
}

// recordAudit appends one audit_log row describing the schema change. The
// schema change has already committed; any failure here is a warning only.
func (m *Migrator) recordAudit(ctx context.Context, s *store.Store) {
	auditExists, err := s.TableExists(ctx, audit.TableName)
	if err != nil {
		m.log.Warn("could not check for audit_log table", zap.Error(err))
		return
	}
	if !auditExists {
		m.log.Debug("no audit_log table, skipping audit entry")
		return
	}

	rec := audit.Record{
		EventType:    "system.config_changed",
		Severity:     "info",
		Username:     "system",
		IPAddress:    "127.0.0.1",
		UserAgent:    "migration-script",
		ResourceType: "database",
		ResourceID:   TableName,
		Action:       migrationName,
		Details:      migrationDetails{Migration: migrationName, Table: TableName},
		Success:      true,
		Timestamp:    time.Now().UTC(),
	}
	if err := audit.Insert(ctx, s, rec); err != nil {
		fmt.Fprintln(m.out, "Warning: schema change committed but audit entry could not be written.")
		m.log.Warn("audit insert failed after committed migration", zap.Error(err))
		return
	}
	m.log.Info("audit entry recorded", zap.String("event_type", rec.EventType))
}

// fail rolls the run into a Failed* state, classifying the error as
// transient (operator quiesces writers and retries) or fatal.
func (m *Migrator) fail(op string, err error) (Result, error) {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if store.IsTransient(err) {
		m.log.Error("migration blocked by a locked database; quiesce writers and retry", zap.Error(wrapped))
		return FailedTransient, wrapped
	}
	m.log.Error("migration failed", zap.Error(wrapped))
	return FailedFatal, wrapped
}
