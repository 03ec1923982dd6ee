// Package audit writes operational events to the application's audit_log
// table. The table belongs to the audit subsystem; this package only appends
// to it and never creates or alters it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kasaweb/kasa-monitor-ops/internal/store"
)

// TableName is the audit subsystem's table.
const TableName = "audit_log"

// columns is the field list this package writes, in the order the audit
// subsystem declares them. Inserts always name columns explicitly, so the
// target table may carry extra columns (or a different physical order) as
// long as every name here is present.
var columns = []string{
	"event_type",
	"severity",
	"user_id",
	"username",
	"ip_address",
	"user_agent",
	"session_id",
	"resource_type",
	"resource_id",
	"action",
	"details",
	"success",
	"error_message",
	"timestamp",
}

// Record is one audit_log row.
type Record struct {
	EventType    string
	Severity     string
	UserID       sql.NullInt64
	Username     string
	IPAddress    string
	UserAgent    string
	SessionID    sql.NullString
	ResourceType string
	ResourceID   string
	Action       string
	Details      any // serialized to JSON at insert time
	Success      bool
	ErrorMessage sql.NullString
	Timestamp    time.Time
}

// Insert appends rec to audit_log. It first introspects the table's columns
// and refuses to insert if any expected column name is missing; relying on
// positional order against a schema owned by another subsystem is not safe.
func Insert(ctx context.Context, s *store.Store, rec Record) error {
	cols, err := s.TableColumns(ctx, TableName)
	if err != nil {
		return fmt.Errorf("introspect %s: %w", TableName, err)
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c.Name] = true
	}
	for _, name := range columns {
		if !present[name] {
			return fmt.Errorf("%s is missing expected column %q", TableName, name)
		}
	}

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		TableName, strings.Join(columns, ", "), placeholders)

	return s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			rec.EventType,
			rec.Severity,
			rec.UserID,
			rec.Username,
			rec.IPAddress,
			rec.UserAgent,
			rec.SessionID,
			rec.ResourceType,
			rec.ResourceID,
			rec.Action,
			string(details),
			rec.Success,
			rec.ErrorMessage,
			ts.Format(time.RFC3339),
		)
		return err
	})
}
