// Package audit is the append-only log every sandbox capability call is
// written to, regardless of outcome. Schema is the spec's capability/
// decision/result record rather than the teacher's free-form event shape,
// but the write-through-store-with-in-memory-fallback layering is grounded
// on internal/storage/memory.go's mutex-guarded map/slice pattern.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

// Store is the audit log's public contract: append-only writes plus
// filtered queries and a newest-first recent-entries view.
type Store interface {
	Append(ctx context.Context, entry types.AuditEntry) error
	Query(ctx context.Context, filter types.AuditFilter) ([]types.AuditEntry, error)
	GetRecent(ctx context.Context, n int) ([]types.AuditEntry, error)
}

// SQLStore persists audit entries through the durable store.
type SQLStore struct {
	db *store.Store
}

// NewSQLStore wraps a durable store as an audit Store.
func NewSQLStore(db *store.Store) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, entry types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Run(ctx, `
		INSERT INTO audit_entries
			(id, timestamp, capability, action, resource, params, decision, result, output, error, duration_ms, requested_by, trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339Nano), entry.Capability, entry.Action, entry.Resource,
		entry.Params, string(entry.Decision), string(entry.Result), entry.Output, entry.Error,
		entry.DurationMs, entry.RequestedBy, entry.TraceID)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func buildFilterQuery(filter types.AuditFilter) (string, []any) {
	query := `SELECT id, timestamp, capability, action, resource, params, decision, result, output, error, duration_ms, requested_by, trace_id FROM audit_entries WHERE 1=1`
	var args []any
	if filter.Capability != "" {
		query += ` AND capability = ?`
		args = append(args, filter.Capability)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.Result != "" {
		query += ` AND result = ?`
		args = append(args, string(filter.Result))
	}
	if filter.RequestedBy != "" {
		query += ` AND requested_by = ?`
		args = append(args, filter.RequestedBy)
	}
	if filter.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		query += ` AND timestamp <= ?`
		args = append(args, filter.Until.Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	return query, args
}

func scanEntry(rows *sql.Rows) (types.AuditEntry, error) {
	var e types.AuditEntry
	var ts string
	var decision, result string
	if err := rows.Scan(&e.ID, &ts, &e.Capability, &e.Action, &e.Resource, &e.Params,
		&decision, &result, &e.Output, &e.Error, &e.DurationMs, &e.RequestedBy, &e.TraceID); err != nil {
		return e, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return e, err
	}
	e.Timestamp = parsed
	e.Decision = types.Decision(decision)
	e.Result = types.Result(result)
	return e, nil
}

func (s *SQLStore) Query(ctx context.Context, filter types.AuditFilter) ([]types.AuditEntry, error) {
	query, args := buildFilterQuery(filter)
	var entries []types.AuditEntry
	err := s.db.All(ctx, query, func(rows *sql.Rows) error {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) GetRecent(ctx context.Context, n int) ([]types.AuditEntry, error) {
	return s.Query(ctx, types.AuditFilter{Limit: n})
}
