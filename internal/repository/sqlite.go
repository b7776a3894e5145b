package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/akave-ai/incidentd/internal/model"
)

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a single-node store backed by an embedded SQLite file.
// Timestamps are stored as UTC unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
	q  sqlQuerier
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, q: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS incidents (
			id                   TEXT PRIMARY KEY,
			kind                 TEXT    NOT NULL,
			service_name         TEXT    NOT NULL,
			signature_hash       TEXT,
			exception_class_name TEXT,
			first_seen_at        INTEGER NOT NULL,
			last_seen_at         INTEGER NOT NULL,
			occurrence_count     INTEGER NOT NULL DEFAULT 1,
			primary_trace_id     TEXT,
			sample_message       TEXT,
			status               TEXT    NOT NULL,
			created_at           INTEGER NOT NULL,
			updated_at           INTEGER NOT NULL,
			acknowledged_at      INTEGER,
			resolved_at          INTEGER,
			resolution_note      TEXT,
			version              INTEGER NOT NULL DEFAULT 1,
			category             TEXT,
			severity             TEXT,
			status_code          INTEGER,
			method               TEXT,
			path                 TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_signature
			ON incidents(service_name, signature_hash, status, last_seen_at);
		CREATE INDEX IF NOT EXISTS idx_incidents_last_seen ON incidents(last_seen_at);

		CREATE TABLE IF NOT EXISTS incident_events (
			id          TEXT PRIMARY KEY,
			incident_id TEXT    NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
			event_type  TEXT    NOT NULL,
			note        TEXT,
			occurred_at INTEGER NOT NULL,
			trace_id    TEXT,
			message     TEXT,
			created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_incident_events_incident
			ON incident_events(incident_id, occurred_at);
	`)
	return err
}

func (s *SQLiteStore) FindOpenBySignature(ctx context.Context, service, hash string, threshold time.Time) (*model.Incident, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT`+incidentColumns+`
		FROM incidents
		WHERE service_name = ? AND signature_hash = ? AND status = ? AND last_seen_at > ?
		ORDER BY `+incidentOrder+`
		LIMIT 1`, service, hash, string(model.StatusOpen), nanos(threshold))
	inc, err := scanSQLiteIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	return inc, nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	inc, err := scanSQLiteIncident(s.q.QueryRowContext(ctx, `SELECT`+incidentColumns+` FROM incidents WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find incident %s: %w", id, err)
	}
	return inc, nil
}

func (s *SQLiteStore) Save(ctx context.Context, inc *model.Incident) error {
	rf := inc.Request
	if rf == nil {
		rf = &model.RequestFailure{}
	}
	if inc.Version == 0 {
		if inc.ID == uuid.Nil {
			inc.ID = uuid.New()
		}
		if inc.Kind == "" {
			inc.Kind = model.KindSignature
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO incidents (`+incidentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
			inc.ID.String(), string(inc.Kind), inc.ServiceName,
			nullString(inc.SignatureHash), nullString(inc.ExceptionClassName),
			nanos(inc.FirstSeenAt), nanos(inc.LastSeenAt), inc.OccurrenceCount,
			nullString(inc.PrimaryTraceID), nullString(inc.SampleMessage),
			string(inc.Status), nanos(inc.CreatedAt), nanos(inc.UpdatedAt),
			nullNanos(inc.AcknowledgedAt), nullNanos(inc.ResolvedAt), nullString(inc.ResolutionNote),
			nullString(rf.Category), nullString(rf.Severity), nullInt(rf.StatusCode),
			nullString(rf.Method), nullString(rf.Path),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("insert incident %s: %w", inc.ID, model.ErrConflict)
			}
			return fmt.Errorf("insert incident: %w", err)
		}
		inc.Version = 1
		return nil
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE incidents SET
			last_seen_at = ?, occurrence_count = ?, status = ?, updated_at = ?,
			acknowledged_at = ?, resolved_at = ?, resolution_note = ?,
			primary_trace_id = ?, sample_message = ?,
			category = ?, severity = ?, status_code = ?, method = ?, path = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		nanos(inc.LastSeenAt), inc.OccurrenceCount, string(inc.Status), nanos(inc.UpdatedAt),
		nullNanos(inc.AcknowledgedAt), nullNanos(inc.ResolvedAt), nullString(inc.ResolutionNote),
		nullString(inc.PrimaryTraceID), nullString(inc.SampleMessage),
		nullString(rf.Category), nullString(rf.Severity), nullInt(rf.StatusCode),
		nullString(rf.Method), nullString(rf.Path),
		inc.ID.String(), inc.Version,
	)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update incident %s at version %d: %w", inc.ID, inc.Version, model.ErrConflict)
	}
	inc.Version++
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.Incident, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ServiceName != "" {
		where = append(where, "service_name = ?")
		args = append(args, filter.ServiceName)
	}
	query := `SELECT` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + incidentOrder + " LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var list []model.Incident
	for rows.Next() {
		inc, err := scanSQLiteIncident(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *inc)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, ev *model.IncidentEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, note, occurred_at, trace_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.IncidentID.String(), string(ev.Type), nullString(ev.Note),
		nanos(ev.OccurredAt), nullString(ev.TraceID), nullString(ev.Message), nanos(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append incident event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]model.IncidentEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, incident_id, event_type, note, occurred_at, trace_id, message, created_at
		FROM incident_events
		WHERE incident_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, incidentID.String(), eventsLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list incident events: %w", err)
	}
	defer rows.Close()

	var list []model.IncidentEvent
	for rows.Next() {
		var (
			ev                     model.IncidentEvent
			id, incID, typ         string
			note, traceID, message sql.NullString
			occurred, created      int64
		)
		if err := rows.Scan(&id, &incID, &typ, &note, &occurred, &traceID, &message, &created); err != nil {
			return nil, err
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		if ev.IncidentID, err = uuid.Parse(incID); err != nil {
			return nil, fmt.Errorf("parse incident id %q: %w", incID, err)
		}
		ev.Type = model.EventType(typ)
		ev.Note = note.String
		ev.OccurredAt = fromNanos(occurred)
		ev.TraceID = traceID.String
		ev.Message = message.String
		ev.CreatedAt = fromNanos(created)
		list = append(list, ev)
	}
	return list, rows.Err()
}

// WithSignatureLock runs fn inside an immediate transaction, which SQLite
// serializes against every other writer.
func (s *SQLiteStore) WithSignatureLock(ctx context.Context, _ string, _ string, fn func(IncidentStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&SQLiteStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIncident(row rowScanner) (*model.Incident, error) {
	var (
		inc                                     model.Incident
		id, kind, status                        string
		hash, className, traceID, message, note sql.NullString
		category, severity, method, path        sql.NullString
		statusCode, acked, resolved             sql.NullInt64
		first, last, created, updated           int64
	)
	err := row.Scan(
		&id, &kind, &inc.ServiceName, &hash, &className,
		&first, &last, &inc.OccurrenceCount, &traceID, &message,
		&status, &created, &updated, &acked, &resolved, &note, &inc.Version,
		&category, &severity, &statusCode, &method, &path,
	)
	if err != nil {
		return nil, err
	}
	if inc.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("incident id %q: %w", id, err)
	}
	inc.Kind = model.Kind(kind)
	inc.Status = model.Status(status)
	inc.SignatureHash = hash.String
	inc.ExceptionClassName = className.String
	inc.PrimaryTraceID = traceID.String
	inc.SampleMessage = message.String
	inc.ResolutionNote = note.String
	inc.FirstSeenAt = fromNanos(first)
	inc.LastSeenAt = fromNanos(last)
	inc.CreatedAt = fromNanos(created)
	inc.UpdatedAt = fromNanos(updated)
	if acked.Valid {
		t := fromNanos(acked.Int64)
		inc.AcknowledgedAt = &t
	}
	if resolved.Valid {
		t := fromNanos(resolved.Int64)
		inc.ResolvedAt = &t
	}
	if inc.Kind == model.KindRequest {
		inc.Request = &model.RequestFailure{
			Category:   category.String,
			Severity:   severity.String,
			StatusCode: int(statusCode.Int64),
			Method:     method.String,
			Path:       path.String,
		}
	}
	return &inc, nil
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
