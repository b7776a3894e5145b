package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/incidentd/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const incidentColumns = `
	id, kind, service_name, signature_hash, exception_class_name,
	first_seen_at, last_seen_at, occurrence_count, primary_trace_id, sample_message,
	status, created_at, updated_at, acknowledged_at, resolved_at, resolution_note, version,
	category, severity, status_code, method, path`

// IncidentRepository persists incidents in Postgres.
type IncidentRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewIncidentRepository returns an IncidentRepository using the given pool.
func NewIncidentRepository(pool *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{pool: pool, db: pool}
}

// FindOpenBySignature returns the most recently seen OPEN incident inside the window, or nil.
func (r *IncidentRepository) FindOpenBySignature(ctx context.Context, service, hash string, threshold time.Time) (*model.Incident, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+incidentColumns+`
		FROM incidents
		WHERE service_name = $1 AND signature_hash = $2 AND status = $3 AND last_seen_at > $4
		ORDER BY `+incidentOrder+`
		LIMIT 1`, service, hash, model.StatusOpen, threshold)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	return inc, nil
}

// FindByID returns one incident by id, or nil if not found.
func (r *IncidentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	inc, err := scanIncident(r.db.QueryRow(ctx, `SELECT`+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find incident %s: %w", id, err)
	}
	return inc, nil
}

// Save inserts a new incident or updates an existing one if its version still matches.
func (r *IncidentRepository) Save(ctx context.Context, inc *model.Incident) error {
	if inc.Version == 0 {
		return r.insert(ctx, inc)
	}
	req := requestColumns(inc.Request)
	tag, err := r.db.Exec(ctx, `
		UPDATE incidents SET
			last_seen_at = $3, occurrence_count = $4, status = $5, updated_at = $6,
			acknowledged_at = $7, resolved_at = $8, resolution_note = $9,
			primary_trace_id = $10, sample_message = $11,
			category = $12, severity = $13, status_code = $14, method = $15, path = $16,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		inc.ID, inc.Version,
		inc.LastSeenAt, inc.OccurrenceCount, inc.Status, inc.UpdatedAt,
		inc.AcknowledgedAt, inc.ResolvedAt, nullText(inc.ResolutionNote),
		nullText(inc.PrimaryTraceID), nullText(inc.SampleMessage),
		req.category, req.severity, req.statusCode, req.method, req.path,
	)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update incident %s at version %d: %w", inc.ID, inc.Version, model.ErrConflict)
	}
	inc.Version++
	return nil
}

// insert runs under a savepoint inside a transaction, so a duplicate key leaves
// the enclosing signature lock scope usable for the retry.
func (r *IncidentRepository) insert(ctx context.Context, inc *model.Incident) error {
	if tx, ok := r.db.(pgx.Tx); ok {
		return pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
			return (&IncidentRepository{db: sp}).insertRow(ctx, inc)
		})
	}
	return r.insertRow(ctx, inc)
}

func (r *IncidentRepository) insertRow(ctx context.Context, inc *model.Incident) error {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.Kind == "" {
		inc.Kind = model.KindSignature
	}
	req := requestColumns(inc.Request)
	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1,
			$17, $18, $19, $20, $21)
		RETURNING version`
	err := r.db.QueryRow(ctx, query,
		inc.ID,
		inc.Kind,
		inc.ServiceName,
		nullText(inc.SignatureHash),
		nullText(inc.ExceptionClassName),
		inc.FirstSeenAt,
		inc.LastSeenAt,
		inc.OccurrenceCount,
		nullText(inc.PrimaryTraceID),
		nullText(inc.SampleMessage),
		inc.Status,
		inc.CreatedAt,
		inc.UpdatedAt,
		inc.AcknowledgedAt,
		inc.ResolvedAt,
		nullText(inc.ResolutionNote),
		req.category, req.severity, req.statusCode, req.method, req.path,
	).Scan(&inc.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert incident %s: %w", inc.ID, model.ErrConflict)
		}
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// List returns incidents ordered by last_seen_at descending.
func (r *IncidentRepository) List(ctx context.Context, filter ListFilter) ([]model.Incident, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ServiceName != "" {
		args = append(args, filter.ServiceName)
		where = append(where, fmt.Sprintf("service_name = $%d", len(args)))
	}
	query := `SELECT` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d", incidentOrder, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var list []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *inc)
	}
	return list, rows.Err()
}

// WithSignatureLock runs fn in a transaction holding an advisory lock on service+hash.
func (r *IncidentRepository) WithSignatureLock(ctx context.Context, service, hash string, fn func(IncidentStore) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(service, hash)); err != nil {
			return fmt.Errorf("signature lock: %w", err)
		}
		return fn(&IncidentRepository{db: tx})
	})
}

func scanIncident(row pgx.Row) (*model.Incident, error) {
	var (
		inc                                     model.Incident
		hash, className, traceID, message, note pgtype.Text
		category, severity, method, path        pgtype.Text
		statusCode                              pgtype.Int4
	)
	err := row.Scan(
		&inc.ID,
		&inc.Kind,
		&inc.ServiceName,
		&hash,
		&className,
		&inc.FirstSeenAt,
		&inc.LastSeenAt,
		&inc.OccurrenceCount,
		&traceID,
		&message,
		&inc.Status,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.AcknowledgedAt,
		&inc.ResolvedAt,
		&note,
		&inc.Version,
		&category,
		&severity,
		&statusCode,
		&method,
		&path,
	)
	if err != nil {
		return nil, err
	}
	inc.SignatureHash = hash.String
	inc.ExceptionClassName = className.String
	inc.PrimaryTraceID = traceID.String
	inc.SampleMessage = message.String
	inc.ResolutionNote = note.String
	if inc.Kind == model.KindRequest {
		inc.Request = &model.RequestFailure{
			Category:   category.String,
			Severity:   severity.String,
			StatusCode: int(statusCode.Int32),
			Method:     method.String,
			Path:       path.String,
		}
	}
	return &inc, nil
}

type requestCols struct {
	category, severity, method, path pgtype.Text
	statusCode                       pgtype.Int4
}

func requestColumns(rf *model.RequestFailure) requestCols {
	if rf == nil {
		return requestCols{}
	}
	return requestCols{
		category:   nullText(rf.Category),
		severity:   nullText(rf.Severity),
		method:     nullText(rf.Method),
		path:       nullText(rf.Path),
		statusCode: pgtype.Int4{Int32: int32(rf.StatusCode), Valid: rf.StatusCode != 0},
	}
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
