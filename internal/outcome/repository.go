package outcome

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// timeLayout has fixed-width fractions so TEXT ordering is chronological.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Filter controls which outcomes to return.
type Filter struct {
	Action  string // optional: exact action, e.g. lights.animate
	Target  string // optional: lights, audio, device:fan
	Status  string // optional: succeeded, failed, rejected
	CauseID string // optional: the event that produced the instruction
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains one page of outcomes.
type ListResult struct {
	Outcomes []Record `json:"outcomes"`
	Total    int      `json:"total"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

// Repository stores and queries outcomes.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores outcomes in the outcomes table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an outcome. A missing ID or FinishedAt is filled in.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}

	var paramsJSON *string
	if len(rec.Params) > 0 {
		b, err := json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("marshalling outcome params: %w", err)
		}
		s := string(b)
		paramsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, room_id, action, target, priority, source, cause_id,
		                       status, reason, attempts, degraded, params, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RoomID, rec.Action, rec.Target, rec.Priority,
		nullableString(rec.Source), nullableString(rec.CauseID),
		rec.Status, nullableString(rec.Reason), rec.Attempts, rec.Degraded, paramsJSON,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns outcomes matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"action", filter.Action},
		{"target", filter.Target},
		{"status", filter.Status},
		{"cause_id", filter.CauseID},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM outcomes %s", where) //nolint:gosec // WHERE built from fixed column names and ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed column names and ? placeholders
		`SELECT id, room_id, action, target, priority, source, cause_id, status, reason,
		        attempts, degraded, params, started_at, finished_at
		 FROM outcomes %s ORDER BY finished_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	return &ListResult{
		Outcomes: records,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var source, causeID, reason, paramsJSON sql.NullString
	var startedAt, finishedAt string

	if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.Action, &rec.Target, &rec.Priority,
		&source, &causeID, &rec.Status, &reason, &rec.Attempts, &rec.Degraded,
		&paramsJSON, &startedAt, &finishedAt); err != nil {
		return Record{}, fmt.Errorf("scanning outcome: %w", err)
	}

	rec.Source = source.String
	rec.CauseID = causeID.String
	rec.Reason = reason.String
	if paramsJSON.Valid && paramsJSON.String != "" {
		var params map[string]any
		if json.Unmarshal([]byte(paramsJSON.String), &params) == nil {
			rec.Params = params
		}
	}

	var err error
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return Record{}, fmt.Errorf("parsing outcome start %q: %w", startedAt, err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return Record{}, fmt.Errorf("parsing outcome finish %q: %w", finishedAt, err)
	}
	return rec, nil
}
