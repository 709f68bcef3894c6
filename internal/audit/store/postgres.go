package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"commandbridge/internal/audit/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
)

// PostgresStore persists audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, user_email, action_id, target, ticket, result, approved_by, detail, ts, month_bucket`

func (s *PostgresStore) Append(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	detail, err := marshalDetail(rec.Detail)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		rec.UserEmail.String(),
		rec.ActionID.String(),
		rec.Target,
		rec.Ticket,
		string(rec.Result),
		rec.ApprovedBy.String(),
		detail,
		rec.Timestamp,
		rec.MonthBucket,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("audit record %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.RecordID) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

// Transition applies a conditional update guarded by the current result.
func (s *PostgresStore) Transition(ctx context.Context, id domain.RecordID, from, to models.Result, approver domain.Email, detail map[string]any) (*models.Record, error) {
	patch, err := marshalDetail(detail)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE audit_records
		SET result = $3,
		    approved_by = CASE WHEN $4 = '' THEN approved_by ELSE $4 END,
		    detail = detail || $5::jsonb
		WHERE id = $1 AND result = $2
		RETURNING ` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		uuid.UUID(id), string(from), string(to), approver.String(), patch))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition audit record: %w", err)
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT result FROM audit_records WHERE id = $1`, uuid.UUID(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read audit record state: %w", err)
	}
	return nil, fmt.Errorf("record is %s: %w", current, sentinel.ErrConflict)
}

// Query walks the index matching the filter in (ts, id) descending order.
func (s *PostgresStore) Query(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.User != "" {
		add("user_email = $%d", filter.User.String())
	}
	if filter.Action != "" {
		add("action_id = $%d", filter.Action.String())
	}
	if filter.Result != "" {
		add("result = $%d", string(filter.Result))
	}
	if !filter.From.IsZero() {
		add("ts >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts < $%d", filter.To)
	}
	if !cursor.IsZero() {
		cursorID, err := uuid.Parse(cursor.Key)
		if err != nil {
			return nil, fmt.Errorf("cursor id: %w", sentinel.ErrInvalidState)
		}
		args = append(args, cursor.Time, cursorID)
		conds = append(conds, fmt.Sprintf("(ts, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM audit_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (*models.Record, error) {
	var (
		rec        models.Record
		recordID   uuid.UUID
		userEmail  string
		actionID   string
		result     string
		approvedBy string
		detail     []byte
	)
	if err := row.Scan(&recordID, &userEmail, &actionID, &rec.Target, &rec.Ticket, &result,
		&approvedBy, &detail, &rec.Timestamp, &rec.MonthBucket); err != nil {
		return nil, err
	}
	rec.ID = domain.RecordID(recordID)
	rec.UserEmail = domain.Email(userEmail)
	rec.ActionID = domain.ActionID(actionID)
	rec.Result = models.Result(result)
	rec.ApprovedBy = domain.Email(approvedBy)
	rec.Timestamp = rec.Timestamp.UTC()
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &rec.Detail); err != nil {
			return nil, fmt.Errorf("decode detail: %w", err)
		}
		if len(rec.Detail) == 0 {
			rec.Detail = nil
		}
	}
	return &rec, nil
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode detail: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
