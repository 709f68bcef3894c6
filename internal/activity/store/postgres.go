package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"commandbridge/internal/activity/models"
	"commandbridge/internal/platform/database"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
)

// PostgresStore persists activity events in PostgreSQL. Retention is
// enforced by the reaper through DeleteExpired.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `user_email, ts, event_type, data, device, expires_at`

// PutBatch upserts the batch in one transaction.
func (s *PostgresStore) PutBatch(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO activity_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_email, ts) DO UPDATE
		SET event_type = EXCLUDED.event_type,
		    data = EXCLUDED.data,
		    device = EXCLUDED.device,
		    expires_at = EXCLUDED.expires_at
	`
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare activity insert: %w", err)
		}
		defer stmt.Close()
		for _, ev := range events {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("encode activity data: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, ev.User.String(), ev.Timestamp, string(ev.Type),
				data, ev.Device, ev.ExpiresAt); err != nil {
				return fmt.Errorf("insert activity event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// Query walks events in (ts, user_email) descending order.
func (s *PostgresStore) Query(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Event, error) {
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
	if filter.Type != "" {
		add("event_type = $%d", string(filter.Type))
	}
	if filter.Start > 0 {
		add("ts >= $%d", filter.Start)
	}
	if filter.End > 0 {
		add("ts <= $%d", filter.End)
	}
	if !cursor.IsZero() {
		args = append(args, cursor.Time.UnixMilli(), cursor.Key)
		conds = append(conds, fmt.Sprintf("(ts, user_email) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM activity_events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY ts DESC, user_email DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		var (
			ev   models.Event
			user string
			typ  string
			data []byte
		)
		if err := rows.Scan(&user, &ev.Timestamp, &typ, &data, &ev.Device, &ev.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		ev.User = domain.Email(user)
		ev.Type = models.EventType(typ)
		ev.ExpiresAt = ev.ExpiresAt.UTC()
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("decode activity data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) ActiveUsers(ctx context.Context, since int64) ([]models.ActiveUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_email, MAX(ts), COUNT(*)
		FROM activity_events
		WHERE ts >= $1
		GROUP BY user_email
		ORDER BY MAX(ts) DESC, user_email
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	users := make([]models.ActiveUser, 0)
	for rows.Next() {
		var (
			au   models.ActiveUser
			user string
		)
		if err := rows.Scan(&user, &au.LastSeen, &au.EventCount); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		au.User = domain.Email(user)
		users = append(users, au)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_events WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired activity: %w", err)
	}
	return int(n), nil
}
