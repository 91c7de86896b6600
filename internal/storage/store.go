package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"portaria/internal/config"
	"portaria/internal/model"
)

var ErrStorage = errors.New("storage error")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	// Persist replaces the snapshot table with table in one transaction.
	Persist(ctx context.Context, table model.Table) error
	// Read returns the persisted snapshot in its original row order.
	Read(ctx context.Context) (model.Table, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN, cfg.Table)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrStorage, cfg.Driver)
	}
}

var reTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const DefaultTable = "acessos"

var columns = []string{
	"row_id",
	"timestamp",
	"hour",
	"minute",
	"event_type",
	"actor_or_vehicle",
	"status",
	"notes",
	"actor_type",
	"response_time_seconds",
	"anomaly_flag",
	"anomaly_score",
	"severity_tag",
}

// dialect holds what differs between the SQL backends.
type dialect struct {
	createTable func(table string) string
	placeholder func(i int) string
	encodeTime  func(t time.Time) any
	decodeTime  func(v any) (time.Time, error)
}

type baseStore struct {
	db    *sql.DB
	table string
	d     dialect
}

func newBaseStore(db *sql.DB, table string, d dialect) (baseStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !reTableName.MatchString(table) {
		return baseStore{}, fmt.Errorf("%w: invalid table name %q", ErrStorage, table)
	}
	return baseStore{db: db, table: table, d: d}, nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStorage, err)
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) quoted() string {
	return `"` + b.table + `"`
}

func (b *baseStore) Persist(ctx context.Context, table model.Table) error {
	if b.db == nil {
		return fmt.Errorf("%w: store not open", ErrStorage)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+b.quoted()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: drop %s: %w", ErrStorage, b.table, err)
	}
	if _, err := tx.ExecContext(ctx, b.d.createTable(b.quoted())); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: create %s: %w", ErrStorage, b.table, err)
	}
	stmt, err := tx.PrepareContext(ctx, b.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare insert: %w", ErrStorage, err)
	}
	defer stmt.Close()
	for i, ev := range table.Rows {
		if _, err := stmt.ExecContext(ctx,
			i,
			b.d.encodeTime(ev.Timestamp),
			ev.Hour,
			ev.Minute,
			ev.EventType,
			ev.ActorOrVehicle,
			ev.Status,
			ev.Notes,
			ev.ActorType,
			ev.ResponseTimeSeconds,
			string(ev.AnomalyFlag),
			ev.AnomalyScore,
			string(ev.SeverityTag),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: insert row %d: %w", ErrStorage, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	return nil
}

func (b *baseStore) insertSQL() string {
	ph := make([]string, len(columns))
	for i := range columns {
		ph[i] = b.d.placeholder(i + 1)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, b.quoted(), quoteAll(columns), strings.Join(ph, ", "))
}

func (b *baseStore) Read(ctx context.Context) (model.Table, error) {
	if b.db == nil {
		return model.Table{}, fmt.Errorf("%w: store not open", ErrStorage)
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY "row_id"`, quoteAll(columns[1:]), b.quoted()))
	if err != nil {
		return model.Table{}, fmt.Errorf("%w: query %s: %w", ErrStorage, b.table, err)
	}
	defer rows.Close()
	var out model.Table
	for rows.Next() {
		var (
			ev    model.Event
			ts    any
			flag  string
			sever string
		)
		if err := rows.Scan(&ts, &ev.Hour, &ev.Minute, &ev.EventType, &ev.ActorOrVehicle, &ev.Status,
			&ev.Notes, &ev.ActorType, &ev.ResponseTimeSeconds, &flag, &ev.AnomalyScore, &sever); err != nil {
			return model.Table{}, fmt.Errorf("%w: scan: %w", ErrStorage, err)
		}
		if ev.Timestamp, err = b.d.decodeTime(ts); err != nil {
			return model.Table{}, fmt.Errorf("%w: decode timestamp: %w", ErrStorage, err)
		}
		ev.AnomalyFlag = model.AnomalyFlag(flag)
		ev.SeverityTag = model.Severity(sever)
		out.Rows = append(out.Rows, ev)
	}
	if err := rows.Err(); err != nil {
		return model.Table{}, fmt.Errorf("%w: rows: %w", ErrStorage, err)
	}
	return out, nil
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = `"` + n + `"`
	}
	return strings.Join(q, ", ")
}
