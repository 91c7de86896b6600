package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn, table string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:acessos.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStorage, err)
	}
	// single writer keeps in-memory databases alive and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	base, err := newBaseStore(db, table, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{base}, nil
}

var sqliteDialect = dialect{
	createTable: func(table string) string {
		return `CREATE TABLE ` + table + ` (
			"row_id" INTEGER PRIMARY KEY,
			"timestamp" TEXT NOT NULL,
			"hour" INTEGER NOT NULL,
			"minute" INTEGER NOT NULL,
			"event_type" TEXT NOT NULL,
			"actor_or_vehicle" TEXT NOT NULL,
			"status" TEXT NOT NULL,
			"notes" TEXT NOT NULL,
			"actor_type" TEXT NOT NULL,
			"response_time_seconds" INTEGER NOT NULL,
			"anomaly_flag" TEXT NOT NULL,
			"anomaly_score" REAL NOT NULL,
			"severity_tag" TEXT NOT NULL
		)`
	},
	placeholder: func(int) string { return "?" },
	encodeTime: func(t time.Time) any {
		return t.Format(time.RFC3339Nano)
	},
	decodeTime: func(v any) (time.Time, error) {
		switch x := v.(type) {
		case string:
			return time.Parse(time.RFC3339Nano, x)
		case []byte:
			return time.Parse(time.RFC3339Nano, string(x))
		case time.Time:
			return x, nil
		}
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	},
}
