package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn, table string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/portaria?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ErrStorage, err)
	}
	base, err := newBaseStore(db, table, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &postgresStore{base}, nil
}

var postgresDialect = dialect{
	createTable: func(table string) string {
		return `CREATE TABLE ` + table + ` (
			"row_id" INTEGER PRIMARY KEY,
			"timestamp" TIMESTAMPTZ NOT NULL,
			"hour" INTEGER NOT NULL,
			"minute" INTEGER NOT NULL,
			"event_type" TEXT NOT NULL,
			"actor_or_vehicle" TEXT NOT NULL,
			"status" TEXT NOT NULL,
			"notes" TEXT NOT NULL,
			"actor_type" TEXT NOT NULL,
			"response_time_seconds" INTEGER NOT NULL,
			"anomaly_flag" TEXT NOT NULL,
			"anomaly_score" DOUBLE PRECISION NOT NULL,
			"severity_tag" TEXT NOT NULL
		)`
	},
	placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
	encodeTime: func(t time.Time) any {
		return t
	},
	decodeTime: func(v any) (time.Time, error) {
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	},
}
