package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"portaria/internal/config"
	"portaria/internal/model"
)

var ErrTimestamp = errors.New("invalid timestamp")

// reActorType matches the leading word of the notes field.
var reActorType = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_]+`)

type Result struct {
	Table model.Table
	// Dropped counts rows whose response time was not numeric.
	Dropped int
}

// Normalize turns a raw log into the typed working table. A bad timestamp
// fails the whole table; a non-numeric response time only drops its row.
func Normalize(raw model.RawTable, cfg config.NormalizeConfig) (Result, error) {
	loc, err := location(cfg.Timezone)
	if err != nil {
		return Result{}, err
	}
	idx, err := columnIndex(raw.Header)
	if err != nil {
		return Result{}, err
	}

	rows := make([]model.Event, 0, len(raw.Records))
	dropped := 0
	for i, record := range raw.Records {
		ts, err := ParseTimestamp(field(record, idx[model.ColTimestamp]), loc)
		if err != nil {
			return Result{}, fmt.Errorf("%w: row %d: %v", ErrTimestamp, i+1, err)
		}
		rt, ok := ParseResponseTime(field(record, idx[model.ColResponseTime]))
		if !ok {
			dropped++
			continue
		}
		notes := field(record, idx[model.ColNotes])
		rows = append(rows, model.Event{
			Timestamp:           ts,
			Hour:                ts.Hour(),
			Minute:              ts.Minute(),
			EventType:           field(record, idx[model.ColEventType]),
			ActorOrVehicle:      field(record, idx[model.ColActor]),
			Status:              field(record, idx[model.ColStatus]),
			Notes:               notes,
			ActorType:           ActorType(notes, cfg.DefaultActorType),
			ResponseTimeSeconds: rt,
		})
	}
	return Result{Table: model.Table{Rows: rows}, Dropped: dropped}, nil
}

// NormalizeTable re-applies the per-row derivations to an already typed table.
// It leaves a normalized table unchanged.
func NormalizeTable(table model.Table, cfg config.NormalizeConfig) model.Table {
	out := table.Clone()
	for i := range out.Rows {
		ev := &out.Rows[i]
		ev.Hour = ev.Timestamp.Hour()
		ev.Minute = ev.Timestamp.Minute()
		ev.ActorType = ActorType(ev.Notes, cfg.DefaultActorType)
	}
	return out
}

// ActorType returns the first word of notes, or fallback when there is none.
func ActorType(notes string, fallback string) string {
	if m := reActorType.FindString(notes); m != "" {
		return m
	}
	if fallback == "" {
		return "Unknown"
	}
	return fallback
}

// ParseResponseTime coerces a response-time cell to whole seconds.
func ParseResponseTime(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n, true
	}
	// Plain decimal only. ParseFloat also accepts hex floats and underscores.
	digits := strings.TrimLeft(value, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") || strings.Contains(value, "_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range model.RequiredColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return idx, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return loc, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseTimestamp accepts the layouts produced by front-desk exports and the
// bracketed form written by the audit log.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(value, "["), "]"))
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value, loc); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string, loc *time.Location) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).In(loc), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).In(loc), nil
}
