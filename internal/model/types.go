package model

import (
	"strconv"
	"time"
)

// Source column names of the front-desk log.
const (
	ColTimestamp    = "Data e Hora"
	ColEventType    = "Tipo de Evento"
	ColActor        = "Usuário/Veículo"
	ColStatus       = "Status"
	ColNotes        = "Observações"
	ColResponseTime = "Tempo de Resposta (segundos)"
)

// RequiredColumns lists the source columns every log must carry.
var RequiredColumns = []string{
	ColTimestamp,
	ColEventType,
	ColActor,
	ColStatus,
	ColNotes,
	ColResponseTime,
}

// TimestampLayout is the canonical rendering of Event.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

type AnomalyFlag string

const (
	Inlier  AnomalyFlag = "Inlier"
	Outlier AnomalyFlag = "Outlier"
)

type Severity string

const (
	SeverityNormal     Severity = "Normal"
	SeveritySuspicious Severity = "Suspeito"
	SeverityCritical   Severity = "Crítico"
)

type Event struct {
	Timestamp           time.Time   `json:"timestamp"`
	Hour                int         `json:"hour"`
	Minute              int         `json:"minute"`
	EventType           string      `json:"event_type"`
	ActorOrVehicle      string      `json:"actor_or_vehicle"`
	Status              string      `json:"status"`
	Notes               string      `json:"notes"`
	ActorType           string      `json:"actor_type"`
	ResponseTimeSeconds int         `json:"response_time_seconds"`
	AnomalyFlag         AnomalyFlag `json:"anomaly_flag,omitempty"`
	AnomalyScore        float64     `json:"anomaly_score,omitempty"`
	SeverityTag         Severity    `json:"severity_tag,omitempty"`
}

// RawTable is a delimited log as read from disk: a header and string records.
type RawTable struct {
	Source  string
	Header  []string
	Records [][]string
}

// Table is the typed working table handed from stage to stage.
type Table struct {
	Rows []Event
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Clone returns a copy whose rows can be modified without touching t.
func (t Table) Clone() Table {
	rows := make([]Event, len(t.Rows))
	copy(rows, t.Rows)
	return Table{Rows: rows}
}

// Raw renders the table back into the source log schema.
func (t Table) Raw() RawTable {
	header := make([]string, len(RequiredColumns))
	copy(header, RequiredColumns)
	records := make([][]string, 0, len(t.Rows))
	for _, ev := range t.Rows {
		records = append(records, []string{
			ev.Timestamp.Format(time.RFC3339Nano),
			ev.EventType,
			ev.ActorOrVehicle,
			ev.Status,
			ev.Notes,
			strconv.Itoa(ev.ResponseTimeSeconds),
		})
	}
	return RawTable{Header: header, Records: records}
}

// Notice is one operator-facing alert about a critical event.
type Notice struct {
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	ActorOrVehicle string    `json:"actor_or_vehicle"`
	Notes          string    `json:"notes"`
	Severity       Severity  `json:"severity"`
}

type RunStats struct {
	Source     string           `json:"source"`
	Loaded     int              `json:"loaded"`
	Kept       int              `json:"kept"`
	Dropped    int              `json:"dropped"`
	Outliers   int              `json:"outliers"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByActor    map[string]int   `json:"by_actor"`
}
