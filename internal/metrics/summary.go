package metrics

import (
	"portaria/internal/model"
)

// Summarize counts what a run kept and how it was labelled. loaded is the
// number of data rows read from the source before normalization.
func Summarize(source string, loaded int, table model.Table) model.RunStats {
	stats := model.RunStats{
		Source:     source,
		Loaded:     loaded,
		Kept:       table.Len(),
		BySeverity: make(map[model.Severity]int),
		ByActor:    make(map[string]int),
	}
	if loaded > stats.Kept {
		stats.Dropped = loaded - stats.Kept
	}
	for _, ev := range table.Rows {
		if ev.AnomalyFlag == model.Outlier {
			stats.Outliers++
		}
		if ev.SeverityTag != "" {
			stats.BySeverity[ev.SeverityTag]++
		}
		stats.ByActor[ev.ActorType]++
	}
	return stats
}

// LogAttrs flattens stats into slog key/value pairs.
func LogAttrs(stats model.RunStats) []any {
	return []any{
		"source", stats.Source,
		"loaded", stats.Loaded,
		"kept", stats.Kept,
		"dropped", stats.Dropped,
		"outliers", stats.Outliers,
		"normal", stats.BySeverity[model.SeverityNormal],
		"suspicious", stats.BySeverity[model.SeveritySuspicious],
		"critical", stats.BySeverity[model.SeverityCritical],
	}
}
