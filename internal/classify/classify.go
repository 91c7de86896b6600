package classify

import (
	"strings"

	"portaria/internal/config"
	"portaria/internal/model"
)

type Rules struct {
	DeniedStatuses []string
	// AlarmMarkers are matched case-sensitively as substrings of EventType.
	AlarmMarkers []string
}

func RulesFrom(cfg config.ClassifyConfig) Rules {
	return Rules{DeniedStatuses: cfg.DeniedStatuses, AlarmMarkers: cfg.AlarmMarkers}
}

func DefaultRules() Rules {
	return RulesFrom(config.DefaultConfig().Classify)
}

// Classify tags every row. A timing outlier is Suspeito even when the event
// was also denied or raised an alarm.
func Classify(table model.Table, rules Rules) model.Table {
	out := table.Clone()
	for i := range out.Rows {
		out.Rows[i].SeverityTag = rules.Severity(out.Rows[i])
	}
	return out
}

func (r Rules) Severity(ev model.Event) model.Severity {
	switch {
	case ev.AnomalyFlag == model.Outlier:
		return model.SeveritySuspicious
	case r.denied(ev.Status) || r.alarm(ev.EventType):
		return model.SeverityCritical
	default:
		return model.SeverityNormal
	}
}

func (r Rules) denied(status string) bool {
	for _, s := range r.DeniedStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func (r Rules) alarm(eventType string) bool {
	for _, marker := range r.AlarmMarkers {
		if marker != "" && strings.Contains(eventType, marker) {
			return true
		}
	}
	return false
}
