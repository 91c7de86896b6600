package alerts

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"portaria/internal/model"
)

// Sink receives critical notices after they are shown to the operator.
type Sink interface {
	Publish(ctx context.Context, notices []model.Notice) error
	Close() error
}

type Alerter struct {
	out    io.Writer
	logger *slog.Logger
	sinks  []Sink
}

// New builds an alerter. out may be nil to skip the console block.
func New(out io.Writer, logger *slog.Logger, sinks ...Sink) *Alerter {
	return &Alerter{out: out, logger: logger, sinks: sinks}
}

// Critical returns one notice per Crítico row, in table order.
func Critical(table model.Table) []model.Notice {
	var out []model.Notice
	for _, ev := range table.Rows {
		if ev.SeverityTag != model.SeverityCritical {
			continue
		}
		out = append(out, model.Notice{
			Timestamp:      ev.Timestamp,
			EventType:      ev.EventType,
			ActorOrVehicle: ev.ActorOrVehicle,
			Notes:          ev.Notes,
			Severity:       ev.SeverityTag,
		})
	}
	return out
}

// Alert emits the critical notices of table. Sink failures are logged only.
func (a *Alerter) Alert(ctx context.Context, table model.Table) []model.Notice {
	notices := Critical(table)
	if len(notices) == 0 {
		return nil
	}
	if a.out != nil {
		_ = Format(a.out, notices)
	}
	if a.logger != nil {
		for _, n := range notices {
			a.logger.Warn("critical access",
				"timestamp", n.Timestamp.Format(model.TimestampLayout),
				"event_type", n.EventType,
				"actor", n.ActorOrVehicle,
				"notes", n.Notes,
			)
		}
	}
	for _, s := range a.sinks {
		if err := s.Publish(ctx, notices); err != nil && a.logger != nil {
			a.logger.Error("alert sink publish failed", "err", err)
		}
	}
	return notices
}

func (a *Alerter) Close() error {
	var first error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Format writes the operator-facing alert block.
func Format(w io.Writer, notices []model.Notice) error {
	if len(notices) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "\nALERTA: Acessos Críticos Detectados!"); err != nil {
		return err
	}
	for _, n := range notices {
		_, err := fmt.Fprintf(w, "- Data/Hora: %s\n- Tipo de Evento: %s\n- Usuário/Veículo: %s\n- Observações: %s\n\n",
			n.Timestamp.Format(model.TimestampLayout), n.EventType, n.ActorOrVehicle, n.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}
