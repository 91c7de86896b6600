// Package generator writes synthetic gatehouse logs in the source CSV schema.
package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"portaria/internal/model"
)

type resident struct {
	id   int
	name string
}

type worker struct {
	name    string
	company string
}

var (
	residents = []resident{
		{1023, "João Pereira"},
		{1045, "Larissa Tavares"},
		{1011, "Fernanda Lopes"},
		{1050, "Diego Ramos"},
		{1087, "Carla Martins"},
	}
	visitors  = []string{"Carlos Silva", "Ana Costa", "Marcelo Lima", "Rafael Mota", "Paulo Henrique"}
	providers = []worker{{"José Almeida", "HidroLimp"}, {"Mariana Souza", "FixTudo"}}
	couriers  = []worker{{"Lucas G.", "iFood"}, {"Roberto M.", "Correios"}}

	denyReasons = []string{
		"Não autorizado pelo morador",
		"Tentativa de acesso com QR Code expirado",
		"Tentativa de acesso fora do horário permitido",
	}
	systemActions = []string{
		"Portaria reiniciada - Versão 3.4.7",
		"Backup automático concluído com sucesso",
		"Reconhecimento facial atualizado",
	}
	alertTexts = []string{
		"Porta da garagem permaneceu aberta por 3 minutos",
		"Tentativa de acesso múltiplo em menos de 30 segundos",
		"Falha na leitura do QR Code no portão social",
	}
	plates = []string{"ABC1D23", "QWE4R56", "RTY7U89", "FGH2J34"}
)

// Event types in the proportions they are drawn with.
var eventTypes = []string{
	"ACCESS_GRANTED", "ACCESS_GRANTED", "ACCESS_GRANTED",
	"ACCESS_DENIED",
	"DELIVERY", "DELIVERY",
	"SYSTEM",
	"ALERT",
	"Alarme disparado",
}

// Generate writes n rows starting at the beginning of the current day.
func Generate(w io.Writer, n int, rng *rand.Rand) error {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	return GenerateFrom(w, n, rng, start)
}

// GenerateFrom writes a header plus n rows with timestamps increasing from
// start. Output is fully determined by rng and start.
func GenerateFrom(w io.Writer, n int, rng *rand.Rand, start time.Time) error {
	if n < 0 {
		return fmt.Errorf("generator: negative row count %d", n)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(model.RequiredColumns); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	ts := start
	for i := 0; i < n; i++ {
		ts = ts.Add(time.Duration(30+rng.IntN(20*60)) * time.Second)
		if err := cw.Write(row(rng, ts)); err != nil {
			return fmt.Errorf("generator: row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

func row(rng *rand.Rand, ts time.Time) []string {
	event := pick(rng, eventTypes)
	var actor, status, notes string
	switch event {
	case "ACCESS_GRANTED":
		status = "Liberado"
		switch rng.IntN(3) {
		case 0:
			r := residents[rng.IntN(len(residents))]
			actor = r.name
			notes = fmt.Sprintf("Morador ID: %d entrada pelo portão principal", r.id)
		case 1:
			actor = pick(rng, visitors)
			notes = fmt.Sprintf("Visitante Apto: %d autorizado por morador via app", 101+rng.IntN(1105))
		default:
			p := providers[rng.IntN(len(providers))]
			actor = p.name
			notes = fmt.Sprintf("Prestador de serviço %s acesso liberado 10h às 12h", p.company)
		}
	case "ACCESS_DENIED":
		actor = pick(rng, visitors)
		status = "Negado"
		notes = "Visitante " + pick(rng, denyReasons)
	case "DELIVERY":
		c := couriers[rng.IntN(len(couriers))]
		actor = c.name
		status = "Entregue"
		if rng.IntN(2) == 0 {
			notes = fmt.Sprintf("Entregador %s encomenda entregue no locker 05", c.company)
		} else {
			notes = fmt.Sprintf("Entregador %s encomenda entregue no apartamento %d", c.company, 101+rng.IntN(1105))
		}
	case "SYSTEM":
		actor = "Sistema"
		status = "OK"
		notes = "Sistema " + pick(rng, systemActions)
	case "ALERT":
		actor = pick(rng, plates)
		status = "Pendente"
		notes = "Sistema " + pick(rng, alertTexts)
	default:
		actor = pick(rng, plates)
		status = "Disparado"
		notes = "Sistema alarme no portão da garagem"
	}
	return []string{ts.Format(model.TimestampLayout), event, actor, status, notes, responseTime(rng)}
}

// responseTime is mostly 2-15s with rare spikes and rare unreadable values.
func responseTime(rng *rand.Rand) string {
	switch p := rng.Float64(); {
	case p < 0.02:
		return "N/A"
	case p < 0.07:
		return strconv.Itoa(60 + rng.IntN(121))
	default:
		return strconv.Itoa(2 + rng.IntN(14))
	}
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.IntN(len(from))]
}
