package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portaria/internal/model"
)

func sampleTable() model.Table {
	base := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	var rows []model.Event
	types := []string{"ACCESS_GRANTED", "DELIVERY", "ACCESS_GRANTED", "ALERT", "ACCESS_DENIED", "ACCESS_GRANTED"}
	for i, et := range types {
		ts := base.Add(time.Duration(i) * 45 * time.Minute)
		flag := model.Inlier
		if i == 3 {
			flag = model.Outlier
		}
		rows = append(rows, model.Event{
			Timestamp:           ts,
			Hour:                ts.Hour(),
			Minute:              ts.Minute(),
			EventType:           et,
			ResponseTimeSeconds: 5 + i,
			AnomalyFlag:         flag,
		})
	}
	return model.Table{Rows: rows}
}

func TestHourlyCounts(t *testing.T) {
	counts := HourlyCounts(sampleTable())
	// 07:30 08:15 09:00 09:45 10:30 11:15
	want := map[int]int{7: 1, 8: 1, 9: 2, 10: 1, 11: 1}
	total := 0
	for h, n := range counts {
		total += n
		if n != want[h] {
			t.Errorf("hour %d: got %d want %d", h, n, want[h])
		}
	}
	if total != 6 {
		t.Fatalf("total %d", total)
	}
}

func TestCountEventTypesKeepsFirstSeenOrder(t *testing.T) {
	got := CountEventTypes(sampleTable())
	want := []EventTypeCount{
		{"ACCESS_GRANTED", 3},
		{"DELIVERY", 1},
		{"ALERT", 1},
		{"ACCESS_DENIED", 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestAllChartsRender(t *testing.T) {
	charts, err := All(sampleTable())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	names := []string{"hourly_distribution", "anomalies", "event_types"}
	if len(charts) != len(names) {
		t.Fatalf("expected %d charts, got %d", len(names), len(charts))
	}
	for i, c := range charts {
		if c.Name != names[i] {
			t.Errorf("chart %d name %q", i, c.Name)
		}
		var buf bytes.Buffer
		if err := c.Encode(&buf, "png"); err != nil {
			t.Fatalf("encode %s: %v", c.Name, err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
			t.Errorf("%s is not a png", c.Name)
		}
	}
}

func TestChartsOnEmptyTable(t *testing.T) {
	if _, err := All(model.Table{}); err != nil {
		t.Fatalf("empty table: %v", err)
	}
}

func TestSaveAll(t *testing.T) {
	charts, err := All(sampleTable())
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "charts")
	paths, err := SaveAll(dir, "svg", charts)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths: %v", paths)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			t.Errorf("%s missing or empty", p)
		}
	}
}
