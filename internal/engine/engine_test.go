package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"portaria/internal/config"
	"portaria/internal/generator"
	"portaria/internal/ingest"
	"portaria/internal/model"
	"portaria/internal/normalize"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	seed := int64(11)
	cfg.Anomaly.Seed = &seed
	cfg.Storage.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	cfg.Archive.Enabled = true
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "archive")
	return cfg
}

func writeLog(t *testing.T, rows int, seed uint64) string {
	t.Helper()
	var buf bytes.Buffer
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := generator.GenerateFrom(&buf, rows, rand.New(rand.NewPCG(seed, seed)), start); err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), fmt.Sprintf("log_%d.csv", seed))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildEngine(t *testing.T, cfg *config.Config, console io.Writer) *Engine {
	t.Helper()
	eng, closeFn, err := Build(context.Background(), cfg, nil, console)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return eng
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	var console bytes.Buffer
	eng := buildEngine(t, cfg, &console)
	src := writeLog(t, 300, 5)

	res, err := eng.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stats.Loaded != 300 || res.Stats.Kept != res.Table.Len() || res.Stats.Kept+res.Stats.Dropped != 300 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}

	critical := 0
	for i, ev := range res.Table.Rows {
		if ev.AnomalyFlag != model.Inlier && ev.AnomalyFlag != model.Outlier {
			t.Fatalf("row %d has no anomaly flag", i)
		}
		if ev.AnomalyFlag == model.Outlier && ev.SeverityTag != model.SeveritySuspicious {
			t.Fatalf("row %d outlier tagged %s", i, ev.SeverityTag)
		}
		switch ev.SeverityTag {
		case model.SeverityCritical:
			critical++
		case model.SeverityNormal, model.SeveritySuspicious:
		default:
			t.Fatalf("row %d has severity %q", i, ev.SeverityTag)
		}
	}
	if len(res.Notices) != critical {
		t.Fatalf("notices=%d critical rows=%d", len(res.Notices), critical)
	}
	if critical > 0 && !strings.Contains(console.String(), "ALERTA: Acessos Críticos Detectados!") {
		t.Fatalf("console alert missing")
	}
	if len(res.Charts) != 3 {
		t.Fatalf("expected 3 charts, got %d", len(res.Charts))
	}
	if len(res.Archived) != 4 {
		t.Fatalf("archived: %v", res.Archived)
	}
	for _, key := range res.Archived {
		if _, err := os.Stat(filepath.Join(cfg.Archive.Dir, filepath.FromSlash(key))); err != nil {
			t.Errorf("archived object %s: %v", key, err)
		}
	}

	stored, err := eng.store.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stored.Len() != res.Table.Len() {
		t.Fatalf("stored %d rows, run produced %d", stored.Len(), res.Table.Len())
	}
	for i := range stored.Rows {
		got, want := stored.Rows[i], res.Table.Rows[i]
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Fatalf("row %d timestamp differs", i)
		}
		got.Timestamp, want.Timestamp = time.Time{}, time.Time{}
		if got != want {
			t.Fatalf("row %d differs:\n got %+v\nwant %+v", i, got, want)
		}
	}
	if notices := eng.LastNotices(); len(notices) != critical {
		t.Fatalf("last notices: %d", len(notices))
	}
	if _, _, ok := eng.History().Get(src); !ok {
		t.Fatalf("run stats not recorded")
	}
}

func TestRunReplacesStoredTable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	eng := buildEngine(t, cfg, nil)

	if _, err := eng.Run(context.Background(), writeLog(t, 200, 1)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := eng.Run(context.Background(), writeLog(t, 40, 2))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	stored, err := eng.store.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != second.Table.Len() {
		t.Fatalf("expected %d rows after replace, got %d", second.Table.Len(), stored.Len())
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	cfg.Storage.Enabled = false
	eng := buildEngine(t, cfg, nil)
	src := writeLog(t, 250, 9)

	a, err := eng.Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Table.Rows {
		if a.Table.Rows[i].AnomalyFlag != b.Table.Rows[i].AnomalyFlag || a.Table.Rows[i].SeverityTag != b.Table.Rows[i].SeverityTag {
			t.Fatalf("row %d labels differ between seeded runs", i)
		}
	}
}

func TestRunErrorsNameTheStage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	eng := buildEngine(t, cfg, nil)
	dir := t.TempDir()

	badTS := filepath.Join(dir, "bad_ts.csv")
	os.WriteFile(badTS, []byte(strings.Join(model.RequiredColumns, ",")+"\nontem,ALERT,x,OK,Sistema,3\n"), 0o644)
	allDropped := filepath.Join(dir, "dropped.csv")
	os.WriteFile(allDropped, []byte(strings.Join(model.RequiredColumns, ",")+"\n2024-05-01 10:00:00,ALERT,x,OK,Sistema,N/A\n"), 0o644)

	cases := []struct {
		name   string
		source string
		prefix string
		target error
	}{
		{"empty source", "", "load:", ErrNoSource},
		{"missing file", filepath.Join(dir, "nope.csv"), "load:", ingest.ErrNotFound},
		{"bad timestamp", badTS, "normalize:", normalize.ErrTimestamp},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := eng.Run(context.Background(), c.source)
			if !errors.Is(err, c.target) {
				t.Fatalf("expected %v, got %v", c.target, err)
			}
			if !strings.HasPrefix(err.Error(), c.prefix) {
				t.Fatalf("error %q does not start with %q", err, c.prefix)
			}
		})
	}

	_, err := eng.Run(context.Background(), allDropped)
	if err == nil || !strings.HasPrefix(err.Error(), "score:") {
		t.Fatalf("expected score error, got %v", err)
	}
}

func TestConcurrentRunsAreSerialized(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	eng := buildEngine(t, cfg, nil)
	src := writeLog(t, 120, 3)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Run(context.Background(), src)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent run: %v", err)
		}
	}
	stored, err := eng.store.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st, _, _ := eng.History().Get(src)
	if stored.Len() != st.Kept {
		t.Fatalf("stored %d rows, last run kept %d", stored.Len(), st.Kept)
	}
}

func TestUpdateConfigAffectsNextRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	cfg.Storage.Enabled = false
	eng := buildEngine(t, cfg, nil)
	src := writeLog(t, 150, 4)

	next := *cfg
	next.Classify.DeniedStatuses = []string{"Liberado"}
	next.Classify.AlarmMarkers = nil
	eng.UpdateConfig(&next)
	res, err := eng.Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	for i, ev := range res.Table.Rows {
		if ev.Status == "Negado" && ev.SeverityTag == model.SeverityCritical {
			t.Fatalf("row %d still classified with old rules", i)
		}
	}
}
