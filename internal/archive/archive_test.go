package archive

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"portaria/internal/config"
	"portaria/internal/model"
	"portaria/internal/report"
)

func sampleTable() model.Table {
	base := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	var rows []model.Event
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * 45 * time.Minute)
		rows = append(rows, model.Event{
			Timestamp:           ts,
			Hour:                ts.Hour(),
			Minute:              ts.Minute(),
			EventType:           []string{"ACCESS_GRANTED", "ACCESS_DENIED", "DELIVERY"}[i%3],
			ActorOrVehicle:      "Ana Costa",
			Status:              "Liberado",
			Notes:               "Visitante Apto: 304",
			ActorType:           "Visitante",
			ResponseTimeSeconds: 4 + i*30,
			AnomalyFlag:         model.Inlier,
			AnomalyScore:        0.4 + float64(i)/10,
			SeverityTag:         model.SeverityNormal,
		})
	}
	return model.Table{Rows: rows}
}

func equalTables(t *testing.T, got, want model.Table) {
	t.Helper()
	if got.Len() != want.Len() {
		t.Fatalf("rows: got %d want %d", got.Len(), want.Len())
	}
	for i := range want.Rows {
		g, w := got.Rows[i], want.Rows[i]
		if !g.Timestamp.Equal(w.Timestamp) {
			t.Fatalf("row %d timestamp %s != %s", i, g.Timestamp, w.Timestamp)
		}
		g.Timestamp, w.Timestamp = time.Time{}, time.Time{}
		if !reflect.DeepEqual(g, w) {
			t.Fatalf("row %d:\n got %+v\nwant %+v", i, g, w)
		}
	}
}

func TestJSONLGZRoundTrip(t *testing.T) {
	want := sampleTable()
	data, err := EncodeJSONLGZ(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeJSONLGZ(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	equalTables(t, got, want)
}

func TestArchiveToDirectory(t *testing.T) {
	root := t.TempDir()
	a := New(DirSink{Root: root}, "/portaria/", nil)
	table := sampleTable()
	charts, err := report.All(table)
	if err != nil {
		t.Fatalf("charts: %v", err)
	}
	runID := RunID(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	keys, err := a.Archive(context.Background(), runID, table, charts)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(keys) != 1+len(charts) {
		t.Fatalf("keys: %v", keys)
	}
	if keys[0] != "portaria/20240501T120000.000000000Z/acessos.jsonl.gz" {
		t.Fatalf("table key: %s", keys[0])
	}

	f, err := os.Open(filepath.Join(root, filepath.FromSlash(keys[0])))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := DecodeJSONLGZ(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	equalTables(t, got, table)

	for _, key := range keys[1:] {
		img, err := os.Open(filepath.Join(root, filepath.FromSlash(key)))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := png.DecodeConfig(img); err != nil {
			t.Errorf("%s is not a png: %v", key, err)
		}
		img.Close()
	}
}

func TestRunIDDistinguishesCloseRuns(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	a, b := RunID(start), RunID(start.Add(time.Millisecond))
	if a == b {
		t.Fatalf("runs 1ms apart share id %s", a)
	}
	if a != "20240501T150000.000000000Z" {
		t.Fatalf("run id not rendered in UTC: %s", a)
	}
}

func TestDirSinkRejectsTraversal(t *testing.T) {
	if err := (DirSink{Root: t.TempDir()}).Put(context.Background(), "../x", nil, ""); err == nil {
		t.Fatalf("expected error for traversal key")
	}
}

func TestNewFromConfigDisabled(t *testing.T) {
	a, err := NewFromConfig(context.Background(), config.ArchiveConfig{}, nil)
	if err != nil || a != nil {
		t.Fatalf("disabled archiver: %v %v", a, err)
	}
	if _, err := NewFromConfig(context.Background(), config.ArchiveConfig{Enabled: true, Driver: "ftp"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

type flakyS3 struct {
	failures int
	calls    int
	bodies   [][]byte
}

func (f *flakyS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("slow down")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

func testS3Sink(client putObjectAPI, retries int) *S3Sink {
	s := newS3Sink(client, config.ArchiveConfig{S3: config.S3Config{Bucket: "b", Retries: retries}, Timeout: time.Second})
	s.backoff = time.Millisecond
	s.maxBackoff = 2 * time.Millisecond
	return s
}

func TestS3SinkRetries(t *testing.T) {
	fake := &flakyS3{failures: 2}
	if err := testS3Sink(fake, 3).Put(context.Background(), "k", []byte("payload"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fake.calls != 3 || len(fake.bodies) != 1 || string(fake.bodies[0]) != "payload" {
		t.Fatalf("calls=%d bodies=%q", fake.calls, fake.bodies)
	}
}

func TestS3SinkGivesUp(t *testing.T) {
	fake := &flakyS3{failures: 10}
	if err := testS3Sink(fake, 2).Put(context.Background(), "k", []byte("x"), ""); err == nil {
		t.Fatalf("expected error")
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fake.calls)
	}
}
