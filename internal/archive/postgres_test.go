package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

// call records one statement sent to fakeDB.
type call struct {
	sql  string
	args []any
}

// fakeDB implements [DB]. Each hook is optional; calls are recorded in order.
type fakeDB struct {
	calls []call

	row  func(args []any) scanner
	rows func(args []any) (*segmentRows, error)
	exec func(sql string) error
}

type scanner func(dest ...any) error

func (f scanner) Scan(dest ...any) error { return f(dest...) }

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	if f.row == nil {
		return scanner(func(...any) error { return pgx.ErrNoRows })
	}
	return f.row(args)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql, args})
	if f.rows == nil {
		return &segmentRows{}, nil
	}
	return f.rows(args)
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	if f.exec == nil {
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, f.exec(sql)
}

// segmentRows serves SegmentInfo values in the column order Recent selects.
type segmentRows struct {
	pgx.Rows // unused methods panic

	infos  []SegmentInfo
	pos    int
	err    error
	closed bool
}

func (r *segmentRows) Next() bool {
	if r.pos >= len(r.infos) {
		return false
	}
	r.pos++
	return true
}

func (r *segmentRows) Scan(dest ...any) error {
	if len(dest) != 6 {
		return fmt.Errorf("segmentRows: %d destinations, want 6", len(dest))
	}
	in := r.infos[r.pos-1]
	*dest[0].(*int64) = in.ID
	*dest[1].(*time.Time) = in.Start
	*dest[2].(*int64) = in.Duration.Milliseconds()
	*dest[3].(*string) = in.Format
	*dest[4].(*int32) = int32(in.SampleRate)
	*dest[5].(*int32) = int32(in.Size)
	return nil
}

func (r *segmentRows) Close()     { r.closed = true }
func (r *segmentRows) Err() error { return r.err }

// ─── PostgresSink ────────────────────────────────────────────────────────────

func TestPostgresSink_Migrate(t *testing.T) {
	t.Parallel()
	db := &fakeDB{}
	if err := NewPostgresSink(db).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(db.calls) != 1 || db.calls[0].sql != Schema {
		t.Errorf("Migrate calls = %+v", db.calls)
	}
}

func TestPostgresSink_MigrateError(t *testing.T) {
	t.Parallel()
	db := &fakeDB{exec: func(string) error { return errors.New("permission denied") }}
	err := NewPostgresSink(db).Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "migrate") || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("err = %v", err)
	}
}

func TestPostgresSink_Insert(t *testing.T) {
	t.Parallel()
	db := &fakeDB{row: func([]any) scanner {
		return func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		}
	}}
	start := time.Date(2025, 3, 9, 14, 30, 0, 0, time.UTC)
	seg := Segment{
		Start:      start,
		Duration:   90 * time.Second,
		Format:     "opus",
		MimeType:   "audio/ogg",
		SampleRate: 48000,
		Data:       []byte{1, 2, 3},
	}
	id, err := NewPostgresSink(db).Insert(context.Background(), seg)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if len(db.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(db.calls))
	}
	want := []any{start, int64(90000), "opus", "audio/ogg", int32(48000), int32(3)}
	args := db.calls[0].args
	if len(args) != len(want)+1 {
		t.Fatalf("args = %d, want %d", len(args), len(want)+1)
	}
	for i, w := range want {
		if args[i] != w {
			t.Errorf("arg %d = %v (%T), want %v (%T)", i, args[i], args[i], w, w)
		}
	}
	if data, ok := args[6].([]byte); !ok || len(data) != 3 {
		t.Errorf("payload arg = %v", args[6])
	}
}

func TestPostgresSink_SaveError(t *testing.T) {
	t.Parallel()
	db := &fakeDB{row: func([]any) scanner {
		return func(...any) error { return errors.New("connection reset") }
	}}
	err := NewPostgresSink(db).Save(context.Background(), Segment{})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v", err)
	}
}

func TestPostgresSink_Recent(t *testing.T) {
	t.Parallel()
	newest := time.Date(2025, 3, 9, 14, 35, 0, 0, time.UTC)
	rows := &segmentRows{infos: []SegmentInfo{
		{ID: 2, Start: newest, Duration: 5 * time.Minute, Format: "opus", SampleRate: 48000, Size: 1200},
		{ID: 1, Start: newest.Add(-5 * time.Minute), Duration: 5 * time.Minute, Format: "opus", SampleRate: 48000, Size: 1100},
	}}
	db := &fakeDB{rows: func([]any) (*segmentRows, error) { return rows, nil }}

	got, err := NewPostgresSink(db).Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if limit := db.calls[0].args[0]; limit != 10 {
		t.Errorf("limit arg = %v", limit)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d rows, want 2", len(got))
	}
	for i := range got {
		if got[i] != rows.infos[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], rows.infos[i])
		}
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestPostgresSink_RecentRowsError(t *testing.T) {
	t.Parallel()
	db := &fakeDB{rows: func([]any) (*segmentRows, error) {
		return &segmentRows{err: errors.New("broken pipe")}, nil
	}}
	if _, err := NewPostgresSink(db).Recent(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresSink_CloseWithoutPool(t *testing.T) {
	t.Parallel()
	if err := NewPostgresSink(&fakeDB{}).Close(); err != nil {
		t.Fatal(err)
	}
}
