package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the audio_segments table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS audio_segments (
    id           BIGSERIAL PRIMARY KEY,
    started_at   TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL,
    format       TEXT NOT NULL,
    mime_type    TEXT NOT NULL,
    sample_rate  INTEGER NOT NULL,
    size_bytes   INTEGER NOT NULL,
    data         BYTEA NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audio_segments_started ON audio_segments(started_at);
`

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SegmentInfo describes a stored segment without its payload.
type SegmentInfo struct {
	ID         int64
	Start      time.Time
	Duration   time.Duration
	Format     string
	SampleRate uint32
	Size       int
}

// PostgresSink stores segments as rows in audio_segments.
type PostgresSink struct {
	db    DB
	close func()
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink on an existing connection or pool. The
// caller is responsible for calling [PostgresSink.Migrate] and for closing
// db.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects a pool to dsn, verifies it with a ping and applies
// [Schema]. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: postgres: ping: %w", err)
	}
	s := &PostgresSink{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Name returns "postgres".
func (s *PostgresSink) Name() string { return "postgres" }

// Migrate executes the [Schema] DDL.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: postgres: migrate: %w", err)
	}
	return nil
}

// Save inserts seg and discards the generated id.
func (s *PostgresSink) Save(ctx context.Context, seg Segment) error {
	_, err := s.Insert(ctx, seg)
	return err
}

// Insert stores seg and returns its row id.
func (s *PostgresSink) Insert(ctx context.Context, seg Segment) (int64, error) {
	const query = `
		INSERT INTO audio_segments (
			started_at, duration_ms, format, mime_type, sample_rate, size_bytes, data
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		seg.Start.UTC(), seg.Duration.Milliseconds(), seg.Format, seg.MimeType,
		int32(seg.SampleRate), int32(len(seg.Data)), seg.Data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("archive: postgres: insert: %w", err)
	}
	return id, nil
}

// Recent lists the newest segments, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]SegmentInfo, error) {
	const query = `
		SELECT id, started_at, duration_ms, format, sample_rate, size_bytes
		FROM audio_segments
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: postgres: recent: %w", err)
	}
	defer rows.Close()

	var out []SegmentInfo
	for rows.Next() {
		var (
			info       SegmentInfo
			durationMS int64
			rate, size int32
		)
		if err := rows.Scan(&info.ID, &info.Start, &durationMS, &info.Format, &rate, &size); err != nil {
			return nil, fmt.Errorf("archive: postgres: scan: %w", err)
		}
		info.Duration = time.Duration(durationMS) * time.Millisecond
		info.SampleRate = uint32(rate)
		info.Size = int(size)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: postgres: rows: %w", err)
	}
	return out, nil
}

// Close releases the pool when the sink opened it itself.
func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
