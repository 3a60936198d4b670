package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a recording, chunk or transcript does not exist.
var ErrNotFound = errors.New("not found")

// PostgresStorage persists recordings, chunks and transcripts.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage opens a connection pool and brings the schema up to
// date. Migration files are compiled into the binary.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// migrateUp applies pending schema migrations from the embedded set.
func migrateUp(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// migrate needs a database/sql handle, not the pgx pool
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Schema is up to date")
			return nil
		}
		return err
	}

	logger.Info("Schema migrations applied")
	return nil
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() {
	s.pool.Close()
}

const recordingColumns = `
	r.id, r.source, r.status, r.transcript, r.error_text, r.meta,
	r.created_at, r.updated_at,
	COUNT(c.id) AS total_chunks,
	COUNT(c.id) FILTER (WHERE c.status = 'completed') AS processed_chunks,
	COUNT(c.id) FILTER (WHERE c.status = 'failed') AS failed_chunks,
	COALESCE(SUM(c.duration), 0) AS duration`

func scanRecording(row pgx.Row) (*model.Recording, error) {
	var rec model.Recording
	err := row.Scan(
		&rec.ID,
		&rec.Source,
		&rec.Status,
		&rec.Transcript,
		&rec.ErrorText,
		&rec.Meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.TotalChunks,
		&rec.ProcessedChunks,
		&rec.FailedChunks,
		&rec.Duration,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecording inserts a new recording into the database
func (s *PostgresStorage) CreateRecording(ctx context.Context, rec *model.Recording) error {
	query := `
		INSERT INTO recordings (id, source, status, transcript, error_text, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Source,
		rec.Status,
		rec.Transcript,
		rec.ErrorText,
		rec.Meta,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	return nil
}

// GetRecordingByID retrieves a recording with chunk counters and total duration
func (s *PostgresStorage) GetRecordingByID(ctx context.Context, id string) (*model.Recording, error) {
	query := `
		SELECT ` + recordingColumns + `
		FROM recordings r
		LEFT JOIN audio_chunks c ON c.recording_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`

	rec, err := scanRecording(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	return rec, nil
}

// ListRecordings retrieves recordings newest first
func (s *PostgresStorage) ListRecordings(ctx context.Context, limit int) ([]*model.Recording, error) {
	query := `
		SELECT ` + recordingColumns + `
		FROM recordings r
		LEFT JOIN audio_chunks c ON c.recording_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recordings []*model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}

	return recordings, nil
}

// UpdateRecordingStatus updates the status of a recording
func (s *PostgresStorage) UpdateRecordingStatus(ctx context.Context, id string, status model.RecordingStatus) error {
	query := `
		UPDATE recordings
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateRecording writes back status, transcript and error text
func (s *PostgresStorage) UpdateRecording(ctx context.Context, rec *model.Recording) error {
	query := `
		UPDATE recordings
		SET source = $2, status = $3, transcript = $4, error_text = $5, meta = $6, updated_at = $7
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Source,
		rec.Status,
		rec.Transcript,
		rec.ErrorText,
		rec.Meta,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update recording: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateChunk inserts a new audio chunk into the database
func (s *PostgresStorage) CreateChunk(ctx context.Context, chunk *model.AudioChunk) error {
	query := `
		INSERT INTO audio_chunks (
			id, recording_id, sequence, object_key, size_bytes, duration,
			status, attempts, error_text, captured_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		chunk.ID,
		chunk.RecordingID,
		chunk.Sequence,
		chunk.ObjectKey,
		chunk.SizeBytes,
		chunk.Duration,
		chunk.Status,
		chunk.Attempts,
		chunk.ErrorText,
		chunk.CapturedAt,
		chunk.CreatedAt,
		chunk.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create chunk: %w", err)
	}

	return nil
}

// GetChunkByID retrieves an audio chunk by its ID
func (s *PostgresStorage) GetChunkByID(ctx context.Context, id string) (*model.AudioChunk, error) {
	query := `
		SELECT id, recording_id, sequence, object_key, size_bytes, duration,
		       status, attempts, error_text, captured_at, created_at, updated_at
		FROM audio_chunks
		WHERE id = $1`

	var chunk model.AudioChunk
	row := s.pool.QueryRow(ctx, query, id)

	err := row.Scan(
		&chunk.ID,
		&chunk.RecordingID,
		&chunk.Sequence,
		&chunk.ObjectKey,
		&chunk.SizeBytes,
		&chunk.Duration,
		&chunk.Status,
		&chunk.Attempts,
		&chunk.ErrorText,
		&chunk.CapturedAt,
		&chunk.CreatedAt,
		&chunk.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	return &chunk, nil
}

// UpdateChunk updates a full audio chunk
func (s *PostgresStorage) UpdateChunk(ctx context.Context, chunk *model.AudioChunk) error {
	query := `
		UPDATE audio_chunks
		SET status = $2, attempts = $3, error_text = $4, updated_at = $5
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query,
		chunk.ID,
		chunk.Status,
		chunk.Attempts,
		chunk.ErrorText,
		chunk.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListChunksByRecording retrieves all chunks of a recording ordered by sequence
func (s *PostgresStorage) ListChunksByRecording(ctx context.Context, recordingID string) ([]*model.AudioChunk, error) {
	query := `
		SELECT id, recording_id, sequence, object_key, size_bytes, duration,
		       status, attempts, error_text, captured_at, created_at, updated_at
		FROM audio_chunks
		WHERE recording_id = $1
		ORDER BY sequence ASC`

	rows, err := s.pool.Query(ctx, query, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*model.AudioChunk
	for rows.Next() {
		var chunk model.AudioChunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.RecordingID,
			&chunk.Sequence,
			&chunk.ObjectKey,
			&chunk.SizeBytes,
			&chunk.Duration,
			&chunk.Status,
			&chunk.Attempts,
			&chunk.ErrorText,
			&chunk.CapturedAt,
			&chunk.CreatedAt,
			&chunk.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}

// NextChunkSequence returns the next free sequence number for a recording
func (s *PostgresStorage) NextChunkSequence(ctx context.Context, recordingID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(sequence) + 1, 0)
		FROM audio_chunks
		WHERE recording_id = $1`

	var seq int
	if err := s.pool.QueryRow(ctx, query, recordingID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get next sequence: %w", err)
	}

	return seq, nil
}

// CreateTranscript inserts a new transcript into the database
func (s *PostgresStorage) CreateTranscript(ctx context.Context, transcript *model.Transcript) error {
	query := `
		INSERT INTO transcripts (id, recording_id, chunk_id, text, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET text = $4, raw_response = $5`

	_, err := s.pool.Exec(ctx, query,
		transcript.ID,
		transcript.RecordingID,
		transcript.ChunkID,
		transcript.Text,
		transcript.RawResponse,
		transcript.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}

	return nil
}

// GetTranscriptByChunkID retrieves the transcript of a single chunk
func (s *PostgresStorage) GetTranscriptByChunkID(ctx context.Context, chunkID string) (*model.Transcript, error) {
	query := `
		SELECT id, recording_id, chunk_id, text, raw_response, created_at
		FROM transcripts
		WHERE chunk_id = $1`

	var transcript model.Transcript
	row := s.pool.QueryRow(ctx, query, chunkID)

	err := row.Scan(
		&transcript.ID,
		&transcript.RecordingID,
		&transcript.ChunkID,
		&transcript.Text,
		&transcript.RawResponse,
		&transcript.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	return &transcript, nil
}

// ListTranscriptsByRecording retrieves chunk transcripts in capture order
func (s *PostgresStorage) ListTranscriptsByRecording(ctx context.Context, recordingID string) ([]*model.Transcript, error) {
	query := `
		SELECT t.id, t.recording_id, t.chunk_id, t.text, t.raw_response, t.created_at
		FROM transcripts t
		JOIN audio_chunks c ON c.id = t.chunk_id
		WHERE t.recording_id = $1
		ORDER BY c.sequence ASC`

	rows, err := s.pool.Query(ctx, query, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*model.Transcript
	for rows.Next() {
		var transcript model.Transcript
		err := rows.Scan(
			&transcript.ID,
			&transcript.RecordingID,
			&transcript.ChunkID,
			&transcript.Text,
			&transcript.RawResponse,
			&transcript.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, &transcript)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcripts: %w", err)
	}

	return transcripts, nil
}
