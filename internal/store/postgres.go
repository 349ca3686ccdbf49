// Package store is the persistence adapter for analysis records and upload
// chunks. Every read and write is scoped by the owning user id; a row that
// exists under another owner is indistinguishable from a missing row
// (ErrNotFound), so tenancy is never leaked through error codes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
)

// ErrNotFound is returned for missing rows and for cross-tenant access.
var ErrNotFound = errors.New("record not found")

// Store wraps the Postgres connection.
type Store struct {
	db *sql.DB
}

// New constructs an unconnected store.
func New() *Store {
	return &Store{}
}

// Connect opens the pgx connection pool and verifies it with a ping.
func (s *Store) Connect(ctx context.Context, cfg *config.PostgresConfig) error {
	if cfg.DSN == "" {
		return fmt.Errorf("postgres DSN not configured")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the tables on first boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_records (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			subject_id    TEXT NOT NULL,
			workflow      TEXT NOT NULL,
			status        TEXT NOT NULL,
			score         DOUBLE PRECISION,
			sub_scores    JSONB,
			call_type     TEXT NOT NULL DEFAULT '',
			feedback      TEXT NOT NULL DEFAULT '',
			strengths     JSONB,
			weaknesses    JSONB,
			transcript    TEXT NOT NULL DEFAULT '',
			raw_vendor    TEXT NOT NULL DEFAULT '',
			error_message TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_records_owner ON analysis_records (owner_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS upload_chunks (
			file_id      TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			storage_key  TEXT NOT NULL,
			is_last      BOOLEAN NOT NULL DEFAULT FALSE,
			owner_id     TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (file_id, chunk_index)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertAnalysis creates a record in its initial status and returns the id.
func (s *Store) InsertAnalysis(ctx context.Context, rec *model.AnalysisRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = model.AnalysisStatusUploaded
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_records
		 (id, owner_id, subject_id, workflow, status, transcript, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OwnerID, rec.SubjectID, rec.Workflow, rec.Status, rec.Transcript, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis record: %w", err)
	}
	return rec.ID, nil
}

// GetAnalysis fetches one record scoped by owner.
func (s *Store) GetAnalysis(ctx context.Context, ownerID, id string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, subject_id, workflow, status, score, sub_scores,
		        call_type, feedback, strengths, weaknesses, transcript,
		        raw_vendor, error_message, created_at, updated_at
		 FROM analysis_records WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)

	var rec model.AnalysisRecord
	var subScores, strengths, weaknesses []byte
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.SubjectID, &rec.Workflow, &rec.Status,
		&rec.Score, &subScores, &rec.CallType, &rec.Feedback,
		&strengths, &weaknesses, &rec.Transcript, &rec.RawVendor,
		&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis record: %w", err)
	}

	if len(subScores) > 0 {
		_ = json.Unmarshal(subScores, &rec.SubScores)
	}
	if len(strengths) > 0 {
		_ = json.Unmarshal(strengths, &rec.Strengths)
	}
	if len(weaknesses) > 0 {
		_ = json.Unmarshal(weaknesses, &rec.Weaknesses)
	}
	return &rec, nil
}

// MarkProcessing moves a record into processing. The transition is persisted
// before any vendor call so a crash mid-pipeline leaves an observable
// stuck-in-processing record rather than silent loss. Terminal records are
// never regressed.
func (s *Store) MarkProcessing(ctx context.Context, ownerID, id string) error {
	return s.guardedUpdate(ctx, ownerID, id,
		`UPDATE analysis_records
		 SET status = $3, updated_at = now()
		 WHERE id = $1 AND owner_id = $2 AND status NOT IN ('completed', 'failed')`,
		model.AnalysisStatusProcessing,
	)
}

// SaveTranscript stores the formatted transcript on the record so a retried
// run can skip re-transcription.
func (s *Store) SaveTranscript(ctx context.Context, ownerID, id, transcript string) error {
	return s.guardedUpdate(ctx, ownerID, id,
		`UPDATE analysis_records
		 SET transcript = $3, updated_at = now()
		 WHERE id = $1 AND owner_id = $2 AND status NOT IN ('completed', 'failed')`,
		transcript,
	)
}

// CompleteAnalysis writes the terminal completed state in a single update.
// The status guard makes the terminal transition first-write-wins.
func (s *Store) CompleteAnalysis(ctx context.Context, ownerID, id string, res *model.AnalysisResult) error {
	subScores, _ := json.Marshal(res.SubScores)
	strengths, _ := json.Marshal(res.Strengths)
	weaknesses, _ := json.Marshal(res.Weaknesses)

	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_records
		 SET status = 'completed', score = $3, sub_scores = $4, call_type = $5,
		     feedback = $6, strengths = $7, weaknesses = $8, raw_vendor = $9,
		     error_message = NULL, updated_at = now()
		 WHERE id = $1 AND owner_id = $2 AND status NOT IN ('completed', 'failed')`,
		id, ownerID, res.Score, subScores, res.CallType, res.Feedback,
		strengths, weaknesses, res.RawVendor,
	)
	if err != nil {
		return fmt.Errorf("complete analysis record: %w", err)
	}
	return checkAffected(result)
}

// FailAnalysis writes the terminal failed state with the error payload.
func (s *Store) FailAnalysis(ctx context.Context, ownerID, id, errMsg string) error {
	return s.guardedUpdate(ctx, ownerID, id,
		`UPDATE analysis_records
		 SET status = 'failed', error_message = $3, updated_at = now()
		 WHERE id = $1 AND owner_id = $2 AND status NOT IN ('completed', 'failed')`,
		errMsg,
	)
}

func (s *Store) guardedUpdate(ctx context.Context, ownerID, id, query string, arg interface{}) error {
	result, err := s.db.ExecContext(ctx, query, id, ownerID, arg)
	if err != nil {
		return fmt.Errorf("update analysis record: %w", err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChunk records one received chunk. Re-sent chunks overwrite their
// previous row (network retries are expected).
func (s *Store) InsertChunk(ctx context.Context, c *model.UploadChunk) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_chunks (file_id, chunk_index, total_chunks, storage_key, is_last, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (file_id, chunk_index)
		 DO UPDATE SET storage_key = EXCLUDED.storage_key, is_last = EXCLUDED.is_last`,
		c.FileID, c.ChunkIndex, c.TotalChunks, c.StorageKey, c.IsLast, c.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("insert upload chunk: %w", err)
	}
	return nil
}

// ListChunks returns a file's chunks in index order, scoped by owner.
func (s *Store) ListChunks(ctx context.Context, ownerID, fileID string) ([]model.UploadChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, chunk_index, total_chunks, storage_key, is_last, owner_id, created_at
		 FROM upload_chunks WHERE file_id = $1 AND owner_id = $2
		 ORDER BY chunk_index ASC`,
		fileID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list upload chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.UploadChunk
	for rows.Next() {
		var c model.UploadChunk
		if err := rows.Scan(&c.FileID, &c.ChunkIndex, &c.TotalChunks, &c.StorageKey, &c.IsLast, &c.OwnerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunks drops a file's chunk rows after assembly.
func (s *Store) DeleteChunks(ctx context.Context, ownerID, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_chunks WHERE file_id = $1 AND owner_id = $2`,
		fileID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete upload chunks: %w", err)
	}
	return nil
}
