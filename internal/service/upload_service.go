package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/model"
)

// ErrMissingChunks is returned when a final chunk arrives but the stored set
// does not cover every index up to totalChunks.
var ErrMissingChunks = errors.New("upload incomplete: missing chunks")

const signedURLExpiry = 2 * time.Hour

// ChunkStore is the chunk bookkeeping side of uploads, implemented by
// store.Store.
type ChunkStore interface {
	InsertChunk(ctx context.Context, c *model.UploadChunk) error
	ListChunks(ctx context.Context, ownerID, fileID string) ([]model.UploadChunk, error)
	DeleteChunks(ctx context.Context, ownerID, fileID string) error
}

// AnalysisStarter kicks off a pipeline run for an assembled file,
// implemented by AnalysisService.
type AnalysisStarter interface {
	StartAnalysis(ctx context.Context, ownerID string, wf model.Workflow, req *model.StartAnalysisRequest) (*model.StartAnalysisResponse, error)
}

// UploadService receives chunked media uploads, reassembles them in object
// storage and hands the assembled file to the analysis pipeline.
type UploadService struct {
	storage  client.StorageClient
	store    ChunkStore
	analysis AnalysisStarter
}

func NewUploadService(storage client.StorageClient, st ChunkStore, analysis AnalysisStarter) *UploadService {
	return &UploadService{
		storage:  storage,
		store:    st,
		analysis: analysis,
	}
}

// ReceiveChunk stores one chunk. When isLast is set it verifies the set is
// complete, reassembles the file and starts an analysis job for it.
func (s *UploadService) ReceiveChunk(ctx context.Context, ownerID, fileID string, chunkIndex, totalChunks int, isLast bool, data []byte, wf model.Workflow, subjectID, language string) (*model.ChunkUploadResponse, error) {
	if s.storage == nil {
		return nil, errors.New("object storage not configured")
	}

	key := chunkKey(ownerID, fileID, chunkIndex)

	if _, err := s.storage.Upload(ctx, key, bytes.NewReader(data), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("failed to store chunk: %w", err)
	}

	if err := s.store.InsertChunk(ctx, &model.UploadChunk{
		FileID:      fileID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		StorageKey:  key,
		IsLast:      isLast,
		OwnerID:     ownerID,
	}); err != nil {
		return nil, fmt.Errorf("failed to record chunk: %w", err)
	}

	resp := &model.ChunkUploadResponse{
		FileID:     fileID,
		ChunkIndex: chunkIndex,
		Received:   true,
	}

	if !isLast {
		return resp, nil
	}

	mediaURL, err := s.assemble(ctx, ownerID, fileID, totalChunks)
	if err != nil {
		return nil, err
	}

	started, err := s.analysis.StartAnalysis(ctx, ownerID, wf, &model.StartAnalysisRequest{
		SubjectID: subjectID,
		MediaURL:  mediaURL,
		Language:  language,
	})
	if err != nil {
		return nil, err
	}

	resp.Assembled = true
	resp.JobID = started.JobID
	resp.RecordID = started.RecordID
	return resp, nil
}

// assemble concatenates all chunks in index order into a single object and
// returns a signed URL for it. Chunk objects and rows are cleaned up best
// effort afterwards.
func (s *UploadService) assemble(ctx context.Context, ownerID, fileID string, totalChunks int) (string, error) {
	chunks, err := s.store.ListChunks(ctx, ownerID, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to list chunks: %w", err)
	}

	if len(chunks) != totalChunks {
		return "", fmt.Errorf("%w: have %d of %d", ErrMissingChunks, len(chunks), totalChunks)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			return "", fmt.Errorf("%w: chunk %d not found", ErrMissingChunks, i)
		}
	}

	var assembled bytes.Buffer
	for _, c := range chunks {
		data, err := s.storage.Download(ctx, c.StorageKey)
		if err != nil {
			return "", fmt.Errorf("failed to read chunk %d: %w", c.ChunkIndex, err)
		}
		assembled.Write(data)
	}

	assembledKey := fmt.Sprintf("uploads/%s/%s/assembled", ownerID, fileID)
	if _, err := s.storage.Upload(ctx, assembledKey, &assembled, "application/octet-stream"); err != nil {
		return "", fmt.Errorf("failed to store assembled file: %w", err)
	}

	mediaURL, err := s.storage.GetSignedURL(ctx, assembledKey, signedURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign assembled file: %w", err)
	}

	s.cleanupChunks(ctx, ownerID, fileID, chunks)

	return mediaURL, nil
}

func (s *UploadService) cleanupChunks(ctx context.Context, ownerID, fileID string, chunks []model.UploadChunk) {
	for _, c := range chunks {
		if err := s.storage.Delete(ctx, c.StorageKey); err != nil {
			log.Printf("[Upload] Failed to delete chunk %s: %v", c.StorageKey, err)
		}
	}
	if err := s.store.DeleteChunks(ctx, ownerID, fileID); err != nil {
		log.Printf("[Upload] Failed to delete chunk rows for %s: %v", fileID, err)
	}
}

func chunkKey(ownerID, fileID string, index int) string {
	return fmt.Sprintf("uploads/%s/%s/chunks/%05d", ownerID, fileID, index)
}
