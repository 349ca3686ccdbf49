package model

import "time"

// UploadChunk is one byte-range segment of a large file uploaded
// incrementally. Indices for a file id run contiguously from 0 to
// TotalChunks-1; assembly fires exactly once, on the chunk carrying IsLast.
type UploadChunk struct {
	FileID      string    `json:"fileId"`
	ChunkIndex  int       `json:"chunkIndex"`
	TotalChunks int       `json:"totalChunks"`
	StorageKey  string    `json:"storageKey"`
	IsLast      bool      `json:"isLast"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChunkUploadResponse acknowledges a received chunk. When the final chunk
// triggers assembly, JobID and RecordID identify the started pipeline run.
type ChunkUploadResponse struct {
	FileID     string `json:"fileId"`
	ChunkIndex int    `json:"chunkIndex"`
	Received   bool   `json:"received"`
	Assembled  bool   `json:"assembled"`
	JobID      string `json:"jobId,omitempty"`
	RecordID   string `json:"recordId,omitempty"`
}
