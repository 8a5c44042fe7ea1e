package types

import "time"

// SyncStage names the pipeline step at which a file failed
type SyncStage string

const (
	StageDownload SyncStage = "download"
	StageExtract  SyncStage = "extract"
	StageEmbed    SyncStage = "embed"
	StageCommit   SyncStage = "commit"
	StageDelete   SyncStage = "delete"
)

// FileError records a single file's failure during a sync run
type FileError struct {
	SourceID string    `json:"source_id"`
	Filename string    `json:"filename"`
	Stage    SyncStage `json:"stage"`
	Error    string    `json:"error"`
}

// SyncSummary is returned by every sync invocation, including partially
// failed ones.
type SyncSummary struct {
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	FilesDeleted   int           `json:"files_deleted"`
	ChunksWritten  int           `json:"chunks_written"`
	PerFileErrors  []FileError   `json:"per_file_errors"`
	Forced         bool          `json:"forced"`
	Duration       time.Duration `json:"duration_ns"`
}

// Stats summarises the contents of the knowledge base
type Stats struct {
	TotalChunks      int                  `json:"total_chunks"`
	SourcesByStatus  map[SourceStatus]int `json:"sources_by_status"`
	ChunksByCategory map[string]int       `json:"chunks_by_category"`
	EmbeddingModel   string               `json:"embedding_model,omitempty"`
	EmbeddingDim     int                  `json:"embedding_dimension,omitempty"`
	IndexSizeMB      float64              `json:"index_size_mb"`
	Backend          string               `json:"backend"`
}

// TotalSources returns the number of tracked sources across all statuses
func (s *Stats) TotalSources() int {
	total := 0
	for _, n := range s.SourcesByStatus {
		total += n
	}
	return total
}
