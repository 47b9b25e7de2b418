package model

const (
	DocumentStatusUploaded   = "UPLOADED"
	DocumentStatusExtracting = "EXTRACTING"
	DocumentStatusChunking   = "CHUNKING"
	DocumentStatusEmbedding  = "EMBEDDING"
	DocumentStatusReady      = "READY"
	DocumentStatusError      = "ERROR"
)

const (
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
)

type Document struct {
	ID           string       `json:"id"`
	SpaceID      string       `json:"space_id"`
	Title        string       `json:"title"`
	SourceName   string       `json:"source_name,omitempty"`
	MimeType     string       `json:"mime_type"`
	FileKey      string       `json:"file_key,omitempty"`
	Content      string       `json:"content,omitempty"`
	ContentHash  string       `json:"content_hash"`
	Status       string       `json:"status"`
	ErrorStage   string       `json:"error_stage,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ErrorTime    int64        `json:"error_time,omitempty"`
	ChunkCount   int          `json:"chunk_count"`
	Metadata     DocumentMeta `json:"metadata"`
	Ctime        int64        `json:"ctime"`
	Mtime        int64        `json:"mtime"`
}

type DocumentMeta struct {
	SizeBytes      int64 `json:"size_bytes,omitempty"`
	PageCount      int   `json:"page_count,omitempty"`
	ParagraphCount int   `json:"paragraph_count,omitempty"`
	ElementCount   int   `json:"element_count,omitempty"`
}

// IsProcessing reports whether the document is currently owned by a pipeline stage.
func (d *Document) IsProcessing() bool {
	switch d.Status {
	case DocumentStatusExtracting, DocumentStatusChunking, DocumentStatusEmbedding:
		return true
	}
	return false
}
