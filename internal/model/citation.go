package model

type Citation struct {
	ID        string  `json:"id"`
	MessageID string  `json:"message_id"`
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	Excerpt   string  `json:"excerpt"`
	Ordinal   int     `json:"ordinal"`
	Ctime     int64   `json:"ctime"`
}

// CitationWithChunk joins a citation with the cited chunk and its document,
// the shape returned when a single message is fetched.
type CitationWithChunk struct {
	Citation
	ChunkContent  string `json:"chunk_content"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
}
