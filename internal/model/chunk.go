package model

type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Ordinal     int       `json:"ordinal"`
	Content     string    `json:"content"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	TokenCount  int       `json:"token_count"`
	Embedding   []float32 `json:"-"`
	Ctime       int64     `json:"ctime"`
}

// ChunkMatch is one retrieval hit: a chunk plus the similarity score and the
// title of the document it belongs to.
type ChunkMatch struct {
	Chunk         Chunk   `json:"chunk"`
	DocumentTitle string  `json:"document_title"`
	Similarity    float64 `json:"similarity"`
}
