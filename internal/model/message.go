package model

const (
	MessageRoleQuestion = "question"
	MessageRoleAnswer   = "answer"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	Metadata       MessageMeta `json:"metadata"`
	Seq            int64       `json:"-"`
	Ctime          int64       `json:"ctime"`
}

// MessageMeta records how an answer was produced. Question messages carry an
// empty value.
type MessageMeta struct {
	Model      string `json:"model,omitempty"`
	TotalMs    int64  `json:"total_ms,omitempty"`
	SearchMs   int64  `json:"search_ms,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}
