package model

type Conversation struct {
	ID      string `json:"id"`
	SpaceID string `json:"space_id"`
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Ctime   int64  `json:"ctime"`
	Mtime   int64  `json:"mtime"`
}
