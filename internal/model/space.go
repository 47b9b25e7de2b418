package model

type Space struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Ctime       int64  `json:"ctime"`
	Mtime       int64  `json:"mtime"`
}
