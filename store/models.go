package store

import "time"

// Upload records a file an importer has already sent to the frame.
type Upload struct {
	Source     string    `json:"source"`
	Name       string    `json:"name"`
	ImageID    string    `json:"image_id"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Schedule struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}
