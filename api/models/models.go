// Package models tracks all frame api models for request and responses
package models

import "time"

// Image is the server's view of an uploaded image. Offsets are a normalized
// pan of the visible crop, each axis in [-1, 1] with 0,0 centered.
type Image struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	ImageURL    string    `json:"image_url"`
	UploadedAt  time.Time `json:"uploaded_at"`
	OffsetX     float64   `json:"offset_x"`
	OffsetY     float64   `json:"offset_y"`
}

type Settings struct {
	ChangeInterval int     `json:"change_interval" validate:"gte=5,lte=3600"`
	LEDBrightness  int     `json:"led_brightness" validate:"gte=0,lte=100"`
	PowerOn        bool    `json:"power_on"`
	Saturation     float64 `json:"saturation" validate:"gte=0,lte=1"`
}

// DefaultSettings mirrors the frame server defaults.
func DefaultSettings() Settings {
	return Settings{
		ChangeInterval: 60,
		LEDBrightness:  50,
		PowerOn:        true,
		Saturation:     0.5,
	}
}

type State struct {
	Current  *Image   `json:"current"`
	Queue    []Image  `json:"queue"`
	History  []Image  `json:"history"`
	Settings Settings `json:"settings"`
}

type ReorderRequest struct {
	ImageIDs []string `json:"image_ids"`
}

type InsertRequest struct {
	ImageID string `json:"image_id"`
	Index   int    `json:"index"`
}

type TransformRequest struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

type UploadedImage struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	ImageURL string `json:"image_url"`
}

type UploadResponse struct {
	Added []UploadedImage `json:"added"`
}

// FramePayload is what the display client receives for the current frame.
type FramePayload struct {
	ImageID     string    `json:"image_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ImageBase64 string    `json:"image_base64"`
	OffsetX     float64   `json:"offset_x"`
	OffsetY     float64   `json:"offset_y"`
	Settings    Settings  `json:"settings"`
	Queued      int       `json:"queued"`
	GeneratedAt time.Time `json:"generated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DetailResponse is the error body shape returned by the frame api.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// UIState is the cached snapshot served to the page script.
type UIState struct {
	State     State     `json:"state"`
	Loaded    bool      `json:"loaded"`
	FetchedAt time.Time `json:"fetched_at"`
	Version   uint64    `json:"version"`
	Phase     string    `json:"phase"`
	Dragging  string    `json:"dragging,omitempty"`
	// SavedOffset is the last offset the frame confirmed for the current
	// image, when one was recorded.
	SavedOffset *SavedOffset `json:"saved_offset,omitempty"`
}

// SavedOffset is the last offset the frame confirmed for an image.
type SavedOffset struct {
	ImageID string    `json:"image_id"`
	OffsetX float64   `json:"offset_x"`
	OffsetY float64   `json:"offset_y"`
	SavedAt time.Time `json:"saved_at"`
}

type PointerEvent struct {
	PointerID int     `json:"pointer_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type PointerResponse struct {
	Phase   string  `json:"phase"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	// Released is set when the drag under this pointer was dropped and
	// pointer capture should be let go.
	Released bool `json:"released,omitempty"`
}

type DragStartRequest struct {
	List         string   `json:"list" binding:"required,oneof=queue history"`
	ID           string   `json:"id" binding:"required"`
	PayloadTypes []string `json:"payload_types"`
}

type DragOverResponse struct {
	Accepted bool     `json:"accepted"`
	Index    int      `json:"index"`
	Order    []string `json:"order,omitempty"`
}

type SettingsInputRequest struct {
	Field string `json:"field" form:"field" binding:"required"`
	Value string `json:"value" form:"value"`
}

// EventResponse acknowledges a committed event; the page refetches
// fragments when Version moves.
type EventResponse struct {
	Version uint64 `json:"version"`
}
