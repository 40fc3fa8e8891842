package models

import "time"

// DriftRequest represents the drift check request payload
type DriftRequest struct {
	Project ProjectSpec      `json:"project" binding:"required"`
	Hosts   []HostCredential `json:"hosts" binding:"required"`
}

// FileContentRequest asks for the head of one remote file
type FileContentRequest struct {
	Host HostCredential `json:"host" binding:"required"`
	Path string         `json:"path" binding:"required"`
}

// Content encodings of a FileContentResponse
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// FileContentResponse carries at most MaxFileContentBytes of a remote file.
// Content holds the bytes as text when they are valid UTF-8 and as standard
// base64 otherwise; Encoding names which.
type FileContentResponse struct {
	HostID    string `json:"hostId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding"`
	Truncated bool   `json:"truncated"`
}

// ErrorResponse represents a failed API call
type ErrorResponse struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
