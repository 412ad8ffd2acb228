// Package recording holds the in-memory session, chunk and patient state of a
// recording and the coordinator that mutates it.
package recording

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Status is the lifecycle state of a session.
type Status string

// StatusRecording is the only status the service assigns; sessions never finalize.
const StatusRecording Status = "recording"

// Session groups the chunks of one recording.
type Session struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patientId"`
	UserID         string    `json:"userId"`
	Status         Status    `json:"status"`
	StartTime      time.Time `json:"startTime"`
	TotalChunks    int       `json:"totalChunks"`
	UploadedChunks int       `json:"uploadedChunks"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Chunk is one uploaded audio segment. Ordinal is client-assigned and may repeat.
type Chunk struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Ordinal    int       `json:"chunkNumber"`
	PayloadRef string    `json:"filePath"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Patient is a subject that sessions are recorded for.
type Patient struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	DateOfBirth         string    `json:"dateOfBirth"`
	MedicalRecordNumber string    `json:"medicalRecordNumber,omitempty"`
	UserID              string    `json:"userId"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Publisher receives lifecycle events. Delivery is fire-and-forget.
type Publisher interface {
	Publish(name string, fields map[string]any)
}

// Event names published by the Coordinator.
const (
	EventSessionCreated         = "sessionCreated"
	EventChunkUploaded          = "chunkUploaded"
	EventChunkNotification      = "chunkNotification"
	EventPatientUpserted        = "patientUpserted"
	EventTranscriptionGenerated = "transcriptionGenerated"
)
