package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SessionState is the lifecycle of one chunked upload.
type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionCompleting SessionState = "completing"
	SessionComplete   SessionState = "complete"
	SessionAborted    SessionState = "aborted"
	SessionExpired    SessionState = "expired"
)

// UploadSession tracks chunked-upload progress for one file belonging to
// one dataset. ReceivedChunks holds the set of chunk indices that have
// been durably written to the staging spool, as a sorted slice of ints —
// the JSON-friendly equivalent of a bitset.
type UploadSession struct {
	SessionID      uuid.UUID      `json:"sessionId" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DatasetUUID    uuid.UUID      `json:"datasetUuid" gorm:"type:uuid;index;not null"`
	Filename       string         `json:"filename" gorm:"not null"`
	TotalBytes     int64          `json:"totalBytes" gorm:"not null"`
	ChunkSizeBytes int64          `json:"chunkSizeBytes" gorm:"not null"`
	TotalChunks    int            `json:"totalChunks" gorm:"not null"`
	ReceivedChunks datatypes.JSON `json:"receivedChunks" gorm:"type:jsonb;default:'[]'"`
	ChunkHashes    datatypes.JSON `json:"-" gorm:"type:jsonb;default:'[]'"`
	OverallHash    string         `json:"overallHash"`
	OwnerEmail     string         `json:"ownerEmail" gorm:"not null"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt" gorm:"index;not null"`
	State          SessionState   `json:"state" gorm:"not null;default:'open'"`
}

func (UploadSession) TableName() string { return "upload_sessions" }
