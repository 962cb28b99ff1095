package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TokenKind distinguishes bearer secrets issued for API access from the
// longer-lived secrets used to mint new access tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenDescriptor records everything about an issued bearer secret except
// the secret itself: only its one-way hash is ever persisted. Descriptors
// live inside the owning User's Tokens column rather than as independent
// rows with a back-pointer, so a user profile and its tokens are always
// read and written together.
type TokenDescriptor struct {
	TokenID    uuid.UUID  `json:"tokenId"`
	TokenKind  TokenKind  `json:"tokenKind"`
	TokenHash  string     `json:"tokenHash"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	IsRevoked  bool       `json:"isRevoked"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// User is the profile created lazily on first successful login. It is
// never deleted, only marked inactive.
type User struct {
	UserID       uuid.UUID      `json:"userId" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email        string         `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string         `json:"-" gorm:"column:password_hash"`
	Tokens       datatypes.JSON `json:"-" gorm:"type:jsonb;default:'[]'"`
	IsActive     bool           `json:"isActive" gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastLoginAt  *time.Time     `json:"lastLogin"`
	LastActiveAt *time.Time     `json:"lastActivity"`
}

func (User) TableName() string { return "user_profiles" }
