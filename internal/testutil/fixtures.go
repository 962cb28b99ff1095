package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserBuilder creates test users with a builder pattern. There is no
// password: identity is an email address, and the access token is minted
// by AuthService.Login, not stored here.
type UserBuilder struct {
	email string
}

func NewUserBuilder() *UserBuilder {
	return &UserBuilder{
		email: fmt.Sprintf("tester-%s@example.com", uuid.New().String()[:8]),
	}
}

func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) *domain.User {
	t.Helper()

	user := &domain.User{
		UserID:    uuid.New(),
		Email:     b.email,
		IsActive:  true,
		CreatedAt: time.Now(),
		Tokens:    []byte("[]"),
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return user
}

type AuthResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// BuildAndAuthenticate logs the builder's email in via the API (creating
// the user lazily, exactly as production does) and returns the user and
// access token.
func (b *UserBuilder) BuildAndAuthenticate(t *testing.T, ts *TestServer) (*domain.User, string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": b.email})

	resp, err := http.Post(ts.APIURL("/auth/login"), "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	userID, _ := uuid.Parse(authResp.User.ID)
	user := &domain.User{UserID: userID, Email: authResp.User.Email}

	return user, authResp.AccessToken
}

// DatasetBuilder creates test datasets with a builder pattern.
type DatasetBuilder struct {
	name       string
	ownerEmail string
	sensorKind domain.SensorKind
	status     domain.Status
	isPublic   domain.Visibility
	teamID     *string
	convert    bool
}

func NewDatasetBuilder() *DatasetBuilder {
	return &DatasetBuilder{
		name:       fmt.Sprintf("test-dataset-%s", uuid.New().String()[:8]),
		ownerEmail: "owner@example.com",
		sensorKind: domain.SensorTIFF,
		status:     domain.StatusSubmitted,
		isPublic:   domain.VisibilityOnlyOwner,
		convert:    true,
	}
}

func (b *DatasetBuilder) WithName(name string) *DatasetBuilder {
	b.name = name
	return b
}

func (b *DatasetBuilder) WithOwnerEmail(email string) *DatasetBuilder {
	b.ownerEmail = email
	return b
}

func (b *DatasetBuilder) WithSensorKind(kind domain.SensorKind) *DatasetBuilder {
	b.sensorKind = kind
	return b
}

func (b *DatasetBuilder) WithStatus(status domain.Status) *DatasetBuilder {
	b.status = status
	return b
}

func (b *DatasetBuilder) WithVisibility(v domain.Visibility) *DatasetBuilder {
	b.isPublic = v
	return b
}

func (b *DatasetBuilder) WithTeamID(teamID string) *DatasetBuilder {
	b.teamID = &teamID
	return b
}

func (b *DatasetBuilder) WithConvert(convert bool) *DatasetBuilder {
	b.convert = convert
	return b
}

func (b *DatasetBuilder) Build(t *testing.T, db *gorm.DB) *domain.Dataset {
	t.Helper()

	now := time.Now()
	dataset := &domain.Dataset{
		UUID:           uuid.New(),
		Name:           b.name,
		Slug:           fmt.Sprintf("%s-slug", b.name),
		NumericID:      int64(10000 + time.Now().UnixNano()%90000),
		OwnerEmail:     b.ownerEmail,
		TeamID:         b.teamID,
		SensorKind:     b.sensorKind,
		Convert:        b.convert,
		IsPublic:       b.isPublic,
		IsDownloadable: domain.VisibilityOnlyOwner,
		Status:         b.status,
		Files:          []byte("[]"),
		Tags:           []byte("[]"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := db.Create(dataset).Error; err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	return dataset
}

// UploadSessionBuilder creates test upload sessions with a builder pattern.
type UploadSessionBuilder struct {
	datasetUUID uuid.UUID
	filename    string
	totalBytes  int64
	chunkSize   int64
	ownerEmail  string
	state       domain.SessionState
}

func NewUploadSessionBuilder(datasetUUID uuid.UUID) *UploadSessionBuilder {
	return &UploadSessionBuilder{
		datasetUUID: datasetUUID,
		filename:    "raw.tif",
		totalBytes:  10 << 20,
		chunkSize:   1 << 20,
		ownerEmail:  "owner@example.com",
		state:       domain.SessionOpen,
	}
}

func (b *UploadSessionBuilder) WithState(state domain.SessionState) *UploadSessionBuilder {
	b.state = state
	return b
}

func (b *UploadSessionBuilder) Build(t *testing.T, db *gorm.DB) *domain.UploadSession {
	t.Helper()

	totalChunks := int((b.totalBytes + b.chunkSize - 1) / b.chunkSize)
	session := &domain.UploadSession{
		SessionID:      uuid.New(),
		DatasetUUID:    b.datasetUUID,
		Filename:       b.filename,
		TotalBytes:     b.totalBytes,
		ChunkSizeBytes: b.chunkSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: []byte("[]"),
		ChunkHashes:    []byte("{}"),
		OwnerEmail:     b.ownerEmail,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
		State:          b.state,
	}

	if err := db.Create(session).Error; err != nil {
		t.Fatalf("failed to create upload session: %v", err)
	}

	return session
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}
