package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/google/uuid"
)

// UploadSessionService implements the resumable chunked upload protocol:
// a session spools chunks to disk as they arrive, tracks which indexes and
// hashes have landed, and assembles them into the dataset's upload
// directory only once every chunk is present and its SHA-256 checksum
// matches.
type UploadSessionService struct {
	sessions repository.UploadSessionRepository
	datasets repository.DatasetRepository
	layout   *storage.Layout
	cfg      *config.Config
}

func NewUploadSessionService(sessions repository.UploadSessionRepository, datasets repository.DatasetRepository, layout *storage.Layout, cfg *config.Config) *UploadSessionService {
	return &UploadSessionService{sessions: sessions, datasets: datasets, layout: layout, cfg: cfg}
}

type InitiateInput struct {
	DatasetUUID    uuid.UUID
	Filename       string
	TotalBytes     int64
	OwnerEmail     string
	ChunkSizeBytes int64
}

func (s *UploadSessionService) Initiate(ctx context.Context, in InitiateInput) (*domain.UploadSession, error) {
	if in.TotalBytes <= 0 || in.Filename == "" {
		return nil, fmt.Errorf("%w: filename and totalBytes are required", apperr.ErrValidation)
	}
	if in.TotalBytes > s.cfg.MaxFileSizeBytes {
		return nil, fmt.Errorf("%w: file exceeds maximum size", apperr.ErrValidation)
	}

	chunkSize := in.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = s.cfg.ChunkSizeBytes
	}
	totalChunks := int((in.TotalBytes + chunkSize - 1) / chunkSize)

	received, _ := json.Marshal([]int{})
	hashes, _ := json.Marshal(map[string]string{})

	session := &domain.UploadSession{
		SessionID:      uuid.New(),
		DatasetUUID:    in.DatasetUUID,
		Filename:       in.Filename,
		TotalBytes:     in.TotalBytes,
		ChunkSizeBytes: chunkSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: received,
		ChunkHashes:    hashes,
		OwnerEmail:     in.OwnerEmail,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(s.cfg.SessionTTL),
		State:          domain.SessionOpen,
	}

	if err := s.layout.EnsureDir(s.layout.SpoolDir(session.SessionID)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return session, nil
}

// WriteChunk spools chunkIndex's bytes to disk, verifying the caller's
// claimed SHA-256 before recording the chunk as received. Re-uploading an
// index already on disk with a matching hash is a safe retry after a
// dropped connection; re-uploading it with different bytes is rejected
// rather than silently replacing what was already accepted.
func (s *UploadSessionService) WriteChunk(ctx context.Context, sessionID uuid.UUID, chunkIndex int, expectedHash string, r io.Reader) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return apperr.ErrNotFound
	}
	if session.State != domain.SessionOpen {
		return fmt.Errorf("%w: session is not open", apperr.ErrValidation)
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return fmt.Errorf("%w: chunk index out of range", apperr.ErrValidation)
	}

	received, err := decodeIntSet(session.ReceivedChunks)
	if err != nil {
		return err
	}
	hashes, err := decodeHashMap(session.ChunkHashes)
	if err != nil {
		return err
	}

	path := s.layout.ChunkPath(sessionID, chunkIndex)
	tmpPath := path + ".tmp"
	hasher := sha256.New()
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if _, err := io.Copy(io.MultiWriter(f, hasher), r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	f.Close()
	actualHash := hex.EncodeToString(hasher.Sum(nil))

	if expectedHash != "" && actualHash != expectedHash {
		os.Remove(tmpPath)
		return apperr.ErrChunkHashMismatch
	}
	if _, already := received[chunkIndex]; already {
		if prior, ok := hashes[fmt.Sprint(chunkIndex)]; ok && prior != actualHash {
			os.Remove(tmpPath)
			return apperr.ErrChunkHashMismatch
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	received[chunkIndex] = struct{}{}
	session.ReceivedChunks, err = encodeIntSet(received)
	if err != nil {
		return err
	}
	hashes[fmt.Sprint(chunkIndex)] = actualHash
	session.ChunkHashes, err = encodeHashMap(hashes)
	if err != nil {
		return err
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

type ResumeInfo struct {
	SessionID       uuid.UUID
	ReceivedIndexes []int
	TotalChunks     int
	State           domain.SessionState
}

func (s *UploadSessionService) GetResumeInfo(ctx context.Context, sessionID uuid.UUID) (*ResumeInfo, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.ErrNotFound
	}
	received, err := decodeIntSet(session.ReceivedChunks)
	if err != nil {
		return nil, err
	}
	indexes := make([]int, 0, len(received))
	for idx := range received {
		indexes = append(indexes, idx)
	}
	return &ResumeInfo{
		SessionID:       session.SessionID,
		ReceivedIndexes: indexes,
		TotalChunks:     session.TotalChunks,
		State:           session.State,
	}, nil
}

// Complete verifies every chunk has landed, assembles them in order into
// the dataset's upload directory, checks the caller-supplied overall hash,
// and moves the session to complete. The open->completing transition
// guards against two concurrent callers racing to assemble the same
// session.
func (s *UploadSessionService) Complete(ctx context.Context, sessionID uuid.UUID, overallHash string) (string, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", apperr.ErrNotFound
	}

	received, err := decodeIntSet(session.ReceivedChunks)
	if err != nil {
		return "", err
	}
	if len(received) != session.TotalChunks {
		return "", fmt.Errorf("%w: missing chunks", apperr.ErrValidation)
	}

	if err := s.sessions.CompareAndSetState(ctx, sessionID, domain.SessionOpen, domain.SessionCompleting); err != nil {
		return "", err
	}

	destDir := s.layout.UploadDir(session.DatasetUUID)
	if err := s.layout.EnsureDir(destDir); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	destPath := destDir + "/" + session.Filename

	assembledHash, err := assembleChunks(s.layout, sessionID, session.TotalChunks, destPath)
	if err != nil {
		s.sessions.CompareAndSetState(ctx, sessionID, domain.SessionCompleting, domain.SessionOpen)
		return "", err
	}
	if overallHash != "" && assembledHash != overallHash {
		os.Remove(destPath)
		s.sessions.CompareAndSetState(ctx, sessionID, domain.SessionCompleting, domain.SessionOpen)
		return "", apperr.ErrOverallHashMismatch
	}

	session.OverallHash = assembledHash
	if err := s.sessions.Update(ctx, session); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if err := s.sessions.CompareAndSetState(ctx, sessionID, domain.SessionCompleting, domain.SessionComplete); err != nil {
		return "", err
	}

	s.layout.RemoveDir(s.layout.SpoolDir(sessionID))
	return destPath, nil
}

func (s *UploadSessionService) Abort(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return apperr.ErrNotFound
	}
	if err := s.sessions.CompareAndSetState(ctx, sessionID, session.State, domain.SessionAborted); err != nil {
		return err
	}
	return s.layout.RemoveDir(s.layout.SpoolDir(sessionID))
}

// SweepExpired finds sessions past their expiry and discards their spool
// directories, so an abandoned upload does not hold disk forever.
func (s *UploadSessionService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.sessions.FindExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	swept := 0
	for _, session := range expired {
		if err := s.sessions.CompareAndSetState(ctx, session.SessionID, session.State, domain.SessionExpired); err != nil {
			continue
		}
		s.layout.RemoveDir(s.layout.SpoolDir(session.SessionID))
		swept++
	}
	return swept, nil
}

func assembleChunks(layout *storage.Layout, sessionID uuid.UUID, totalChunks int, destPath string) (string, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	defer out.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)
	for i := 0; i < totalChunks; i++ {
		chunkPath := layout.ChunkPath(sessionID, i)
		in, err := os.Open(chunkPath)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		_, copyErr := io.Copy(writer, in)
		in.Close()
		if copyErr != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, copyErr)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func decodeIntSet(raw []byte) (map[int]struct{}, error) {
	var indexes []int
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &indexes); err != nil {
			return nil, fmt.Errorf("decode received chunks: %w", err)
		}
	}
	set := make(map[int]struct{}, len(indexes))
	for _, idx := range indexes {
		set[idx] = struct{}{}
	}
	return set, nil
}

func encodeIntSet(set map[int]struct{}) ([]byte, error) {
	indexes := make([]int, 0, len(set))
	for idx := range set {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return json.Marshal(indexes)
}

func decodeHashMap(raw []byte) (map[string]string, error) {
	hashes := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &hashes); err != nil {
			return nil, fmt.Errorf("decode chunk hashes: %w", err)
		}
	}
	return hashes, nil
}

func encodeHashMap(hashes map[string]string) ([]byte, error) {
	return json.Marshal(hashes)
}
