// Package remote resolves a Dataset's SourceConfig to an actual file
// transfer. SourceConfig is a tagged-variant blob (Kind selects which of
// URL/S3/GoogleDrive fields apply) so the Conversion Dispatcher's sync
// stage can treat every remote-source dataset the same way: look up the
// Fetcher for Kind, call Fetch, and let the dispatcher own status
// transitions and cancellation.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

type SourceKind string

const (
	SourceURL         SourceKind = "url"
	SourceS3          SourceKind = "s3"
	SourceGoogleDrive SourceKind = "google_drive"
)

// SourceConfig is stored verbatim in Dataset.SourceConfig (jsonb). Only
// the fields relevant to Kind are populated.
type SourceConfig struct {
	Kind SourceKind `json:"kind"`

	URL string `json:"url,omitempty"`

	S3Bucket string `json:"s3Bucket,omitempty"`
	S3Key    string `json:"s3Key,omitempty"`
	S3Region string `json:"s3Region,omitempty"`

	GoogleDriveFileID string `json:"googleDriveFileId,omitempty"`
}

func ParseSourceConfig(raw []byte) (*SourceConfig, error) {
	var cfg SourceConfig
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty source config")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode source config: %w", err)
	}
	return &cfg, nil
}

// Fetcher downloads the remote object described by cfg into destPath,
// returning the number of bytes written. Implementations must honor ctx
// cancellation so the dispatcher's cancellation checks propagate into
// long-running transfers.
type Fetcher interface {
	Fetch(ctx context.Context, cfg *SourceConfig, destPath string) (int64, error)
}

// Registry dispatches to the Fetcher registered for a SourceKind.
type Registry struct {
	fetchers map[SourceKind]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[SourceKind]Fetcher)}
}

func (r *Registry) Register(kind SourceKind, f Fetcher) {
	r.fetchers[kind] = f
}

func (r *Registry) Fetch(ctx context.Context, cfg *SourceConfig, destPath string) (int64, error) {
	f, ok := r.fetchers[cfg.Kind]
	if !ok {
		return 0, fmt.Errorf("no fetcher registered for source kind %q", cfg.Kind)
	}
	return f.Fetch(ctx, cfg, destPath)
}
