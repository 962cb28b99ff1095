// Package drivefetch is the Google-Drive-variant remote-source fetcher.
// It authenticates with a service-account JSON blob, the credential
// shape SCLib_GoogleOAuth.py establishes, and is grounded on
// pranjalithakur-test-project-type's use of google.golang.org/api.
package drivefetch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dom/ingest-pipeline/internal/remote"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type Fetcher struct {
	serviceAccountJSON string
}

func New(serviceAccountJSON string) *Fetcher {
	return &Fetcher{serviceAccountJSON: serviceAccountJSON}
}

func (f *Fetcher) Fetch(ctx context.Context, cfg *remote.SourceConfig, destPath string) (int64, error) {
	creds, err := google.CredentialsFromJSON(ctx, []byte(f.serviceAccountJSON), drive.DriveReadonlyScope)
	if err != nil {
		return 0, fmt.Errorf("parse service account credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return 0, fmt.Errorf("create drive client: %w", err)
	}

	resp, err := svc.Files.Get(cfg.GoogleDriveFileID).Download()
	if err != nil {
		return 0, fmt.Errorf("download drive file %s: %w", cfg.GoogleDriveFileID, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return written, fmt.Errorf("write %s: %w", destPath, err)
	}
	return written, nil
}
