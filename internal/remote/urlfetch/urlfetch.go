// Package urlfetch is the plain-HTTP remote-source fetcher: no SDK, no
// credentials, just a GET and a streamed copy to disk.
package urlfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dom/ingest-pipeline/internal/remote"
)

type Fetcher struct {
	Client *http.Client
}

func New() *Fetcher {
	return &Fetcher{Client: http.DefaultClient}
}

func (f *Fetcher) Fetch(ctx context.Context, cfg *remote.SourceConfig, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: unexpected status %s", cfg.URL, resp.Status)
	}

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
