// Package storage implements the on-disk directory contract every ingest
// and dispatch component honors:
//
//	{ingest_root}/upload/{uuid}/      raw inputs as uploaded
//	{ingest_root}/converted/{uuid}/   converter outputs
//	{ingest_root}/sync/{uuid}/        remote-source landing (if any)
//	{ingest_root}/tmp/{session_id}/   per-session chunk spool
//
// The tree is partitioned by uuid/session_id, so concurrent ingests never
// collide at the filesystem level.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type Layout struct {
	Root string
}

func New(root string) *Layout {
	return &Layout{Root: root}
}

func (l *Layout) UploadDir(datasetUUID uuid.UUID) string {
	return filepath.Join(l.Root, "upload", datasetUUID.String())
}

func (l *Layout) ConvertedDir(datasetUUID uuid.UUID) string {
	return filepath.Join(l.Root, "converted", datasetUUID.String())
}

func (l *Layout) SyncDir(datasetUUID uuid.UUID) string {
	return filepath.Join(l.Root, "sync", datasetUUID.String())
}

func (l *Layout) SpoolDir(sessionID uuid.UUID) string {
	return filepath.Join(l.Root, "tmp", sessionID.String())
}

// ChunkPath returns the path of one chunk's file within its session spool,
// named by zero-padded index so a directory listing sorts in assembly
// order.
func (l *Layout) ChunkPath(sessionID uuid.UUID, chunkIndex int) string {
	return filepath.Join(l.SpoolDir(sessionID), fmt.Sprintf("%08d.chunk", chunkIndex))
}

func (l *Layout) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// RemoveDir discards a directory tree; used to garbage-collect the chunk
// spools of completed, expired or aborted sessions.
func (l *Layout) RemoveDir(dir string) error {
	return os.RemoveAll(dir)
}

// DirNonEmpty reports whether dir exists and contains at least one entry —
// the Conversion Dispatcher's post-check that a converter actually wrote
// output.
func DirNonEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// DirSizeBytes walks dir and sums regular-file sizes — used by the size
// reconciler to compute Dataset.DataSizeGB after ingestion, never during
// upload.
func DirSizeBytes(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
