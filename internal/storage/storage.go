package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"wpback/internal/logger"
)

// Sink is the object-storage destination a finished backup tree is
// handed to, one file at a time.
type Sink interface {
	PutFile(ctx context.Context, localPath, bucket, key string) error
}

// UploadStats summarizes one tree upload.
type UploadStats struct {
	Bucket     string `json:"bucket"`
	Prefix     string `json:"prefix,omitempty"`
	Files      int    `json:"files_uploaded"`
	Errors     int    `json:"upload_errors"`
	TotalBytes int64  `json:"total_bytes"`
}

// Uploader walks a local backup tree and pushes every file to a Sink.
// Per-file failures are counted but never abort the remaining uploads.
type Uploader struct {
	Sink   Sink
	Bucket string
	Prefix string
	Log    logger.Logger
}

// UploadTree uploads every regular file under root. Keys are the
// prefix-joined paths relative to root, with forward slashes.
func (u *Uploader) UploadTree(ctx context.Context, root string) (UploadStats, error) {
	log := u.Log
	if log == nil {
		log = logger.Global()
	}
	stats := UploadStats{Bucket: u.Bucket, Prefix: u.Prefix}

	log.Info("uploading backup tree", "bucket", u.Bucket, "prefix", u.Prefix, "root", root)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			stats.Errors++
			log.Error("failed to build object key", "path", p, "error", err.Error())
			return nil
		}
		key := path.Join(u.Prefix, filepath.ToSlash(rel))

		if err := u.Sink.PutFile(ctx, p, u.Bucket, key); err != nil {
			stats.Errors++
			log.Error("upload failed", "path", p, "key", key, "error", err.Error())
			return nil
		}
		stats.Files++
		if info, err := os.Stat(p); err == nil {
			stats.TotalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk backup tree: %w", err)
	}

	log.Info("upload complete",
		"files", stats.Files, "errors", stats.Errors,
		"mb", fmt.Sprintf("%.2f", float64(stats.TotalBytes)/(1024*1024)),
	)
	return stats, nil
}
