package backup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"wpback/internal/logger"
	"wpback/internal/wordpress"
)

const (
	headProbeTimeout = 10 * time.Second

	progressUpdateInterval = 5 * time.Second
)

// Download outcome reasons.
const (
	ReasonDownloaded  = "downloaded"
	ReasonSkipped     = "skipped"
	ReasonFailed      = "failed"
	ReasonEmptySource = "empty-source"
)

// DownloadOutcome is the per-item result produced by one worker.
type DownloadOutcome struct {
	ID     int64
	Bytes  int64
	Reason string
	Detail string
}

// Success reports whether the asset is present locally after the attempt.
func (o DownloadOutcome) Success() bool {
	return o.Reason == ReasonDownloaded || o.Reason == ReasonSkipped
}

// DownloadStats aggregates outcomes across all media downloads of a run.
type DownloadStats struct {
	Total           int   `json:"total"`
	Success         int   `json:"success"`
	Failed          int   `json:"failed"`
	Skipped         int   `json:"skipped"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}

// Downloader fetches media binaries with a fixed-size worker pool and
// size-based skip logic so reruns against a populated directory are cheap.
type Downloader struct {
	Client    *http.Client
	Workers   int
	UserAgent string
	Log       logger.Logger

	// OnProgress, when set, receives advisory snapshots of the running
	// stats. It is called from the aggregator only, never concurrently.
	OnProgress func(DownloadStats)
}

func (d *Downloader) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: defaultDownloadTimeout}
}

const defaultDownloadTimeout = 30 * time.Second

// DownloadAll downloads the asset of every media record into destDir.
// Workers complete out of order; a single aggregator loop tallies the
// outcomes, so the final counts are exact regardless of scheduling.
func (d *Downloader) DownloadAll(ctx context.Context, records []wordpress.Record, destDir string) DownloadStats {
	log := d.Log
	if log == nil {
		log = logger.Global()
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}

	stats := DownloadStats{Total: len(records)}
	if len(records) == 0 {
		return stats
	}

	log.Info("downloading media files",
		"count", len(records), "workers", workers, "dir", destDir)

	jobs := make(chan wordpress.Record, len(records))
	results := make(chan DownloadOutcome, len(records))
	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)

	for i := 0; i < workers; i++ {
		go func() {
			for rec := range jobs {
				if ctx.Err() != nil {
					// Drain remaining jobs so every submitted item is
					// still accounted for exactly once.
					results <- DownloadOutcome{
						ID: rec.ID(), Reason: ReasonFailed, Detail: "cancelled",
					}
					continue
				}
				results <- d.downloadOne(ctx, rec, destDir)
			}
		}()
	}

	progressEvery := len(records) / 20
	if progressEvery < 1 {
		progressEvery = 1
	}
	lastProgress := time.Now()

	for done := 0; done < len(records); done++ {
		out := <-results
		switch out.Reason {
		case ReasonDownloaded:
			stats.Success++
			stats.BytesDownloaded += out.Bytes
		case ReasonSkipped:
			stats.Skipped++
		default:
			stats.Failed++
			log.Warn("media download failed",
				"id", out.ID, "reason", out.Reason, "detail", out.Detail)
		}

		completed := done + 1
		if completed%progressEvery == 0 || time.Since(lastProgress) > progressUpdateInterval {
			pct := float64(completed) / float64(stats.Total) * 100
			log.Info("media download progress",
				"completed", completed, "total", stats.Total,
				"percent", fmt.Sprintf("%.1f", pct),
				"mb", fmt.Sprintf("%.2f", float64(stats.BytesDownloaded)/(1024*1024)),
			)
			lastProgress = time.Now()
			if d.OnProgress != nil {
				d.OnProgress(stats)
			}
		}
	}

	log.Info("media download complete",
		"success", stats.Success, "failed", stats.Failed, "skipped", stats.Skipped,
		"mb", fmt.Sprintf("%.2f", float64(stats.BytesDownloaded)/(1024*1024)),
	)
	return stats
}

// downloadOne fetches one media asset. Existing files with a matching size
// are skipped; a failed size probe silently falls through to a full
// download. Failures are recorded, never retried.
func (d *Downloader) downloadOne(ctx context.Context, rec wordpress.Record, destDir string) DownloadOutcome {
	out := DownloadOutcome{ID: rec.ID()}

	media, err := rec.Media()
	if err != nil {
		out.Reason = ReasonFailed
		out.Detail = err.Error()
		return out
	}
	if media.SourceURL == "" {
		out.Reason = ReasonEmptySource
		out.Detail = "no source URL found"
		return out
	}

	filename := d.targetFilename(rec, media)
	subfolder := mediaSubfolder(media.Date)
	target := filepath.Join(destDir, filepath.FromSlash(subfolder), sanitizeFilename(filename))

	// Known size from record metadata makes the cheapest skip check.
	if media.Filesize > 0 {
		if info, err := os.Stat(target); err == nil && info.Size() == media.Filesize {
			out.Reason = ReasonSkipped
			return out
		}
	}

	// Lightweight probe for the remote size; on any failure we just
	// download.
	if size, err := d.probeSize(ctx, media.SourceURL); err == nil && size > 0 {
		if info, err := os.Stat(target); err == nil && info.Size() == size {
			out.Reason = ReasonSkipped
			return out
		}
	}

	if err := EnsureDirectoryExist(filepath.Dir(target)); err != nil {
		out.Reason = ReasonFailed
		out.Detail = err.Error()
		return out
	}

	n, err := d.fetch(ctx, media.SourceURL, target)
	if err != nil {
		out.Reason = ReasonFailed
		out.Detail = err.Error()
		return out
	}
	out.Reason = ReasonDownloaded
	out.Bytes = n
	return out
}

// targetFilename prefers the record's file path hint, then the URL path,
// then a synthetic <id><ext> name.
func (d *Downloader) targetFilename(rec wordpress.Record, media wordpress.MediaFields) string {
	if media.File != "" {
		if name := path.Base(media.File); name != "." && name != "/" {
			return name
		}
	}
	if u, err := url.Parse(media.SourceURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return strconv.FormatInt(rec.ID(), 10) + extensionForMime(media.MimeType)
}

// probeSize issues a HEAD request and returns the advertised size.
func (d *Downloader) probeSize(ctx context.Context, rawURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, headProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	resp, err := d.httpClient().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
}

// fetch streams the asset to target and returns the bytes written.
func (d *Downloader) fetch(ctx context.Context, rawURL, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	resp, err := d.httpClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("download error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("download error: status %d", resp.StatusCode)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("file system error: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("file system error: %w", err)
	}
	return n, nil
}
