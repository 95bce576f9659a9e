package backup

import (
	"fmt"
	"path/filepath"
	"time"

	"wpback/internal/storage"
)

// ManifestFilename is the durable run summary at the output root.
const ManifestFilename = "backup_info.json"

// Status of a backup run as recorded in the manifest.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// CollectionStats is the per-collection slot in the manifest: either a
// count/pages pair, an error string, or both when a collection was
// abandoned with partial results.
type CollectionStats struct {
	Count  int    `json:"count"`
	Pages  int    `json:"pages,omitempty"`
	Errors int    `json:"errors,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Manifest is the run-level summary persisted as backup_info.json after
// every state transition, so a crash leaves the last-known-good state on
// disk. The orchestrator is its only writer.
type Manifest struct {
	SiteURL         string                      `json:"site_url"`
	SiteName        string                      `json:"site_name,omitempty"`
	SiteDescription string                      `json:"site_description,omitempty"`
	BackupDate      time.Time                   `json:"backup_date"`
	ContentTypes    []string                    `json:"content_types"`
	AuthMode        string                      `json:"auth_mode"`
	Version         string                      `json:"version"`
	Status          Status                      `json:"status"`
	Error           string                      `json:"error,omitempty"`
	CustomPostTypes []string                    `json:"custom_post_types,omitempty"`
	Stats           map[string]*CollectionStats `json:"stats"`
	MediaStats      *DownloadStats              `json:"media_files,omitempty"`
	Upload          *storage.UploadStats        `json:"s3_upload,omitempty"`
	ElapsedSeconds  float64                     `json:"elapsed_seconds,omitempty"`
}

// NewManifest returns a not-started manifest for one run.
func NewManifest(siteURL, authMode, version string, contentTypes []string) *Manifest {
	return &Manifest{
		SiteURL:      siteURL,
		BackupDate:   time.Now(),
		ContentTypes: contentTypes,
		AuthMode:     authMode,
		Version:      version,
		Status:       StatusNotStarted,
		Stats:        make(map[string]*CollectionStats),
	}
}

// Begin moves the run to in_progress. Valid only from not_started.
func (m *Manifest) Begin() error {
	return m.transition(StatusInProgress, StatusNotStarted)
}

// Complete marks the run finished. Valid only from in_progress.
func (m *Manifest) Complete() error {
	return m.transition(StatusCompleted, StatusInProgress)
}

// Interrupt marks the run cooperatively cancelled.
func (m *Manifest) Interrupt() error {
	return m.transition(StatusInterrupted, StatusInProgress)
}

// Fail records the causing error and marks the run failed.
func (m *Manifest) Fail(err error) error {
	if err != nil {
		m.Error = err.Error()
	}
	return m.transition(StatusFailed, StatusInProgress)
}

func (m *Manifest) transition(to Status, from Status) error {
	if m.Status != from {
		return fmt.Errorf("invalid status transition %s -> %s", m.Status, to)
	}
	m.Status = to
	return nil
}

// RecordCollection fills the per-collection slot from a collector result.
func (m *Manifest) RecordCollection(res CollectionResult) {
	stats := &CollectionStats{Count: res.Count(), Pages: res.Pages}
	if res.Err != nil {
		stats.Error = res.Err.Error()
	}
	m.Stats[res.Name] = stats
}

// RecordError fills a collection slot with only an error.
func (m *Manifest) RecordError(name string, err error) {
	m.Stats[name] = &CollectionStats{Error: err.Error()}
}

// Save persists the manifest under outputDir. Idempotent; safe to call
// after every mutation.
func (m *Manifest) Save(outputDir string) error {
	return WriteJSON(filepath.Join(outputDir, ManifestFilename), m)
}
