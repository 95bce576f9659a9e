package backup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"wpback/internal/config"
	"wpback/internal/logger"
	"wpback/internal/storage"
	"wpback/internal/wordpress"
)

// Orchestrator sequences collectors over the configured collection set,
// owns the manifest, and hands the completed tree to the upload sink.
type Orchestrator struct {
	Client  *wordpress.Client
	Config  *config.Config
	Sink    storage.Sink // nil disables the upload phase
	Log     logger.Logger
	Version string

	// Test seams; nil means the real thing.
	Sleep          func(time.Duration)
	DownloadClient *http.Client
}

type collectionHandler func(ctx context.Context, name string)

// Run executes the whole backup and returns the final manifest. The
// manifest is persisted after every state transition; per-collection and
// per-item failures are recorded there and never abort sibling work.
func (o *Orchestrator) Run(ctx context.Context) (*Manifest, error) {
	log := o.Log
	if log == nil {
		log = logger.Global()
	}
	cfg := o.Config
	start := time.Now()

	log.Info("starting WordPress backup", "site", cfg.SiteURL)

	client := o.Client
	authenticated := client.Authenticated()

	idx, err := client.DiscoverEndpoints(ctx)
	if err != nil && authenticated && errors.Is(err, wordpress.ErrPermissionDenied) {
		// Rejected credentials degrade to public-only access instead of
		// aborting the run.
		log.Warn("authentication failed, continuing in public-only mode")
		client = client.Public()
		authenticated = false
		idx, err = client.DiscoverEndpoints(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.SiteURL, err)
	}
	log.Info("connected to site", "name", idx.Name, "description", idx.Description)

	authMode := "public"
	if authenticated {
		authMode = cfg.AuthType
	}
	types, removed := cfg.EffectiveContentTypes(authenticated)
	for _, t := range removed {
		log.Warn("removing content type that requires authentication", "type", t)
	}

	manifest := NewManifest(cfg.SiteURL, authMode, o.Version, types)
	manifest.SiteName = idx.Name
	manifest.SiteDescription = idx.Description

	save := func() {
		if err := manifest.Save(cfg.OutputDir); err != nil {
			log.Error("failed to save backup info", "error", err.Error())
		}
	}

	_ = manifest.Begin()
	save()

	collector := &Collector{
		OutputDir:     cfg.OutputDir,
		Authenticated: authenticated,
		MaxItems:      cfg.MaxItems,
		Log:           log,
		Sleep:         o.Sleep,
	}
	downloader := &Downloader{
		Client:    o.DownloadClient,
		Workers:   cfg.MediaWorkers,
		UserAgent: "wpback/" + o.Version,
		Log:       log,
		OnProgress: func(s DownloadStats) {
			// Runs on the orchestrator goroutine; the manifest stays
			// single-writer.
			snapshot := s
			manifest.MediaStats = &snapshot
			save()
		},
	}

	standard := func(ctx context.Context, name string) {
		manifest.RecordCollection(collector.Collect(ctx, name, client.Collection(name)))
	}
	registry := map[string]collectionHandler{
		"posts":      standard,
		"pages":      standard,
		"categories": standard,
		"tags":       standard,
		"comments":   standard,
		"users": func(ctx context.Context, name string) {
			if !authenticated {
				log.Warn("users endpoint typically requires authentication, attempting anyway")
			}
			standard(ctx, name)
		},
		"media": func(ctx context.Context, name string) {
			res := collector.Collect(ctx, name, client.Collection(name))
			manifest.RecordCollection(res)
			if !cfg.SkipMedia && res.Count() > 0 {
				stats := downloader.DownloadAll(ctx, res.Records, filepath.Join(cfg.OutputDir, "media_files"))
				manifest.MediaStats = &stats
			}
		},
		"settings": func(ctx context.Context, name string) {
			o.backupSettings(ctx, client, manifest, authenticated, log)
		},
		"custom_post_types": func(ctx context.Context, name string) {
			o.backupCustomTypes(ctx, client, collector, manifest, authenticated, log)
		},
	}

	for _, name := range types {
		if ctx.Err() != nil {
			break
		}
		handler, ok := registry[name]
		if !ok {
			log.Warn("no backup handler for content type", "type", name)
			manifest.RecordError(name, errors.New("unsupported collection"))
			save()
			continue
		}
		log.Info("backing up collection", "type", name)
		handler(ctx, name)
		save()
	}

	if err := ctx.Err(); err != nil {
		log.Info("backup interrupted")
		_ = manifest.Interrupt()
		manifest.ElapsedSeconds = time.Since(start).Seconds()
		save()
		return manifest, err
	}

	if o.Sink != nil && cfg.S3.Bucket != "" {
		uploader := &storage.Uploader{
			Sink:   o.Sink,
			Bucket: cfg.S3.Bucket,
			Prefix: cfg.S3.Prefix,
			Log:    log,
		}
		stats, err := uploader.UploadTree(ctx, cfg.OutputDir)
		manifest.Upload = &stats
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = manifest.Interrupt()
				manifest.ElapsedSeconds = time.Since(start).Seconds()
				save()
				return manifest, err
			}
			log.Error("upload phase failed", "error", err.Error())
			_ = manifest.Fail(err)
			manifest.ElapsedSeconds = time.Since(start).Seconds()
			save()
			return manifest, err
		}
	}

	manifest.ElapsedSeconds = time.Since(start).Seconds()
	_ = manifest.Complete()
	save()

	o.summarize(manifest, log)
	log.Info("backup completed",
		"elapsed", fmt.Sprintf("%.2fs", manifest.ElapsedSeconds), "dir", cfg.OutputDir)
	return manifest, nil
}

// backupSettings persists the single settings document.
func (o *Orchestrator) backupSettings(ctx context.Context, client *wordpress.Client, manifest *Manifest, authenticated bool, log logger.Logger) {
	if !authenticated {
		log.Warn("settings endpoint requires authentication, attempting anyway")
	}
	settings, err := client.Settings(ctx)
	if err != nil {
		if errors.Is(err, wordpress.ErrPermissionDenied) {
			log.Warn("permission denied when accessing settings")
		} else {
			log.Error("error backing up settings", "error", err.Error())
		}
		manifest.RecordError("settings", err)
		return
	}
	path := filepath.Join(o.Config.OutputDir, "settings", "settings.json")
	if err := WriteJSON(path, settings); err != nil {
		manifest.RecordError("settings", err)
		return
	}
	manifest.Stats["settings"] = &CollectionStats{Count: 1}
	log.Info("backed up site settings")
}

// backupCustomTypes discovers custom post types and collects each as a
// cpt_<slug> collection, with per-record meta when authenticated.
func (o *Orchestrator) backupCustomTypes(ctx context.Context, client *wordpress.Client, collector *Collector, manifest *Manifest, authenticated bool, log logger.Logger) {
	disc := &Discoverer{
		Index: client.DiscoverEndpoints,
		Probe: func(ctx context.Context, slug string) ([]wordpress.Record, error) {
			return client.CustomType(slug).List(ctx, wordpress.ListParams{Page: 1, PerPage: 1})
		},
		Authenticated: authenticated,
		Log:           log,
	}
	found, err := disc.Discover(ctx)
	if err != nil {
		log.Error("failed to detect custom post types", "error", err.Error())
		manifest.RecordError("custom_post_types", err)
		return
	}
	manifest.CustomPostTypes = found

	for _, slug := range found {
		if ctx.Err() != nil {
			return
		}
		name := "cpt_" + slug
		log.Info("backing up custom post type", "type", slug)
		ep := client.CustomType(slug)
		res := collector.Collect(ctx, name, ep)
		manifest.RecordCollection(res)

		if authenticated && res.Count() > 0 {
			o.backupMeta(ctx, ep, res, manifest, log)
		}
	}
}

// backupMeta fetches custom fields one record at a time. A failure for one
// record never aborts meta collection for the rest.
func (o *Orchestrator) backupMeta(ctx context.Context, ep *wordpress.Endpoint, res CollectionResult, manifest *Manifest, log logger.Logger) {
	metaClient := ep.Meta()
	metaDir := filepath.Join(o.Config.OutputDir, res.Name+"_meta")

	successes, failures := 0, 0
	for _, rec := range res.Records {
		if ctx.Err() != nil {
			break
		}
		id := rec.ID()
		meta, err := metaClient.GetAll(ctx, id)
		if err != nil {
			log.Warn("failed to get meta", "collection", res.Name, "id", id, "error", err.Error())
			failures++
			continue
		}
		if len(meta) == 0 {
			continue
		}
		path := filepath.Join(metaDir, fmt.Sprintf("%d.json", id))
		if err := WriteJSON(path, meta); err != nil {
			log.Warn("failed to persist meta", "collection", res.Name, "id", id, "error", err.Error())
			failures++
			continue
		}
		successes++
	}
	manifest.Stats[res.Name+"_meta"] = &CollectionStats{Count: successes, Errors: failures}
}

// summarize logs the per-collection outcome the way the final report reads.
func (o *Orchestrator) summarize(manifest *Manifest, log logger.Logger) {
	log.Info("backup summary",
		"site", manifest.SiteURL, "auth_mode", manifest.AuthMode,
		"collections", len(manifest.Stats))
	for name, stats := range manifest.Stats {
		if stats.Error != "" {
			log.Info("collection result", "type", name, "error", stats.Error)
		} else {
			log.Info("collection result", "type", name, "count", stats.Count)
		}
	}
	if m := manifest.MediaStats; m != nil {
		log.Info("media files",
			"downloaded", m.Success, "failed", m.Failed, "skipped", m.Skipped,
			"mb", fmt.Sprintf("%.2f", float64(m.BytesDownloaded)/(1024*1024)))
	}
	if u := manifest.Upload; u != nil {
		log.Info("object storage upload",
			"files", u.Files, "errors", u.Errors,
			"mb", fmt.Sprintf("%.2f", float64(u.TotalBytes)/(1024*1024)))
	}
}
