package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wpback/internal/archive"
	"wpback/internal/backup"
	"wpback/internal/config"
	"wpback/internal/logger"
	"wpback/internal/storage"
	"wpback/internal/vault"
	"wpback/internal/wordpress"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up a WordPress site through its REST API",
	Example: `  # Public content only:
  wpback backup --url https://example.com

  # Authenticated, with an application password:
  wpback backup --url https://example.com --username admin --password xxxx

  # Credentials from the environment (WP_USER / WP_PASSWORD):
  wpback backup --url https://example.com

  # Upload the finished tree to S3:
  wpback backup --url https://example.com --s3-bucket my-backups --s3-prefix wordpress/mysite`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := cfg.Load(ConfigFile, cmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}

	log, err := logger.Init(cfg.Debug)
	if err != nil {
		return err
	}

	cfg.ApplyDefaults(time.Now())
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err.Error())
		return err
	}
	if err := backup.EnsureDirectoryExist(cfg.OutputDir); err != nil {
		log.Error("cannot create output directory", "dir", cfg.OutputDir, "error", err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A Vault secret path supplies credentials when none were given
	// directly.
	if cfg.Vault.SecretPath != "" && cfg.Username == "" {
		creds, err := vaultCredentials(ctx, &cfg)
		if err != nil {
			log.Error("failed to load credentials from vault", "error", err.Error())
			return err
		}
		cfg.Username, cfg.Password = creds.Username, creds.Password
	}

	var opts []wordpress.Option
	if cfg.Authenticated() {
		opts = append(opts, wordpress.WithBasicAuth(cfg.Username, cfg.Password))
		log.Info("authentication credentials provided, running in authenticated mode")
	} else {
		log.Info("no credentials provided or force-public set, running in public access mode")
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, wordpress.WithInsecureSkipVerify())
	}
	client := wordpress.NewClient(cfg.SiteURL, opts...)

	var sink storage.Sink
	if cfg.S3.Bucket != "" {
		s3, err := storage.NewS3Sink(storage.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			log.Error("failed to initialize S3 client", "error", err.Error())
			return err
		}
		sink = s3
		log.Info("backup will be uploaded", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	orch := &backup.Orchestrator{
		Client:  client,
		Config:  &cfg,
		Sink:    sink,
		Log:     log,
		Version: Version,
	}
	if _, err := orch.Run(ctx); err != nil {
		log.Error("backup failed", "error", err.Error())
		return err
	}

	if cfg.ArchiveFormat != "" {
		path, err := archive.Create(cfg.ArchiveFormat, cfg.OutputDir)
		if err != nil {
			log.Error("failed to create archive", "error", err.Error())
			return err
		}
		log.Info("created archive", "path", path)
	}
	return nil
}

func vaultCredentials(ctx context.Context, cfg *config.Config) (vault.Credentials, error) {
	opts := []vault.Option{vault.WithAddress(cfg.Vault.Address)}
	if cfg.Vault.RoleID != "" && cfg.Vault.ApproleName != "" {
		opts = append(opts, vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.ApproleName))
	}
	client, err := vault.NewClient(ctx, opts...)
	if err != nil {
		return vault.Credentials{}, err
	}
	return client.SiteCredentials(ctx, cfg.Vault.SecretPath)
}

func init() {
	f := backupCmd.Flags()
	f.String("url", "", "WordPress site URL (required)")
	f.String("username", "", "WordPress username (or WP_USER env var)")
	f.String("password", "", "WordPress password or application password (or WP_PASSWORD env var)")
	f.String("auth-type", config.AuthAppPassword, "authentication type: basic or app_password")
	f.Bool("force-public", false, "force public-only mode even if credentials are provided")
	f.String("output-dir", "", "local output directory (default: ./wp_backup_<site>_<timestamp>)")
	f.StringSlice("content-types", nil, "content types to back up (default: all public, or all with auth)")
	f.Int("max-items", 1000, "maximum items per content type")
	f.Int("parallel", 5, "max parallel downloads for media files")
	f.Bool("skip-media", false, "skip downloading media files")
	f.Bool("insecure", false, "ignore SSL certificate errors")
	f.String("create-archive", "", "create archive after backup: zip, tar.gz or tar.zst")
	f.String("s3-endpoint", "", "S3-compatible endpoint (default: AWS S3)")
	f.String("s3-region", "", "S3 region")
	f.String("s3-bucket", "", "S3 bucket for backup (or S3_BUCKET env var)")
	f.String("s3-prefix", "", "S3 key prefix (or S3_PREFIX env var)")
	f.String("vault-address", "", "Vault address for credential lookup (or VAULT_ADDR env var)")
	f.String("vault-path", "", "Vault KV path holding the site credentials")
	f.String("vault-role-id", "", "Vault AppRole role ID")
	f.String("vault-approle", "", "Vault AppRole name")
	f.Bool("debug", false, "enable debug logging")
}
