package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the assembled configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Auth type selectors. Both end up as HTTP Basic on the wire; the mode is
// recorded in the backup manifest.
const (
	AuthBasic       = "basic"
	AuthAppPassword = "app_password"
)

// PublicContentTypes are backed up without credentials. custom_post_types is
// a synthetic marker that triggers discovery rather than a collection.
var PublicContentTypes = []string{
	"posts", "pages", "media", "categories",
	"tags", "comments", "custom_post_types",
}

// AuthContentTypes typically require authentication.
var AuthContentTypes = []string{"users", "settings"}

// Config represents one backup run. Flags, the optional YAML file, and
// environment variables all land here.
type Config struct {
	SiteURL            string   `mapstructure:"site_url"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	AuthType           string   `mapstructure:"auth_type"`
	ForcePublic        bool     `mapstructure:"force_public"`
	OutputDir          string   `mapstructure:"output_dir"`
	ContentTypes       []string `mapstructure:"content_types"`
	MaxItems           int      `mapstructure:"max_items"`
	MediaWorkers       int      `mapstructure:"media_workers"`
	SkipMedia          bool     `mapstructure:"skip_media"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	ArchiveFormat      string   `mapstructure:"archive_format"`
	Debug              bool     `mapstructure:"debug"`

	S3    S3Config    `mapstructure:"s3"`
	Vault VaultConfig `mapstructure:"vault"`
}

// S3Config holds the optional upload sink settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// VaultConfig points at an optional Vault KV secret holding the WordPress
// credentials.
type VaultConfig struct {
	Address     string `mapstructure:"address"`
	SecretPath  string `mapstructure:"secret_path"`
	RoleID      string `mapstructure:"role_id"`
	ApproleName string `mapstructure:"approle_name"`
}

// flagKeys maps config keys to the CLI flag names that override them.
var flagKeys = map[string]string{
	"site_url":             "url",
	"username":             "username",
	"password":             "password",
	"auth_type":            "auth-type",
	"force_public":         "force-public",
	"output_dir":           "output-dir",
	"content_types":        "content-types",
	"max_items":            "max-items",
	"media_workers":        "parallel",
	"skip_media":           "skip-media",
	"insecure_skip_verify": "insecure",
	"archive_format":       "create-archive",
	"debug":                "debug",
	"s3.endpoint":          "s3-endpoint",
	"s3.region":            "s3-region",
	"s3.bucket":            "s3-bucket",
	"s3.prefix":            "s3-prefix",
	"vault.address":        "vault-address",
	"vault.secret_path":    "vault-path",
	"vault.role_id":        "vault-role-id",
	"vault.approle_name":   "vault-approle",
}

// Load reads the optional YAML file at path (empty path skips the file),
// binds environment variables and the given flag set, then unmarshals into
// the Config struct. Precedence is flags over environment over file.
func (c *Config) Load(path string, flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Credentials and sink settings follow the environment variable names
	// the tool has always used.
	_ = v.BindEnv("username", "WP_USER")
	_ = v.BindEnv("password", "WP_PASSWORD")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.prefix", "S3_PREFIX")
	_ = v.BindEnv("s3.access_key", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secret_key", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("vault.address", "VAULT_ADDR")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	return nil
}

// ApplyDefaults fills unset fields with the defaults the CLI documents.
func (c *Config) ApplyDefaults(now time.Time) {
	if c.AuthType == "" {
		c.AuthType = AuthAppPassword
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 1000
	}
	if c.MediaWorkers <= 0 {
		c.MediaWorkers = 5
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir(c.SiteURL, now)
	}
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	if c.SiteURL == "" {
		return fmt.Errorf("%w: site URL is required", ErrValidateConfig)
	}
	u, err := url.Parse(c.SiteURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: invalid site URL %q", ErrValidateConfig, c.SiteURL)
	}
	if c.AuthType != AuthBasic && c.AuthType != AuthAppPassword {
		return fmt.Errorf("%w: unknown auth type %q", ErrValidateConfig, c.AuthType)
	}
	switch c.ArchiveFormat {
	case "", "zip", "tar.gz", "tar.zst":
	default:
		return fmt.Errorf("%w: unsupported archive format %q", ErrValidateConfig, c.ArchiveFormat)
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("%w: username and password must be provided together", ErrValidateConfig)
	}
	if c.Vault.SecretPath != "" && c.Vault.Address == "" {
		return fmt.Errorf("%w: vault secret path set but no vault address", ErrValidateConfig)
	}
	return nil
}

// Authenticated reports whether this run should use credentials.
func (c *Config) Authenticated() bool {
	return c.Username != "" && c.Password != "" && !c.ForcePublic
}

// EffectiveContentTypes resolves the collection list for the run. Without
// credentials, auth-only types are dropped; the removed names are returned
// so the caller can log them.
func (c *Config) EffectiveContentTypes(authenticated bool) (types, removed []string) {
	requested := c.ContentTypes
	if len(requested) == 0 {
		requested = PublicContentTypes
		if authenticated {
			requested = append(append([]string{}, PublicContentTypes...), AuthContentTypes...)
		}
		return requested, nil
	}
	if authenticated {
		return requested, nil
	}
	authOnly := make(map[string]bool, len(AuthContentTypes))
	for _, t := range AuthContentTypes {
		authOnly[t] = true
	}
	for _, t := range requested {
		if authOnly[t] {
			removed = append(removed, t)
		} else {
			types = append(types, t)
		}
	}
	return types, removed
}

// DefaultOutputDir names the backup directory from the site host and a
// timestamp, e.g. wp_backup_example_com_20250102_150405.
func DefaultOutputDir(siteURL string, now time.Time) string {
	host := siteURL
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	host = strings.ReplaceAll(host, ".", "_")
	if host == "" {
		return fmt.Sprintf("wp_backup_%s", now.Format("20060102_150405"))
	}
	return fmt.Sprintf("wp_backup_%s_%s", host, now.Format("20060102_150405"))
}
