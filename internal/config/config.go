package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFeedURL   = "https://raw.githubusercontent.com/qjv/event-timers/main/event_tracks.json"
	DefaultUserAgent = "TrainCommander/1.1"
	DefaultRefresh   = "0 */6 * * *"
)

// TimelineConfig is the signed minute window used by range queries when the
// caller does not pass one.
type TimelineConfig struct {
	MinOffset int `yaml:"min_offset" json:"min_offset"`
	MaxOffset int `yaml:"max_offset" json:"max_offset"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// FeedURL points at the event track document.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *") used
	// to re-fetch the feed. Set it to "off" to fetch only once at startup.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DataDir holds trains.json and the feed cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// UpcomingLimit caps /api/events/upcoming when no limit is given.
	UpcomingLimit int `yaml:"upcoming_limit" json:"upcoming_limit"`

	Timeline TimelineConfig `yaml:"timeline" json:"timeline"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		FeedURL:       DefaultFeedURL,
		UserAgent:     DefaultUserAgent,
		RefreshCron:   DefaultRefresh,
		DataDir:       "./var",
		LogLevel:      "info",
		UpcomingLimit: 10,
		Timeline:      TimelineConfig{MinOffset: -15, MaxOffset: 120},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.FeedURL == "" {
		c.FeedURL = d.FeedURL
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.UpcomingLimit <= 0 {
		c.UpcomingLimit = d.UpcomingLimit
	}
	// An empty or inverted window is useless for the timeline.
	if c.Timeline.MinOffset >= c.Timeline.MaxOffset {
		c.Timeline = d.Timeline
	}
}

// RefreshEnabled reports whether periodic feed refresh is configured.
func (c *Config) RefreshEnabled() bool {
	return c.RefreshCron != "off"
}

// Validate checks values that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.RefreshEnabled() {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("config: invalid refresh schedule %q: %w", c.RefreshCron, err)
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("config: basic_auth needs both username and password")
	}
	return nil
}

// TrainsPath is the checklist file inside DataDir.
func (c *Config) TrainsPath() string {
	return filepath.Join(c.DataDir, "trains.json")
}

// FeedCacheDir is where the fetcher keeps ETag metadata and the last body.
func (c *Config) FeedCacheDir() string {
	return filepath.Join(c.DataDir, "feed-cache")
}

// Load loads configuration from the given YAML path on the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS loads configuration from fsys.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func LoadFS(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := SaveFS(fsys, path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path on the OS filesystem.
func Save(path string, cfg *Config) error {
	return SaveFS(afero.NewOsFs(), path, cfg)
}

// SaveFS writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) when needed.
func SaveFS(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(fsys, path, data)
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fsys, dir, ".traincommander-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}
