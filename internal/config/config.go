package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings shared by every command.
type Config struct {
	DataDir   string `env:"BLOG_DATA_DIR" envDefault:"./data"`
	DBPath    string `env:"BLOG_DB_PATH"`    // defaults to <data-dir>/blogposts.db
	MediaDir  string `env:"BLOG_MEDIA_DIR"`  // defaults to <data-dir>/images
	IndexPath string `env:"BLOG_INDEX_PATH"` // defaults to <data-dir>/bleve

	Host string `env:"BLOG_HOST" envDefault:"0.0.0.0"`
	Port string `env:"BLOG_PORT" envDefault:"3000"`

	// AvatarFetchTimeout bounds a single outbound avatar request.
	AvatarFetchTimeout time.Duration `env:"BLOG_AVATAR_TIMEOUT" envDefault:"10s"`
	MaxAvatarBytes     int64         `env:"BLOG_MAX_AVATAR_BYTES" envDefault:"10485760"`
	MaxImageBytes      int64         `env:"BLOG_MAX_IMAGE_BYTES" envDefault:"20971520"`
	MaxSubmitBytes     int64         `env:"BLOG_MAX_SUBMIT_BYTES" envDefault:"33554432"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and fills in paths derived from DataDir.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.SetDataDir(cfg.DataDir)
	return cfg, nil
}

// SetDataDir changes the data directory and re-derives any path that was not
// set explicitly.
func (c *Config) SetDataDir(dir string) {
	prev := c.DataDir
	c.DataDir = dir
	if c.DBPath == "" || c.DBPath == filepath.Join(prev, "blogposts.db") {
		c.DBPath = filepath.Join(dir, "blogposts.db")
	}
	if c.MediaDir == "" || c.MediaDir == filepath.Join(prev, "images") {
		c.MediaDir = filepath.Join(dir, "images")
	}
	if c.IndexPath == "" || c.IndexPath == filepath.Join(prev, "bleve") {
		c.IndexPath = filepath.Join(dir, "bleve")
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
