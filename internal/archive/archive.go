// Package archive keeps a copy of every delivered report PDF.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Archiver stores a report PDF and returns where it went.
type Archiver interface {
	Store(ctx context.Context, scanID string, pdf []byte) (string, error)
}

// Config selects the archive backend. An empty Backend disables archiving.
type Config struct {
	Backend string `yaml:"backend"` // "", "dir" or "s3"
	Prefix  string `yaml:"prefix"`

	Dir string `yaml:"dir"`

	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func DefaultConfig() Config {
	return Config{Prefix: "reports"}
}

var ErrInvalidScanID = errors.New("invalid scan id")

// Key returns the object key of scanID's report under prefix.
func Key(prefix, scanID string) (string, error) {
	if scanID == "" || strings.ContainsAny(scanID, `/\`) || strings.Contains(scanID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidScanID, scanID)
	}
	return path.Join(prefix, scanID+".pdf"), nil
}

// New builds the configured archiver, or nil when archiving is disabled.
func New(cfg Config) (Archiver, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	switch cfg.Backend {
	case "":
		return nil, nil
	case "dir":
		return NewDirArchive(cfg.Dir, cfg.Prefix)
	case "s3":
		return NewS3Archive(cfg)
	}
	return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
}
