package webclient

import "time"

// Config tunes the net/http backed client.
type Config struct {
	// Timeout bounds a whole request. Zero means 30s.
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent when the request does not set one.
	UserAgent string `yaml:"user_agent"`

	// MaxBodyBytes caps how much of a response body is read. Zero means 10 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)
