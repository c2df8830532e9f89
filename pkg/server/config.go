package server

import "time"

// Config holds HTTP server configuration shared by the RM, TM and WC
// binaries.
type Config struct {
	Host           string        // Server host address
	Port           int           // Server port
	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	RequestTimeout time.Duration // Per-request handler timeout
	MaxRequestSize int64         // Maximum request body size in bytes
	EnableLogging  bool          // Enable request logging
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024, // 1MB; records are small
		EnableLogging:  true,
	}
}
