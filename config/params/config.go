// Package params holds the node's process configuration. Flags and
// environment variables are materialised into a Config once at startup;
// services receive plain values, never the CLI context.
package params

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("prefix", "params")

// Config is the full node configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	UploadDir string `yaml:"upload_dir"`

	HTTPHost       string   `yaml:"http_host"`
	HTTPPort       string   `yaml:"http_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	InternalAPIKey string   `yaml:"internal_api_key"`
	MonitoringAddr string   `yaml:"monitoring_addr"`

	LedgerEndpoints     []string      `yaml:"ledger_endpoints"`
	LedgerQuorum        int           `yaml:"ledger_quorum"`
	OutboxMaxAttempts   int           `yaml:"outbox_max_attempts"`
	OutboxBaseBackoff   time.Duration `yaml:"outbox_base_backoff"`
	OutboxFlushInterval time.Duration `yaml:"outbox_flush_interval"`

	TokenSigningKeySet string        `yaml:"token_signing_key_set"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl"`

	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedMediaTypes []string      `yaml:"allowed_media_types"`
	ScannerURL        string        `yaml:"scanner_url"`
	ScannerTimeout    time.Duration `yaml:"scanner_timeout"`

	AuditFallbackPath string `yaml:"audit_fallback_path"`
}

// DefaultConfig returns the configuration used when no flag or file
// overrides a value.
func DefaultConfig() *Config {
	return &Config{
		HTTPHost:            "127.0.0.1",
		HTTPPort:            "8080",
		MonitoringAddr:      "127.0.0.1:8081",
		LedgerQuorum:        1,
		OutboxMaxAttempts:   10,
		OutboxBaseBackoff:   500 * time.Millisecond,
		OutboxFlushInterval: 30 * time.Second,
		TokenTTL:            15 * time.Minute,
		RefreshTTL:          720 * time.Hour,
		MaxUploadBytes:      25 << 20,
		ScannerTimeout:      10 * time.Second,
	}
}

// LoadFile merges a yaml configuration file over the receiver. Values
// absent from the file keep their current setting.
func (c *Config) LoadFile(path string) error {
	raw, err := ioutil.ReadFile(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return errors.Wrap(err, "could not parse config file")
	}
	log.WithField("path", path).Info("Loaded configuration file")
	return nil
}
