// Package flags defines the command line flags for the VerSafe node.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DataDirFlag defines the path for the metadata store.
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the metadata store",
		Value:   "versafe-data",
		EnvVars: []string{"DB_URL"},
	}
	// ConfigFileFlag points at an optional yaml configuration file.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "Path to a yaml configuration file overriding flag defaults",
	}
	// UploadDirFlag defines where uploaded document bytes land.
	UploadDirFlag = &cli.StringFlag{
		Name:    "upload-dir",
		Usage:   "Directory uploaded document bytes are stored in",
		Value:   "versafe-uploads",
		EnvVars: []string{"UPLOAD_DIR"},
	}
	// HTTPHostFlag defines the API listen host.
	HTTPHostFlag = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host for the HTTP API to listen on",
		Value: "127.0.0.1",
	}
	// HTTPPortFlag defines the API listen port.
	HTTPPortFlag = &cli.StringFlag{
		Name:  "http-port",
		Usage: "Port for the HTTP API to listen on",
		Value: "8080",
	}
	// AllowedOriginsFlag defines the CORS allow list.
	AllowedOriginsFlag = &cli.StringSliceFlag{
		Name:  "allowed-origins",
		Usage: "Comma separated list of origins allowed to call the HTTP API",
	}
	// InternalAPIKeyFlag gates service-to-service routes.
	InternalAPIKeyFlag = &cli.StringFlag{
		Name:    "internal-api-key",
		Usage:   "Shared key required on X-API-Key for service-to-service routes",
		EnvVars: []string{"INTERNAL_API_KEY"},
	}
	// MonitoringAddrFlag defines the metrics listen address.
	MonitoringAddrFlag = &cli.StringFlag{
		Name:  "monitoring-address",
		Usage: "Address for the metrics and health endpoints",
		Value: "127.0.0.1:8081",
	}
	// DisableMonitoringFlag defines a flag to disable the metrics collection.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable monitoring service.",
	}
	// LedgerEndpointsFlag lists the endorsing peer endpoints. Empty
	// means permanent simulation mode.
	LedgerEndpointsFlag = &cli.StringSliceFlag{
		Name:    "ledger-endpoint",
		Usage:   "Endorsing peer endpoint. This flag may be used multiple times; none enables simulation mode",
		EnvVars: []string{"LEDGER_ENDPOINTS"},
	}
	// LedgerQuorumFlag sets the endorsement quorum.
	LedgerQuorumFlag = &cli.IntFlag{
		Name:    "ledger-quorum",
		Usage:   "Number of endorsements required to commit a ledger transaction",
		Value:   1,
		EnvVars: []string{"LEDGER_QUORUM"},
	}
	// OutboxMaxAttemptsFlag bounds per-entry outbox retries.
	OutboxMaxAttemptsFlag = &cli.IntFlag{
		Name:    "outbox-max-attempts",
		Usage:   "Retries per outbox entry before operator attention is required",
		Value:   10,
		EnvVars: []string{"OUTBOX_MAX_ATTEMPTS"},
	}
	// OutboxBaseBackoffFlag sets the retry backoff base.
	OutboxBaseBackoffFlag = &cli.DurationFlag{
		Name:    "outbox-base-backoff",
		Usage:   "Base duration for exponential ledger retry backoff",
		Value:   500 * time.Millisecond,
		EnvVars: []string{"OUTBOX_BASE_BACKOFF"},
	}
	// TokenSigningKeySetFlag points at the JWT signing key set file.
	TokenSigningKeySetFlag = &cli.StringFlag{
		Name:    "token-signing-key-set",
		Usage:   "Path to the JSON key set used to sign and verify bearer tokens",
		EnvVars: []string{"TOKEN_SIGNING_KEY_SET"},
	}
	// TokenTTLFlag sets the access token lifetime.
	TokenTTLFlag = &cli.DurationFlag{
		Name:    "token-ttl",
		Usage:   "Access token lifetime",
		Value:   15 * time.Minute,
		EnvVars: []string{"TOKEN_TTL"},
	}
	// RefreshTTLFlag sets the refresh session lifetime.
	RefreshTTLFlag = &cli.DurationFlag{
		Name:    "refresh-ttl",
		Usage:   "Refresh session lifetime",
		Value:   720 * time.Hour,
		EnvVars: []string{"REFRESH_TTL"},
	}
	// MaxUploadBytesFlag bounds upload size.
	MaxUploadBytesFlag = &cli.Int64Flag{
		Name:    "max-upload-bytes",
		Usage:   "Largest accepted upload in bytes",
		Value:   25 << 20,
		EnvVars: []string{"MAX_UPLOAD_BYTES"},
	}
	// AllowedMediaTypesFlag overrides the upload media type allow list.
	AllowedMediaTypesFlag = &cli.StringSliceFlag{
		Name:    "allowed-media-types",
		Usage:   "Media types accepted for upload. This flag may be used multiple times",
		EnvVars: []string{"ALLOWED_MEDIA_TYPES"},
	}
	// ScannerURLFlag points at the malware scanner. Empty disables
	// scanning.
	ScannerURLFlag = &cli.StringFlag{
		Name:    "scanner-url",
		Usage:   "Base URL of the malware scanner; empty disables scanning",
		EnvVars: []string{"SCANNER_URL"},
	}
	// ScannerTimeoutFlag bounds a scan round trip.
	ScannerTimeoutFlag = &cli.DurationFlag{
		Name:    "scanner-timeout",
		Usage:   "Deadline for a malware scan round trip",
		Value:   10 * time.Second,
		EnvVars: []string{"SCANNER_TIMEOUT"},
	}
	// AuditFallbackPathFlag sets the audit spill file location.
	AuditFallbackPathFlag = &cli.StringFlag{
		Name:  "audit-fallback-path",
		Usage: "File audit records spill to when the store is unavailable",
	}
	// EnableTracingFlag defines a flag to enable request tracing.
	EnableTracingFlag = &cli.BoolFlag{
		Name:  "enable-tracing",
		Usage: "Enable request tracing.",
	}
	// TracingEndpointFlag flag defines the http endpoint for serving traces to Jaeger.
	TracingEndpointFlag = &cli.StringFlag{
		Name:  "tracing-endpoint",
		Usage: "Tracing endpoint defines where node traces are exposed to Jaeger.",
		Value: "http://127.0.0.1:14268/api/traces",
	}
	// TraceSampleFractionFlag defines a flag to indicate what fraction of
	// requests are sampled for tracing.
	TraceSampleFractionFlag = &cli.Float64Flag{
		Name:  "trace-sample-fraction",
		Usage: "Indicate what fraction of requests are sampled for tracing.",
		Value: 0.20,
	}
	// ClearDB tells the node to remove any previously stored data.
	ClearDB = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clears any previously stored data at the data directory",
	}
)

// NodeFlags is the ordered flag set of the node binary.
var NodeFlags = []cli.Flag{
	VerbosityFlag,
	DataDirFlag,
	ConfigFileFlag,
	UploadDirFlag,
	HTTPHostFlag,
	HTTPPortFlag,
	AllowedOriginsFlag,
	InternalAPIKeyFlag,
	MonitoringAddrFlag,
	DisableMonitoringFlag,
	LedgerEndpointsFlag,
	LedgerQuorumFlag,
	OutboxMaxAttemptsFlag,
	OutboxBaseBackoffFlag,
	TokenSigningKeySetFlag,
	TokenTTLFlag,
	RefreshTTLFlag,
	MaxUploadBytesFlag,
	AllowedMediaTypesFlag,
	ScannerURLFlag,
	ScannerTimeoutFlag,
	AuditFallbackPathFlag,
	EnableTracingFlag,
	TracingEndpointFlag,
	TraceSampleFractionFlag,
	ClearDB,
}
