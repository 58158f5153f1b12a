// Package node launches a VerSafe node and manages the lifecycle of
// all its associated services at runtime, gracefully closing them if
// the process ends.
package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/versafe/versafe/api"
	"github.com/versafe/versafe/async"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/auth"
	"github.com/versafe/versafe/cmd/versafe/flags"
	"github.com/versafe/versafe/config/params"
	"github.com/versafe/versafe/crypto/keys"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/documents"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/monitoring/prometheus"
	"github.com/versafe/versafe/monitoring/tracing"
	"github.com/versafe/versafe/runtime"
	"github.com/versafe/versafe/runtime/version"
	"github.com/versafe/versafe/scanner"
	"github.com/versafe/versafe/signatures"
	"github.com/versafe/versafe/storage"
	"github.com/versafe/versafe/verification"
)

var log = logrus.WithField("prefix", "node")

// Node handles the lifecycle of the entire system and registers
// services to a service registry.
type Node struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *params.Config
	services *runtime.ServiceRegistry
	lock     sync.RWMutex
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
	storage  *storage.Store
	audit    *audit.Recorder
	locker   *async.KeyedMutex
	keys     *keys.Store
}

// New creates a new node instance, sets up configuration options, and
// registers every required service to the node.
func New(cliCtx *cli.Context) (*Node, error) {
	if err := tracing.Setup(
		"versafe",
		cliCtx.String(flags.TracingEndpointFlag.Name),
		cliCtx.Float64(flags.TraceSampleFractionFlag.Name),
		cliCtx.Bool(flags.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	cfg, err := configFromFlags(cliCtx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &Node{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		locker:   async.NewKeyedMutex(),
		keys:     keys.NewStore(),
	}

	if err := n.startDB(cliCtx); err != nil {
		return nil, err
	}
	if err := n.startStorage(); err != nil {
		return nil, err
	}
	if err := n.registerAuditRecorder(); err != nil {
		return nil, err
	}
	if err := n.registerLedgerService(); err != nil {
		return nil, err
	}
	if err := n.registerAuthService(); err != nil {
		return nil, err
	}
	if err := n.registerDocumentService(); err != nil {
		return nil, err
	}
	if err := n.registerSignatureService(); err != nil {
		return nil, err
	}
	if err := n.registerVerificationService(); err != nil {
		return nil, err
	}
	if err := n.registerAPIService(); err != nil {
		return nil, err
	}
	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		if err := n.registerPrometheusService(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func configFromFlags(cliCtx *cli.Context) (*params.Config, error) {
	cfg := params.DefaultConfig()
	if cliCtx.IsSet(flags.ConfigFileFlag.Name) {
		if err := cfg.LoadFile(cliCtx.String(flags.ConfigFileFlag.Name)); err != nil {
			return nil, err
		}
	}
	cfg.DataDir = cliCtx.String(flags.DataDirFlag.Name)
	cfg.UploadDir = cliCtx.String(flags.UploadDirFlag.Name)
	cfg.HTTPHost = cliCtx.String(flags.HTTPHostFlag.Name)
	cfg.HTTPPort = cliCtx.String(flags.HTTPPortFlag.Name)
	if cliCtx.IsSet(flags.AllowedOriginsFlag.Name) {
		cfg.AllowedOrigins = cliCtx.StringSlice(flags.AllowedOriginsFlag.Name)
	}
	if cliCtx.IsSet(flags.InternalAPIKeyFlag.Name) {
		cfg.InternalAPIKey = cliCtx.String(flags.InternalAPIKeyFlag.Name)
	}
	cfg.MonitoringAddr = cliCtx.String(flags.MonitoringAddrFlag.Name)
	if cliCtx.IsSet(flags.LedgerEndpointsFlag.Name) {
		cfg.LedgerEndpoints = cliCtx.StringSlice(flags.LedgerEndpointsFlag.Name)
	}
	cfg.LedgerQuorum = cliCtx.Int(flags.LedgerQuorumFlag.Name)
	cfg.OutboxMaxAttempts = cliCtx.Int(flags.OutboxMaxAttemptsFlag.Name)
	cfg.OutboxBaseBackoff = cliCtx.Duration(flags.OutboxBaseBackoffFlag.Name)
	if cliCtx.IsSet(flags.TokenSigningKeySetFlag.Name) {
		cfg.TokenSigningKeySet = cliCtx.String(flags.TokenSigningKeySetFlag.Name)
	}
	cfg.TokenTTL = cliCtx.Duration(flags.TokenTTLFlag.Name)
	cfg.RefreshTTL = cliCtx.Duration(flags.RefreshTTLFlag.Name)
	cfg.MaxUploadBytes = cliCtx.Int64(flags.MaxUploadBytesFlag.Name)
	if cliCtx.IsSet(flags.AllowedMediaTypesFlag.Name) {
		cfg.AllowedMediaTypes = cliCtx.StringSlice(flags.AllowedMediaTypesFlag.Name)
	}
	if cliCtx.IsSet(flags.ScannerURLFlag.Name) {
		cfg.ScannerURL = cliCtx.String(flags.ScannerURLFlag.Name)
	}
	cfg.ScannerTimeout = cliCtx.Duration(flags.ScannerTimeoutFlag.Name)
	if cliCtx.IsSet(flags.AuditFallbackPathFlag.Name) {
		cfg.AuditFallbackPath = cliCtx.String(flags.AuditFallbackPathFlag.Name)
	}
	if cfg.TokenSigningKeySet == "" {
		return nil, errors.New("a token signing key set is required, see --token-signing-key-set")
	}
	return cfg, nil
}

// Start the node and kick off every registered service.
func (n *Node) Start() {
	n.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.Version(),
	}).Info("Starting VerSafe node")

	n.services.StartAll()

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping VerSafe node")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	n.cancel()
	close(n.stop)
}

func (n *Node) startDB(cliCtx *cli.Context) error {
	log.WithField("database-path", n.cfg.DataDir).Info("Checking DB")
	d, err := db.NewDB(n.ctx, n.cfg.DataDir)
	if err != nil {
		return err
	}
	if cliCtx.Bool(flags.ClearDB.Name) {
		log.Warning("Removing database")
		if err := d.Close(); err != nil {
			return errors.Wrap(err, "could not close db prior to clearing")
		}
		if err := d.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		d, err = db.NewDB(n.ctx, n.cfg.DataDir)
		if err != nil {
			return errors.Wrap(err, "could not create new database")
		}
	}
	n.db = d
	return nil
}

func (n *Node) startStorage() error {
	files, err := storage.NewStore(n.cfg.UploadDir)
	if err != nil {
		return err
	}
	n.storage = files
	return nil
}

func (n *Node) registerAuditRecorder() error {
	n.audit = audit.NewRecorder(n.ctx, &audit.Config{
		Database:     n.db,
		FallbackPath: n.cfg.AuditFallbackPath,
	})
	return n.services.RegisterService(n.audit)
}

func (n *Node) registerLedgerService() error {
	var client *ledger.Client
	if len(n.cfg.LedgerEndpoints) > 0 {
		client = ledger.NewClient(&ledger.ClientConfig{
			Endpoints:   n.cfg.LedgerEndpoints,
			Quorum:      n.cfg.LedgerQuorum,
			BaseBackoff: n.cfg.OutboxBaseBackoff,
		})
	} else {
		log.Warn("No ledger endpoints configured, running in permanent simulation mode")
	}
	svc, err := ledger.NewService(n.ctx, &ledger.Config{
		Database:          n.db,
		Client:            client,
		FlushInterval:     n.cfg.OutboxFlushInterval,
		MaxOutboxAttempts: n.cfg.OutboxMaxAttempts,
	})
	if err != nil {
		return err
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerAuthService() error {
	keySet, err := auth.LoadKeySet(n.cfg.TokenSigningKeySet)
	if err != nil {
		return errors.Wrap(err, "could not load token signing key set")
	}
	svc := auth.NewService(n.ctx, &auth.Config{
		Database:   n.db,
		KeySet:     keySet,
		Audit:      n.audit,
		TokenTTL:   n.cfg.TokenTTL,
		RefreshTTL: n.cfg.RefreshTTL,
	})
	return n.services.RegisterService(svc)
}

func (n *Node) registerDocumentService() error {
	var ledgerSvc *ledger.Service
	if err := n.services.FetchService(&ledgerSvc); err != nil {
		return err
	}
	svc := documents.NewService(n.ctx, &documents.Config{
		Database:          n.db,
		Storage:           n.storage,
		Ledger:            ledgerSvc,
		Scanner:           scanner.NewClient(n.cfg.ScannerURL, n.cfg.ScannerTimeout),
		Audit:             n.audit,
		Locker:            n.locker,
		MaxUploadBytes:    n.cfg.MaxUploadBytes,
		AllowedMediaTypes: n.cfg.AllowedMediaTypes,
	})
	return n.services.RegisterService(svc)
}

func (n *Node) registerSignatureService() error {
	var ledgerSvc *ledger.Service
	if err := n.services.FetchService(&ledgerSvc); err != nil {
		return err
	}
	svc := signatures.NewService(n.ctx, &signatures.Config{
		Database: n.db,
		Ledger:   ledgerSvc,
		Keys:     n.keys,
		Audit:    n.audit,
		Locker:   n.locker,
	})
	return n.services.RegisterService(svc)
}

func (n *Node) registerVerificationService() error {
	var ledgerSvc *ledger.Service
	if err := n.services.FetchService(&ledgerSvc); err != nil {
		return err
	}
	svc := verification.NewService(n.ctx, &verification.Config{
		Database: n.db,
		Storage:  n.storage,
		Ledger:   ledgerSvc,
		Audit:    n.audit,
		Locker:   n.locker,
	})
	return n.services.RegisterService(svc)
}

func (n *Node) registerAPIService() error {
	var (
		ledgerSvc *ledger.Service
		authSvc   *auth.Service
		docSvc    *documents.Service
		sigSvc    *signatures.Service
		verSvc    *verification.Service
	)
	if err := n.services.FetchService(&ledgerSvc); err != nil {
		return err
	}
	if err := n.services.FetchService(&authSvc); err != nil {
		return err
	}
	if err := n.services.FetchService(&docSvc); err != nil {
		return err
	}
	if err := n.services.FetchService(&sigSvc); err != nil {
		return err
	}
	if err := n.services.FetchService(&verSvc); err != nil {
		return err
	}
	svc := api.NewService(n.ctx, &api.Config{
		Host:           n.cfg.HTTPHost,
		Port:           n.cfg.HTTPPort,
		AllowedOrigins: n.cfg.AllowedOrigins,
		InternalAPIKey: n.cfg.InternalAPIKey,
		Auth:           authSvc,
		Documents:      docSvc,
		Signatures:     sigSvc,
		Verification:   verSvc,
		Ledger:         ledgerSvc,
		Keys:           n.keys,
		Audit:          n.audit,
	})
	return n.services.RegisterService(svc)
}

func (n *Node) registerPrometheusService() error {
	svc := prometheus.NewService(n.cfg.MonitoringAddr, n.services)
	return n.services.RegisterService(svc)
}
