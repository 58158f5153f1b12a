package ledger

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/async"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/types"
)

var log = logrus.WithField("prefix", "ledger")

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versafe_ledger_submissions_total",
		Help: "Count of ledger submissions by kind and outcome.",
	}, []string{"kind", "outcome"})
	outboxDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "versafe_ledger_outbox_depth",
		Help: "Number of ledger operations awaiting submission.",
	})
)

const (
	defaultFlushInterval     = 30 * time.Second
	defaultQueryCacheSize    = 256
	defaultSubmissionCeiling = 2 * time.Minute
	queryCacheTTL            = 15 * time.Second
)

// Config options for the ledger gateway service.
type Config struct {
	Database db.Database
	// Client talks to the endorsing peers. A nil client runs the
	// gateway permanently in simulation mode.
	Client *Client
	// FlushInterval is the cadence of the outbox flusher.
	FlushInterval time.Duration
	// MaxOutboxAttempts caps per-entry flush attempts before an entry
	// is surfaced as stuck in the logs. Entries are never dropped.
	MaxOutboxAttempts int
	QueryCacheSize    int
	// SubmissionCeiling bounds a submission independently of the
	// caller's deadline so a slow client cannot strand a pending tx.
	SubmissionCeiling time.Duration
}

// cachedRecord pairs a ledger record with its fetch time for TTL
// expiry in the query cache.
type cachedRecord struct {
	rec     *Record
	fetched time.Time
}

// Service is the node's ledger gateway. It resolves deduplication keys
// against the local store, routes submissions to the endorsing peer
// client or the simulator depending on ledger health, and drains the
// durable outbox in the background.
type Service struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *Config
	sim        *Simulator
	queryCache *lru.Cache
	healthy    int32
}

// NewService creates the ledger gateway service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.QueryCacheSize == 0 {
		cfg.QueryCacheSize = defaultQueryCacheSize
	}
	if cfg.SubmissionCeiling == 0 {
		cfg.SubmissionCeiling = defaultSubmissionCeiling
	}
	cache, err := lru.New(cfg.QueryCacheSize)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Service{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		sim:        NewSimulator(cfg.Database),
		queryCache: cache,
	}
	if cfg.Client != nil {
		s.healthy = 1
	}
	return s, nil
}

// Start launches the outbox flusher.
func (s *Service) Start() {
	if s.cfg.Client == nil {
		log.Warn("No endorsing peers configured, running in simulation mode")
	}
	async.RunEvery(s.ctx, s.cfg.FlushInterval, s.flushOutbox)
}

// Stop halts background flushing.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status reports unhealthy while operations are queued and the ledger
// is unreachable.
func (s *Service) Status() error {
	if s.Healthy() {
		return nil
	}
	depth, err := s.cfg.Database.OutboxDepth(s.ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		return errors.Wrapf(ErrLedgerUnavailable, "%d operations queued", depth)
	}
	return nil
}

// Healthy reports whether the last contact with the ledger succeeded.
func (s *Service) Healthy() bool {
	return atomic.LoadInt32(&s.healthy) == 1
}

func (s *Service) setHealthy(up bool) {
	if up {
		atomic.StoreInt32(&s.healthy, 1)
	} else {
		atomic.StoreInt32(&s.healthy, 0)
	}
}

// outboxOp is the JSON payload of an outbox entry, tagged by the kind
// of the original request.
type outboxOp struct {
	Register     *RegisterRequest    `json:"register,omitempty"`
	StateUpdate  *StateUpdateRequest `json:"state_update,omitempty"`
	Signature    *SignatureRequest   `json:"signature,omitempty"`
	DistinctFrom string              `json:"distinct_from,omitempty"`
}

// Register submits a document registration.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*types.LedgerTransaction, error) {
	return s.submit(ctx, req.DocumentID, types.TxRegister, req.Seq, &outboxOp{Register: req})
}

// UpdateState submits a document state transition. A transition to
// REVOKED is recorded as its own transaction kind.
func (s *Service) UpdateState(ctx context.Context, req *StateUpdateRequest) (*types.LedgerTransaction, error) {
	return s.submit(ctx, req.DocumentID, stateUpdateKind(req), req.Seq, &outboxOp{StateUpdate: req})
}

func stateUpdateKind(req *StateUpdateRequest) types.TxKind {
	if req.NewState == types.StateRevoked {
		return types.TxRevoke
	}
	return types.TxStateUpdate
}

// RecordSignature submits a signature event. At least one endorsement
// must come from an identity distinct from the signer.
func (s *Service) RecordSignature(ctx context.Context, req *SignatureRequest) (*types.LedgerTransaction, error) {
	return s.submit(ctx, req.DocumentID, types.TxSignature, req.Seq, &outboxOp{Signature: req, DistinctFrom: req.SignerID.String()})
}

func (s *Service) submit(ctx context.Context, documentID uuid.UUID, kind types.TxKind, seq uint64, op *outboxOp) (*types.LedgerTransaction, error) {
	dedupKey := DedupKey(documentID, kind, seq)
	existing, err := s.cfg.Database.LedgerTransactionByDedupKey(ctx, dedupKey)
	if err == nil {
		submissionsTotal.WithLabelValues(string(kind), "dedup").Inc()
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if s.cfg.Client == nil || !s.Healthy() {
		return s.simulateAndShadow(ctx, documentID, kind, seq, op)
	}

	subCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmissionCeiling)
	defer cancel()
	tx, err := s.cfg.Client.Submit(subCtx, documentID, kind, seq, op.payload(), op.DistinctFrom)
	if err != nil {
		s.setHealthy(false)
		submissionsTotal.WithLabelValues(string(kind), "unavailable").Inc()
		if qErr := s.enqueue(ctx, documentID, kind, dedupKey, op); qErr != nil {
			log.WithError(qErr).Error("Could not enqueue outbox entry")
		}
		return nil, err
	}
	if err := s.cfg.Database.SaveLedgerTransaction(ctx, tx); err != nil {
		return nil, err
	}
	submissionsTotal.WithLabelValues(string(kind), "confirmed").Inc()
	return tx, nil
}

// simulateAndShadow answers a submission from the simulator and queues
// the real operation for reconciliation. The simulated record is never
// silently promoted; the flusher emits a new confirmed record later.
func (s *Service) simulateAndShadow(ctx context.Context, documentID uuid.UUID, kind types.TxKind, seq uint64, op *outboxOp) (*types.LedgerTransaction, error) {
	tx := s.sim.simulate(documentID, kind, seq, op.payload())
	if err := s.cfg.Database.SaveLedgerTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if s.cfg.Client != nil {
		if err := s.enqueue(ctx, documentID, kind, tx.DedupKey, op); err != nil {
			log.WithError(err).Error("Could not enqueue shadow operation")
		}
	}
	submissionsTotal.WithLabelValues(string(kind), "simulated").Inc()
	return tx, nil
}

func (s *Service) enqueue(ctx context.Context, documentID uuid.UUID, kind types.TxKind, dedupKey string, op *outboxOp) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	entry := &types.OutboxEntry{
		DocumentID: documentID,
		Kind:       kind,
		DedupKey:   dedupKey,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.cfg.Database.EnqueueOutbox(ctx, entry); err != nil {
		return err
	}
	s.publishOutboxDepth(ctx)
	return nil
}

func (op *outboxOp) payload() interface{} {
	switch {
	case op.Register != nil:
		return op.Register
	case op.StateUpdate != nil:
		return op.StateUpdate
	default:
		return op.Signature
	}
}

func (op *outboxOp) params() (uuid.UUID, types.TxKind, uint64) {
	switch {
	case op.Register != nil:
		return op.Register.DocumentID, types.TxRegister, op.Register.Seq
	case op.StateUpdate != nil:
		return op.StateUpdate.DocumentID, stateUpdateKind(op.StateUpdate), op.StateUpdate.Seq
	default:
		return op.Signature.DocumentID, types.TxSignature, op.Signature.Seq
	}
}

// flushOutbox drains queued operations in FIFO order. Draining stops
// at the first failure so per-document ordering is preserved.
func (s *Service) flushOutbox() {
	if s.cfg.Client == nil {
		return
	}
	drained, err := s.DrainOutbox(s.ctx)
	if err != nil {
		log.WithError(err).WithField("drained", drained).Debug("Outbox flush incomplete")
	}
}

// DrainOutbox submits queued operations until the outbox is empty or a
// submission fails. It returns the number of entries drained.
func (s *Service) DrainOutbox(ctx context.Context) (int, error) {
	if s.cfg.Client == nil {
		return 0, errors.Wrap(ErrLedgerUnavailable, "no endorsing peers configured")
	}
	drained := 0
	for {
		entries, err := s.cfg.Database.PeekOutbox(ctx, 1)
		if err != nil {
			return drained, err
		}
		if len(entries) == 0 {
			s.setHealthy(true)
			s.publishOutboxDepth(ctx)
			return drained, nil
		}
		entry := entries[0]
		op := &outboxOp{}
		if err := json.Unmarshal(entry.Payload, op); err != nil {
			// A corrupt entry can never succeed; drop it rather than
			// wedge the queue.
			log.WithError(err).WithField("seq", entry.Seq).Error("Dropping corrupt outbox entry")
			if err := s.cfg.Database.DeleteOutboxEntry(ctx, entry.Seq); err != nil {
				return drained, err
			}
			continue
		}
		documentID, kind, seq := op.params()
		tx, err := s.cfg.Client.Submit(ctx, documentID, kind, seq, op.payload(), op.DistinctFrom)
		if err != nil {
			s.setHealthy(false)
			entry.Attempts++
			if uErr := s.cfg.Database.UpdateOutboxAttempts(ctx, entry); uErr != nil {
				log.WithError(uErr).Error("Could not update outbox attempts")
			}
			if s.cfg.MaxOutboxAttempts > 0 && entry.Attempts >= s.cfg.MaxOutboxAttempts {
				log.WithFields(logrus.Fields{
					"seq":      entry.Seq,
					"document": documentID,
					"attempts": entry.Attempts,
				}).Error("Outbox entry stuck past attempt ceiling")
			}
			return drained, err
		}
		if err := s.cfg.Database.SaveLedgerTransaction(ctx, tx); err != nil {
			return drained, err
		}
		if err := s.cfg.Database.DeleteOutboxEntry(ctx, entry.Seq); err != nil {
			return drained, err
		}
		s.queryCache.Remove(documentID)
		drained++
		s.setHealthy(true)
	}
}

func (s *Service) publishOutboxDepth(ctx context.Context) {
	depth, err := s.cfg.Database.OutboxDepth(ctx)
	if err != nil {
		return
	}
	outboxDepthGauge.Set(float64(depth))
}

// NextSeq returns the next monotonic sequence number for a document's
// submissions, covering recorded transactions and queued operations.
// Gaps are harmless; only monotonicity matters for deduplication.
func (s *Service) NextSeq(ctx context.Context, documentID uuid.UUID) (uint64, error) {
	txs, err := s.cfg.Database.LedgerTransactionsForDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	queued, err := s.cfg.Database.OutboxEntriesForDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	return uint64(len(txs) + len(queued)), nil
}

// Query returns the ledger's view of a document, served from a short
// TTL cache when fresh.
func (s *Service) Query(ctx context.Context, documentID uuid.UUID) (*Record, error) {
	if v, ok := s.queryCache.Get(documentID); ok {
		cached := v.(*cachedRecord)
		if time.Since(cached.fetched) < queryCacheTTL {
			return cached.rec, nil
		}
		s.queryCache.Remove(documentID)
	}
	var (
		rec *Record
		err error
	)
	if s.cfg.Client != nil && s.Healthy() {
		rec, err = s.cfg.Client.Query(ctx, documentID)
		if err != nil && errors.Is(err, ErrLedgerUnavailable) {
			s.setHealthy(false)
		}
	} else {
		rec, err = s.sim.Query(ctx, documentID)
	}
	if err != nil {
		return nil, err
	}
	s.queryCache.Add(documentID, &cachedRecord{rec: rec, fetched: time.Now()})
	return rec, nil
}

// History returns the ordered transaction history for a document.
func (s *Service) History(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error) {
	if s.cfg.Client != nil && s.Healthy() {
		txs, err := s.cfg.Client.History(ctx, documentID)
		if err == nil {
			return txs, nil
		}
		if errors.Is(err, ErrLedgerUnavailable) {
			s.setHealthy(false)
		}
	}
	return s.sim.History(ctx, documentID)
}

// TxStatus resolves a transaction's confirmation status, preferring
// the ledger and falling back to the local record.
func (s *Service) TxStatus(ctx context.Context, txID string) (types.TxStatus, error) {
	if s.cfg.Client != nil && s.Healthy() {
		status, err := s.cfg.Client.TxStatus(ctx, txID)
		if err == nil {
			return status, nil
		}
		if errors.Is(err, ErrLedgerUnavailable) {
			s.setHealthy(false)
		}
	}
	return s.sim.TxStatus(ctx, txID)
}
