package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/types"
)

var log = logrus.WithField("prefix", "audit")

var (
	recordsCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versafe_audit_records_committed_total",
		Help: "Count of audit records committed to their shard chain.",
	})
	recordsSpilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versafe_audit_records_spilled_total",
		Help: "Count of audit records diverted to the local fallback buffer.",
	})
)

const defaultQueueSize = 1024

// Config options for the audit recorder.
type Config struct {
	Database     db.NoHeadAccessDatabase
	FallbackPath string
	QueueSize    int
}

// Recorder accepts audit records from every service and commits them
// to the store on a single writer goroutine, preserving the total
// order of each shard chain. Submission never blocks the caller: when
// the queue is full, records spill to a durable local buffer that is
// replayed on the next start.
type Recorder struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *Config
	submitCh chan *types.AuditRecord
	tails    map[string][]byte
	done     chan struct{}
	spillMu  sync.Mutex
}

// NewRecorder creates an audit recorder backed by the given store.
func NewRecorder(ctx context.Context, cfg *Config) *Recorder {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Recorder{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		submitCh: make(chan *types.AuditRecord, cfg.QueueSize),
		tails:    make(map[string][]byte),
		done:     make(chan struct{}),
	}
}

// Start launches the writer goroutine, replaying any spilled records
// first.
func (r *Recorder) Start() {
	go r.run()
}

// Stop signals the writer to drain outstanding records and exit.
func (r *Recorder) Stop() error {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		log.Warn("Timed out waiting for audit writer to drain")
	}
	return nil
}

// Status returns an error if the recorder has been stopped.
func (r *Recorder) Status() error {
	return r.ctx.Err()
}

// Submit queues a record for asynchronous commit. Missing identity and
// timestamp fields are assigned here so that spilled records replay
// into the same shard they were destined for.
func (r *Recorder) Submit(rec *types.AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	select {
	case r.submitCh <- rec:
	default:
		recordsSpilledTotal.Inc()
		r.spill(rec)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	r.replayFallback()
	for {
		select {
		case rec := <-r.submitCh:
			r.append(rec)
		case <-r.ctx.Done():
			for {
				select {
				case rec := <-r.submitCh:
					r.append(rec)
				default:
					return
				}
			}
		}
	}
}

func shardKey(service string, day time.Time) string {
	return fmt.Sprintf("%s/%s", service, day.UTC().Format("2006-01-02"))
}

// append runs only on the writer goroutine so that chain reads and
// writes for a shard never race.
func (r *Recorder) append(rec *types.AuditRecord) {
	key := shardKey(rec.Service, rec.CreatedAt)
	prev, ok := r.tails[key]
	if !ok {
		last, err := r.cfg.Database.LastAuditRecord(context.Background(), rec.Service, rec.CreatedAt)
		if err != nil {
			log.WithError(err).Error("Could not read audit shard tail")
			r.spill(rec)
			return
		}
		if last != nil {
			prev = last.EntryHash
		}
	}
	rec.PrevHash = prev
	rec.EntryHash = EntryHash(prev, rec)
	if err := r.cfg.Database.AppendAuditRecord(context.Background(), rec); err != nil {
		log.WithError(err).Error("Could not append audit record")
		r.spill(rec)
		return
	}
	r.tails[key] = rec.EntryHash
	recordsCommittedTotal.Inc()
}

// spill appends a record as a JSON line to the durable fallback buffer.
func (r *Recorder) spill(rec *types.AuditRecord) {
	if r.cfg.FallbackPath == "" {
		log.WithField("action", rec.Action).Warn("Dropping audit record, no fallback buffer configured")
		return
	}
	r.spillMu.Lock()
	defer r.spillMu.Unlock()
	f, err := os.OpenFile(r.cfg.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		log.WithError(err).Error("Could not open audit fallback buffer")
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close audit fallback buffer")
		}
	}()
	enc, err := json.Marshal(rec)
	if err != nil {
		log.WithError(err).Error("Could not marshal audit record")
		return
	}
	if _, err := f.Write(append(enc, '\n')); err != nil {
		log.WithError(err).Error("Could not write audit fallback buffer")
		return
	}
	if err := f.Sync(); err != nil {
		log.WithError(err).Error("Could not sync audit fallback buffer")
	}
}

// replayFallback re-commits records spilled by a previous run. Chain
// fields are recomputed at commit time, so replayed records extend
// their shard from its current tail.
func (r *Recorder) replayFallback() {
	if r.cfg.FallbackPath == "" {
		return
	}
	r.spillMu.Lock()
	f, err := os.Open(r.cfg.FallbackPath)
	if err != nil {
		r.spillMu.Unlock()
		if !os.IsNotExist(err) {
			log.WithError(err).Error("Could not open audit fallback buffer")
		}
		return
	}
	var records []*types.AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec := &types.AuditRecord{}
		if err := json.Unmarshal(scanner.Bytes(), rec); err != nil {
			log.WithError(err).Error("Skipping corrupt spilled audit record")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Error("Could not read audit fallback buffer")
	}
	if err := f.Close(); err != nil {
		log.WithError(err).Error("Could not close audit fallback buffer")
	}
	if err := os.Remove(r.cfg.FallbackPath); err != nil {
		log.WithError(err).Error("Could not remove audit fallback buffer")
	}
	r.spillMu.Unlock()

	if len(records) == 0 {
		return
	}
	log.WithField("records", len(records)).Info("Replaying spilled audit records")
	for _, rec := range records {
		r.append(rec)
	}
}
