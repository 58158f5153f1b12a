package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/types"
)

// Client defaults applied when the corresponding config field is zero.
const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = 500 * time.Millisecond
	defaultHTTPTimeout = 10 * time.Second
)

// ClientConfig options for the endorsing peer client.
type ClientConfig struct {
	// Endpoints are the base URLs of the endorsing peers.
	Endpoints []string
	// Quorum is the number of endorsements a submission must collect.
	Quorum int
	// MaxAttempts bounds submission retries before the ledger is
	// declared unavailable.
	MaxAttempts int
	// BaseBackoff is the first retry delay; subsequent delays double
	// with jitter.
	BaseBackoff time.Duration
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
}

// Client submits transaction proposals to a set of endorsing peers and
// collects a quorum of endorsements. Failed attempts retry with
// exponential backoff and jitter up to the configured ceiling.
type Client struct {
	cfg *ClientConfig
	hc  *http.Client
}

// NewClient creates an endorsing peer client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Quorum == 0 {
		cfg.Quorum = 1
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
	}
}

// proposal is the wire form of a transaction submission.
type proposal struct {
	DocumentID  uuid.UUID       `json:"document_id"`
	Kind        types.TxKind    `json:"kind"`
	DedupKey    string          `json:"dedup_key"`
	PayloadHash []byte          `json:"payload_hash"`
	Payload     json.RawMessage `json:"payload"`
}

// endorsementResponse is a single peer's answer to a proposal.
type endorsementResponse struct {
	TxID        string            `json:"tx_id"`
	Block       uint64            `json:"block"`
	BlockHash   []byte            `json:"block_hash"`
	Endorsement types.Endorsement `json:"endorsement"`
}

// Submit proposes a transaction to the peers until a quorum endorses
// it. When distinctFrom is non-empty, at least one endorsing identity
// must differ from it.
func (c *Client) Submit(ctx context.Context, documentID uuid.UUID, kind types.TxKind, seq uint64, payload interface{}, distinctFrom string) (*types.LedgerTransaction, error) {
	enc, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal payload")
	}
	prop := &proposal{
		DocumentID:  documentID,
		Kind:        kind,
		DedupKey:    DedupKey(documentID, kind, seq),
		PayloadHash: payloadHash(payload),
		Payload:     enc,
	}
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, c.cfg.BaseBackoff<<uint(attempt-1)); err != nil {
				return nil, err
			}
		}
		tx, err := c.propose(ctx, prop, distinctFrom)
		if err == nil {
			return tx, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(ErrLedgerUnavailable, lastErr.Error())
}

func (c *Client) propose(ctx context.Context, prop *proposal, distinctFrom string) (*types.LedgerTransaction, error) {
	body, err := json.Marshal(prop)
	if err != nil {
		return nil, err
	}
	var (
		endorsements []types.Endorsement
		distinct     bool
		head         *endorsementResponse
	)
	for _, endpoint := range c.cfg.Endpoints {
		resp, err := c.postJSON(ctx, endpoint+"/ledger/v1/submit", body)
		if err != nil {
			log.WithError(err).WithField("endpoint", endpoint).Debug("Endorsement request failed")
			continue
		}
		if head == nil {
			head = resp
		} else if head.TxID != resp.TxID {
			return nil, errors.Errorf("peers disagree on tx id: %s != %s", head.TxID, resp.TxID)
		}
		endorsements = append(endorsements, resp.Endorsement)
		if resp.Endorsement.Identity != distinctFrom {
			distinct = true
		}
	}
	if len(endorsements) < c.cfg.Quorum {
		return nil, errors.Errorf("collected %d of %d required endorsements", len(endorsements), c.cfg.Quorum)
	}
	if distinctFrom != "" && !distinct {
		return nil, errors.New("no endorsement from an identity distinct from the signer")
	}
	now := time.Now().UTC()
	return &types.LedgerTransaction{
		TxID:         head.TxID,
		DocumentID:   prop.DocumentID,
		Kind:         prop.Kind,
		Block:        head.Block,
		BlockHash:    head.BlockHash,
		PayloadHash:  prop.PayloadHash,
		Endorsements: endorsements,
		DedupKey:     prop.DedupKey,
		SubmittedAt:  now,
		ConfirmedAt:  &now,
		Status:       types.TxConfirmed,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte) (*endorsementResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("peer returned status %d", resp.StatusCode)
	}
	out := &endorsementResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Query fetches the ledger's current record for a document from the
// first reachable peer.
func (c *Client) Query(ctx context.Context, documentID uuid.UUID) (*Record, error) {
	rec := &Record{}
	if err := c.getJSON(ctx, fmt.Sprintf("/ledger/v1/records/%s", documentID), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// History fetches the ordered transaction history for a document.
func (c *Client) History(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error) {
	var txs []*types.LedgerTransaction
	if err := c.getJSON(ctx, fmt.Sprintf("/ledger/v1/records/%s/history", documentID), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// TxStatus fetches the confirmation status of a transaction.
func (c *Client) TxStatus(ctx context.Context, txID string) (types.TxStatus, error) {
	var out struct {
		Status types.TxStatus `json:"status"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/ledger/v1/tx/%s", txID), &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for _, endpoint := range c.cfg.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = errors.Errorf("peer returned status %d", resp.StatusCode)
			if err := resp.Body.Close(); err != nil {
				log.WithError(err).Debug("Could not close response body")
			}
			continue
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		if cerr := resp.Body.Close(); cerr != nil {
			log.WithError(cerr).Debug("Could not close response body")
		}
		return err
	}
	if lastErr == nil {
		lastErr = errors.New("no endorsing peers configured")
	}
	return errors.Wrap(ErrLedgerUnavailable, lastErr.Error())
}

// sleepWithJitter waits for the delay plus up to 50% random jitter,
// aborting early on context cancellation.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
