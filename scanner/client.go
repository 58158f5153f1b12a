// Package scanner is the client for the external malware scanner.
// The scanner gates PDF ingest but is never allowed to block it
// beyond a bounded timeout; an unreachable scanner yields an UNKNOWN
// verdict upstream.
package scanner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "scanner")

// Result classifies scanned content.
type Result string

// Scan results.
const (
	ResultBenign     Result = "BENIGN"
	ResultSuspicious Result = "SUSPICIOUS"
	ResultMalicious  Result = "MALICIOUS"
	ResultUnknown    Result = "UNKNOWN"
)

// Verdict is the scanner's answer for one file.
type Verdict struct {
	Result     Result   `json:"result"`
	Confidence float64  `json:"confidence"`
	Features   []string `json:"features,omitempty"`
}

const defaultScanTimeout = 10 * time.Second

// Client streams files to the scanner endpoint.
type Client struct {
	endpoint string
	hc       *http.Client
}

// NewClient creates a scanner client. An empty endpoint disables
// scanning; Scan then always reports UNKNOWN.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultScanTimeout
	}
	return &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
	}
}

// Scan streams the content to the scanner and returns its verdict.
// Transport failures and timeouts degrade to UNKNOWN rather than an
// error so a scanner outage never stops ingest.
func (c *Client) Scan(ctx context.Context, r io.Reader, mediaType string) (*Verdict, error) {
	if c.endpoint == "" {
		return &Verdict{Result: ResultUnknown}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/scan", r)
	if err != nil {
		return nil, errors.Wrap(err, "could not build scan request")
	}
	req.Header.Set("Content-Type", mediaType)
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("Scanner unreachable, verdict unknown")
		return &Verdict{Result: ResultUnknown}, nil
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Warn("Scanner returned error, verdict unknown")
		return &Verdict{Result: ResultUnknown}, nil
	}
	verdict := &Verdict{}
	if err := json.NewDecoder(resp.Body).Decode(verdict); err != nil {
		log.WithError(err).Warn("Could not decode scanner verdict")
		return &Verdict{Result: ResultUnknown}, nil
	}
	if verdict.Result == "" {
		verdict.Result = ResultUnknown
	}
	return verdict, nil
}
