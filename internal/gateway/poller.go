// Package gateway polls a SCADA gateway REST endpoint for batched sensor
// readings and submits them into the assessment pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/metrics"
	"github.com/aquasentry/aquasentry/internal/models"
)

const sourceName = "gateway"

// Submitter accepts raw readings for assessment. The pipeline engine
// satisfies this.
type Submitter interface {
	Submit(raw models.RawReading, source string) error
}

// Notifier receives ingest-source failure and recovery notices. The
// telegram client satisfies this; nil disables notices.
type Notifier interface {
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// Config holds gateway polling settings.
type Config struct {
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	Limit        int
}

// Poller fetches reading batches from the gateway. Each poll requests
// only readings newer than the watermark, the timestamp of the newest
// reading received so far.
type Poller struct {
	baseURL    string
	httpClient *http.Client
	interval   time.Duration
	limit      int
	retryDelay time.Duration
	sub        Submitter
	notifier   Notifier
	log        *logger.Logger

	// Touched only from the Run goroutine.
	watermark time.Time
	failures  int
}

// New creates a gateway poller.
func New(cfg Config, sub Submitter, notifier Notifier) (*Poller, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if sub == nil {
		return nil, errors.New("gateway: submitter is required")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 500
	}

	return &Poller{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		interval:   interval,
		limit:      limit,
		retryDelay: time.Second,
		sub:        sub,
		notifier:   notifier,
		log:        logger.Component("gateway"),
	}, nil
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Watermark returns the timestamp of the newest reading received.
func (p *Poller) Watermark() time.Time {
	return p.watermark
}

func (p *Poller) poll(ctx context.Context) {
	readings, err := p.fetch(ctx)
	if err != nil {
		metrics.GatewayPollFailures.Inc()
		p.failures++
		p.log.Error("poll failed (%d consecutive): %v", p.failures, err)
		// Notify only on the first failure of a sequence.
		if p.failures == 1 && p.notifier != nil {
			p.notifier.SendError(ctx, err) //nolint:errcheck
		}
		return
	}

	if p.failures > 0 && p.notifier != nil {
		p.notifier.SendRecovery(ctx, p.failures) //nolint:errcheck
	}
	p.failures = 0

	for _, raw := range readings {
		// Advance on receipt, not on acceptance: a reading the validator
		// rejects must not be refetched forever.
		if raw.Timestamp != nil && raw.Timestamp.After(p.watermark) {
			p.watermark = *raw.Timestamp
		}
		if err := p.sub.Submit(raw, sourceName); err != nil {
			p.log.Warn("reading rejected: %v", err)
		}
	}

	if len(readings) > 0 {
		p.log.Debug("submitted %d gateway readings, watermark %s",
			len(readings), p.watermark.UTC().Format(time.RFC3339))
	}
}

// fetch retrieves one batch of readings newer than the watermark.
func (p *Poller) fetch(ctx context.Context) ([]models.RawReading, error) {
	u, err := url.Parse(p.baseURL + "/readings")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	if !p.watermark.IsZero() {
		q.Set("since", p.watermark.UTC().Format(time.RFC3339Nano))
	}
	q.Set("limit", strconv.Itoa(p.limit))
	u.RawQuery = q.Encode()

	resp, err := p.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var readings []models.RawReading
	if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
		return nil, fmt.Errorf("failed to decode readings: %w", err)
	}
	return readings, nil
}

// doRequest performs an HTTP GET with retry on transport errors and 5xx.
func (p *Poller) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * p.retryDelay)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(time.Duration(i+1) * p.retryDelay)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
