// Package enrichment provides the HTTP client for the lead sizing lookup
// that fills unit count and legal-entity flags missing from webhook submissions.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/logger"
)

const defaultHTTPTimeout = 5 * time.Second

// errPermanent marks responses that a retry cannot fix.
var errPermanent = errors.New("permanent enrichment failure")

// Client calls the enrichment endpoint with a fixed number of attempts.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	attempts   int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logger.Logger
}

// New creates a client from configuration. Returns nil when enrichment is disabled.
func New(cfg config.EnrichmentConfig, log *logger.Logger) *Client {
	if !cfg.IsEnrichmentEnabled() {
		return nil
	}
	attempts := cfg.GetEnrichmentAttempts()
	if attempts <= 0 {
		attempts = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		url:        cfg.GetEnrichmentURL(),
		apiKey:     cfg.GetEnrichmentAPIKey(),
		attempts:   attempts,
		backoff:    cfg.GetEnrichmentBackoff(),
		sleep:      sleepContext,
		log:        log,
	}
}

type lookupRequest struct {
	Source      string `json:"source"`
	ContactName string `json:"contactName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

type lookupResponse struct {
	UnitCount      *int  `json:"unitCount"`
	HasLegalEntity *bool `json:"hasLegalEntity"`
}

// Enrich looks up sizing attributes for ev. Attempt n waits n*backoff before
// the next one. A 404 means nothing is known and is not an error.
func (c *Client) Enrich(ctx context.Context, ev domain.InboundContactEvent) (domain.Enrichment, error) {
	body, err := json.Marshal(lookupRequest{
		Source:      ev.Source,
		ContactName: ev.ContactName,
		Phone:       ev.Phone,
		Email:       ev.Email,
	})
	if err != nil {
		return domain.Enrichment{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		found, err := c.lookup(ctx, body)
		if err == nil {
			return found, nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || attempt == c.attempts {
			break
		}

		c.log.WithContext(ctx).Debug("enrichment attempt failed", "attempt", attempt, "error", err)
		if err := c.sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
			return domain.Enrichment{}, err
		}
	}
	return domain.Enrichment{}, fmt.Errorf("enrichment lookup: %w", lastErr)
}

func (c *Client) lookup(ctx context.Context, body []byte) (domain.Enrichment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Enrichment{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Enrichment{}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Enrichment{}, fmt.Errorf("enrichment status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Enrichment{}, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Enrichment{}, fmt.Errorf("%w: decode: %v", errPermanent, err)
	}
	if payload.UnitCount != nil && *payload.UnitCount <= 0 {
		payload.UnitCount = nil
	}
	return domain.Enrichment{UnitCount: payload.UnitCount, HasLegalEntity: payload.HasLegalEntity}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
