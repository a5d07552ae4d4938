// Package recommendation fetches similar tracks for a recognized song.
package recommendation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"songmatch/endpoint"
	"songmatch/models"
	"songmatch/sentryhelper"
)

const PathRecommend = "/recommend"

type Client struct {
	httpClient *http.Client
	resolver   *endpoint.Resolver
}

// New returns a Client. A zero timeout keeps the transport default.
func New(resolver *endpoint.Resolver, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		resolver:   resolver,
	}
}

// FetchFor asks the backend for tracks similar to title by artist.
// A failed call is logged and reported, and nil is returned: missing
// recommendations are never shown to the user as an error.
func (c *Client) FetchFor(ctx context.Context, title string, artist string) *models.RecommendationOutcome {
	logger := log.WithFields(log.Fields{"module": "recommendation", "function": "FetchFor", "title": title, "artist": artist})

	span := sentryhelper.StartSpan(ctx, "recommendation.fetch", "Fetch similar tracks")
	span.SetTag("title", title)
	span.SetTag("artist", artist)
	defer span.Finish()

	resp, err := c.fetch(ctx, models.RecommendationRequest{Track: title, Artist: artist})
	if err != nil {
		logger.Warnf("recommendations failed: %v", err)
		sentryhelper.CaptureException(ctx, err)
		span.Status = sentry.SpanStatusInternalError
		return nil
	}

	outcome := models.NewRecommendationOutcome(*resp)
	if outcome.Succeeded && resp.Count != outcome.Count {
		logger.Debugf("backend count %d differs from %d items", resp.Count, outcome.Count)
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("count", outcome.Count)
	logger.Tracef("got %d recommendations", outcome.Count)
	return &outcome
}

func (c *Client) fetch(ctx context.Context, body models.RecommendationRequest) (*models.RecommendationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolver.URL(PathRecommend), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", PathRecommend, err)
	}
	defer resp.Body.Close()

	var result models.RecommendationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response (HTTP %d): %w", PathRecommend, resp.StatusCode, err)
	}
	return &result, nil
}
