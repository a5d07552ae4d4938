package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"songmatch/sentryhelper"
)

const trackURLBase = "https://open.spotify.com/track/"

var ErrTrackNotFound = errors.New("track not found on Spotify")

// trackSearcher is the part of the Web API client the linker needs.
type trackSearcher interface {
	Search(ctx context.Context, query string, t spotifyclient.SearchType, opts ...spotifyclient.RequestOption) (*spotifyclient.SearchResult, error)
}

// Linker resolves recognized tracks to Spotify track pages. Lookups are
// paced and cached per title/artist pair.
type Linker struct {
	client  trackSearcher
	limiter *rate.Limiter
	cache   map[string]string
	mutex   sync.Mutex
}

// NewLinker authenticates with the client credentials flow. The returned
// http client refreshes its token on its own.
func NewLinker(ctx context.Context, clientID, clientSecret string) (*Linker, error) {
	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := config.Token(ctx); err != nil {
		sentry.CaptureException(err)
		return nil, fmt.Errorf("failed to authenticate with Spotify: %w", err)
	}

	return newLinker(spotifyclient.New(config.Client(ctx))), nil
}

func newLinker(client trackSearcher) *Linker {
	return &Linker{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		cache:   make(map[string]string),
	}
}

// TrackURL returns the Spotify page of the best match for title and artist.
func (l *Linker) TrackURL(ctx context.Context, title, artist string) (string, error) {
	logger := log.WithFields(log.Fields{"module": "spotify", "method": "TrackURL"})

	key := cacheKey(title, artist)
	l.mutex.Lock()
	cached, ok := l.cache[key]
	l.mutex.Unlock()
	if ok {
		if cached == "" {
			return "", ErrTrackNotFound
		}
		return cached, nil
	}

	span := sentryhelper.StartSpan(ctx, "spotify.search", "Search Spotify API")
	span.SetTag("title", title)
	defer span.Finish()

	if err := l.limiter.Wait(ctx); err != nil {
		span.Status = sentry.SpanStatusCanceled
		return "", fmt.Errorf("spotify rate limiter: %w", err)
	}

	results, err := l.client.Search(ctx, SearchQuery(title, artist), spotifyclient.SearchTypeTrack, spotifyclient.Limit(1))
	if err != nil {
		logger.Warnf("Spotify search failed for %s by %s: %v", title, artist, err)
		sentryhelper.CaptureException(ctx, err)
		span.Status = sentry.SpanStatusInternalError
		return "", err
	}

	url := firstTrackURL(results)
	l.mutex.Lock()
	l.cache[key] = url
	l.mutex.Unlock()

	span.Status = sentry.SpanStatusOK
	if url == "" {
		logger.Debugf("no Spotify match for %s by %s", title, artist)
		return "", ErrTrackNotFound
	}
	return url, nil
}

// SearchQuery builds a field-filtered track search.
func SearchQuery(title, artist string) string {
	query := fmt.Sprintf("track:%s", strings.TrimSpace(title))
	if artist = strings.TrimSpace(artist); artist != "" {
		query += fmt.Sprintf(" artist:%s", artist)
	}
	return query
}

// TrackURLForID links a Spotify track id carried by the recognizer.
func TrackURLForID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return trackURLBase + id
}

func firstTrackURL(results *spotifyclient.SearchResult) string {
	if results == nil || results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		return ""
	}
	track := results.Tracks.Tracks[0]
	if url, ok := track.ExternalURLs["spotify"]; ok && url != "" {
		return url
	}
	return TrackURLForID(string(track.ID))
}

func cacheKey(title, artist string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + strings.ToLower(strings.TrimSpace(artist))
}
