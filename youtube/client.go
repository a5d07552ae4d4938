package youtube

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"songmatch/sentryhelper"
)

var (
	ErrNoVideoID     = errors.New("no video id in URL")
	ErrVideoNotFound = errors.New("no video found")
)

type VideoResponse struct {
	Title        string `json:"title"`
	VideoID      string `json:"video_id"`
	ChannelTitle string `json:"channel_title"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

// ParseYouTubeURL extracts the video id from watch, youtu.be and embed
// links. It returns "" for anything else.
func ParseYouTubeURL(rawURL string) string {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	switch strings.ToLower(parsedURL.Host) {
	case "www.youtube.com", "youtube.com", "m.youtube.com":
		if parsedURL.Path == "/watch" {
			return parsedURL.Query().Get("v")
		}
		if id, ok := strings.CutPrefix(parsedURL.Path, "/embed/"); ok {
			return firstSegment(id)
		}
	case "youtu.be":
		return firstSegment(strings.TrimPrefix(parsedURL.Path, "/"))
	}
	return ""
}

func firstSegment(path string) string {
	id, _, _ := strings.Cut(path, "/")
	return id
}

// GetVideoByID looks up the snippet of one video.
func GetVideoByID(ctx context.Context, apiKey string, videoID string, opts ...option.ClientOption) (VideoResponse, error) {
	logger := log.WithFields(log.Fields{"module": "youtube", "function": "GetVideoByID", "video_id": videoID})

	span := sentryhelper.StartSpan(ctx, "youtube.get_video", "Get video from YouTube API")
	span.SetTag("video_id", videoID)
	defer span.Finish()

	service, err := ytapi.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		logger.Errorf("error creating YouTube client: %v", err)
		span.Status = sentry.SpanStatusInternalError
		return VideoResponse{}, fmt.Errorf("error creating YouTube client: %w", err)
	}

	response, err := service.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		logger.Errorf("error querying YouTube: %v", err)
		sentryhelper.CaptureException(ctx, err)
		span.Status = sentry.SpanStatusInternalError
		return VideoResponse{}, fmt.Errorf("error querying YouTube: %w", err)
	}

	if len(response.Items) == 0 || response.Items[0].Snippet == nil {
		span.Status = sentry.SpanStatusNotFound
		return VideoResponse{}, ErrVideoNotFound
	}

	snippet := response.Items[0].Snippet
	logger.Tracef("video found: %v", snippet.Title)
	video := VideoResponse{
		Title:        html.UnescapeString(snippet.Title),
		VideoID:      videoID,
		ChannelTitle: snippet.ChannelTitle,
	}
	if snippet.Thumbnails != nil && snippet.Thumbnails.Medium != nil {
		video.Thumbnail = snippet.Thumbnails.Medium.Url
	}

	span.Status = sentry.SpanStatusOK
	return video, nil
}

// Preview resolves a YouTube link to its video metadata.
func Preview(ctx context.Context, apiKey string, rawURL string, opts ...option.ClientOption) (VideoResponse, error) {
	videoID := ParseYouTubeURL(rawURL)
	if videoID == "" {
		return VideoResponse{}, ErrNoVideoID
	}
	return GetVideoByID(ctx, apiKey, videoID, opts...)
}
