// Package recognition submits audio clips and YouTube links to the recognition backend.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"songmatch/endpoint"
	"songmatch/models"
	"songmatch/sentryhelper"
)

const (
	PathRecognizeAudio   = "/recognize"
	PathRecognizeYouTube = "/recognize-youtube"

	// Shown instead of the raw error when the call itself fails.
	FailureAudio   = "Recognition failed. Please try again."
	FailureYouTube = "YouTube recognition failed. Please try again."

	defaultNoMatch = "Could not recognize the song"
)

// AudioUpload is a clip the user picked. MimeType has already been checked
// to be audio/*.
type AudioUpload struct {
	Data     []byte
	Filename string
	MimeType string
}

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

// SubmitAudio posts the clip as multipart field "file". It never returns an
// error: transport and parse failures become a failed outcome.
func (c *Client) SubmitAudio(ctx context.Context, upload AudioUpload) models.RecognitionOutcome {
	logger := log.WithFields(log.Fields{"module": "recognition", "function": "SubmitAudio", "filename": upload.Filename})

	span := sentryhelper.StartSpan(ctx, "recognition.audio", "Recognize uploaded audio")
	span.SetTag("mime_type", upload.MimeType)
	defer span.Finish()

	body, contentType, err := multipartBody(upload)
	if err != nil {
		return c.fail(ctx, span, logger, FailureAudio, err)
	}

	resp, err := c.post(ctx, PathRecognizeAudio, contentType, body)
	if err != nil {
		return c.fail(ctx, span, logger, FailureAudio, err)
	}

	span.Status = sentry.SpanStatusOK
	logger.Debugf("recognized=%v", resp.Success)
	return normalize(resp)
}

// SubmitYouTubeURL posts {url} as JSON. Like SubmitAudio, failures become a
// failed outcome rather than an error.
func (c *Client) SubmitYouTubeURL(ctx context.Context, url string) models.RecognitionOutcome {
	logger := log.WithFields(log.Fields{"module": "recognition", "function": "SubmitYouTubeURL", "url": url})

	span := sentryhelper.StartSpan(ctx, "recognition.youtube", "Recognize YouTube link")
	span.SetTag("url", url)
	defer span.Finish()

	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return c.fail(ctx, span, logger, FailureYouTube, err)
	}

	resp, err := c.post(ctx, PathRecognizeYouTube, "application/json", bytes.NewReader(payload))
	if err != nil {
		return c.fail(ctx, span, logger, FailureYouTube, err)
	}

	span.Status = sentry.SpanStatusOK
	logger.Debugf("recognized=%v", resp.Success)
	return normalize(resp)
}

func (c *Client) fail(ctx context.Context, span *sentry.Span, logger *log.Entry, message string, err error) models.RecognitionOutcome {
	logger.Errorf("recognition failed: %v", err)
	sentryhelper.CaptureException(ctx, err)
	span.Status = sentry.SpanStatusInternalError
	return models.NotRecognized(message)
}

// post sends the request and decodes the body whatever the status code, so
// backend error envelopes still carry their message.
func (c *Client) post(ctx context.Context, path string, contentType string, body io.Reader) (*models.RecognitionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolver.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	var result models.RecognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response (HTTP %d): %w", path, resp.StatusCode, err)
	}
	return &result, nil
}

func multipartBody(upload AudioUpload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := upload.Filename
	if filename == "" {
		filename = "audio"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", upload.MimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func normalize(resp *models.RecognitionResponse) models.RecognitionOutcome {
	if resp.Success && resp.Song.IsIdentified() {
		return models.Recognized(*resp.Song)
	}
	// a success envelope without title and artist is a miss, and its
	// message would claim otherwise
	if resp.Success {
		return models.NotRecognized(defaultNoMatch)
	}

	reason := resp.Message
	if reason == "" {
		reason = resp.Detail
	}
	if reason == "" {
		reason = defaultNoMatch
	}
	return models.NotRecognized(reason)
}
