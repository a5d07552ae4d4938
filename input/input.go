// Package input validates user submissions before they reach the recognition pipeline.
package input

import (
	"errors"
	"mime"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotAudio          = errors.New("file is not an audio file")
	ErrInvalidYouTubeURL = errors.New("not a valid YouTube URL")
)

// Alerts shown to the user when a submission is rejected.
const (
	AlertNotAudio          = "Please select an audio file (MP3, WAV, etc.)"
	AlertInvalidYouTubeURL = "Please enter a valid YouTube URL"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/embed/[\w-]+`),
}

// IsAudioType reports whether a declared media type is audio/*.
func IsAudioType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "audio/")
}

// MediaType returns the media type to validate an upload against. The
// declared type wins; when the client sent nothing useful the type is sniffed
// from the content.
func MediaType(declared string, data []byte) string {
	if declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			declared = parsed
		}
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	detected := mimetype.Detect(data)
	return strings.SplitN(detected.String(), ";", 2)[0]
}

// ValidateAudio checks an upload and returns the media type to forward.
func ValidateAudio(declared string, data []byte) (string, error) {
	mediaType := MediaType(declared, data)
	if !IsAudioType(mediaType) {
		return "", ErrNotAudio
	}
	return mediaType, nil
}

// IsValidYouTubeURL matches watch?v=, youtu.be/ and /embed/ links.
func IsValidYouTubeURL(url string) bool {
	for _, pattern := range youtubePatterns {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// ValidateYouTubeURL trims url and returns it if it has an accepted shape.
func ValidateYouTubeURL(url string) (string, error) {
	url = strings.TrimSpace(url)
	if !IsValidYouTubeURL(url) {
		return "", ErrInvalidYouTubeURL
	}
	return url, nil
}
