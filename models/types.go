package models

import "strings"

// UnknownReleaseDate is what the recognition backend sends when it has no release date.
const UnknownReleaseDate = "Unknown"

// Track is the identification metadata returned by the recognition backend.
type Track struct {
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Album       string         `json:"album,omitempty"`
	ReleaseDate string         `json:"release_date,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	AlbumArt    string         `json:"album_art,omitempty"`
	YoutubeID   string         `json:"youtube_id,omitempty"`
	SpotifyID   string         `json:"spotify_id,omitempty"`
	ExternalIDs map[string]any `json:"external_ids,omitempty"`
}

// IsIdentified reports whether both title and artist are present.
// A track missing either is treated as absent.
func (t *Track) IsIdentified() bool {
	return t != nil && strings.TrimSpace(t.Title) != "" && strings.TrimSpace(t.Artist) != ""
}

// HasReleaseDate is false for an empty date or the "Unknown" sentinel.
func (t *Track) HasReleaseDate() bool {
	return t != nil && t.ReleaseDate != "" && t.ReleaseDate != UnknownReleaseDate
}

// RecognitionResponse is the body of /recognize and /recognize-youtube.
// Detail is filled by the backend framework on HTTP errors.
type RecognitionResponse struct {
	Success bool   `json:"success"`
	Song    *Track `json:"song"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// RecommendationRequest is the body of /recommend.
type RecommendationRequest struct {
	Track  string `json:"track"`
	Artist string `json:"artist"`
}

// RecommendationResponse is the body returned by /recommend.
type RecommendationResponse struct {
	Success         bool     `json:"success"`
	Song            string   `json:"song"`
	Recommendations []string `json:"recommendations"`
	Count           int      `json:"count"`
	Detail          string   `json:"detail,omitempty"`
}

// RecognitionOutcome is a settled recognition. Exactly one of Track or
// Reason is set: Track when Recognized, Reason otherwise.
type RecognitionOutcome struct {
	Recognized bool   `json:"recognized"`
	Track      *Track `json:"track,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Recognized builds the successful variant.
func Recognized(track Track) RecognitionOutcome {
	return RecognitionOutcome{Recognized: true, Track: &track}
}

// NotRecognized builds the failure variant.
func NotRecognized(reason string) RecognitionOutcome {
	return RecognitionOutcome{Recognized: false, Reason: reason}
}

// ChainableTrack returns the track a recommendation fetch should be issued
// for, or nil when the outcome cannot be chained.
func (o *RecognitionOutcome) ChainableTrack() *Track {
	if o == nil || !o.Recognized || !o.Track.IsIdentified() {
		return nil
	}
	return o.Track
}

// RecommendationOutcome is a settled recommendation fetch.
type RecommendationOutcome struct {
	Succeeded        bool     `json:"succeeded"`
	SourceTrackLabel string   `json:"source_track_label"`
	Items            []string `json:"items"`
	Count            int      `json:"count"`
}

// NewRecommendationOutcome normalizes a wire response: Count always equals
// len(Items), and a failed response carries no items.
func NewRecommendationOutcome(resp RecommendationResponse) RecommendationOutcome {
	if !resp.Success {
		return RecommendationOutcome{
			Succeeded:        false,
			SourceTrackLabel: resp.Song,
			Items:            []string{},
			Count:            0,
		}
	}
	items := make([]string, 0, len(resp.Recommendations))
	items = append(items, resp.Recommendations...)
	return RecommendationOutcome{
		Succeeded:        true,
		SourceTrackLabel: resp.Song,
		Items:            items,
		Count:            len(items),
	}
}
