package handlers

import (
	"fmt"

	"songmatch/controller"
	"songmatch/links"
	"songmatch/models"
)

const noRecommendationsMessage = "No similar songs found for this track"

type TrackView struct {
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Album       string         `json:"album,omitempty"`
	ReleaseDate string         `json:"release_date,omitempty"`
	AlbumArt    string         `json:"album_art,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	YoutubeID   string         `json:"youtube_id,omitempty"`
	SpotifyID   string         `json:"spotify_id,omitempty"`
	ExternalIDs map[string]any `json:"external_ids,omitempty"`
	Links       links.Links    `json:"links"`
	SpotifyURL  string         `json:"spotify_url,omitempty"`
}

type RecognitionView struct {
	Recognized bool       `json:"recognized"`
	Track      *TrackView `json:"track,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type RecommendationItemView struct {
	Label string      `json:"label"`
	Links links.Links `json:"links"`
}

type RecommendationsView struct {
	BasedOn string                   `json:"based_on,omitempty"`
	Summary string                   `json:"summary"`
	Count   int                      `json:"count"`
	Items   []RecommendationItemView `json:"items"`
}

// SessionView is what clients render for one session.
type SessionView struct {
	SessionID       string                   `json:"session_id"`
	Mode            controller.InputMode     `json:"mode"`
	State           controller.PipelineState `json:"state"`
	IsRecognizing   bool                     `json:"is_recognizing"`
	IsRecommending  bool                     `json:"is_recommending"`
	Recognition     *RecognitionView         `json:"recognition"`
	Recommendations *RecommendationsView     `json:"recommendations"`
}

func NewSessionView(snapshot controller.Snapshot) SessionView {
	view := SessionView{
		SessionID:      snapshot.SessionID,
		Mode:           snapshot.Mode,
		State:          snapshot.State,
		IsRecognizing:  snapshot.IsRecognizing,
		IsRecommending: snapshot.IsRecommending,
	}
	if snapshot.Recognition != nil {
		view.Recognition = newRecognitionView(*snapshot.Recognition)
	}
	if snapshot.State == controller.StateComplete {
		view.Recommendations = newRecommendationsView(snapshot.Recommendation)
	}
	return view
}

func newRecognitionView(outcome models.RecognitionOutcome) *RecognitionView {
	if !outcome.Recognized || outcome.Track == nil {
		return &RecognitionView{Recognized: false, Message: outcome.Reason}
	}

	track := outcome.Track
	trackView := &TrackView{
		Title:       track.Title,
		Artist:      track.Artist,
		Album:       track.Album,
		AlbumArt:    track.AlbumArt,
		Confidence:  track.Confidence,
		YoutubeID:   track.YoutubeID,
		SpotifyID:   track.SpotifyID,
		ExternalIDs: track.ExternalIDs,
		Links:       links.ForTrack(track.Title, track.Artist),
	}
	if track.HasReleaseDate() {
		trackView.ReleaseDate = track.ReleaseDate
	}
	return &RecognitionView{Recognized: true, Track: trackView}
}

// newRecommendationsView renders a settled fetch. A nil outcome means the
// fetch failed and renders like an empty list.
func newRecommendationsView(outcome *models.RecommendationOutcome) *RecommendationsView {
	if outcome == nil || !outcome.Succeeded || len(outcome.Items) == 0 {
		return &RecommendationsView{Summary: noRecommendationsMessage, Items: []RecommendationItemView{}}
	}

	items := make([]RecommendationItemView, 0, len(outcome.Items))
	for _, label := range outcome.Items {
		items = append(items, RecommendationItemView{Label: label, Links: links.ForLabel(label)})
	}
	return &RecommendationsView{
		BasedOn: outcome.SourceTrackLabel,
		Summary: fmt.Sprintf("Found %d similar tracks", outcome.Count),
		Count:   outcome.Count,
		Items:   items,
	}
}
