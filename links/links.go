package links

import (
	"net/url"
	"strings"
)

const (
	youtubeSearchBase = "https://www.youtube.com/results?search_query="
	spotifySearchBase = "https://open.spotify.com/search/"
)

// Links are search deep links for one track or label.
type Links struct {
	YouTube string `json:"youtube"`
	Spotify string `json:"spotify"`
}

// escape percent-encodes a query so spaces become %20 and no reserved
// characters survive.
func escape(query string) string {
	return strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
}

func trackQuery(title, artist string) string {
	return strings.TrimSpace(title + " " + artist)
}

func YouTubeSearchURL(title, artist string) string {
	return youtubeSearchBase + escape(trackQuery(title, artist))
}

func SpotifySearchURL(title, artist string) string {
	return spotifySearchBase + escape(trackQuery(title, artist))
}

// ForTrack builds the links shown next to a recognized track.
func ForTrack(title, artist string) Links {
	return Links{
		YouTube: YouTubeSearchURL(title, artist),
		Spotify: SpotifySearchURL(title, artist),
	}
}

// ForLabel builds links for a recommendation label, which is searched as is.
func ForLabel(label string) Links {
	query := escape(strings.TrimSpace(label))
	return Links{
		YouTube: youtubeSearchBase + query,
		Spotify: spotifySearchBase + query,
	}
}
