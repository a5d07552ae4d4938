// Package handlers exposes sessions over HTTP. Every route only reads
// snapshots or calls Session operations; no state lives here.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"songmatch/controller"
	"songmatch/database"
	"songmatch/input"
	"songmatch/recognition"
	"songmatch/sentryhelper"
	"songmatch/spotify"
	"songmatch/youtube"
)

const (
	maxUploadBytes     = 25 << 20
	spotifyLinkTimeout = 3 * time.Second
)

// HistoryReader reads settled pipelines back.
type HistoryReader interface {
	GetSessionHistory(sessionID string, limit int) ([]database.PipelineRecord, error)
	GetMostRecognized(limit int) ([]database.RecognizedTrackRecord, error)
}

// TrackLinker resolves a track to a streaming service page.
type TrackLinker interface {
	TrackURL(ctx context.Context, title, artist string) (string, error)
}

type Options struct {
	RejectBusySubmissions bool
	HistoryLimit          int
	YoutubeAPIKey         string
}

type Manager struct {
	Controller *controller.Controller
	History    HistoryReader
	Linker     TrackLinker
	Options    Options
}

func NewManager(ctrl *controller.Controller, options Options) *Manager {
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = 20
	}
	return &Manager{
		Controller: ctrl,
		Options:    options,
	}
}

func (manager *Manager) Register(router gin.IRouter) {
	router.GET("/health", manager.handleHealth)

	router.POST("/sessions", manager.handleCreateSession)
	router.GET("/sessions/:id", manager.handleGetSession)
	router.PUT("/sessions/:id/mode", manager.handleSwitchMode)
	router.POST("/sessions/:id/audio", manager.handleSubmitAudio)
	router.POST("/sessions/:id/youtube", manager.handleSubmitYouTube)
	router.GET("/sessions/:id/history", manager.handleSessionHistory)

	router.GET("/history/top", manager.handleMostRecognized)
	router.GET("/youtube/preview", manager.handleYouTubePreview)
}

func (manager *Manager) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"sessions": manager.Controller.Len(),
	})
}

func (manager *Manager) handleCreateSession(c *gin.Context) {
	session := manager.Controller.NewSession()
	c.JSON(http.StatusCreated, manager.view(c.Request.Context(), session.Snapshot()))
}

func (manager *Manager) handleGetSession(c *gin.Context) {
	session, ok := manager.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, manager.view(c.Request.Context(), session.Snapshot()))
}

type switchModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (manager *Manager) handleSwitchMode(c *gin.Context) {
	session, ok := manager.lookup(c)
	if !ok {
		return
	}

	var request switchModeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}
	mode, err := controller.ParseInputMode(request.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := session.SwitchTo(mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, manager.view(c.Request.Context(), session.Snapshot()))
}

func (manager *Manager) handleSubmitAudio(c *gin.Context) {
	logger := log.WithFields(log.Fields{"module": "handlers", "method": "handleSubmitAudio"})

	session, ok := manager.lookup(c)
	if !ok || !manager.modeIsActive(c, session, controller.ModeUploadAudio) {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"alert": input.AlertNotAudio})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		logger.Errorf("failed to open upload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Errorf("failed to read upload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	mediaType, err := input.ValidateAudio(header.Header.Get("Content-Type"), data)
	if err != nil {
		logger.Debugf("rejected upload %s: %v", header.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"alert": input.AlertNotAudio})
		return
	}

	upload := recognition.AudioUpload{Data: data, Filename: header.Filename, MimeType: mediaType}
	manager.dispatch(c, session, controller.ModeUploadAudio, func(ctx context.Context, submission *controller.Submission) controller.Snapshot {
		return submission.Audio(ctx, upload)
	})
}

type submitYouTubeRequest struct {
	URL string `json:"url"`
}

func (manager *Manager) handleSubmitYouTube(c *gin.Context) {
	session, ok := manager.lookup(c)
	if !ok || !manager.modeIsActive(c, session, controller.ModeYouTubeLink) {
		return
	}

	var request submitYouTubeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"alert": input.AlertInvalidYouTubeURL})
		return
	}
	url, err := input.ValidateYouTubeURL(request.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"alert": input.AlertInvalidYouTubeURL})
		return
	}

	manager.dispatch(c, session, controller.ModeYouTubeLink, func(ctx context.Context, submission *controller.Submission) controller.Snapshot {
		return submission.YouTubeURL(ctx, url)
	})
}

func (manager *Manager) handleSessionHistory(c *gin.Context) {
	if manager.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	id := c.Param("id")

	records, err := manager.History.GetSessionHistory(id, manager.limit(c))
	if err != nil {
		log.WithFields(log.Fields{"module": "handlers", "method": "handleSessionHistory"}).Errorf("failed to read history: %v", err)
		sentryhelper.CaptureException(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "history": records})
}

func (manager *Manager) handleMostRecognized(c *gin.Context) {
	if manager.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	tracks, err := manager.History.GetMostRecognized(manager.limit(c))
	if err != nil {
		log.WithFields(log.Fields{"module": "handlers", "method": "handleMostRecognized"}).Errorf("failed to read most recognized: %v", err)
		sentryhelper.CaptureException(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (manager *Manager) handleYouTubePreview(c *gin.Context) {
	if manager.Options.YoutubeAPIKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "YouTube API key not configured"})
		return
	}

	video, err := youtube.Preview(c.Request.Context(), manager.Options.YoutubeAPIKey, c.Query("url"))
	switch {
	case errors.Is(err, youtube.ErrNoVideoID):
		c.JSON(http.StatusBadRequest, gin.H{"alert": input.AlertInvalidYouTubeURL})
	case errors.Is(err, youtube.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to look up video"})
	default:
		c.JSON(http.StatusOK, video)
	}
}

func (manager *Manager) lookup(c *gin.Context) (*controller.Session, bool) {
	session, err := manager.Controller.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return session, true
}

// modeIsActive rejects submissions for the inactive mode before the
// request body is read.
func (manager *Manager) modeIsActive(c *gin.Context, session *controller.Session, mode controller.InputMode) bool {
	if active := session.Mode(); active != mode {
		manager.conflict(c, mode, active, controller.ErrModeInactive)
		return false
	}
	return true
}

func (manager *Manager) conflict(c *gin.Context, mode controller.InputMode, active controller.InputMode, err error) {
	if errors.Is(err, controller.ErrModeInactive) {
		c.JSON(http.StatusConflict, gin.H{"error": "input mode " + string(mode) + " is not active", "mode": active})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
}

// dispatch moves the session into Recognizing before answering, then runs
// the remote calls inline for ?wait=true or in the background with the
// request's hub but not its cancellation.
func (manager *Manager) dispatch(c *gin.Context, session *controller.Session, mode controller.InputMode, run func(ctx context.Context, submission *controller.Submission) controller.Snapshot) {
	submission, err := session.Begin(mode, manager.Options.RejectBusySubmissions)
	if err != nil {
		manager.conflict(c, mode, session.Mode(), err)
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		snapshot := run(c.Request.Context(), submission)
		c.JSON(http.StatusOK, manager.view(c.Request.Context(), snapshot))
		return
	}

	ctx := sentryhelper.Detach(c.Request.Context())
	go run(ctx, submission)
	c.JSON(http.StatusAccepted, NewSessionView(session.Snapshot()))
}

func (manager *Manager) limit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > manager.Options.HistoryLimit {
		return manager.Options.HistoryLimit
	}
	return limit
}

// view projects a snapshot and, for a recognized track, adds its Spotify page.
func (manager *Manager) view(ctx context.Context, snapshot controller.Snapshot) SessionView {
	view := NewSessionView(snapshot)
	if view.Recognition == nil || view.Recognition.Track == nil {
		return view
	}

	track := snapshot.Recognition.Track
	if url := spotify.TrackURLForID(track.SpotifyID); url != "" {
		view.Recognition.Track.SpotifyURL = url
		return view
	}
	if manager.Linker == nil {
		return view
	}

	ctx, cancel := context.WithTimeout(ctx, spotifyLinkTimeout)
	defer cancel()
	url, err := manager.Linker.TrackURL(ctx, track.Title, track.Artist)
	if err != nil {
		log.WithFields(log.Fields{"module": "handlers", "method": "view"}).Debugf("no Spotify link for %s: %v", track.Title, err)
		return view
	}
	view.Recognition.Track.SpotifyURL = url
	return view
}
