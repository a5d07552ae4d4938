package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"songmatch/models"
	"songmatch/recognition"
	"songmatch/sentryhelper"
)

type InputMode string

const (
	ModeUploadAudio InputMode = "upload"
	ModeYouTubeLink InputMode = "youtube"
)

var (
	ErrUnknownInputMode = errors.New("unknown input mode")
	ErrModeInactive     = errors.New("input mode is not active")
	ErrSessionBusy      = errors.New("a submission is already in progress")
)

func ParseInputMode(value string) (InputMode, error) {
	mode := InputMode(value)
	if !mode.Valid() {
		return "", ErrUnknownInputMode
	}
	return mode, nil
}

func (m InputMode) Valid() bool {
	return m == ModeUploadAudio || m == ModeYouTubeLink
}

// PipelineState is derived from the flags and outcome slots, never stored.
type PipelineState string

const (
	StateIdle                       PipelineState = "idle"
	StateRecognizing                PipelineState = "recognizing"
	StateRecognizedNoRecommendation PipelineState = "recognized_no_recommendation"
	StateRecommending               PipelineState = "recommending"
	StateComplete                   PipelineState = "complete"
)

type SessionEventType string

const (
	EventModeSwitched          SessionEventType = "mode_switched"
	EventRecognitionStarted    SessionEventType = "recognition_started"
	EventRecognitionSettled    SessionEventType = "recognition_settled"
	EventRecommendationStarted SessionEventType = "recommendation_started"
	EventRecommendationSettled SessionEventType = "recommendation_settled"
	EventPipelineSettled       SessionEventType = "pipeline_settled"
)

type SessionEvent struct {
	Type      SessionEventType
	SessionID string
	InputMode InputMode
	Source    string
	Snapshot  Snapshot
}

// Recognizer turns a submission into a settled outcome. Implementations
// report their own failures as failed outcomes.
type Recognizer interface {
	SubmitAudio(ctx context.Context, upload recognition.AudioUpload) models.RecognitionOutcome
	SubmitYouTubeURL(ctx context.Context, url string) models.RecognitionOutcome
}

// Recommender returns nil when the fetch failed; the failure has already
// been logged by the implementation.
type Recommender interface {
	FetchFor(ctx context.Context, title string, artist string) *models.RecommendationOutcome
}

// Snapshot is a copy of a session's state at one instant.
type Snapshot struct {
	SessionID      string                        `json:"session_id"`
	Mode           InputMode                     `json:"mode"`
	State          PipelineState                 `json:"state"`
	IsRecognizing  bool                          `json:"is_recognizing"`
	IsRecommending bool                          `json:"is_recommending"`
	Recognition    *models.RecognitionOutcome    `json:"recognition"`
	Recommendation *models.RecommendationOutcome `json:"recommendation"`
}

// Session owns the orchestration state of one browser session. Only its
// methods mutate the flags and outcome slots.
type Session struct {
	ID string

	mutex                 sync.Mutex
	activeInputMode       InputMode
	recognitionOutcome    *models.RecognitionOutcome
	recommendationOutcome *models.RecommendationOutcome
	isRecognizing         bool
	isRecommending        bool
	lastActive            time.Time

	recognizer    Recognizer
	recommender   Recommender
	notifications chan SessionEvent
	done          chan struct{}
	closeOnce     sync.Once
}

func newSession(id string, recognizer Recognizer, recommender Recommender) *Session {
	return &Session{
		ID:              id,
		activeInputMode: ModeUploadAudio,
		lastActive:      time.Now(),
		recognizer:      recognizer,
		recommender:     recommender,
		notifications:   make(chan SessionEvent, 100),
		done:            make(chan struct{}),
	}
}

// SwitchTo activates mode and clears both outcomes, even when mode is
// already active. Loading flags are left alone.
func (s *Session) SwitchTo(mode InputMode) error {
	if !mode.Valid() {
		return ErrUnknownInputMode
	}

	s.mutex.Lock()
	s.activeInputMode = mode
	s.recognitionOutcome = nil
	s.recommendationOutcome = nil
	s.lastActive = time.Now()
	snapshot := s.snapshotLocked()
	s.mutex.Unlock()

	s.notify(EventModeSwitched, mode, "", snapshot)
	return nil
}

// SubmitAudio runs the full pipeline for an uploaded clip and returns the
// settled state. It blocks until both stages have settled.
func (s *Session) SubmitAudio(ctx context.Context, upload recognition.AudioUpload) Snapshot {
	return s.start(ModeUploadAudio).Audio(ctx, upload)
}

// SubmitYouTubeURL runs the full pipeline for a YouTube link.
func (s *Session) SubmitYouTubeURL(ctx context.Context, url string) Snapshot {
	return s.start(ModeYouTubeLink).YouTubeURL(ctx, url)
}

// Submission is a run that has already entered Recognizing. Exactly one of
// its methods performs the remote calls; later calls only return the
// current snapshot.
type Submission struct {
	session *Session
	mode    InputMode
	claimed atomic.Bool
}

// Begin enters Recognizing for a submission in mode: both outcomes are
// cleared and isRecognizing is set before it returns. It fails with
// ErrModeInactive when mode is not the active one, and with ErrSessionBusy
// when rejectBusy is set and a stage is in flight. Nothing is mutated on
// failure.
func (s *Session) Begin(mode InputMode, rejectBusy bool) (*Submission, error) {
	s.mutex.Lock()
	if s.activeInputMode != mode {
		s.mutex.Unlock()
		return nil, ErrModeInactive
	}
	if rejectBusy && (s.isRecognizing || s.isRecommending) {
		s.mutex.Unlock()
		return nil, ErrSessionBusy
	}
	snapshot := s.beginLocked()
	s.mutex.Unlock()

	s.notify(EventRecognitionStarted, mode, "", snapshot)
	return &Submission{session: s, mode: mode}, nil
}

func (s *Session) start(mode InputMode) *Submission {
	s.mutex.Lock()
	snapshot := s.beginLocked()
	s.mutex.Unlock()

	s.notify(EventRecognitionStarted, mode, "", snapshot)
	return &Submission{session: s, mode: mode}
}

// beginLocked is the transition into Recognizing.
func (s *Session) beginLocked() Snapshot {
	s.recognitionOutcome = nil
	s.recommendationOutcome = nil
	s.isRecognizing = true
	s.lastActive = time.Now()
	return s.snapshotLocked()
}

// Audio recognizes an uploaded clip and chains the recommendation fetch.
func (sub *Submission) Audio(ctx context.Context, upload recognition.AudioUpload) Snapshot {
	s := sub.session
	return sub.run(ctx, upload.Filename, func(ctx context.Context) models.RecognitionOutcome {
		return s.recognizer.SubmitAudio(ctx, upload)
	})
}

// YouTubeURL recognizes a YouTube link and chains the recommendation fetch.
func (sub *Submission) YouTubeURL(ctx context.Context, url string) Snapshot {
	s := sub.session
	return sub.run(ctx, url, func(ctx context.Context) models.RecognitionOutcome {
		return s.recognizer.SubmitYouTubeURL(ctx, url)
	})
}

func (sub *Submission) run(ctx context.Context, source string, submit func(context.Context) models.RecognitionOutcome) Snapshot {
	s := sub.session
	if !sub.claimed.CompareAndSwap(false, true) {
		return s.Snapshot()
	}
	mode := sub.mode
	logger := log.WithFields(log.Fields{"module": "controller", "method": "run", "sessionID": s.ID, "mode": mode})

	ctx, transaction := sentryhelper.StartPipelineTransaction(ctx, string(mode), s.ID)
	defer transaction.Finish()

	track := s.recognize(ctx, mode, source, submit)
	if track != nil {
		logger.Tracef("recognized %s by %s, fetching recommendations", track.Title, track.Artist)
		s.recommend(ctx, mode, source, *track)
	}

	snapshot := s.Snapshot()
	logger.Debugf("pipeline settled in state %s", snapshot.State)
	transaction.Status = sentry.SpanStatusOK
	s.notify(EventPipelineSettled, mode, source, snapshot)
	return snapshot
}

// recognize runs submit for a session already in Recognizing and records its
// outcome. When the outcome carries a chainable track the session moves
// straight from Recognizing to Recommending and the track is returned.
func (s *Session) recognize(ctx context.Context, mode InputMode, source string, submit func(context.Context) models.RecognitionOutcome) *models.Track {
	sentryhelper.AddBreadcrumb(ctx, "recognition", "submitted "+source)

	settled := false
	defer func() {
		if !settled {
			s.mutex.Lock()
			s.isRecognizing = false
			s.mutex.Unlock()
		}
	}()

	outcome := submit(ctx)
	var track *models.Track
	if chainable := outcome.ChainableTrack(); chainable != nil {
		t := *chainable
		track = &t
	}

	s.mutex.Lock()
	s.recognitionOutcome = &outcome
	s.isRecognizing = false
	if track != nil {
		s.beginRecommendationLocked()
	}
	settled = true
	snapshot := s.snapshotLocked()
	s.mutex.Unlock()

	s.notify(EventRecognitionSettled, mode, source, snapshot)
	if track != nil {
		s.notify(EventRecommendationStarted, mode, source, snapshot)
	}
	return track
}

// beginRecommendationLocked is the Recognizing -> Recommending transition.
func (s *Session) beginRecommendationLocked() {
	s.isRecommending = true
}

func (s *Session) recommend(ctx context.Context, mode InputMode, source string, track models.Track) {
	settled := false
	defer func() {
		if !settled {
			s.mutex.Lock()
			s.isRecommending = false
			s.mutex.Unlock()
		}
	}()

	outcome := s.recommender.FetchFor(ctx, track.Title, track.Artist)

	s.mutex.Lock()
	if outcome != nil {
		s.recommendationOutcome = outcome
	}
	s.isRecommending = false
	s.lastActive = time.Now()
	settled = true
	snapshot := s.snapshotLocked()
	s.mutex.Unlock()

	s.notify(EventRecommendationSettled, mode, source, snapshot)
}

func (s *Session) Snapshot() Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		SessionID:      s.ID,
		Mode:           s.activeInputMode,
		IsRecognizing:  s.isRecognizing,
		IsRecommending: s.isRecommending,
	}
	if s.recognitionOutcome != nil {
		recognition := *s.recognitionOutcome
		snapshot.Recognition = &recognition
	}
	if s.recommendationOutcome != nil {
		recommendation := *s.recommendationOutcome
		recommendation.Items = append([]string{}, s.recommendationOutcome.Items...)
		snapshot.Recommendation = &recommendation
	}
	snapshot.State = deriveState(snapshot)
	return snapshot
}

func deriveState(snapshot Snapshot) PipelineState {
	switch {
	case snapshot.IsRecognizing:
		return StateRecognizing
	case snapshot.IsRecommending:
		return StateRecommending
	case snapshot.Recognition == nil:
		return StateIdle
	case snapshot.Recommendation != nil:
		return StateComplete
	case snapshot.Recognition.ChainableTrack() != nil:
		// the fetch settled without leaving an outcome
		return StateComplete
	default:
		return StateRecognizedNoRecommendation
	}
}

func (s *Session) Mode() InputMode {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.activeInputMode
}

// IsBusy reports whether either stage is in flight.
func (s *Session) IsBusy() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.isRecognizing || s.isRecommending
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return now.Sub(s.lastActive)
}

func (s *Session) notify(eventType SessionEventType, mode InputMode, source string, snapshot Snapshot) {
	select {
	case s.notifications <- SessionEvent{
		Type:      eventType,
		SessionID: s.ID,
		InputMode: mode,
		Source:    source,
		Snapshot:  snapshot,
	}:
	default:
		msg := "Session notifications channel is full for session " + s.ID
		sentry.CaptureMessage(msg)
		log.Warn(msg)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
