package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"songmatch/database"
)

var ErrSessionNotFound = errors.New("session not found")

// HistoryRecorder persists settled pipelines.
type HistoryRecorder interface {
	RecordPipeline(record database.PipelineRecord) error
}

type Controller struct {
	// This is a map of session ID to the orchestration state for that session
	sessions    map[string]*Session
	recognizer  Recognizer
	recommender Recommender
	history     HistoryRecorder
	mutex       sync.Mutex
}

func NewController(recognizer Recognizer, recommender Recommender) *Controller {
	return &Controller{
		sessions:    make(map[string]*Session),
		recognizer:  recognizer,
		recommender: recommender,
	}
}

// SetHistory enables recording of settled pipelines. nil disables it.
func (c *Controller) SetHistory(history HistoryRecorder) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.history = history
}

func (c *Controller) historyRecorder() HistoryRecorder {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.history
}

// NewSession starts a session in upload mode with no outcomes.
func (c *Controller) NewSession() *Session {
	session := newSession(uuid.NewString(), c.recognizer, c.recommender)

	c.mutex.Lock()
	c.sessions[session.ID] = session
	c.mutex.Unlock()

	c.listenForSessionEvents(session)
	log.WithFields(log.Fields{"module": "controller", "sessionID": session.ID}).Debug("session created")
	return session
}

func (c *Controller) GetSession(id string) (*Session, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if session, ok := c.sessions[id]; ok {
		return session, nil
	}
	return nil, ErrSessionNotFound
}

func (c *Controller) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.sessions)
}

// PruneIdle drops sessions untouched for longer than maxIdle. Sessions with
// a stage in flight are kept.
func (c *Controller) PruneIdle(maxIdle time.Duration) int {
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	pruned := 0
	for id, session := range c.sessions {
		if session.IsBusy() || session.idleSince(now) < maxIdle {
			continue
		}
		delete(c.sessions, id)
		session.close()
		pruned++
	}
	if pruned > 0 {
		log.WithFields(log.Fields{"module": "controller", "method": "PruneIdle"}).Debugf("pruned %d idle sessions", pruned)
	}
	return pruned
}

func (c *Controller) listenForSessionEvents(session *Session) {
	logger := log.WithFields(log.Fields{
		"module":    "controller",
		"method":    "listenForSessionEvents",
		"sessionID": session.ID,
	})

	go func() {
		for {
			select {
			case <-session.done:
				return
			case event := <-session.notifications:
				logger.Tracef("session event: %s (state %s)", event.Type, event.Snapshot.State)
				if event.Type != EventPipelineSettled {
					continue
				}
				history := c.historyRecorder()
				if history == nil {
					continue
				}
				if err := history.RecordPipeline(pipelineRecord(event)); err != nil {
					logger.Warnf("failed to record pipeline: %v", err)
				}
			}
		}
	}()
}

func pipelineRecord(event SessionEvent) database.PipelineRecord {
	record := database.PipelineRecord{
		SessionID: event.SessionID,
		InputMode: string(event.InputMode),
		Source:    event.Source,
	}

	if recognition := event.Snapshot.Recognition; recognition != nil {
		record.Recognized = recognition.Recognized
		record.Reason = recognition.Reason
		if recognition.Track != nil {
			record.Title = recognition.Track.Title
			record.Artist = recognition.Track.Artist
			record.Album = recognition.Track.Album
		}
	}
	if recommendation := event.Snapshot.Recommendation; recommendation != nil {
		record.Recommendations = recommendation.Items
		record.RecommendationCount = recommendation.Count
	}
	return record
}
