package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"songmatch/database"
	"songmatch/models"
	"songmatch/recognition"
)

type fakeRecognizer struct {
	mutex   sync.Mutex
	outcome models.RecognitionOutcome
	started chan struct{}
	release chan struct{}
	audio   []recognition.AudioUpload
	urls    []string
}

func (f *fakeRecognizer) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeRecognizer) SubmitAudio(ctx context.Context, upload recognition.AudioUpload) models.RecognitionOutcome {
	f.mutex.Lock()
	f.audio = append(f.audio, upload)
	f.mutex.Unlock()
	f.wait()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.outcome
}

func (f *fakeRecognizer) SubmitYouTubeURL(ctx context.Context, url string) models.RecognitionOutcome {
	f.mutex.Lock()
	f.urls = append(f.urls, url)
	f.mutex.Unlock()
	f.wait()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.outcome
}

func (f *fakeRecognizer) setOutcome(outcome models.RecognitionOutcome) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.outcome = outcome
}

type recommendCall struct {
	title  string
	artist string
}

type fakeRecommender struct {
	mutex   sync.Mutex
	outcome *models.RecommendationOutcome
	calls   []recommendCall
	started chan struct{}
	release chan struct{}
	observe func()
}

func (f *fakeRecommender) FetchFor(ctx context.Context, title string, artist string) *models.RecommendationOutcome {
	f.mutex.Lock()
	f.calls = append(f.calls, recommendCall{title, artist})
	observe := f.observe
	f.mutex.Unlock()
	if observe != nil {
		observe()
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.outcome
}

func (f *fakeRecommender) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.calls)
}

func recommendations(items ...string) *models.RecommendationOutcome {
	outcome := models.NewRecommendationOutcome(models.RecommendationResponse{
		Success:         true,
		Song:            "Song A - Artist X",
		Recommendations: items,
	})
	return &outcome
}

func songA() models.RecognitionOutcome {
	return models.Recognized(models.Track{Title: "Song A", Artist: "Artist X"})
}

func newTestSession(recognizer *fakeRecognizer, recommender *fakeRecommender) *Session {
	return NewController(recognizer, recommender).NewSession()
}

func TestNewSessionDefaults(t *testing.T) {
	s := newTestSession(&fakeRecognizer{}, &fakeRecommender{})
	snapshot := s.Snapshot()

	if snapshot.Mode != ModeUploadAudio {
		t.Errorf("Mode = %s, want %s", snapshot.Mode, ModeUploadAudio)
	}
	if snapshot.State != StateIdle || snapshot.IsRecognizing || snapshot.IsRecommending {
		t.Errorf("snapshot = %+v, want idle with flags cleared", snapshot)
	}
	if snapshot.Recognition != nil || snapshot.Recommendation != nil {
		t.Errorf("outcomes should start empty, got %+v", snapshot)
	}
}

func TestYouTubeSubmissionChainsRecommendation(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: songA()}
	recommender := &fakeRecommender{outcome: recommendations("One – B", "Two – C")}
	s := newTestSession(recognizer, recommender)

	snapshot := s.SubmitYouTubeURL(context.Background(), "https://www.youtube.com/watch?v=abc123")

	if len(recognizer.urls) != 1 || recognizer.urls[0] != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("recognizer urls = %v", recognizer.urls)
	}
	if len(recommender.calls) != 1 {
		t.Fatalf("recommendation calls = %d, want exactly 1", len(recommender.calls))
	}
	if got := recommender.calls[0]; got.title != "Song A" || got.artist != "Artist X" {
		t.Errorf("recommendation call = %+v, want Song A / Artist X", got)
	}
	if snapshot.State != StateComplete {
		t.Errorf("State = %s, want %s", snapshot.State, StateComplete)
	}
	if snapshot.Recommendation == nil || snapshot.Recommendation.Count != 2 {
		t.Errorf("Recommendation = %+v, want 2 items", snapshot.Recommendation)
	}
	if snapshot.IsRecognizing || snapshot.IsRecommending {
		t.Error("flags should be cleared after settlement")
	}
}

func TestUnchainableRecognitionSkipsRecommendation(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.RecognitionOutcome
	}{
		{"no match", models.NotRecognized("No match found")},
		{"transport failure", models.NotRecognized(recognition.FailureAudio)},
		{"missing artist", models.Recognized(models.Track{Title: "Song A"})},
		{"missing title", models.Recognized(models.Track{Artist: "Artist X"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recommender := &fakeRecommender{outcome: recommendations("x")}
			s := newTestSession(&fakeRecognizer{outcome: tt.outcome}, recommender)

			snapshot := s.SubmitAudio(context.Background(), recognition.AudioUpload{Data: []byte("x"), MimeType: "audio/mpeg"})

			if recommender.callCount() != 0 {
				t.Errorf("recommendation calls = %d, want 0", recommender.callCount())
			}
			if snapshot.Recommendation != nil {
				t.Errorf("Recommendation = %+v, want nil", snapshot.Recommendation)
			}
			if snapshot.State != StateRecognizedNoRecommendation {
				t.Errorf("State = %s, want %s", snapshot.State, StateRecognizedNoRecommendation)
			}
			if snapshot.Recognition == nil {
				t.Fatal("Recognition should be set")
			}
		})
	}
}

func TestNoMatchKeepsBackendMessage(t *testing.T) {
	s := newTestSession(&fakeRecognizer{outcome: models.NotRecognized("No match found")}, &fakeRecommender{})
	snapshot := s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	if snapshot.Recognition.Recognized || snapshot.Recognition.Reason != "No match found" {
		t.Errorf("Recognition = %+v, want reason %q", snapshot.Recognition, "No match found")
	}
}

func TestRecommendationFailureStillCompletes(t *testing.T) {
	recommender := &fakeRecommender{outcome: nil}
	s := newTestSession(&fakeRecognizer{outcome: songA()}, recommender)

	snapshot := s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	if recommender.callCount() != 1 {
		t.Errorf("recommendation calls = %d, want 1", recommender.callCount())
	}
	if snapshot.State != StateComplete {
		t.Errorf("State = %s, want %s", snapshot.State, StateComplete)
	}
	if snapshot.Recognition == nil || !snapshot.Recognition.Recognized || snapshot.Recognition.Track.Title != "Song A" {
		t.Errorf("Recognition = %+v, want Song A", snapshot.Recognition)
	}
	if snapshot.Recommendation != nil {
		t.Errorf("Recommendation = %+v, want nil after a failed fetch", snapshot.Recommendation)
	}
	if snapshot.IsRecommending {
		t.Error("IsRecommending should be cleared after a failed fetch")
	}
}

func TestUnsuccessfulRecommendationIsComplete(t *testing.T) {
	failed := models.NewRecommendationOutcome(models.RecommendationResponse{Success: false})
	s := newTestSession(&fakeRecognizer{outcome: songA()}, &fakeRecommender{outcome: &failed})

	snapshot := s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")
	if snapshot.State != StateComplete {
		t.Errorf("State = %s, want %s", snapshot.State, StateComplete)
	}
	if snapshot.Recommendation == nil || snapshot.Recommendation.Succeeded {
		t.Errorf("Recommendation = %+v, want unsuccessful outcome", snapshot.Recommendation)
	}
}

func TestIsRecognizingSpansSubmission(t *testing.T) {
	recognizer := &fakeRecognizer{
		outcome: models.NotRecognized("No match found"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(recognizer, &fakeRecommender{})

	done := make(chan Snapshot)
	go func() {
		done <- s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")
	}()

	<-recognizer.started
	during := s.Snapshot()
	if !during.IsRecognizing || during.State != StateRecognizing {
		t.Errorf("during submission: %+v, want recognizing", during)
	}
	if during.IsRecommending {
		t.Error("IsRecommending should be false while recognizing")
	}
	if !s.IsBusy() {
		t.Error("IsBusy() should be true while recognizing")
	}

	close(recognizer.release)
	final := <-done
	if final.IsRecognizing || s.Snapshot().IsRecognizing {
		t.Error("IsRecognizing stuck after settlement")
	}
	if s.IsBusy() {
		t.Error("IsBusy() should be false after settlement")
	}
}

func TestIsRecommendingSpansFetch(t *testing.T) {
	recommender := &fakeRecommender{
		outcome: recommendations("One – B"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(&fakeRecognizer{outcome: songA()}, recommender)

	done := make(chan Snapshot)
	go func() {
		done <- s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")
	}()

	<-recommender.started
	during := s.Snapshot()
	if !during.IsRecommending || during.State != StateRecommending {
		t.Errorf("during fetch: %+v, want recommending", during)
	}
	if during.IsRecognizing {
		t.Error("IsRecognizing should be false once recognition settled")
	}

	close(recommender.release)
	final := <-done
	if final.IsRecommending || s.Snapshot().IsRecommending {
		t.Error("IsRecommending stuck after settlement")
	}
}

func TestRecognitionSettlesBeforeRecommendationStarts(t *testing.T) {
	recommender := &fakeRecommender{outcome: recommendations("One – B")}
	s := newTestSession(&fakeRecognizer{outcome: songA()}, recommender)

	var observed Snapshot
	recommender.observe = func() { observed = s.Snapshot() }

	s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	if observed.Recognition == nil || !observed.Recognition.Recognized {
		t.Errorf("recognition outcome not visible when fetch began: %+v", observed)
	}
	if observed.IsRecognizing {
		t.Error("recognition still in flight when fetch began")
	}
	if observed.Recommendation != nil {
		t.Error("stale recommendation visible when fetch began")
	}
}

func TestNewSubmissionClearsPreviousOutcomes(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: songA()}
	s := newTestSession(recognizer, &fakeRecommender{outcome: recommendations("One – B")})

	first := s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")
	if first.Recommendation == nil {
		t.Fatal("first run should produce recommendations")
	}

	recognizer.started = make(chan struct{})
	recognizer.release = make(chan struct{})
	done := make(chan Snapshot)
	go func() {
		done <- s.SubmitYouTubeURL(context.Background(), "https://youtu.be/def")
	}()

	<-recognizer.started
	during := s.Snapshot()
	if during.Recognition != nil || during.Recommendation != nil {
		t.Errorf("outcomes should be cleared at submission start, got %+v", during)
	}
	close(recognizer.release)
	<-done
}

func TestRepeatedSubmissionsAreIsolated(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: songA()}
	recommender := &fakeRecommender{outcome: recommendations("One – B", "Two – C")}
	s := newTestSession(recognizer, recommender)

	url := "https://www.youtube.com/watch?v=abc123"
	first := s.SubmitYouTubeURL(context.Background(), url)

	recognizer.setOutcome(models.NotRecognized("No match found"))
	second := s.SubmitYouTubeURL(context.Background(), url)

	if len(recognizer.urls) != 2 {
		t.Errorf("recognition calls = %d, want 2", len(recognizer.urls))
	}
	if recommender.callCount() != 1 {
		t.Errorf("recommendation calls = %d, want 1", recommender.callCount())
	}
	if first.State != StateComplete || first.Recommendation == nil || first.Recommendation.Count != 2 {
		t.Errorf("first run = %+v", first)
	}
	if second.State != StateRecognizedNoRecommendation || second.Recommendation != nil {
		t.Errorf("second run = %+v, want no recommendation", second)
	}
	// the first snapshot is a copy and must not change
	if first.Recognition == nil || !first.Recognition.Recognized {
		t.Errorf("first snapshot mutated: %+v", first.Recognition)
	}
}

func TestSwitchToClearsOutcomes(t *testing.T) {
	tests := []struct {
		name string
		from InputMode
		to   InputMode
	}{
		{"upload to youtube", ModeUploadAudio, ModeYouTubeLink},
		{"youtube to upload", ModeYouTubeLink, ModeUploadAudio},
		{"same mode", ModeUploadAudio, ModeUploadAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(&fakeRecognizer{outcome: songA()}, &fakeRecommender{outcome: recommendations("One – B")})
			if err := s.SwitchTo(tt.from); err != nil {
				t.Fatalf("SwitchTo() error = %v", err)
			}
			s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

			if err := s.SwitchTo(tt.to); err != nil {
				t.Fatalf("SwitchTo() error = %v", err)
			}
			snapshot := s.Snapshot()
			if snapshot.Mode != tt.to {
				t.Errorf("Mode = %s, want %s", snapshot.Mode, tt.to)
			}
			if snapshot.Recognition != nil || snapshot.Recommendation != nil {
				t.Errorf("outcomes should be cleared, got %+v", snapshot)
			}
			if snapshot.State != StateIdle {
				t.Errorf("State = %s, want %s", snapshot.State, StateIdle)
			}
		})
	}
}

func TestSwitchToLeavesLoadingFlags(t *testing.T) {
	recognizer := &fakeRecognizer{
		outcome: models.NotRecognized("No match found"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(recognizer, &fakeRecommender{})

	done := make(chan Snapshot)
	go func() {
		done <- s.SubmitAudio(context.Background(), recognition.AudioUpload{Data: []byte("x"), MimeType: "audio/mpeg"})
	}()
	<-recognizer.started

	if err := s.SwitchTo(ModeYouTubeLink); err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if !s.Snapshot().IsRecognizing {
		t.Error("SwitchTo must not touch IsRecognizing")
	}

	close(recognizer.release)
	<-done
}

func TestSwitchToRejectsUnknownMode(t *testing.T) {
	s := newTestSession(&fakeRecognizer{outcome: songA()}, &fakeRecommender{})
	s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	if err := s.SwitchTo(InputMode("microphone")); !errors.Is(err, ErrUnknownInputMode) {
		t.Errorf("SwitchTo() error = %v, want ErrUnknownInputMode", err)
	}
	if s.Snapshot().Recognition == nil {
		t.Error("rejected switch must not clear outcomes")
	}
}

func TestParseInputMode(t *testing.T) {
	tests := []struct {
		value   string
		want    InputMode
		wantErr bool
	}{
		{"upload", ModeUploadAudio, false},
		{"youtube", ModeYouTubeLink, false},
		{"", "", true},
		{"YouTube", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseInputMode(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseInputMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInputMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestControllerSessions(t *testing.T) {
	c := NewController(&fakeRecognizer{}, &fakeRecommender{})

	s := c.NewSession()
	got, err := c.GetSession(s.ID)
	if err != nil || got != s {
		t.Errorf("GetSession() = %v, %v; want the created session", got, err)
	}
	if _, err := c.GetSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
	if other := c.NewSession(); other.ID == s.ID {
		t.Error("session ids should be unique")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestPruneIdle(t *testing.T) {
	recognizer := &fakeRecognizer{
		outcome: models.NotRecognized("No match found"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewController(recognizer, &fakeRecommender{})

	idle := c.NewSession()
	busy := c.NewSession()
	fresh := c.NewSession()

	idle.mutex.Lock()
	idle.lastActive = time.Now().Add(-2 * time.Hour)
	idle.mutex.Unlock()

	done := make(chan Snapshot)
	go func() {
		done <- busy.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")
	}()
	<-recognizer.started
	busy.mutex.Lock()
	busy.lastActive = time.Now().Add(-2 * time.Hour)
	busy.mutex.Unlock()

	if pruned := c.PruneIdle(time.Hour); pruned != 1 {
		t.Errorf("PruneIdle() = %d, want 1", pruned)
	}
	if _, err := c.GetSession(idle.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should be pruned")
	}
	if _, err := c.GetSession(busy.ID); err != nil {
		t.Error("busy session should be kept")
	}
	if _, err := c.GetSession(fresh.ID); err != nil {
		t.Error("fresh session should be kept")
	}

	close(recognizer.release)
	<-done
}

type fakeHistory struct {
	records chan database.PipelineRecord
}

func (f *fakeHistory) RecordPipeline(record database.PipelineRecord) error {
	f.records <- record
	return nil
}

func TestSettledPipelinesAreRecorded(t *testing.T) {
	history := &fakeHistory{records: make(chan database.PipelineRecord, 1)}
	c := NewController(&fakeRecognizer{outcome: songA()}, &fakeRecommender{outcome: recommendations("One – B", "Two – C")})
	c.SetHistory(history)

	s := c.NewSession()
	s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	select {
	case record := <-history.records:
		if record.SessionID != s.ID || record.InputMode != "youtube" || record.Source != "https://youtu.be/abc" {
			t.Errorf("record = %+v", record)
		}
		if !record.Recognized || record.Title != "Song A" || record.RecommendationCount != 2 {
			t.Errorf("record = %+v, want Song A with 2 recommendations", record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not recorded")
	}
}

func TestBeginEntersRecognizingBeforeRemoteCalls(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: songA()}
	recommender := &fakeRecommender{outcome: recommendations("One – B")}
	s := newTestSession(recognizer, recommender)
	if err := s.SwitchTo(ModeYouTubeLink); err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	s.SubmitYouTubeURL(context.Background(), "https://youtu.be/abc")

	submission, err := s.Begin(ModeYouTubeLink, false)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	begun := s.Snapshot()
	if begun.State != StateRecognizing || !begun.IsRecognizing {
		t.Errorf("after Begin: %+v, want recognizing", begun)
	}
	if begun.Recognition != nil || begun.Recommendation != nil {
		t.Errorf("Begin must clear the previous outcomes, got %+v", begun)
	}
	if len(recognizer.urls) != 1 {
		t.Errorf("Begin must not call the recognizer, calls = %d", len(recognizer.urls))
	}

	settled := submission.YouTubeURL(context.Background(), "https://youtu.be/def")
	if settled.State != StateComplete || len(recognizer.urls) != 2 {
		t.Errorf("settled = %+v after %d recognizer calls", settled, len(recognizer.urls))
	}

	again := submission.YouTubeURL(context.Background(), "https://youtu.be/def")
	if len(recognizer.urls) != 2 || again.State != StateComplete {
		t.Errorf("a submission must run once, recognizer calls = %d", len(recognizer.urls))
	}
}

func TestBeginRejections(t *testing.T) {
	recognizer := &fakeRecognizer{
		outcome: models.NotRecognized("No match found"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(recognizer, &fakeRecommender{})

	if _, err := s.Begin(ModeYouTubeLink, false); !errors.Is(err, ErrModeInactive) {
		t.Errorf("Begin() for inactive mode error = %v, want ErrModeInactive", err)
	}
	if s.IsBusy() {
		t.Error("a rejected Begin must not mutate the session")
	}

	first, err := s.Begin(ModeUploadAudio, true)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := s.Begin(ModeUploadAudio, true); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Begin() while busy error = %v, want ErrSessionBusy", err)
	}
	second, err := s.Begin(ModeUploadAudio, false)
	if err != nil {
		t.Fatalf("Begin() without the busy guard error = %v", err)
	}

	done := make(chan Snapshot, 2)
	for _, submission := range []*Submission{first, second} {
		go func(submission *Submission) {
			done <- submission.Audio(context.Background(), recognition.AudioUpload{Data: []byte("x"), MimeType: "audio/mpeg"})
		}(submission)
	}
	<-recognizer.started
	<-recognizer.started
	close(recognizer.release)
	<-done
	<-done

	if s.IsBusy() {
		t.Error("flags stuck after both runs settled")
	}
}
