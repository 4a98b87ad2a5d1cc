package emotion

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

type fakeStream struct {
	ready   chan struct{}
	mu      sync.Mutex
	stopped int
}

func newFakeStream() *fakeStream {
	ready := make(chan struct{})
	close(ready)
	return &fakeStream{ready: ready}
}

func (f *fakeStream) Ready() <-chan struct{} { return f.ready }
func (f *fakeStream) HasEnoughData() bool    { return true }
func (f *fakeStream) Frame() (model.Frame, error) {
	return model.Frame{Image: []byte("jpeg"), Width: 320, Height: 240}, nil
}
func (f *fakeStream) Stop() error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeCamera struct {
	stream *fakeStream
	err    error
	opened []Constraints
}

func (f *fakeCamera) Open(_ context.Context, c Constraints) (Stream, error) {
	f.opened = append(f.opened, c)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeDetector struct {
	mu        sync.Mutex
	loadErr   error
	loads     int
	detection *model.Detection
	detectErr error
}

func (f *fakeDetector) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeDetector) Detect(context.Context, model.Frame) (*model.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detection, f.detectErr
}

type fakeOverlay struct {
	mu       sync.Mutex
	overlays []Overlay
}

func (f *fakeOverlay) Render(_ model.Frame, overlay Overlay) error {
	f.mu.Lock()
	f.overlays = append(f.overlays, overlay)
	f.mu.Unlock()
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSampler(det *fakeDetector, cam *fakeCamera, now func() time.Time) *Sampler {
	return NewSampler(cam, det, Options{
		Logger:   quietLogger(),
		Now:      now,
		Interval: 5 * time.Millisecond,
	})
}

func faceWith(expressions ...model.Expression) *model.Detection {
	return &model.Detection{
		Box:         &model.Box{X: 10, Y: 20, Width: 50, Height: 60},
		Expressions: model.Expressions(expressions),
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	t0 := time.Now()
	for i := 0; i < 35; i++ {
		h.Append(model.Observation{Emotion: model.Happy, Confidence: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}

	items := h.Snapshot()
	if len(items) != HistoryCapacity {
		t.Fatalf("expected %d entries, got %d", HistoryCapacity, len(items))
	}
	for i, obs := range items {
		if want := float64(i + 5); obs.Confidence != want {
			t.Fatalf("entry %d has confidence %f, want %f", i, obs.Confidence, want)
		}
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(model.Observation{Emotion: model.Sad})
	snap := h.Snapshot()
	snap[0].Emotion = model.Angry

	if h.Snapshot()[0].Emotion != model.Sad {
		t.Fatal("snapshot mutation leaked into history")
	}
}

func TestAverageEmotionWindow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(2 * time.Second)
	s := newTestSampler(&fakeDetector{}, &fakeCamera{}, func() time.Time { return now })

	s.history.Append(model.Observation{Emotion: model.Happy, Timestamp: t0})
	s.history.Append(model.Observation{Emotion: model.Happy, Timestamp: t0.Add(time.Second)})
	s.history.Append(model.Observation{Emotion: model.Sad, Timestamp: t0.Add(6 * time.Second)})

	got, ok := s.AverageEmotion(5 * time.Second)
	if !ok || got != model.Happy {
		t.Fatalf("expected happy, got %q (ok=%v)", got, ok)
	}
	if recent := s.history.Within(now, 5*time.Second); len(recent) != 2 {
		t.Fatalf("expected sad to be excluded, got %d observations", len(recent))
	}
}

func TestAverageEmotionEmptyWindow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSampler(&fakeDetector{}, &fakeCamera{}, func() time.Time { return t0.Add(time.Minute) })

	if _, ok := s.AverageEmotion(0); ok {
		t.Fatal("expected no average on empty history")
	}

	s.history.Append(model.Observation{Emotion: model.Happy, Timestamp: t0})
	if _, ok := s.AverageEmotion(5 * time.Second); ok {
		t.Fatal("expected no average when every observation is outside the window")
	}
}

func TestEnsureDetectorReadyLoadsOnce(t *testing.T) {
	det := &fakeDetector{}
	s := newTestSampler(det, &fakeCamera{}, nil)

	for i := 0; i < 3; i++ {
		if err := s.EnsureDetectorReady(context.Background()); err != nil {
			t.Fatalf("EnsureDetectorReady err: %v", err)
		}
	}
	if det.loads != 1 {
		t.Fatalf("expected one load, got %d", det.loads)
	}
}

func TestEnsureDetectorReadyFailureAllowsRetry(t *testing.T) {
	errFetch := errors.New("model fetch failed")
	det := &fakeDetector{loadErr: errFetch}
	s := newTestSampler(det, &fakeCamera{}, nil)

	err := s.EnsureDetectorReady(context.Background())
	if !errors.Is(err, ErrDetectorLoad) || !errors.Is(err, errFetch) {
		t.Fatalf("expected ErrDetectorLoad wrapping the cause, got %v", err)
	}

	det.loadErr = nil
	if err := s.EnsureDetectorReady(context.Background()); err != nil {
		t.Fatalf("retry err: %v", err)
	}
	if det.loads != 2 {
		t.Fatalf("expected two load attempts, got %d", det.loads)
	}
}

func TestInitializeCameraFailure(t *testing.T) {
	errDenied := errors.New("permission denied")
	cam := &fakeCamera{err: errDenied}
	s := newTestSampler(&fakeDetector{}, cam, nil)

	err := s.Initialize(context.Background(), nil)
	if !errors.Is(err, ErrCameraAccess) || !errors.Is(err, errDenied) {
		t.Fatalf("expected ErrCameraAccess wrapping the cause, got %v", err)
	}
	if len(cam.opened) != 1 || cam.opened[0] != DefaultConstraints {
		t.Fatalf("unexpected constraints: %+v", cam.opened)
	}
	if cam.opened[0].Width != 320 || cam.opened[0].Height != 240 || cam.opened[0].Audio {
		t.Fatalf("camera must be opened 320x240 video-only, got %+v", cam.opened[0])
	}
}

func TestDetectOnceNoFace(t *testing.T) {
	det := &fakeDetector{}
	s := newTestSampler(det, &fakeCamera{}, nil)
	called := false
	s.OnEmotionUpdate(func(model.Label, float64) { called = true })

	s.detectOnce(context.Background(), newFakeStream(), nil)

	if len(s.History()) != 0 || called {
		t.Fatal("no-face pass must not record or notify")
	}
	if _, ok := s.Emotion(); ok {
		t.Fatal("expected no current emotion")
	}
}

func TestDetectOnceRecordsDominant(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	det := &fakeDetector{detection: faceWith(
		model.Expression{Label: model.Happy, Confidence: 0.4},
		model.Expression{Label: model.Sad, Confidence: 0.9},
		model.Expression{Label: model.Angry, Confidence: 0.2},
	)}
	s := newTestSampler(det, &fakeCamera{}, func() time.Time { return now })
	overlay := &fakeOverlay{}

	var gotLabel model.Label
	var gotConfidence float64
	s.OnEmotionUpdate(func(label model.Label, confidence float64) {
		gotLabel, gotConfidence = label, confidence
	})

	s.detectOnce(context.Background(), newFakeStream(), overlay)

	if label, ok := s.Emotion(); !ok || label != model.Sad {
		t.Fatalf("expected current sad, got %q", label)
	}
	if gotLabel != model.Sad || gotConfidence != 0.9 {
		t.Fatalf("callback got %s %f", gotLabel, gotConfidence)
	}

	history := s.History()
	if len(history) != 1 || !history[0].Timestamp.Equal(now) {
		t.Fatalf("unexpected history: %+v", history)
	}

	if len(overlay.overlays) != 1 {
		t.Fatalf("expected one overlay, got %d", len(overlay.overlays))
	}
	rendered := overlay.overlays[0]
	if rendered.Box == nil || rendered.Box.Width != 50 {
		t.Fatalf("unexpected overlay box: %+v", rendered.Box)
	}
	if len(rendered.Lines) != 4 || rendered.Lines[0] != "Emotion: sad (90%)" {
		t.Fatalf("unexpected overlay lines: %v", rendered.Lines)
	}
}

func TestDetectOnceSwallowsErrors(t *testing.T) {
	det := &fakeDetector{detectErr: errors.New("inference failed")}
	s := newTestSampler(det, &fakeCamera{}, nil)

	s.detectOnce(context.Background(), newFakeStream(), nil)

	if len(s.History()) != 0 {
		t.Fatal("failed pass must not record")
	}
}

func TestOnEmotionUpdateReplacesCallback(t *testing.T) {
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Happy, Confidence: 0.8})}
	s := newTestSampler(det, &fakeCamera{}, nil)

	first, second := 0, 0
	s.OnEmotionUpdate(func(model.Label, float64) { first++ })
	s.OnEmotionUpdate(func(model.Label, float64) { second++ })

	s.detectOnce(context.Background(), newFakeStream(), nil)

	if first != 0 || second != 1 {
		t.Fatalf("expected only the latest callback, got first=%d second=%d", first, second)
	}
}

func TestPollingRecordsAndStops(t *testing.T) {
	stream := newFakeStream()
	cam := &fakeCamera{stream: stream}
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Surprised, Confidence: 0.7})}
	s := newTestSampler(det, cam, nil)

	updates := make(chan model.Label, 64)
	s.OnEmotionUpdate(func(label model.Label, _ float64) {
		select {
		case updates <- label:
		default:
		}
	})

	if err := s.Initialize(context.Background(), &fakeOverlay{}); err != nil {
		t.Fatalf("Initialize err: %v", err)
	}

	select {
	case label := <-updates:
		if label != model.Surprised {
			t.Fatalf("expected surprised, got %s", label)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a detection pass")
	}

	s.Stop()
	s.Stop()

	if stream.stopCount() != 1 {
		t.Fatalf("expected camera tracks stopped once, got %d", stream.stopCount())
	}

	size := len(s.History())
	time.Sleep(30 * time.Millisecond)
	if len(s.History()) != size {
		t.Fatal("polling continued after Stop")
	}
}

func TestStopFromUpdateCallback(t *testing.T) {
	stream := newFakeStream()
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Happy, Confidence: 0.6})}
	s := newTestSampler(det, &fakeCamera{stream: stream}, nil)

	stopped := make(chan struct{})
	var once sync.Once
	s.OnEmotionUpdate(func(model.Label, float64) {
		once.Do(func() {
			s.Stop()
			close(stopped)
		})
	})

	if err := s.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize err: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from the update callback never returned")
	}

	deadline := time.Now().Add(2 * time.Second)
	for stream.stopCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected camera tracks stopped once, got %d", stream.stopCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	size := len(s.History())
	time.Sleep(30 * time.Millisecond)
	if len(s.History()) != size {
		t.Fatal("polling continued after Stop")
	}
	if stream.stopCount() != 1 {
		t.Fatalf("camera tracks stopped more than once: %d", stream.stopCount())
	}
}

func TestReinitializeAfterStop(t *testing.T) {
	stream := newFakeStream()
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Neutral, Confidence: 0.5})}
	s := newTestSampler(det, &fakeCamera{stream: stream}, nil)

	for i := 0; i < 2; i++ {
		if err := s.Initialize(context.Background(), nil); err != nil {
			t.Fatalf("Initialize #%d err: %v", i, err)
		}
	}
	s.Stop()

	if stream.stopCount() != 2 {
		t.Fatalf("expected each run to release the camera, got %d", stream.stopCount())
	}
}

func TestSnapshot(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(2 * time.Second)
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Sad, Confidence: 0.9})}
	s := newTestSampler(det, &fakeCamera{}, func() time.Time { return now })

	if snap := s.Snapshot(0); snap.Emotion != "" || snap.Average != "" || snap.Samples != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	s.history.Append(model.Observation{Emotion: model.Happy, Confidence: 0.7, Timestamp: t0})
	s.history.Append(model.Observation{Emotion: model.Happy, Confidence: 0.6, Timestamp: t0.Add(time.Second)})
	s.detectOnce(context.Background(), newFakeStream(), nil)

	snap := s.Snapshot(5 * time.Second)
	if snap.Emotion != model.Sad || snap.Confidence != 0.9 {
		t.Fatalf("unexpected current emotion in snapshot: %+v", snap)
	}
	if snap.Average != model.Happy || snap.Samples != 3 {
		t.Fatalf("unexpected average or samples: %+v", snap)
	}
}

func TestPersonalizedGreetingIgnoresState(t *testing.T) {
	det := &fakeDetector{detection: faceWith(model.Expression{Label: model.Angry, Confidence: 1})}
	s := newTestSampler(det, &fakeCamera{}, nil)
	s.detectOnce(context.Background(), newFakeStream(), nil)

	if s.PersonalizedGreeting("") != s.PersonalizedGreeting("unknown_label") {
		t.Fatal("absent and unknown override must share the default greeting")
	}
	if s.PersonalizedGreeting(model.Happy) == s.PersonalizedGreeting("") {
		t.Fatal("happy greeting should differ from the default")
	}
}
