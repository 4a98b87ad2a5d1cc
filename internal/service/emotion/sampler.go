package emotion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	analysis "github.com/zhouzirui/moodmirror/internal/analysis/emotion"
	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
	"github.com/zhouzirui/moodmirror/internal/observability"
)

const (
	// PollInterval 是两次检测之间的固定间隔。
	PollInterval = time.Second
	// DefaultAverageWindow 是 AverageEmotion 的默认时间窗口。
	DefaultAverageWindow = 5 * time.Second
)

var (
	ErrDetectorLoad = errors.New("emotion detector load failed")
	ErrCameraAccess = errors.New("camera access denied or unavailable")
)

// DefaultConstraints 是摄像头采集约束：320x240，仅视频。
var DefaultConstraints = Constraints{Width: 320, Height: 240}

// Constraints 描述采集流的约束。
type Constraints struct {
	Width  int
	Height int
	Audio  bool
}

// Camera 获取摄像头采集流。
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream 是一路正在采集的视频流。
type Stream interface {
	// Ready 在缓冲了足够数据后关闭。
	Ready() <-chan struct{}
	HasEnoughData() bool
	Frame() (model.Frame, error)
	// Stop 停止所有轨道，可重复调用。
	Stop() error
}

// Detector 是外部的人脸与表情识别能力。
type Detector interface {
	Load(ctx context.Context) error
	// Detect 未检测到人脸时返回 nil, nil。
	Detect(ctx context.Context, frame model.Frame) (*model.Detection, error)
}

// Overlay 是绘制到叠加层上的内容。
type Overlay struct {
	Box   *model.Box
	Lines []string
}

// OverlaySink 接收每次成功检测后的叠加层。
type OverlaySink interface {
	Render(frame model.Frame, overlay Overlay) error
}

// UpdateFunc 在每次记录到新的主导情绪时被调用。
type UpdateFunc func(label model.Label, confidence float64)

// Options 控制 Sampler 的可选依赖。
type Options struct {
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
	Now      func() time.Time
	Interval time.Duration
}

// Sampler 周期性地从视频流中采样主导情绪，并维护滚动历史。
type Sampler struct {
	camera   Camera
	detector Detector
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	now      func() time.Time
	interval time.Duration

	loadMu sync.Mutex
	loaded bool

	mu         sync.RWMutex
	stream     Stream
	overlay    OverlaySink
	current    model.Label
	confidence float64
	history    *History
	callback   UpdateFunc
	polling    bool
	stopCh     chan struct{}
	cancel     context.CancelFunc
	// wg 只属于当前这一轮采集，Stop 后重新 Initialize 会换一个新的。
	wg *sync.WaitGroup

	// notifying 统计正在执行中的回调数。
	notifying atomic.Int32
}

// Snapshot 是一次加锁读取得到的一致状态。
type Snapshot struct {
	Emotion    model.Label
	Confidence float64
	Average    model.Label
	Samples    int
}

// NewSampler 创建一个尚未初始化的 Sampler。
func NewSampler(camera Camera, detector Detector, opts Options) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = PollInterval
	}

	return &Sampler{
		camera:   camera,
		detector: detector,
		logger:   logger.WithField("component", "emotion"),
		metrics:  opts.Metrics,
		now:      now,
		interval: interval,
		history:  NewHistory(HistoryCapacity),
	}
}

// EnsureDetectorReady 加载检测能力，成功后不再重复加载。失败时保持未加载状态，由调用方决定是否重试。
func (s *Sampler) EnsureDetectorReady(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.loaded {
		return nil
	}
	if err := s.detector.Load(ctx); err != nil {
		s.logger.WithError(err).Error("failed to load emotion models")
		return fmt.Errorf("%w: %w", ErrDetectorLoad, err)
	}

	s.loaded = true
	s.logger.Info("emotion detection models loaded")
	return nil
}

// Initialize 准备检测能力并打开摄像头，视频流就绪后开始检测。
func (s *Sampler) Initialize(ctx context.Context, overlay OverlaySink) error {
	if err := s.EnsureDetectorReady(ctx); err != nil {
		return err
	}

	// 重新初始化前释放旧的采集流
	s.Stop()

	stream, err := s.camera.Open(ctx, DefaultConstraints)
	if err != nil {
		s.logger.WithError(err).Error("camera access denied")
		if errors.Is(err, ErrCameraAccess) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCameraAccess, err)
	}

	stopCh := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.mu.Lock()
	s.stream = stream
	s.overlay = overlay
	s.stopCh = stopCh
	s.wg = wg
	s.mu.Unlock()

	go func() {
		defer wg.Done()
		select {
		case <-stream.Ready():
			s.StartDetection()
		case <-stopCh:
		}
	}()

	s.logger.Info("camera initialized")
	return nil
}

// StartDetection 以固定间隔触发检测。检测串行执行，上一次检测未完成时最多排队一次。
func (s *Sampler) StartDetection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.polling {
		return
	}
	if s.stream == nil || s.stopCh == nil {
		s.logger.Warn("start detection called without an active camera stream")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.polling = true

	stream, overlay, stopCh, wg := s.stream, s.overlay, s.stopCh, s.wg
	jobs := make(chan struct{}, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if !stream.HasEnoughData() {
					continue
				}
				select {
				case jobs <- struct{}{}:
				default:
					s.logger.Debug("detection pass still pending, tick dropped")
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-jobs:
				// stopCh 与 jobs 同时就绪时不再检测
				select {
				case <-stopCh:
					return
				default:
				}
				s.detectOnce(ctx, stream, overlay)
			}
		}
	}()
}

// detectOnce 执行一次检测。错误只记录日志，不向上传递。
func (s *Sampler) detectOnce(ctx context.Context, stream Stream, overlay OverlaySink) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserveDetectionPass("error")
			s.logger.Errorf("emotion detection panic: %v", r)
		}
	}()

	frame, err := stream.Frame()
	if err != nil {
		s.metrics.ObserveDetectionPass("error")
		s.logger.WithError(err).Warn("emotion detection error: read frame")
		return
	}

	detection, err := s.detector.Detect(ctx, frame)
	if err != nil {
		s.metrics.ObserveDetectionPass("error")
		s.logger.WithError(err).Warn("emotion detection error")
		return
	}

	dominant, ok := dominantOf(detection)
	if !ok {
		s.metrics.ObserveDetectionPass("no_face")
		return
	}

	obs := model.Observation{
		Emotion:    dominant.Label,
		Confidence: dominant.Confidence,
		Timestamp:  s.now(),
	}

	s.mu.Lock()
	s.current = obs.Emotion
	s.confidence = obs.Confidence
	s.history.Append(obs)
	size := s.history.Len()
	callback := s.callback
	s.mu.Unlock()

	s.metrics.ObserveDetectionPass("face")
	s.metrics.ObserveEmotion(string(obs.Emotion), size)

	if callback != nil {
		s.notify(callback, obs)
	}

	if overlay != nil {
		err := overlay.Render(frame, Overlay{
			Box:   detection.Box,
			Lines: analysis.OverlayLines(detection.Expressions),
		})
		if err != nil {
			s.logger.WithError(err).Warn("failed to render overlay")
		}
	}
}

func (s *Sampler) notify(callback UpdateFunc, obs model.Observation) {
	s.notifying.Add(1)
	defer s.notifying.Add(-1)
	callback(obs.Emotion, obs.Confidence)
}

func dominantOf(detection *model.Detection) (model.Expression, bool) {
	if detection == nil {
		return model.Expression{}, false
	}
	return analysis.Dominant(detection.Expressions)
}

// Emotion 返回最近一次的主导情绪，尚无观测时 ok 为 false。
func (s *Sampler) Emotion() (model.Label, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != ""
}

// AverageEmotion 返回窗口内出现最多的情绪（众数，而非置信度加权）。window <= 0 时使用默认 5 秒。
func (s *Sampler) AverageEmotion(window time.Duration) (model.Label, bool) {
	if window <= 0 {
		window = DefaultAverageWindow
	}
	now := s.now()

	s.mu.RLock()
	recent := s.history.Within(now, window)
	s.mu.RUnlock()

	return analysis.Mode(recent)
}

// Snapshot 在同一次读锁内返回当前情绪、置信度、窗口众数和历史条数。
func (s *Sampler) Snapshot(window time.Duration) Snapshot {
	if window <= 0 {
		window = DefaultAverageWindow
	}
	now := s.now()

	s.mu.RLock()
	snap := Snapshot{
		Emotion:    s.current,
		Confidence: s.confidence,
		Samples:    s.history.Len(),
	}
	recent := s.history.Within(now, window)
	s.mu.RUnlock()

	snap.Average, _ = analysis.Mode(recent)
	return snap
}

// History 返回滚动历史的副本。
func (s *Sampler) History() []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Snapshot()
}

// PersonalizedGreeting 返回情绪对应的问候语，不读取任何状态。
func (s *Sampler) PersonalizedGreeting(override model.Label) string {
	return analysis.Greeting(override)
}

// OnEmotionUpdate 注册回调，替换之前注册的回调。传入 nil 取消注册。
func (s *Sampler) OnEmotionUpdate(callback UpdateFunc) {
	s.mu.Lock()
	s.callback = callback
	s.mu.Unlock()
}

// Stop 停止检测并释放摄像头，可重复调用。
// 有 OnEmotionUpdate 回调正在执行时（包括在回调里调用 Stop）不等待工作协程，
// 摄像头在回调返回后由后台释放。
func (s *Sampler) Stop() {
	s.mu.Lock()
	stream, stopCh, cancel, wg := s.stream, s.stopCh, s.cancel, s.wg
	s.stream = nil
	s.stopCh = nil
	s.cancel = nil
	s.wg = nil
	s.overlay = nil
	s.polling = false
	s.mu.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	release := func() {
		wg.Wait()
		if stream != nil {
			if err := stream.Stop(); err != nil {
				s.logger.WithError(err).Warn("failed to stop camera tracks")
			}
		}
		s.logger.Info("emotion detection stopped")
	}

	// 工作协程正阻塞在回调里，原地等待会死锁
	if s.notifying.Load() > 0 {
		go release()
		return
	}
	release()
}
