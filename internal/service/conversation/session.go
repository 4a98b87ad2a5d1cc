package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/moodmirror/internal/audio"
	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
	emotionmodel "github.com/zhouzirui/moodmirror/internal/model/emotion"
	"github.com/zhouzirui/moodmirror/internal/observability"
)

// RecordWindow 是一次对话循环中固定的录音时长。
const RecordWindow = 5 * time.Second

const empathyNote = "\n\nNOTE: The user appears to be feeling %s. Please respond with appropriate empathy and friendliness."

// 状态文本，按对话阶段依次发出。
const (
	StatusRecording = "🎙️ Recording..."
	StatusSending   = "🎤 Sending audio to server..."
	StatusReceived  = "🎉 Response received from AI"
	StatusPlaying   = "🔊 Playing response..."
	StatusSpeaking  = "🎬 Avatar speaking..."
	statusErrorFmt  = "❌ Error: %s"
)

var (
	ErrMicrophoneAccess = errors.New("microphone access denied or unavailable")
	ErrNotRecording     = errors.New("not recording")
	ErrPlayback         = errors.New("audio playback failed")
	ErrEncoding         = errors.New("audio encoding failed")
	ErrNotInitialized   = errors.New("session not initialized")
)

// Remote 是远端对话服务。
type Remote interface {
	Converse(ctx context.Context, req model.Request) (*model.Result, error)
}

// EmotionSource 是会话唯一依赖的情绪读取能力。
type EmotionSource interface {
	Emotion() (emotionmodel.Label, bool)
}

// Options 是单次发送或对话循环的参数。
type Options struct {
	SystemPrompt string
	Character    string
	// Emotion 非空时优先于绑定的情绪来源。
	Emotion        emotionmodel.Label
	OnStatusChange func(status string)
	OnResponseText func(text string)
}

// Config 控制 Session 的可选依赖。
type Config struct {
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	// RecordWindow <= 0 时使用 5 秒。
	RecordWindow time.Duration
}

// Session 管理一次语音对话：录音、上传、播放。
type Session struct {
	ID string

	mic     audio.Microphone
	player  audio.Player
	remote  Remote
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	window  time.Duration

	mu        sync.Mutex
	capture   audio.Capture
	recording bool
	source    EmotionSource
	disposed  bool

	chunkMu sync.Mutex
	chunks  [][]byte
}

// NewSession 创建会话，麦克风需要通过 Initialize 打开。
func NewSession(mic audio.Microphone, player audio.Player, remote Remote, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	window := cfg.RecordWindow
	if window <= 0 {
		window = RecordWindow
	}
	id := uuid.NewString()

	return &Session{
		ID:      id,
		mic:     mic,
		player:  player,
		remote:  remote,
		logger:  logger.WithFields(logrus.Fields{"component": "conversation", "session": id}),
		metrics: cfg.Metrics,
		window:  window,
	}
}

// Initialize 打开麦克风。
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return audio.ErrClosed
	}
	if s.capture != nil {
		return nil
	}

	capture, err := s.mic.Open(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to initialize microphone")
		return fmt.Errorf("%w: %w", ErrMicrophoneAccess, err)
	}
	s.capture = capture
	s.logger.Info("microphone initialized")
	return nil
}

// SetEmotionDetector 绑定情绪来源，只调用其 Emotion 方法。
func (s *Session) SetEmotionDetector(source EmotionSource) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

// Recording 报告当前是否在录音。
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// StartRecording 清空缓冲并开始录音；已在录音时什么也不做。
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return nil
	}
	if s.capture == nil {
		return ErrNotInitialized
	}

	s.chunkMu.Lock()
	s.chunks = nil
	s.chunkMu.Unlock()

	if err := s.capture.Start(s.appendChunk); err != nil {
		return fmt.Errorf("%w: %w", ErrMicrophoneAccess, err)
	}
	s.recording = true
	s.logger.Info("recording started")
	return nil
}

func (s *Session) appendChunk(chunk []byte) {
	s.chunkMu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.chunkMu.Unlock()
}

// StopRecording 停止录音，把缓冲的音频封装为 WAV 并返回 base64。
func (s *Session) StopRecording(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return "", ErrNotRecording
	}
	capture := s.capture
	s.recording = false
	s.mu.Unlock()

	if err := capture.Stop(); err != nil {
		s.logger.WithError(err).Error("capture failed")
		return "", fmt.Errorf("%w: %w", ErrMicrophoneAccess, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.chunkMu.Lock()
	chunks := s.chunks
	s.chunks = nil
	s.chunkMu.Unlock()

	wav, err := audio.EncodeWAV(chunks, capture.SampleRate())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	encoded := base64.StdEncoding.EncodeToString(wav)

	s.logger.Infof("recording stopped (%.1f KB)", float64(len(wav))/1024)
	return encoded, nil
}

// SendConversation 把录音发给远端服务，识别到情绪时在系统提示词后追加共情说明。
func (s *Session) SendConversation(ctx context.Context, audioBase64 string, opts Options) (*model.Result, error) {
	status := s.statusFunc(opts)
	status(StatusSending)

	prompt, label := s.systemPrompt(opts)
	req := model.Request{
		Audio:        audioBase64,
		SystemPrompt: prompt,
		Character:    opts.Character,
	}
	if req.Character == "" {
		req.Character = model.DefaultCharacter
	}

	started := time.Now()
	result, err := s.remote.Converse(ctx, req)
	s.metrics.ObserveConversationLatency(time.Since(started))
	s.metrics.ObservePhase("send", err)
	if err != nil {
		status(fmt.Sprintf(statusErrorFmt, err.Error()))
		return nil, err
	}

	result.Emotion = string(label)
	status(StatusReceived)
	s.logger.WithField("character", req.Character).Debugf("conversation result: %q", result.AssistantMessage)
	return result, nil
}

// systemPrompt 返回最终提示词以及采用的情绪，情绪在发送时刻读取。
func (s *Session) systemPrompt(opts Options) (string, emotionmodel.Label) {
	prompt := opts.SystemPrompt

	label := opts.Emotion
	if label == "" {
		s.mu.Lock()
		source := s.source
		s.mu.Unlock()
		if source != nil {
			if current, ok := source.Emotion(); ok {
				label = current
			}
		}
	}
	if label != "" {
		prompt += fmt.Sprintf(empathyNote, label)
	}
	return prompt, label
}

// PlayResponse 解码并播放音频，阻塞到播放结束；onStart 在开始播放前调用。
func (s *Session) PlayResponse(ctx context.Context, audioBase64 string, onStart func()) error {
	err := s.play(ctx, audioBase64, onStart)
	s.metrics.ObservePhase("play", err)
	if err != nil {
		s.logger.WithError(err).Error("failed to play audio")
		return err
	}
	s.logger.Info("audio playback completed")
	return nil
}

func (s *Session) play(ctx context.Context, audioBase64 string, onStart func()) error {
	if s.player == nil {
		return ErrNotInitialized
	}

	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return fmt.Errorf("%w: decode: %w", ErrPlayback, err)
	}
	track, err := s.player.Load(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	defer func() {
		if err := track.Release(); err != nil {
			s.logger.WithError(err).Warn("release track")
		}
	}()

	if onStart != nil {
		onStart()
	}
	if err := track.Play(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}

// ConversationLoop 依次执行 录音 → 等待固定时长 → 停止 → 发送 → 播放。任一阶段失败即返回。
func (s *Session) ConversationLoop(ctx context.Context, opts Options) (*model.Result, error) {
	result, err := s.loop(ctx, opts)
	if err != nil {
		s.logger.WithError(err).Error("conversation loop error")
		return nil, err
	}
	return result, nil
}

func (s *Session) loop(ctx context.Context, opts Options) (*model.Result, error) {
	status := s.statusFunc(opts)

	status(StatusRecording)
	if err := s.StartRecording(); err != nil {
		s.metrics.ObservePhase("record", err)
		return nil, err
	}

	timer := time.NewTimer(s.window)
	select {
	case <-ctx.Done():
		timer.Stop()
		s.abortRecording()
		return nil, ctx.Err()
	case <-timer.C:
	}

	audioBase64, err := s.StopRecording(ctx)
	s.metrics.ObservePhase("record", err)
	if err != nil {
		return nil, err
	}

	result, err := s.SendConversation(ctx, audioBase64, opts)
	if err != nil {
		return nil, err
	}
	if opts.OnResponseText != nil {
		opts.OnResponseText(result.AssistantMessage)
	}

	status(StatusPlaying)
	if err := s.PlayResponse(ctx, result.Audio, func() { status(StatusSpeaking) }); err != nil {
		return nil, err
	}
	return result, nil
}

// abortRecording 在循环被取消时停止录音并丢弃缓冲。
func (s *Session) abortRecording() {
	s.mu.Lock()
	capture := s.capture
	wasRecording := s.recording
	s.recording = false
	s.mu.Unlock()

	if wasRecording && capture != nil {
		_ = capture.Stop()
	}
	s.chunkMu.Lock()
	s.chunks = nil
	s.chunkMu.Unlock()
}

func (s *Session) statusFunc(opts Options) func(string) {
	if opts.OnStatusChange != nil {
		return opts.OnStatusChange
	}
	return func(status string) {
		s.logger.Info(status)
	}
}

// Dispose 释放麦克风和播放上下文，可重复调用。
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	capture := s.capture
	s.capture = nil
	s.recording = false
	s.mu.Unlock()

	if capture != nil {
		if err := capture.Close(); err != nil {
			s.logger.WithError(err).Warn("close capture")
		}
	}
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			s.logger.WithError(err).Warn("close player")
		}
	}
}
