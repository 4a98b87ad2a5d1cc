package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/moodmirror/internal/audio"
	"github.com/zhouzirui/moodmirror/internal/config"
	"github.com/zhouzirui/moodmirror/internal/handler"
	characterHandler "github.com/zhouzirui/moodmirror/internal/handler/character"
	conversationHandler "github.com/zhouzirui/moodmirror/internal/handler/conversation"
	emotionHandler "github.com/zhouzirui/moodmirror/internal/handler/emotion"
	"github.com/zhouzirui/moodmirror/internal/model/character"
	"github.com/zhouzirui/moodmirror/internal/observability"
	"github.com/zhouzirui/moodmirror/internal/service/conversation"
	"github.com/zhouzirui/moodmirror/internal/service/emotion"
	"github.com/zhouzirui/moodmirror/internal/service/transcript"
	"github.com/zhouzirui/moodmirror/internal/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	logger.SetLevel(cfg.Server.LogLevel)
	logrus.SetLevel(cfg.Server.LogLevel)

	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace, prometheus.DefaultRegisterer)

	// 情绪采样：摄像头不可用时服务照常启动，情绪接口返回空结果
	overlay := vision.NewOverlay()
	detector := vision.NewDetector(vision.DetectorConfig{
		FaceModelPath:       cfg.Detector.FaceModelPath,
		ExpressionModelPath: cfg.Detector.ExpressionModelPath,
		ScoreThreshold:      cfg.Detector.ScoreThreshold,
	})
	defer detector.Close()

	sampler := emotion.NewSampler(
		&vision.Camera{Device: cfg.Camera.Device, Logger: logger},
		detector,
		emotion.Options{Logger: logger, Metrics: metrics},
	)
	hub := emotionHandler.NewHub(logger)
	sampler.OnEmotionUpdate(hub.Publish)

	if err := sampler.Initialize(ctx, overlay); err != nil {
		logger.WithError(err).Warn("emotion sampling unavailable")
	}
	defer sampler.Stop()

	// 语音对话：麦克风不可用时不注册对话接口
	characters := character.NewMemoryStore(character.Seed(append([]string{cfg.Conversation.Character}, cfg.Conversation.Characters...)...))
	remote := conversation.NewHTTPClient(cfg.Conversation.BaseURL, cfg.Conversation.Timeout)
	session := conversation.NewSession(
		&audio.ExecMicrophone{Device: cfg.Audio.Device, SampleRate: cfg.Audio.SampleRate, Logger: logger},
		audio.NewExecPlayer(cfg.Audio.Player),
		remote,
		conversation.Config{Logger: logger, Metrics: metrics},
	)
	session.SetEmotionDetector(sampler)
	defer session.Dispose()

	var convHandler *conversationHandler.Handler
	if err := session.Initialize(ctx); err != nil {
		logger.WithError(err).Warn("voice conversation unavailable")
	} else {
		convHandler = conversationHandler.New(
			session,
			transcript.NewService(),
			characters,
			conversationHandler.Defaults{
				SystemPrompt: cfg.Conversation.SystemPrompt,
				Character:    cfg.Conversation.Character,
			},
			logger,
		)
	}

	router := handler.NewRouter(handler.Deps{
		Emotion:        emotionHandler.New(sampler, overlay, hub),
		Conversation:   convHandler,
		Characters:     characterHandler.New(characters),
		Gatherer:       prometheus.DefaultGatherer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger logrus.FieldLogger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof("moodmirror listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
