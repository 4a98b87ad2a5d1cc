package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	Camera       CameraConfig
	Detector     DetectorConfig
	Conversation ConversationConfig
	Audio        AudioConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	detector, err := loadDetectorConfig()
	if err != nil {
		return nil, err
	}

	conversation, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Camera:       CameraConfig{Device: getEnvOrDefault("CAMERA_DEVICE", "0")},
		Detector:     detector,
		Conversation: conversation,
		Audio:        audio,
	}, nil
}

// ServerConfig 描述本地控制接口的配置。
type ServerConfig struct {
	Addr             string
	LogLevel         logrus.Level
	MetricsNamespace string
	AllowedOrigins   []string
}

// loadServerConfig 解析监听地址与日志级别。默认只监听本机。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	addr := "127.0.0.1:8090"

	switch {
	case port == "":
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8090" 或 "0.0.0.0:8090"。
		addr = port
	default:
		addr = "127.0.0.1:" + port
	}

	level, err := logrus.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return ServerConfig{
		Addr:             addr,
		LogLevel:         level,
		MetricsNamespace: getEnvOrDefault("METRICS_NAMESPACE", "moodmirror"),
		AllowedOrigins:   origins,
	}, nil
}

// CameraConfig 描述摄像头设备。
type CameraConfig struct {
	Device string
}

// DetectorConfig 描述人脸与表情模型。
type DetectorConfig struct {
	FaceModelPath       string
	ExpressionModelPath string
	ScoreThreshold      float32
}

func loadDetectorConfig() (DetectorConfig, error) {
	threshold, err := parseOptionalFloat32Env("DETECTOR_SCORE_THRESHOLD")
	if err != nil {
		return DetectorConfig{}, err
	}
	score := float32(0.6)
	if threshold != nil {
		if *threshold <= 0 || *threshold > 1 {
			return DetectorConfig{}, fmt.Errorf("DETECTOR_SCORE_THRESHOLD must be in (0, 1], got %v", *threshold)
		}
		score = *threshold
	}

	return DetectorConfig{
		FaceModelPath:       getEnvOrDefault("DETECTOR_FACE_MODEL", "models/face_detection_yunet_2023mar.onnx"),
		ExpressionModelPath: getEnvOrDefault("DETECTOR_EXPRESSION_MODEL", "models/emotion-ferplus-8.onnx"),
		ScoreThreshold:      score,
	}, nil
}

// ConversationConfig 描述远端对话服务。
type ConversationConfig struct {
	BaseURL      string
	Character    string
	Characters   []string
	SystemPrompt string
	Timeout      time.Duration
}

func loadConversationConfig() (ConversationConfig, error) {
	timeout, err := parseOptionalIntEnv("CONVERSATION_TIMEOUT")
	if err != nil {
		return ConversationConfig{}, err
	}
	timeoutSeconds := 60 // 默认60秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return ConversationConfig{
		BaseURL:      getEnvOrDefault("CONVERSATION_BASE_URL", "http://localhost:3000"),
		Character:    getEnvOrDefault("CONVERSATION_CHARACTER", "mark_v2_3"),
		Characters:   splitList(os.Getenv("CONVERSATION_CHARACTERS")),
		SystemPrompt: os.Getenv("CONVERSATION_SYSTEM_PROMPT"),
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AudioConfig 描述录音与播放设备。
type AudioConfig struct {
	Device     string
	SampleRate int
	Player     string
}

func loadAudioConfig() (AudioConfig, error) {
	rate, err := parseOptionalIntEnv("AUDIO_SAMPLE_RATE")
	if err != nil {
		return AudioConfig{}, err
	}
	sampleRate := 16000
	if rate != nil {
		if *rate <= 0 {
			return AudioConfig{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", *rate)
		}
		sampleRate = *rate
	}

	return AudioConfig{
		Device:     getEnvOrDefault("AUDIO_DEVICE", "default"),
		SampleRate: sampleRate,
		Player:     getEnvOrDefault("AUDIO_PLAYER", "ffplay"),
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
