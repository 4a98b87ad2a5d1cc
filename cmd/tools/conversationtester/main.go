package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/moodmirror/internal/audio"
	"github.com/zhouzirui/moodmirror/internal/config"
	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
	emotionmodel "github.com/zhouzirui/moodmirror/internal/model/emotion"
	"github.com/zhouzirui/moodmirror/internal/service/conversation"
)

// fixedEmotion 让命令行参数充当情绪来源。
type fixedEmotion emotionmodel.Label

func (f fixedEmotion) Emotion() (emotionmodel.Label, bool) {
	return emotionmodel.Label(f), f != ""
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Warn("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("配置加载失败")
	}

	audioPath := flag.String("audio", "", "输入音频文件路径 (wav/webm)")
	outputPath := flag.String("out", "", "回复音频输出路径 (默认自动生成)")
	character := flag.String("character", cfg.Conversation.Character, "角色 ID")
	prompt := flag.String("prompt", cfg.Conversation.SystemPrompt, "系统提示词")
	emotion := flag.String("emotion", "", "模拟检测到的情绪，例如 happy")
	baseURL := flag.String("base", cfg.Conversation.BaseURL, "远端对话服务地址")
	timeout := flag.Duration("timeout", cfg.Conversation.Timeout, "请求超时时间")
	play := flag.Bool("play", false, "用本地播放器播放回复")

	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		logger.Fatal("请通过 -audio 指定音频文件路径")
	}

	raw, err := os.ReadFile(*audioPath)
	if err != nil {
		logger.WithError(err).Fatal("读取音频文件失败")
	}

	var label emotionmodel.Label
	if *emotion != "" {
		parsed, ok := emotionmodel.ParseLabel(*emotion)
		if !ok {
			logger.Fatalf("未知情绪 %q，可选: %v", *emotion, emotionmodel.Labels)
		}
		label = parsed
	}

	// 只发送文件，不需要麦克风
	session := conversation.NewSession(nil, audio.NewExecPlayer(cfg.Audio.Player), conversation.NewHTTPClient(*baseURL, *timeout), conversation.Config{Logger: logger})
	defer session.Dispose()
	session.SetEmotionDetector(fixedEmotion(label))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Infof("开始对话测试: base=%s character=%s emotion=%s bytes=%d", *baseURL, *character, label, len(raw))

	started := time.Now()
	result, err := session.SendConversation(ctx, base64.StdEncoding.EncodeToString(raw), conversation.Options{
		SystemPrompt: *prompt,
		Character:    *character,
	})
	if err != nil {
		var remoteErr *conversation.RemoteError
		if errors.As(err, &remoteErr) {
			logger.Fatalf("远端返回错误: status=%d message=%s", remoteErr.Status, remoteErr.Message)
		}
		logger.WithError(err).Fatal("对话调用失败")
	}

	logger.Infof("对话成功: 耗时=%s 回复=%q", time.Since(started).Round(time.Millisecond), result.AssistantMessage)

	if err := writeAudio(result, *outputPath); err != nil {
		logger.WithError(err).Fatal("写入音频文件失败")
	}

	if *play {
		if err := session.PlayResponse(context.Background(), result.Audio, nil); err != nil {
			logger.WithError(err).Fatal("播放失败")
		}
	}
}

func writeAudio(result *model.Result, outputPath string) error {
	if strings.TrimSpace(result.Audio) == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(result.Audio)
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("conversation-reply-%d.mp3", time.Now().Unix())
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return err
	}
	logrus.Infof("回复音频已写入 %s (%d bytes)", outputPath, len(data))
	return nil
}
