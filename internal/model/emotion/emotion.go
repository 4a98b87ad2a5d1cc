package emotion

import (
	"strings"
	"time"
)

// Label 表示表情分类器输出的情绪标签。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Fearful   Label = "fearful"
	Disgusted Label = "disgusted"
	Surprised Label = "surprised"
)

// Labels 是固定的标签顺序，所有并列情况都按此顺序决出。
var Labels = []Label{Neutral, Happy, Sad, Angry, Fearful, Disgusted, Surprised}

// ParseLabel 将外部输入规范化为已知标签。
func ParseLabel(raw string) (Label, bool) {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	for _, label := range Labels {
		if label == normalized {
			return label, true
		}
	}
	return "", false
}

// Observation 是一次检测得到的主导情绪，创建后不可修改。
type Observation struct {
	Emotion    Label     `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Expression 是单个标签的置信度。
type Expression struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Expressions 保留检测器给出的顺序。
type Expressions []Expression

// Box 是人脸框，单位为像素。
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection 是一次检测中唯一被跟踪的人脸。
type Detection struct {
	Box         *Box        `json:"box,omitempty"`
	Expressions Expressions `json:"expressions"`
}

// Frame 是一帧 JPEG 编码的视频画面。
type Frame struct {
	Image  []byte
	Width  int
	Height int
}
