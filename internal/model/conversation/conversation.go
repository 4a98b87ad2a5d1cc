package conversation

import "time"

// DefaultCharacter 是未指定角色时使用的角色 ID。
const DefaultCharacter = "mark_v2_3"

// Request 是发往远端对话服务的请求体。
type Request struct {
	Audio        string `json:"audio"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Character    string `json:"character,omitempty"`
}

// Result 是远端对话服务的成功响应。
type Result struct {
	AssistantMessage string `json:"assistantMessage"`
	Audio            string `json:"audio"`

	// Emotion 是本次请求实际写入提示词的情绪，不在接口中传输。
	Emotion string `json:"-"`
}

// ErrorResponse 是远端对话服务的错误响应。
type ErrorResponse struct {
	Error string `json:"error"`
}

// Turn 记录一次完整对话循环的结果，仅在进程内保存。
type Turn struct {
	ID               string    `json:"id"`
	Character        string    `json:"character"`
	Emotion          string    `json:"emotion,omitempty"`
	AssistantMessage string    `json:"assistantMessage"`
	CreatedAt        time.Time `json:"createdAt"`
}
